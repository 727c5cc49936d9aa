// Package aggregate groups normalized records into AggregateKey buckets and
// reduces each bucket with a registered reducer. An empty record sequence
// produces an empty group set, not an error.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odplab/portalstats/internal/core/report"
)

// Aggregator accumulates records for one run. Not safe for concurrent use;
// runs are single-threaded by design.
type Aggregator struct {
	reducer string
	red     report.Reducer
	states  map[report.AggregateKey]report.AggregateState
}

// New creates an aggregator for the named reducer.
func New(reducer string) (*Aggregator, error) {
	red, ok := report.Reducers[reducer]
	if !ok {
		return nil, fmt.Errorf("unsupported reducer %q", reducer)
	}
	return &Aggregator{
		reducer: reducer,
		red:     red,
		states:  make(map[report.AggregateKey]report.AggregateState),
	}, nil
}

// Add folds one record into its bucket.
func (a *Aggregator) Add(rec report.Record) {
	key := rec.Key()
	state, exists := a.states[key]
	if !exists {
		a.states[key] = report.AggregateState{
			Reducer: a.reducer,
			Value:   a.red.Initial(rec.Value),
			Records: 1,
		}
		return
	}
	state.Value = a.red.Apply(state.Value, rec.Value)
	state.Records++
	a.states[key] = state
}

// Len returns the number of buckets.
func (a *Aggregator) Len() int { return len(a.states) }

// States returns the reduced buckets. The map is the aggregator's own;
// callers hand it straight to the snapshot merge and stop using the
// aggregator afterwards.
func (a *Aggregator) States() map[report.AggregateKey]report.AggregateState {
	return a.states
}

// Collate dedupes, sorts and joins non-empty trimmed values with "; ".
// Used for identifier collection, where a group carries a set of string
// ids alongside its numeric aggregate.
func Collate(values []string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return strings.Join(out, "; ")
}
