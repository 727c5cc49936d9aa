package aggregate

import (
	"sort"

	"github.com/odplab/portalstats/internal/core/report"
)

// Entry pairs an AggregateKey with its reduced state for ranking.
type Entry struct {
	Key   report.AggregateKey
	State report.AggregateState
}

// TopN returns at most n entries sorted by value descending. Ties are
// broken by the key's natural (lexicographic) order so output is
// reproducible across runs. n <= 0 returns nil.
func TopN(states map[report.AggregateKey]report.AggregateState, n int) []Entry {
	if n <= 0 || len(states) == 0 {
		return nil
	}

	entries := make([]Entry, 0, len(states))
	for key, state := range states {
		entries = append(entries, Entry{Key: key, State: state})
	}

	sort.Slice(entries, func(i, j int) bool {
		cmp := entries[i].State.Value.Cmp(entries[j].State.Value)
		if cmp != 0 {
			return cmp > 0
		}
		return entries[i].Key.Less(entries[j].Key)
	})

	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// ByPackage re-buckets states onto the package dimension alone, summing
// across periods. Rankings like "top datasets by downloads" collapse the
// monthly series this way before TopN.
func ByPackage(states map[report.AggregateKey]report.AggregateState, metric string) map[report.AggregateKey]report.AggregateState {
	out := make(map[report.AggregateKey]report.AggregateState)
	for key, state := range states {
		if metric != "" && key.Metric != metric {
			continue
		}
		collapsed := report.AggregateKey{Org: key.Org, Package: key.Package, Metric: key.Metric}
		cur, ok := out[collapsed]
		if !ok {
			out[collapsed] = state
			continue
		}
		cur.Value = cur.Value.Add(state.Value)
		cur.Records += state.Records
		out[collapsed] = cur
	}
	return out
}
