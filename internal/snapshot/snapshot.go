// Package snapshot persists the running aggregate table for one report
// type. The whole file is read at run start, merged in memory, and
// rewritten at run end through a temp file + rename, so a failed write
// leaves the previous state untouched.
//
// Serialization is deterministic: rows sorted by key, fixed header, no
// wall-clock fields. Re-running over identical input produces a
// byte-identical file.
package snapshot

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odplab/portalstats/internal/core/report"
)

// Header is the fixed column order of every snapshot file.
var Header = []string{"organization", "package", "period", "metric", "reducer", "value", "records"}

// Snapshot is the in-memory aggregate table.
type Snapshot struct {
	states map[report.AggregateKey]report.AggregateState
}

// New returns an empty snapshot.
func New() *Snapshot {
	return &Snapshot{states: make(map[report.AggregateKey]report.AggregateState)}
}

// Load reads a snapshot file. A missing file is a first run and yields an
// empty snapshot; any other read or parse failure is an error.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	if len(rows) == 0 {
		return New(), nil
	}

	s := New()
	for i, row := range rows[1:] {
		if len(row) != len(Header) {
			return nil, fmt.Errorf("snapshot: %s row %d: expected %d columns, got %d", path, i+2, len(Header), len(row))
		}
		value, err := decimal.NewFromString(row[5])
		if err != nil {
			return nil, fmt.Errorf("snapshot: %s row %d: bad value %q: %w", path, i+2, row[5], err)
		}
		records, err := strconv.ParseInt(row[6], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("snapshot: %s row %d: bad record count %q: %w", path, i+2, row[6], err)
		}
		key := report.AggregateKey{Org: row[0], Package: row[1], Period: row[2], Metric: row[3]}
		s.states[key] = report.AggregateState{Reducer: row[4], Value: value, Records: records}
	}
	return s, nil
}

// Merge folds a batch of freshly reduced buckets into the snapshot.
// Keys present in the batch overwrite their snapshot entry; keys present
// only in the snapshot are preserved unchanged. Merging the same batch
// twice is a no-op after the first time.
func (s *Snapshot) Merge(batch map[report.AggregateKey]report.AggregateState) {
	for key, state := range batch {
		s.states[key] = state
	}
}

// Get returns one bucket's state.
func (s *Snapshot) Get(key report.AggregateKey) (report.AggregateState, bool) {
	state, ok := s.states[key]
	return state, ok
}

// Len returns the number of persisted buckets.
func (s *Snapshot) Len() int { return len(s.states) }

// States exposes the aggregate table for derived views (rankings, series).
// Callers must not mutate it.
func (s *Snapshot) States() map[report.AggregateKey]report.AggregateState {
	return s.states
}

// Keys returns all keys in natural order.
func (s *Snapshot) Keys() []report.AggregateKey {
	keys := make([]report.AggregateKey, 0, len(s.states))
	for key := range s.states {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Rows returns the table as output rows in natural key order, matching
// Header column for column.
func (s *Snapshot) Rows() [][]string {
	rows := make([][]string, 0, len(s.states))
	for _, key := range s.Keys() {
		state := s.states[key]
		rows = append(rows, []string{
			key.Org,
			key.Package,
			key.Period,
			key.Metric,
			state.Reducer,
			state.Value.String(),
			strconv.FormatInt(state.Records, 10),
		})
	}
	return rows
}

// Store rewrites the snapshot file. The write goes through a temp file in
// the same directory and an os.Rename, then the previous content is gone.
func (s *Snapshot) Store(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write(Header); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write header: %w", err)
	}
	if err := cw.WriteAll(s.Rows()); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("snapshot: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("snapshot: replace %s: %w", path, err)
	}
	return nil
}
