package report

import (
	"github.com/shopspring/decimal"
)

// Supported reducers. Top-N ranking is a derived view over reduced
// aggregates, not a reducer of its own.
const (
	OpCount  = "count"
	OpSum    = "sum"
	OpMax    = "max"
	OpLatest = "latest"
)

// Record is one normalized observation produced by a normalizer.
// Immutable once created. Value is always non-negative; the normalizer
// drops raw records that would violate that.
type Record struct {
	Org     string
	Package string
	Period  string // calendar month "2006-01"; empty when the metric is not period-scoped
	Metric  string
	Value   decimal.Decimal
}

// Key returns the aggregate bucket this record falls into.
func (r Record) Key() AggregateKey {
	return AggregateKey{
		Org:     r.Org,
		Package: r.Package,
		Period:  r.Period,
		Metric:  r.Metric,
	}
}

// AggregateKey uniquely identifies one summary row. Keys are unique within
// a Snapshot; merging the same key again overwrites rather than duplicates.
type AggregateKey struct {
	Org     string
	Package string
	Period  string
	Metric  string
}

// Less orders keys by their natural (lexicographic) field order.
// This is the tie-break order for top-N ranking and the row order of every
// persisted Snapshot, so it must stay stable.
func (k AggregateKey) Less(o AggregateKey) bool {
	if k.Org != o.Org {
		return k.Org < o.Org
	}
	if k.Package != o.Package {
		return k.Package < o.Package
	}
	if k.Period != o.Period {
		return k.Period < o.Period
	}
	return k.Metric < o.Metric
}

// AggregateState holds the reduced value of one bucket.
// It carries no wall-clock fields: serialized state must be byte-identical
// across re-runs over identical input.
type AggregateState struct {
	Reducer string
	Value   decimal.Decimal
	Records int64 // number of records folded into this bucket during its last batch
}
