package report

import (
	"github.com/shopspring/decimal"
)

// Reducer defines the fold semantics of a grouping operation.
// To add a reducer: implement this interface and register it in Reducers.
// The aggregation loop is a single map lookup, no switch.
type Reducer interface {
	// Initial returns the aggregate value after the very first record for a key.
	// count → 1; sum/max/latest → the incoming value itself.
	Initial(incoming decimal.Decimal) decimal.Decimal

	// Apply folds an incoming value into an existing aggregate.
	Apply(current, incoming decimal.Decimal) decimal.Decimal
}

// Reducers is the registry of all supported reducers.
// "latest" is max over a numeric timestamp: the normalizer encodes
// last-modified instants as epoch seconds, so newest wins.
var Reducers = map[string]Reducer{
	OpCount:  countRed{},
	OpSum:    sumRed{},
	OpMax:    maxRed{},
	OpLatest: maxRed{},
}

// ValidReducer reports whether name is a registered reducer.
func ValidReducer(name string) bool {
	_, ok := Reducers[name]
	return ok
}

// countRed increments by 1 per record. The incoming value is ignored.
type countRed struct{}

func (countRed) Initial(_ decimal.Decimal) decimal.Decimal { return decimal.NewFromInt(1) }
func (countRed) Apply(cur, _ decimal.Decimal) decimal.Decimal {
	return cur.Add(decimal.NewFromInt(1))
}

// sumRed accumulates the sum of incoming values.
type sumRed struct{}

func (sumRed) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (sumRed) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }

// maxRed keeps the highest value seen.
type maxRed struct{}

func (maxRed) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (maxRed) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.GreaterThan(cur) {
		return inc
	}
	return cur
}
