package render

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odplab/portalstats/internal/core/report"
)

// RollupByPeriod sums aggregate values per calendar month for one metric,
// collapsing the org/package dimensions. Buckets without a period (metrics
// that are not period-scoped) are skipped.
func RollupByPeriod(states map[report.AggregateKey]report.AggregateState, metric string) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for key, state := range states {
		if key.Period == "" {
			continue
		}
		if metric != "" && key.Metric != metric {
			continue
		}
		cur, ok := totals[key.Period]
		if !ok {
			totals[key.Period] = state.Value
			continue
		}
		totals[key.Period] = cur.Add(state.Value)
	}
	return totals
}

// MonthlySeries projects per-period totals onto the n months ending at
// end, oldest first. Months with no data are zero-filled so every series
// in a dashboard has the same length.
func MonthlySeries(totals map[string]decimal.Decimal, end time.Time, n int) ([]string, []float64) {
	periods := report.PeriodRange(end, n)
	values := make([]float64, len(periods))
	for i, p := range periods {
		if v, ok := totals[p]; ok {
			values[i], _ = v.Float64()
		}
	}
	return periods, values
}
