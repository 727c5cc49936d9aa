package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odplab/portalstats/internal/core/report"
)

func rec(org, pkg, period, metric string, value int64) report.Record {
	return report.Record{
		Org: org, Package: pkg, Period: period, Metric: metric,
		Value: decimal.NewFromInt(value),
	}
}

func TestAggregator_Sum(t *testing.T) {
	agg, err := New(report.OpSum)
	require.NoError(t, err)

	agg.Add(rec("tbs-sct", "pkg-1", "2026-01", "visits", 100))
	agg.Add(rec("tbs-sct", "pkg-1", "2026-01", "visits", 50))
	agg.Add(rec("tbs-sct", "pkg-2", "2026-01", "visits", 7))

	require.Equal(t, 2, agg.Len())

	key := report.AggregateKey{Org: "tbs-sct", Package: "pkg-1", Period: "2026-01", Metric: "visits"}
	state, ok := agg.States()[key]
	require.True(t, ok)
	require.Equal(t, report.OpSum, state.Reducer)
	require.True(t, decimal.NewFromInt(150).Equal(state.Value))
	require.Equal(t, int64(2), state.Records)
}

func TestAggregator_Count(t *testing.T) {
	agg, err := New(report.OpCount)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		agg.Add(rec("tbs-sct", "", "2026-01", "changes", 999))
	}

	key := report.AggregateKey{Org: "tbs-sct", Period: "2026-01", Metric: "changes"}
	state := agg.States()[key]
	require.True(t, decimal.NewFromInt(3).Equal(state.Value))
	require.Equal(t, int64(3), state.Records)
}

func TestAggregator_UnknownReducer(t *testing.T) {
	_, err := New("median")
	require.Error(t, err)
}

func TestAggregator_Empty(t *testing.T) {
	agg, err := New(report.OpSum)
	require.NoError(t, err)
	require.Equal(t, 0, agg.Len())
	require.Empty(t, agg.States())
}

func TestCollate(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"dedupes and sorts", []string{"b", "a", "b", "c"}, "a; b; c"},
		{"trims and drops blanks", []string{" x ", "", "  ", "y"}, "x; y"},
		{"empty input", nil, ""},
		{"single", []string{"A-2026-01"}, "A-2026-01"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Collate(tc.in))
		})
	}
}
