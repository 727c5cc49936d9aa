package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odplab/portalstats/internal/core/report"
)

func TestMapping_Record(t *testing.T) {
	m := Mapping{
		Metric:  "visits",
		Org:     "owner_org",
		Package: "package_id",
		Period:  "month",
		Value:   "visits",
	}

	tests := []struct {
		name string
		raw  map[string]any
		want report.Record
		ok   bool
	}{
		{
			name: "complete record",
			raw: map[string]any{
				"owner_org":  "tbs-sct",
				"package_id": "pkg-1",
				"month":      "2026-03",
				"visits":     1250.0,
			},
			want: report.Record{
				Org: "tbs-sct", Package: "pkg-1", Period: "2026-03",
				Metric: "visits", Value: decimal.NewFromInt(1250),
			},
			ok: true,
		},
		{
			name: "date period truncates to month",
			raw: map[string]any{
				"owner_org": "tbs-sct",
				"month":     "2026-03-17",
				"visits":    "5",
			},
			want: report.Record{
				Org: "tbs-sct", Period: "2026-03",
				Metric: "visits", Value: decimal.NewFromInt(5),
			},
			ok: true,
		},
		{
			name: "legacy month-year period",
			raw: map[string]any{
				"owner_org": "tbs-sct",
				"month":     "03-2026",
				"visits":    1.0,
			},
			want: report.Record{
				Org: "tbs-sct", Period: "2026-03",
				Metric: "visits", Value: decimal.NewFromInt(1),
			},
			ok: true,
		},
		{
			name: "missing org skips",
			raw:  map[string]any{"month": "2026-03", "visits": 1.0},
			ok:   false,
		},
		{
			name: "unparsable period skips",
			raw:  map[string]any{"owner_org": "tbs-sct", "month": "springtime", "visits": 1.0},
			ok:   false,
		},
		{
			name: "negative value skips",
			raw:  map[string]any{"owner_org": "tbs-sct", "month": "2026-03", "visits": -4.0},
			ok:   false,
		},
		{
			name: "missing value skips",
			raw:  map[string]any{"owner_org": "tbs-sct", "month": "2026-03"},
			ok:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := m.Record(tc.raw)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			require.Equal(t, tc.want.Org, got.Org)
			require.Equal(t, tc.want.Package, got.Package)
			require.Equal(t, tc.want.Period, got.Period)
			require.Equal(t, tc.want.Metric, got.Metric)
			require.True(t, tc.want.Value.Equal(got.Value))
		})
	}
}

func TestMapping_Record_CountsWithoutValueField(t *testing.T) {
	m := Mapping{Metric: "changes", Org: "owner_org"}
	got, ok := m.Record(map[string]any{"owner_org": "tbs-sct"})
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(1).Equal(got.Value))
	require.Equal(t, "", got.Period)
}

func TestMapping_Record_Deterministic(t *testing.T) {
	m := Mapping{Metric: "visits", Org: "owner_org", Period: "month", Value: "visits"}
	raw := map[string]any{"owner_org": "tbs-sct", "month": "2026-03", "visits": "17"}
	first, ok := m.Record(raw)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := m.Record(raw)
		require.True(t, ok)
		require.Equal(t, first.Key(), again.Key())
		require.True(t, first.Value.Equal(again.Value))
	}
}
