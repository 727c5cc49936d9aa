// Package normalize maps heterogeneous raw API records into the uniform
// Record schema. Normalization is pure: the same raw record always yields
// the same result. Records missing required fields are skipped, not errors.
package normalize

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odplab/portalstats/internal/core/report"
)

// Period fields arrive in several shapes across portal resources: bare
// months, dates, and full timestamps.
var periodLayouts = []string{
	report.PeriodLayout,
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01-2006", // legacy site-analytics exports
}

// Mapping names the raw-record fields one metric is read from.
type Mapping struct {
	Metric  string // metric name stamped on every produced record
	Org     string // field holding the organization id; required in the raw record
	Package string // field holding the package/resource id; optional
	Period  string // field holding a date or month; optional
	Value   string // field holding the numeric value; "" means each record counts as 1
}

// Record maps one raw record to zero or one Record. The second return is
// false when the record must be skipped: missing or empty organization,
// unparsable period, or a missing/negative value.
func (m Mapping) Record(raw map[string]any) (report.Record, bool) {
	org := report.ExtractString(raw, m.Org)
	if org == "" {
		return report.Record{}, false
	}

	period := ""
	if m.Period != "" {
		s := report.ExtractString(raw, m.Period)
		if s == "" {
			return report.Record{}, false
		}
		p, ok := parsePeriod(s)
		if !ok {
			return report.Record{}, false
		}
		period = p
	}

	value := decimal.NewFromInt(1)
	if m.Value != "" {
		v, ok := report.ExtractDecimal(raw, m.Value)
		if !ok || v.IsNegative() {
			return report.Record{}, false
		}
		value = v
	}

	return report.Record{
		Org:     org,
		Package: report.ExtractString(raw, m.Package),
		Period:  period,
		Metric:  m.Metric,
		Value:   value,
	}, true
}

func parsePeriod(s string) (string, bool) {
	for _, layout := range periodLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return report.PeriodOf(t), true
		}
	}
	return "", false
}
