package report

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractDecimal pulls a numeric value out of a raw record by field name.
// Returns (zero, false) if the field is missing, empty, or not a recognized
// numeric shape. JSON numbers unmarshal to float64, the common path;
// datastore dumps deliver numbers as strings, so those are parsed too.
func ExtractDecimal(raw map[string]any, field string) (decimal.Decimal, bool) {
	if field == "" {
		return decimal.Zero, false
	}
	v, ok := raw[field]
	if !ok {
		return decimal.Zero, false
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case float32:
		return decimal.NewFromFloat(float64(val)), true
	case int:
		return decimal.NewFromInt(int64(val)), true
	case int64:
		return decimal.NewFromInt(val), true
	case int32:
		return decimal.NewFromInt(int64(val)), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

// ExtractString pulls a trimmed string value out of a raw record by field
// name. Returns "" when the field is missing or not a string.
func ExtractString(raw map[string]any, field string) string {
	if field == "" {
		return ""
	}
	v, ok := raw[field]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
