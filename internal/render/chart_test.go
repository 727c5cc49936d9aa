package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteChartPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts", "usage.html")
	series := []NamedSeries{
		{Name: "Visits", Values: []float64{10, 20}},
		{Name: "Downloads", Values: []float64{3, 4}},
	}
	require.NoError(t, WriteChartPage(path, "Site Analytics", "per month", []string{"2026-01", "2026-02"}, series))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(body)
	require.True(t, strings.Contains(html, "echarts"))
	require.Contains(t, html, "Site Analytics")
	require.Contains(t, html, "Visits")
	require.Contains(t, html, "2026-01")
}
