package render

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NamedSeries is one labelled value-per-month array, up to twelve months.
type NamedSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"data"`
}

// Table is a small pre-rendered summary table.
type Table struct {
	Header []string
	Rows   [][]string
}

// Section is one dashboard block: prose, an optional chart spec, and an
// optional table.
type Section struct {
	Heading string
	Body    string
	Periods []string // chart x-axis labels; nil disables the chart spec
	Series  []NamedSeries
	Table   *Table
}

// Dashboard is a markdown report with embedded chart specifications for
// external rendering. Output is deterministic: no timestamps, stable field
// order in the embedded JSON.
type Dashboard struct {
	Title    string
	Intro    string
	Sections []Section
}

type chartSpec struct {
	Type   string        `json:"type"`
	Labels []string      `json:"labels"`
	Series []NamedSeries `json:"series"`
}

// WriteMarkdown renders the dashboard to path.
func WriteMarkdown(path string, d Dashboard) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n", d.Title)
	if d.Intro != "" {
		fmt.Fprintf(&b, "\n%s\n", d.Intro)
	}

	for _, sec := range d.Sections {
		fmt.Fprintf(&b, "\n## %s\n", sec.Heading)
		if sec.Body != "" {
			fmt.Fprintf(&b, "\n%s\n", sec.Body)
		}

		if len(sec.Periods) > 0 && len(sec.Series) > 0 {
			spec := chartSpec{Type: "bar", Labels: sec.Periods, Series: sec.Series}
			data, err := json.MarshalIndent(spec, "", "  ")
			if err != nil {
				return fmt.Errorf("render: chart spec: %w", err)
			}
			fmt.Fprintf(&b, "\n```chart\n%s\n```\n", data)
		}

		if sec.Table != nil {
			b.WriteString("\n")
			writeMarkdownTable(&b, sec.Table)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("render: create dir %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("render: write %s: %w", path, err)
	}
	return nil
}

func writeMarkdownTable(b *strings.Builder, t *Table) {
	b.WriteString("| " + strings.Join(escapeCells(t.Header), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(t.Header)) + "\n")
	for _, row := range t.Rows {
		b.WriteString("| " + strings.Join(escapeCells(row), " | ") + " |\n")
	}
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		c = strings.ReplaceAll(c, "|", "\\|")
		out[i] = strings.ReplaceAll(c, "\n", " ")
	}
	return out
}
