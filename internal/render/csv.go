// Package render serializes merged aggregate tables to their output
// surfaces: delimited files, spreadsheets, markdown dashboards with
// embedded chart series, and pre-rendered chart pages.
package render

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// WriteCSV writes header plus rows to path. The header is written on every
// run, including when rows is empty, and the column order never varies.
// The write replaces the file through a temp file + rename.
func WriteCSV(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("render: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("render: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("render: write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("render: write rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("render: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("render: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("render: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("render: replace %s: %w", path, err)
	}
	return nil
}
