// Package archive maintains the long-term zip archive of report output.
// Files are filed under analytics/<period>/<name>; a member already in the
// archive is never overwritten, so historical months stay exactly as first
// published.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// Update adds files to the archive for one period, skipping members
// already present. The archive is created if missing. Returns the member
// names that were added.
func Update(archivePath, period string, files []string) ([]string, error) {
	existing := make(map[string]struct{})

	var reader *zip.ReadCloser
	if _, err := os.Stat(archivePath); err == nil {
		reader, err = zip.OpenReader(archivePath)
		if err != nil {
			return nil, fmt.Errorf("archive: open %s: %w", archivePath, err)
		}
		defer reader.Close()
		for _, f := range reader.File {
			existing[f.Name] = struct{}{}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("archive: stat %s: %w", archivePath, err)
	}

	var pending []string
	for _, file := range files {
		member := path.Join("analytics", period, filepath.Base(file))
		if _, ok := existing[member]; !ok {
			pending = append(pending, file)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Strings(pending)

	dir := filepath.Dir(archivePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(archivePath)+".tmp*")
	if err != nil {
		return nil, fmt.Errorf("archive: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)

	// Carry existing members over untouched.
	if reader != nil {
		for _, f := range reader.File {
			if err := zw.Copy(f); err != nil {
				zw.Close()
				tmp.Close()
				return nil, fmt.Errorf("archive: copy member %s: %w", f.Name, err)
			}
		}
	}

	var added []string
	for _, file := range pending {
		member := path.Join("analytics", period, filepath.Base(file))
		if err := addMember(zw, member, file); err != nil {
			zw.Close()
			tmp.Close()
			return nil, err
		}
		added = append(added, member)
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("archive: finalize: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("archive: close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return nil, fmt.Errorf("archive: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), archivePath); err != nil {
		return nil, fmt.Errorf("archive: replace %s: %w", archivePath, err)
	}
	return added, nil
}

func addMember(zw *zip.Writer, member, file string) error {
	src, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("archive: open source %s: %w", file, err)
	}
	defer src.Close()

	w, err := zw.Create(member)
	if err != nil {
		return fmt.Errorf("archive: create member %s: %w", member, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("archive: write member %s: %w", member, err)
	}
	return nil
}
