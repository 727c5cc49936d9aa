package report

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition configures one report job. Definitions are loaded at startup
// from YAML files and fingerprinted so a changed definition is detectable
// against previously committed output.
type Definition struct {
	Name         string            // unique report name; also the default output file stem
	Job          string            // registered job implementation to run
	Params       map[string]string // job-specific parameters (resource ids, queries)
	TopN         int               // size of the derived ranking view; 0 disables it
	SnapshotFile string            // snapshot file name inside the state directory
	Outputs      Outputs
	Fingerprint  string // SHA-256 of the raw YAML file; computed at load time
}

// Outputs names the files a job writes inside the output directory.
// Empty fields disable that output.
type Outputs struct {
	CSV       string `yaml:"csv"`
	XLSX      string `yaml:"xlsx"`
	Dashboard string `yaml:"dashboard"`
	Chart     string `yaml:"chart"`
	JSON      string `yaml:"json"`
}

// Param returns a named job parameter or an error naming the definition.
func (d Definition) Param(key string) (string, error) {
	v, ok := d.Params[key]
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("report %q: missing required parameter %q", d.Name, key)
	}
	return v, nil
}

// ParamOr returns a named job parameter or a fallback.
func (d Definition) ParamOr(key, fallback string) string {
	if v, ok := d.Params[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

// rawDefinition is the on-disk YAML shape.
type rawDefinition struct {
	Name         string            `yaml:"name"`
	Job          string            `yaml:"job"`
	Params       map[string]string `yaml:"params"`
	TopN         int               `yaml:"top_n"`
	SnapshotFile string            `yaml:"snapshot_file"`
	Outputs      Outputs           `yaml:"outputs"`
}

// DefinitionRepository defines the interface for loading report definitions.
type DefinitionRepository interface {
	// Get returns the definition with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*Definition, error)

	// List returns all loaded definitions, optionally filtered by job.
	List(ctx context.Context, job string) ([]Definition, error)

	// Definitions returns all definitions as a slice (for batch runs).
	Definitions() []Definition
}

// FileSystemDefinitionRepository loads report definitions from *.yaml files
// in a directory. Each file contains exactly one definition at the top
// level. Definitions are loaded once at startup and cached in memory.
type FileSystemDefinitionRepository struct {
	dir  string
	defs map[string]Definition // keyed by Name
}

// NewFileSystemDefinitionRepository creates a repository and eagerly loads
// all definitions from dir. Returns an error if any file is malformed.
func NewFileSystemDefinitionRepository(dir string) (*FileSystemDefinitionRepository, error) {
	repo := &FileSystemDefinitionRepository{
		dir:  dir,
		defs: make(map[string]Definition),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemDefinitionRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no definitions directory means zero reports configured
	}
	if err != nil {
		return fmt.Errorf("report definitions dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("report definitions path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading report definitions dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading definition file %s: %w", path, err)
		}

		var raw rawDefinition
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing definition file %s: %w", path, err)
		}
		if raw.Name == "" {
			continue // skip empty / comment-only files
		}

		if raw.Job == "" {
			return fmt.Errorf("report %q: job must not be empty", raw.Name)
		}
		if raw.TopN < 0 {
			return fmt.Errorf("report %q: top_n must not be negative", raw.Name)
		}
		if _, exists := r.defs[raw.Name]; exists {
			return fmt.Errorf("report %q: duplicate report name (check multiple YAML files)", raw.Name)
		}

		snapshotFile := raw.SnapshotFile
		if snapshotFile == "" {
			snapshotFile = raw.Name + ".csv"
		}

		r.defs[raw.Name] = Definition{
			Name:         raw.Name,
			Job:          raw.Job,
			Params:       raw.Params,
			TopN:         raw.TopN,
			SnapshotFile: snapshotFile,
			Outputs:      raw.Outputs,
			Fingerprint:  fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}
	return nil
}

// Get returns the definition with the given name, or an error if not found.
func (r *FileSystemDefinitionRepository) Get(_ context.Context, name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("report definition %q not found", name)
	}
	return &def, nil
}

// List returns all loaded definitions, optionally filtered by job.
func (r *FileSystemDefinitionRepository) List(_ context.Context, job string) ([]Definition, error) {
	var out []Definition
	for _, def := range r.defs {
		if job != "" && def.Job != job {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

// Definitions returns all definitions sorted by name, so batch runs
// execute reports in the same order every invocation.
func (r *FileSystemDefinitionRepository) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
