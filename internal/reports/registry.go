// Package reports contains the report jobs. Each job is one
// fetch → normalize → aggregate → merge → write cycle, run to completion or
// aborted on the first error. Jobs never retry and never write output
// before the whole cycle has succeeded.
package reports

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/odplab/portalstats/internal/ckan"
	"github.com/odplab/portalstats/internal/core/report"
)

// Env is everything a job needs from the process boundary: the portal
// client, the directories, and the clock. File I/O stays at this boundary;
// aggregation logic never touches the filesystem on its own.
type Env struct {
	Client     *ckan.Client
	StateDir   string
	OutDir     string
	PageSize   int
	MaxRecords int
	Months     int       // dashboard series length, capped at twelve by config
	Now        time.Time // injected clock for period math
}

// SnapshotPath returns the snapshot file location for a definition.
func (e Env) SnapshotPath(def report.Definition) string {
	return filepath.Join(e.StateDir, def.SnapshotFile)
}

// OutPath resolves an output file name inside the output directory.
func (e Env) OutPath(name string) string {
	return filepath.Join(e.OutDir, name)
}

// Job runs one report end to end.
type Job interface {
	Name() string
	Run(ctx context.Context, env Env) error
}

// Factory builds a job from its definition, validating job-specific
// parameters up front so a bad definition fails before any fetch.
type Factory func(def report.Definition) (Job, error)

// factories is the registry of job implementations. To add a report kind:
// implement Job and add an entry here.
var factories = map[string]Factory{
	"site-analytics":    newSiteAnalytics,
	"datastore-tracker": newDatastoreTracker,
	"pd-changes":        newPDChanges,
	"informal-requests": newInformalRequests,
}

// New builds the job for a definition.
func New(def report.Definition) (Job, error) {
	factory, ok := factories[def.Job]
	if !ok {
		return nil, fmt.Errorf("report %q: unknown job %q (known: %v)", def.Name, def.Job, Known())
	}
	return factory(def)
}

// Known returns the registered job names, sorted.
func Known() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
