package reports

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odplab/portalstats/internal/aggregate"
	"github.com/odplab/portalstats/internal/core/report"
	"github.com/odplab/portalstats/internal/core/reporterr"
	"github.com/odplab/portalstats/internal/render"
	"github.com/odplab/portalstats/internal/snapshot"
)

const (
	metricDatastoreResources = "datastore_resources"
	metricLatestModified     = "latest_modified"
)

// CKAN serializes metadata_modified without a zone designator.
var ckanTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// datastoreTracker walks the package catalog and tracks, per organization,
// how many datastore-backed resources exist and when a package was last
// modified ("latest" over epoch seconds).
type datastoreTracker struct {
	def   report.Definition
	query string
}

func newDatastoreTracker(def report.Definition) (Job, error) {
	return &datastoreTracker{def: def, query: def.ParamOr("query", "")}, nil
}

func (j *datastoreTracker) Name() string { return j.def.Name }

func (j *datastoreTracker) Run(ctx context.Context, env Env) error {
	counts, err := aggregate.New(report.OpSum)
	if err != nil {
		return err
	}
	latest, err := aggregate.New(report.OpLatest)
	if err != nil {
		return err
	}

	fetched := 0
	for raw, err := range env.Client.Packages(ctx, j.query, env.PageSize, env.MaxRecords) {
		if err != nil {
			return reporterr.Transport(j.Name(), err)
		}
		fetched++

		org := report.ExtractString(raw, "owner_org")
		if org == "" {
			continue
		}

		if active := datastoreResourceCount(raw); active > 0 {
			counts.Add(report.Record{
				Org:    org,
				Metric: metricDatastoreResources,
				Value:  decimal.NewFromInt(int64(active)),
			})
		}

		if modified, ok := parseCKANTimestamp(report.ExtractString(raw, "metadata_modified")); ok {
			latest.Add(report.Record{
				Org:    org,
				Metric: metricLatestModified,
				Value:  decimal.NewFromInt(modified.Unix()),
			})
		}
	}
	slog.Info("[Job] Fetched packages", "report", j.Name(), "packages", fetched)

	snapPath := env.SnapshotPath(j.def)
	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return reporterr.Snapshot(j.Name(), err)
	}
	snap.Merge(counts.States())
	snap.Merge(latest.States())
	if err := snap.Store(snapPath); err != nil {
		return reporterr.Snapshot(j.Name(), err)
	}
	slog.Info("[Job] Snapshot merged", "report", j.Name(),
		"batch_buckets", counts.Len()+latest.Len(), "total_buckets", snap.Len())

	if out := j.def.Outputs.CSV; out != "" {
		if err := render.WriteCSV(env.OutPath(out), snapshot.Header, snap.Rows()); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	if out := j.def.Outputs.XLSX; out != "" {
		if err := render.WriteXLSX(env.OutPath(out), "Datastore Tracker", snapshot.Header, snap.Rows()); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	if out := j.def.Outputs.Dashboard; out != "" {
		if err := j.writeDashboard(env, snap); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	return nil
}

func (j *datastoreTracker) writeDashboard(env Env, snap *snapshot.Snapshot) error {
	topN := j.def.TopN
	if topN <= 0 {
		topN = 20
	}
	ranked := aggregate.TopN(aggregate.ByPackage(snap.States(), metricDatastoreResources), topN)

	table := &render.Table{Header: []string{"organization", "datastore resources", "last modified"}}
	for _, entry := range ranked {
		lastModified := ""
		if state, ok := snap.Get(report.AggregateKey{Org: entry.Key.Org, Metric: metricLatestModified}); ok {
			lastModified = time.Unix(state.Value.IntPart(), 0).UTC().Format("2006-01-02")
		}
		table.Rows = append(table.Rows, []string{entry.Key.Org, entry.State.Value.String(), lastModified})
	}

	d := render.Dashboard{
		Title: "Datastore Tracker",
		Intro: "Datastore-backed resources per organization across the catalog.",
		Sections: []render.Section{{
			Heading: "Organizations by datastore footprint",
			Table:   table,
		}},
	}
	return render.WriteMarkdown(env.OutPath(j.def.Outputs.Dashboard), d)
}

func datastoreResourceCount(raw map[string]any) int {
	resources, ok := raw["resources"].([]any)
	if !ok {
		return 0
	}
	active := 0
	for _, r := range resources {
		res, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if flag, ok := res["datastore_active"].(bool); ok && flag {
			active++
		}
	}
	return active
}

func parseCKANTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range ckanTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
