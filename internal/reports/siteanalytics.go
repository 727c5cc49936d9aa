package reports

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odplab/portalstats/internal/aggregate"
	"github.com/odplab/portalstats/internal/core/report"
	"github.com/odplab/portalstats/internal/core/reporterr"
	"github.com/odplab/portalstats/internal/normalize"
	"github.com/odplab/portalstats/internal/render"
	"github.com/odplab/portalstats/internal/snapshot"
)

const (
	metricVisits    = "visits"
	metricDownloads = "downloads"
)

// siteAnalytics aggregates monthly portal usage, visits and downloads per
// (organization, package, month), from the two site-analytics datastore
// resources, and maintains the running usage table plus its dashboard.
type siteAnalytics struct {
	def               report.Definition
	visitsResource    string
	downloadsResource string
}

func newSiteAnalytics(def report.Definition) (Job, error) {
	visits, err := def.Param("visits_resource")
	if err != nil {
		return nil, err
	}
	downloads, err := def.Param("downloads_resource")
	if err != nil {
		return nil, err
	}
	return &siteAnalytics{def: def, visitsResource: visits, downloadsResource: downloads}, nil
}

func (j *siteAnalytics) Name() string { return j.def.Name }

func (j *siteAnalytics) Run(ctx context.Context, env Env) error {
	agg, err := aggregate.New(report.OpSum)
	if err != nil {
		return err
	}

	sources := []struct {
		metric   string
		resource string
	}{
		{metricVisits, j.visitsResource},
		{metricDownloads, j.downloadsResource},
	}

	for _, src := range sources {
		mapping := normalize.Mapping{
			Metric:  src.metric,
			Org:     "owner_org",
			Package: "package_id",
			Period:  "month",
			Value:   src.metric,
		}
		fetched := 0
		for raw, err := range env.Client.DatastoreRecords(ctx, src.resource, env.PageSize, env.MaxRecords) {
			if err != nil {
				return reporterr.Transport(j.Name(), err)
			}
			fetched++
			if rec, ok := mapping.Record(raw); ok {
				agg.Add(rec)
			}
		}
		slog.Info("[Job] Fetched source", "report", j.Name(), "metric", src.metric, "records", fetched)
	}

	snapPath := env.SnapshotPath(j.def)
	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return reporterr.Snapshot(j.Name(), err)
	}
	snap.Merge(agg.States())
	if err := snap.Store(snapPath); err != nil {
		return reporterr.Snapshot(j.Name(), err)
	}
	slog.Info("[Job] Snapshot merged", "report", j.Name(), "batch_buckets", agg.Len(), "total_buckets", snap.Len())

	if out := j.def.Outputs.CSV; out != "" {
		if err := render.WriteCSV(env.OutPath(out), snapshot.Header, snap.Rows()); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	if out := j.def.Outputs.XLSX; out != "" {
		if err := render.WriteXLSX(env.OutPath(out), "Site Analytics", snapshot.Header, snap.Rows()); err != nil {
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

func (j *siteAnalytics) writeDashboard(env Env, snap *snapshot.Snapshot) error {
	periods, visits := render.MonthlySeries(render.RollupByPeriod(snap.States(), metricVisits), env.Now, env.Months)
	_, downloads := render.MonthlySeries(render.RollupByPeriod(snap.States(), metricDownloads), env.Now, env.Months)
	series := []render.NamedSeries{
		{Name: "Visits", Values: visits},
		{Name: "Downloads", Values: downloads},
	}

	sections := []render.Section{{
		Heading: "Monthly usage",
		Body:    fmt.Sprintf("Portal-wide visits and downloads over the last %d months.", len(periods)),
		Periods: periods,
		Series:  series,
	}}

	if j.def.TopN > 0 {
		ranked := aggregate.TopN(aggregate.ByPackage(snap.States(), metricDownloads), j.def.TopN)
		table := &render.Table{Header: []string{"organization", "package", "downloads"}}
		for _, entry := range ranked {
			table.Rows = append(table.Rows, []string{
				entry.Key.Org,
				entry.Key.Package,
				entry.State.Value.String(),
			})
		}
		sections = append(sections, render.Section{
			Heading: fmt.Sprintf("Top %d datasets by downloads", j.def.TopN),
			Table:   table,
		})
	}

	d := render.Dashboard{
		Title:    "Open Data Portal Site Analytics",
		Intro:    "Monthly visit and download statistics aggregated by organization and dataset.",
		Sections: sections,
	}
	if err := render.WriteMarkdown(env.OutPath(j.def.Outputs.Dashboard), d); err != nil {
		return err
	}

	if out := j.def.Outputs.Chart; out != "" {
		return render.WriteChartPage(env.OutPath(out), "Site Analytics", "visits and downloads per month", periods, series)
	}
	return nil
}
