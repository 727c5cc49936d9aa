package reports

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odplab/portalstats/internal/aggregate"
	"github.com/odplab/portalstats/internal/core/report"
	"github.com/odplab/portalstats/internal/core/reporterr"
	"github.com/odplab/portalstats/internal/render"
	"github.com/odplab/portalstats/internal/snapshot"
)

// pdChanges tallies package and permission change events per
// (organization, month) from the portal's recently-changed activity feed.
// Activities without an attributable organization or timestamp are skipped.
type pdChanges struct {
	def report.Definition
}

func newPDChanges(def report.Definition) (Job, error) {
	return &pdChanges{def: def}, nil
}

func (j *pdChanges) Name() string { return j.def.Name }

func (j *pdChanges) Run(ctx context.Context, env Env) error {
	agg, err := aggregate.New(report.OpCount)
	if err != nil {
		return err
	}

	fetched := 0
	for raw, err := range env.Client.RecentActivity(ctx, env.PageSize, env.MaxRecords) {
		if err != nil {
			return reporterr.Transport(j.Name(), err)
		}
		fetched++
		if rec, ok := normalizeActivity(raw); ok {
			agg.Add(rec)
		}
	}
	slog.Info("[Job] Fetched activity feed", "report", j.Name(), "activities", fetched)

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
	if out := j.def.Outputs.Dashboard; out != "" {
		if err := j.writeDashboard(env, snap); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	return nil
}

func (j *pdChanges) writeDashboard(env Env, snap *snapshot.Snapshot) error {
	periods, changes := render.MonthlySeries(render.RollupByPeriod(snap.States(), ""), env.Now, env.Months)
	series := []render.NamedSeries{{Name: "Changes", Values: changes}}

	topN := j.def.TopN
	if topN <= 0 {
		topN = 20
	}
	ranked := aggregate.TopN(aggregate.ByPackage(snap.States(), ""), topN)
	table := &render.Table{Header: []string{"organization", "change type", "events"}}
	for _, entry := range ranked {
		table.Rows = append(table.Rows, []string{entry.Key.Org, entry.Key.Metric, entry.State.Value.String()})
	}

	d := render.Dashboard{
		Title: "Dataset Change Log",
		Intro: "Package and permission change events from the portal activity feed.",
		Sections: []render.Section{
			{
				Heading: "Changes per month",
				Periods: periods,
				Series:  series,
			},
			{
				Heading: "Most active organizations",
				Table:   table,
			},
		},
	}
	if err := render.WriteMarkdown(env.OutPath(j.def.Outputs.Dashboard), d); err != nil {
		return err
	}
	if out := j.def.Outputs.Chart; out != "" {
		return render.WriteChartPage(env.OutPath(out), "Dataset Change Log", "change events per month", periods, series)
	}
	return nil
}

// normalizeActivity flattens one activity feed entry. The organization
// lives on the nested package payload; entries without it (user and group
// activities) are not attributable and are dropped.
func normalizeActivity(raw map[string]any) (report.Record, bool) {
	activityType := report.ExtractString(raw, "activity_type")
	if activityType == "" || !strings.Contains(activityType, "package") {
		return report.Record{}, false
	}

	data, ok := raw["data"].(map[string]any)
	if !ok {
		return report.Record{}, false
	}
	pkg, ok := data["package"].(map[string]any)
	if !ok {
		return report.Record{}, false
	}
	org := report.ExtractString(pkg, "owner_org")
	if org == "" {
		return report.Record{}, false
	}

	stamp, ok := parseCKANTimestamp(report.ExtractString(raw, "timestamp"))
	if !ok {
		return report.Record{}, false
	}

	return report.Record{
		Org:    org,
		Period: report.PeriodOf(stamp),
		Metric: strings.ReplaceAll(activityType, " ", "_"),
		Value:  decimal.NewFromInt(1),
	}, true
}
