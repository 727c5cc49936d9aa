package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odplab/portalstats/internal/aggregate"
	"github.com/odplab/portalstats/internal/core/report"
	"github.com/odplab/portalstats/internal/core/reporterr"
	"github.com/odplab/portalstats/internal/render"
	"github.com/odplab/portalstats/internal/snapshot"
)

const metricInformalRequests = "informal_requests"

// trackingChunkSize bounds the alternation length of one compiled pattern.
const trackingChunkSize = 400

// matchHeader is the fixed column order of the match table output.
var matchHeader = []string{
	"owner_org",
	"tracking_number",
	"request_number",
	"informal_requests_sum",
	"unique_identifiers",
	"summary_en",
	"summary_fr",
}

// informalRequests reconciles three access-to-information resources:
// the requests resource (B) is summed by (organization, request number)
// with unique identifiers collected per group; the sums are merged onto
// the summaries resource (C) by lowercased request number; and registry (A)
// tracking numbers are matched against the bilingual summary text per
// organization. The match table, a JSON payload with row counts, and the
// running sum snapshot are the outputs.
type informalRequests struct {
	def               report.Definition
	registryResource  string
	requestsResource  string
	summariesResource string
}

func newInformalRequests(def report.Definition) (Job, error) {
	registry, err := def.Param("registry_resource")
	if err != nil {
		return nil, err
	}
	requests, err := def.Param("requests_resource")
	if err != nil {
		return nil, err
	}
	summaries, err := def.Param("summaries_resource")
	if err != nil {
		return nil, err
	}
	return &informalRequests{
		def:               def,
		registryResource:  registry,
		requestsResource:  requests,
		summariesResource: summaries,
	}, nil
}

func (j *informalRequests) Name() string { return j.def.Name }

type summaryRow struct {
	org           string
	requestNumber string
	summaryEn     string
	summaryFr     string
	haystack      string
	sum           decimal.Decimal
	identifiers   string
}

type matchRow struct {
	org            string
	trackingNumber string
	requestNumber  string
	sum            decimal.Decimal
	identifiers    string
	summaryEn      string
	summaryFr      string
}

func (j *informalRequests) Run(ctx context.Context, env Env) error {
	sums, identifiers, requestRows, err := j.loadRequestSums(ctx, env)
	if err != nil {
		return err
	}

	summaries, summaryRows, err := j.loadSummaries(ctx, env, sums, identifiers)
	if err != nil {
		return err
	}

	tracking, lookup, registryRows, err := j.loadRegistry(ctx, env)
	if err != nil {
		return err
	}

	matches, err := matchTrackingNumbers(summaries, tracking, lookup)
	if err != nil {
		return fmt.Errorf("report %s: %w", j.Name(), err)
	}
	slog.Info("[Job] Matched tracking numbers", "report", j.Name(),
		"registry_rows", registryRows, "request_rows", requestRows,
		"summary_rows", summaryRows, "matches", len(matches))

	// All three fetches succeeded; only now does anything touch disk.
	snapPath := env.SnapshotPath(j.def)
	snap, err := snapshot.Load(snapPath)
	if err != nil {
		return reporterr.Snapshot(j.Name(), err)
	}
	snap.Merge(sums)
	if err := snap.Store(snapPath); err != nil {
		return reporterr.Snapshot(j.Name(), err)
	}
	slog.Info("[Job] Snapshot merged", "report", j.Name(), "batch_buckets", len(sums), "total_buckets", snap.Len())

	if out := j.def.Outputs.CSV; out != "" {
		if err := render.WriteCSV(env.OutPath(out), matchHeader, matchTable(matches)); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	if out := j.def.Outputs.JSON; out != "" {
		if err := j.writeJSON(env.OutPath(out), matches, registryRows, requestRows, summaryRows); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	if out := j.def.Outputs.Dashboard; out != "" {
		if err := j.writeDashboard(env, matches, registryRows, requestRows, summaryRows); err != nil {
			return reporterr.Output(j.Name(), err)
		}
	}
	return nil
}

// loadRequestSums downloads the requests resource and sums informal request
// counts by (organization, lowercased request number), collecting the
// unique identifiers seen per group.
func (j *informalRequests) loadRequestSums(ctx context.Context, env Env) (map[report.AggregateKey]report.AggregateState, map[report.AggregateKey]string, int, error) {
	header, rows, err := env.Client.DumpRows(ctx, j.requestsResource)
	if err != nil {
		return nil, nil, 0, reporterr.Transport(j.Name(), err)
	}
	cols := indexColumns(header)
	for _, need := range []string{"owner_org", "Request Number", "Number of Informal Requests", "Unique Identifier"} {
		if _, ok := cols[need]; !ok {
			return nil, nil, 0, reporterr.Transport(j.Name(), fmt.Errorf("requests resource missing expected column %q", need))
		}
	}

	agg, err := aggregate.New(report.OpSum)
	if err != nil {
		return nil, nil, 0, err
	}
	collected := make(map[report.AggregateKey][]string)

	for _, row := range rows {
		org := cell(row, cols["owner_org"])
		requestNumber := cell(row, cols["Request Number"])
		if org == "" || requestNumber == "" {
			continue
		}

		// Unparsable counts become 0, matching the source data's blanks.
		value := decimal.Zero
		if v, err := decimal.NewFromString(cell(row, cols["Number of Informal Requests"])); err == nil && !v.IsNegative() {
			value = v
		}

		rec := report.Record{
			Org:     org,
			Package: strings.ToLower(requestNumber),
			Metric:  metricInformalRequests,
			Value:   value,
		}
		agg.Add(rec)

		if id := cell(row, cols["Unique Identifier"]); id != "" {
			key := rec.Key()
			collected[key] = append(collected[key], id)
		}
	}

	identifiers := make(map[report.AggregateKey]string, len(collected))
	for key, ids := range collected {
		identifiers[key] = aggregate.Collate(ids)
	}
	return agg.States(), identifiers, len(rows), nil
}

// loadSummaries downloads the summaries resource and joins the request sums
// onto it by (organization, lowercased request number). Columns the portal
// occasionally omits are treated as empty, not as errors.
func (j *informalRequests) loadSummaries(
	ctx context.Context,
	env Env,
	sums map[report.AggregateKey]report.AggregateState,
	identifiers map[report.AggregateKey]string,
) (map[string][]summaryRow, int, error) {
	header, rows, err := env.Client.DumpRows(ctx, j.summariesResource)
	if err != nil {
		return nil, 0, reporterr.Transport(j.Name(), err)
	}
	cols := indexColumns(header)

	byOrg := make(map[string][]summaryRow)
	for _, row := range rows {
		org := cell(row, col(cols, "owner_org"))
		if org == "" {
			continue
		}
		requestNumber := cell(row, col(cols, "request_number"))
		summaryEn := cell(row, col(cols, "summary_en"))
		summaryFr := cell(row, col(cols, "summary_fr"))

		key := report.AggregateKey{
			Org:     org,
			Package: strings.ToLower(requestNumber),
			Metric:  metricInformalRequests,
		}
		sum := decimal.Zero
		if state, ok := sums[key]; ok {
			sum = state.Value
		}

		byOrg[org] = append(byOrg[org], summaryRow{
			org:           org,
			requestNumber: requestNumber,
			summaryEn:     summaryEn,
			summaryFr:     summaryFr,
			haystack:      strings.ToLower(summaryEn + " " + summaryFr),
			sum:           sum,
			identifiers:   identifiers[key],
		})
	}
	return byOrg, len(rows), nil
}

// loadRegistry downloads the registry resource and groups its tracking
// numbers per organization, keeping a lowercase → canonical-casing lookup.
func (j *informalRequests) loadRegistry(ctx context.Context, env Env) (map[string][]string, map[string]map[string]string, int, error) {
	header, rows, err := env.Client.DumpRows(ctx, j.registryResource)
	if err != nil {
		return nil, nil, 0, reporterr.Transport(j.Name(), err)
	}
	cols := indexColumns(header)
	for _, need := range []string{"owner_org", "tracking_number"} {
		if _, ok := cols[need]; !ok {
			return nil, nil, 0, reporterr.Transport(j.Name(), fmt.Errorf("registry resource missing expected column %q", need))
		}
	}

	tracking := make(map[string][]string)
	lookup := make(map[string]map[string]string)
	for _, row := range rows {
		org := cell(row, cols["owner_org"])
		number := cell(row, cols["tracking_number"])
		if org == "" || number == "" {
			continue
		}
		lc := strings.ToLower(number)
		if lookup[org] == nil {
			lookup[org] = make(map[string]string)
		}
		if _, seen := lookup[org][lc]; seen {
			continue
		}
		lookup[org][lc] = number
		tracking[org] = append(tracking[org], lc)
	}
	return tracking, lookup, len(rows), nil
}

// matchTrackingNumbers scans each organization's summary haystacks for that
// organization's tracking numbers. Alternations are compiled in chunks so
// no single pattern grows unbounded. Output order is deterministic.
func matchTrackingNumbers(
	summaries map[string][]summaryRow,
	tracking map[string][]string,
	lookup map[string]map[string]string,
) ([]matchRow, error) {
	orgs := make([]string, 0, len(tracking))
	for org := range tracking {
		if _, ok := summaries[org]; ok {
			orgs = append(orgs, org)
		}
	}
	sort.Strings(orgs)

	seen := make(map[string]struct{})
	var matches []matchRow

	for _, org := range orgs {
		numbers := tracking[org]
		rows := summaries[org]
		if len(numbers) == 0 || len(rows) == 0 {
			continue
		}

		for chunk := range slices.Chunk(numbers, trackingChunkSize) {
			quoted := make([]string, len(chunk))
			for i, n := range chunk {
				quoted[i] = regexp.QuoteMeta(n)
			}
			pattern, err := regexp.Compile("(?:" + strings.Join(quoted, "|") + ")")
			if err != nil {
				return nil, fmt.Errorf("compile tracking pattern for %s: %w", org, err)
			}

			for _, row := range rows {
				hit := pattern.FindString(row.haystack)
				if hit == "" {
					continue
				}
				number := lookup[org][hit]
				if number == "" {
					number = hit
				}
				m := matchRow{
					org:            row.org,
					trackingNumber: number,
					requestNumber:  row.requestNumber,
					sum:            row.sum,
					identifiers:    row.identifiers,
					summaryEn:      row.summaryEn,
					summaryFr:      row.summaryFr,
				}
				fp := strings.Join([]string{m.org, m.trackingNumber, m.requestNumber, m.sum.String(), m.identifiers, m.summaryEn, m.summaryFr}, "\x1f")
				if _, dup := seen[fp]; dup {
					continue
				}
				seen[fp] = struct{}{}
				matches = append(matches, m)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].org != matches[j].org {
			return matches[i].org < matches[j].org
		}
		if matches[i].trackingNumber != matches[j].trackingNumber {
			return matches[i].trackingNumber < matches[j].trackingNumber
		}
		return matches[i].requestNumber < matches[j].requestNumber
	})
	return matches, nil
}

func matchTable(matches []matchRow) [][]string {
	rows := make([][]string, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, []string{
			m.org,
			m.trackingNumber,
			m.requestNumber,
			m.sum.String(),
			m.identifiers,
			m.summaryEn,
			m.summaryFr,
		})
	}
	return rows
}

type informalPayload struct {
	Meta struct {
		Counts struct {
			RegistryRows int `json:"registry_rows"`
			RequestRows  int `json:"request_rows"`
			SummaryRows  int `json:"summary_rows"`
			Matches      int `json:"matches"`
		} `json:"counts"`
	} `json:"meta"`
	Rows []informalPayloadRow `json:"rows"`
}

type informalPayloadRow struct {
	OwnerOrg            string  `json:"owner_org"`
	TrackingNumber      string  `json:"tracking_number"`
	RequestNumber       string  `json:"request_number"`
	InformalRequestsSum float64 `json:"informal_requests_sum"`
	UniqueIdentifiers   string  `json:"unique_identifiers"`
	SummaryEn           string  `json:"summary_en"`
	SummaryFr           string  `json:"summary_fr"`
}

func (j *informalRequests) writeJSON(path string, matches []matchRow, registryRows, requestRows, summaryRows int) error {
	var payload informalPayload
	payload.Meta.Counts.RegistryRows = registryRows
	payload.Meta.Counts.RequestRows = requestRows
	payload.Meta.Counts.SummaryRows = summaryRows
	payload.Meta.Counts.Matches = len(matches)
	payload.Rows = make([]informalPayloadRow, 0, len(matches))
	for _, m := range matches {
		sum, _ := m.sum.Float64()
		payload.Rows = append(payload.Rows, informalPayloadRow{
			OwnerOrg:            m.org,
			TrackingNumber:      m.trackingNumber,
			RequestNumber:       m.requestNumber,
			InformalRequestsSum: sum,
			UniqueIdentifiers:   m.identifiers,
			SummaryEn:           m.summaryEn,
			SummaryFr:           m.summaryFr,
		})
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func (j *informalRequests) writeDashboard(env Env, matches []matchRow, registryRows, requestRows, summaryRows int) error {
	perOrg := make(map[string]int)
	for _, m := range matches {
		perOrg[m.org]++
	}
	orgs := make([]string, 0, len(perOrg))
	for org := range perOrg {
		orgs = append(orgs, org)
	}
	sort.Slice(orgs, func(i, j int) bool {
		if perOrg[orgs[i]] != perOrg[orgs[j]] {
			return perOrg[orgs[i]] > perOrg[orgs[j]]
		}
		return orgs[i] < orgs[j]
	})
	topN := j.def.TopN
	if topN <= 0 || topN > len(orgs) {
		topN = len(orgs)
	}

	table := &render.Table{Header: []string{"organization", "matched requests"}}
	for _, org := range orgs[:topN] {
		table.Rows = append(table.Rows, []string{org, fmt.Sprintf("%d", perOrg[org])})
	}

	d := render.Dashboard{
		Title: "Informal Requests Report",
		Intro: fmt.Sprintf(
			"Registry rows: %d. Request rows: %d. Summary rows: %d. Matches: %d.",
			registryRows, requestRows, summaryRows, len(matches),
		),
		Sections: []render.Section{{
			Heading: "Organizations by matched requests",
			Table:   table,
		}},
	}
	return render.WriteMarkdown(env.OutPath(j.def.Outputs.Dashboard), d)
}

// col returns the index of a named column, or -1 when absent.
func col(cols map[string]int, name string) int {
	if i, ok := cols[name]; ok {
		return i
	}
	return -1
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	return cols
}

// cell returns the trimmed value at idx, or "" when the column is absent
// or the row is short.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
