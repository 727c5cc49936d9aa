package reports

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odplab/portalstats/internal/ckan"
	"github.com/odplab/portalstats/internal/core/report"
)

// newDatastoreServer serves datastore_search pages from a fixed record set
// per resource id. Every record fits on the first page.
func newDatastoreServer(t *testing.T, byResource map[string][]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/3/action/datastore_search", r.URL.Path)
		records := byResource[r.URL.Query().Get("resource_id")]
		if r.URL.Query().Get("offset") != "0" {
			records = nil
		}
		resp := map[string]any{
			"success": true,
			"result":  map[string]any{"total": len(records), "records": records},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testEnv(t *testing.T, baseURL string) Env {
	t.Helper()
	dir := t.TempDir()
	return Env{
		Client:   ckan.New(baseURL, ""),
		StateDir: filepath.Join(dir, "state"),
		OutDir:   filepath.Join(dir, "out"),
		PageSize: 100,
		Months:   2,
		Now:      time.Date(2026, time.February, 15, 10, 0, 0, 0, time.UTC),
	}
}

func siteAnalyticsDef() report.Definition {
	return report.Definition{
		Name:         "site-analytics",
		Job:          "site-analytics",
		SnapshotFile: "site-analytics.csv",
		TopN:         5,
		Params: map[string]string{
			"visits_resource":    "vis-1",
			"downloads_resource": "dl-1",
		},
		Outputs: report.Outputs{
			CSV:       "site-analytics.csv",
			Dashboard: "site-analytics.md",
		},
	}
}

func TestSiteAnalytics_Run(t *testing.T) {
	srv := newDatastoreServer(t, map[string][]map[string]any{
		"vis-1": {
			{"owner_org": "tbs-sct", "package_id": "pkg-1", "month": "2026-01", "visits": 100},
			{"owner_org": "tbs-sct", "package_id": "pkg-1", "month": "2026-01", "visits": 50},
			{"owner_org": "aafc-aac", "package_id": "pkg-2", "month": "2026-02", "visits": 7},
		},
		"dl-1": {
			{"owner_org": "tbs-sct", "package_id": "pkg-1", "month": "2026-01", "downloads": 9},
		},
	})
	defer srv.Close()

	env := testEnv(t, srv.URL)
	def := siteAnalyticsDef()
	job, err := New(def)
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background(), env))

	data, err := os.ReadFile(env.SnapshotPath(def))
	require.NoError(t, err)
	require.Equal(t, strings.Join([]string{
		"organization,package,period,metric,reducer,value,records",
		"aafc-aac,pkg-2,2026-02,visits,sum,7,1",
		"tbs-sct,pkg-1,2026-01,downloads,sum,9,1",
		"tbs-sct,pkg-1,2026-01,visits,sum,150,2",
	}, "\n")+"\n", string(data))

	// Output CSV mirrors the snapshot table.
	out, err := os.ReadFile(env.OutPath("site-analytics.csv"))
	require.NoError(t, err)
	require.Equal(t, data, out)

	dash, err := os.ReadFile(env.OutPath("site-analytics.md"))
	require.NoError(t, err)
	require.Contains(t, string(dash), "# Open Data Portal Site Analytics")
	require.Contains(t, string(dash), "```chart")
	require.Contains(t, string(dash), "Top 5 datasets by downloads")
}

func TestSiteAnalytics_RerunIsByteIdentical(t *testing.T) {
	srv := newDatastoreServer(t, map[string][]map[string]any{
		"vis-1": {
			{"owner_org": "tbs-sct", "package_id": "pkg-1", "month": "2026-01", "visits": 42},
		},
		"dl-1": {},
	})
	defer srv.Close()

	env := testEnv(t, srv.URL)
	def := siteAnalyticsDef()
	job, err := New(def)
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background(), env))
	first, err := os.ReadFile(env.SnapshotPath(def))
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background(), env))
	second, err := os.ReadFile(env.SnapshotPath(def))
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestSiteAnalytics_EmptySourceWritesHeaderOnly(t *testing.T) {
	srv := newDatastoreServer(t, map[string][]map[string]any{})
	defer srv.Close()

	env := testEnv(t, srv.URL)
	job, err := New(siteAnalyticsDef())
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background(), env))

	out, err := os.ReadFile(env.OutPath("site-analytics.csv"))
	require.NoError(t, err)
	require.Equal(t, "organization,package,period,metric,reducer,value,records\n", string(out))
}

func TestSiteAnalytics_TransportFailureAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	env := testEnv(t, srv.URL)
	def := siteAnalyticsDef()
	job, err := New(def)
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background(), env))

	// Nothing was written: no snapshot, no outputs.
	_, err = os.Stat(env.SnapshotPath(def))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(env.OutPath("site-analytics.csv"))
	require.True(t, os.IsNotExist(err))
}
