package ckan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// pages builds a PageFunc over a fixed record set, counting fetches.
func pages(records []map[string]any, total int, calls *int) PageFunc {
	return func(_ context.Context, offset, limit int) ([]map[string]any, int, error) {
		*calls++
		if offset >= len(records) {
			return nil, total, nil
		}
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		return records[offset:end], total, nil
	}
}

func numbered(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"i": i}
	}
	return out
}

func collect(t *testing.T, p Pager) []map[string]any {
	t.Helper()
	var out []map[string]any
	for rec, err := range p.Records(context.Background()) {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestPager_WalksAllPages(t *testing.T) {
	calls := 0
	p := Pager{Fetch: pages(numbered(25), 25, &calls), PageSize: 10}

	got := collect(t, p)
	require.Len(t, got, 25)
	require.Equal(t, 0, got[0]["i"])
	require.Equal(t, 24, got[24]["i"])
	// 10 + 10 + 5, then the reported total stops the walk without a 4th call.
	require.Equal(t, 3, calls)
}

func TestPager_StopsOnEmptyPage(t *testing.T) {
	calls := 0
	p := Pager{Fetch: pages(numbered(7), 0, &calls), PageSize: 10}

	got := collect(t, p)
	require.Len(t, got, 7)
	// Total unknown (feed endpoints): one extra fetch observes the empty page.
	require.Equal(t, 2, calls)
}

func TestPager_MaxRecords(t *testing.T) {
	calls := 0
	p := Pager{Fetch: pages(numbered(100), 100, &calls), PageSize: 10, MaxRecords: 15}

	got := collect(t, p)
	require.Len(t, got, 15)
	require.Equal(t, 2, calls)
}

func TestPager_MaxRecordsExactWithOversizedPages(t *testing.T) {
	// The endpoint ignores the limit and always returns 40 records; the
	// walk must still stop at exactly MaxRecords.
	all := numbered(200)
	p := Pager{
		PageSize:   10,
		MaxRecords: 25,
		Fetch: func(_ context.Context, offset, _ int) ([]map[string]any, int, error) {
			end := offset + 40
			if end > len(all) {
				end = len(all)
			}
			return all[offset:end], len(all), nil
		},
	}

	got := collect(t, p)
	require.Len(t, got, 25)
	require.Equal(t, 24, got[24]["i"])
}

func TestPager_YieldsFetchError(t *testing.T) {
	boom := errors.New("transport down")
	p := Pager{
		PageSize: 10,
		Fetch: func(_ context.Context, offset, _ int) ([]map[string]any, int, error) {
			if offset > 0 {
				return nil, 0, boom
			}
			return numbered(10), 0, nil
		},
	}

	var seen int
	var last error
	for rec, err := range p.Records(context.Background()) {
		if err != nil {
			last = err
			break
		}
		_ = rec
		seen++
	}
	require.Equal(t, 10, seen)
	require.ErrorIs(t, last, boom)
}

func TestPager_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Pager{Fetch: pages(numbered(5), 5, new(int)), PageSize: 10}
	var last error
	for _, err := range p.Records(ctx) {
		last = err
	}
	require.ErrorIs(t, last, context.Canceled)
}

func TestPager_Restartable(t *testing.T) {
	calls := 0
	p := Pager{Fetch: pages(numbered(5), 5, &calls), PageSize: 10}

	seq := p.Records(context.Background())
	first := 0
	for _, err := range seq {
		require.NoError(t, err)
		first++
	}
	second := 0
	for _, err := range seq {
		require.NoError(t, err)
		second++
	}
	require.Equal(t, 5, first)
	require.Equal(t, 5, second)
}

func TestDatastoreRecords_EndToEnd(t *testing.T) {
	// Serve 3 records over 2 pages through the real HTTP client.
	const total = 3
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := offset + limit
		if end > total {
			end = total
		}
		body := ""
		for i := offset; i < end; i++ {
			if body != "" {
				body += ","
			}
			body += fmt.Sprintf(`{"i": %d}`, i)
		}
		fmt.Fprintf(w, `{"success": true, "result": {"total": %d, "records": [%s]}}`, total, body)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	var count int
	for _, err := range c.DatastoreRecords(context.Background(), "res-1", 2, 0) {
		require.NoError(t, err)
		count++
	}
	require.Equal(t, total, count)
}
