// Package ckan is a read-only client for CKAN-style open-data portal APIs:
// the action API (datastore_search, package_search, activity feeds) and the
// datastore CSV dump endpoint. No retries; a transport failure surfaces to
// the caller and aborts the run.
package ckan

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultTimeout = 90 * time.Second

// Client issues paginated reads against one portal.
type Client struct {
	base  string
	token string
	httpc *http.Client
}

// New creates a client for the portal at baseURL. token may be empty for
// public endpoints; when set it is sent on every request.
func New(baseURL, token string) *Client {
	return &Client{
		base:  baseURL,
		token: token,
		httpc: &http.Client{Timeout: defaultTimeout},
	}
}

// envelope is the CKAN action API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// DatastoreResult is one page of datastore_search.
type DatastoreResult struct {
	Total   int              `json:"total"`
	Records []map[string]any `json:"records"`
}

// PackageResult is one page of package_search.
type PackageResult struct {
	Count   int              `json:"count"`
	Results []map[string]any `json:"results"`
}

func (c *Client) call(ctx context.Context, action string, query url.Values, result any) error {
	u := fmt.Sprintf("%s/api/3/action/%s", c.base, action)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("ckan: build request for %s: %w", action, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ckan: %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ckan: %s returned status %d", action, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("ckan: %s: decode response: %w", action, err)
	}
	if !env.Success {
		return fmt.Errorf("ckan: %s failed: %s", action, string(env.Error))
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("ckan: %s: decode result: %w", action, err)
		}
	}
	return nil
}

// DatastoreSearch fetches one page of records from a datastore resource.
func (c *Client) DatastoreSearch(ctx context.Context, resourceID string, limit, offset int) (*DatastoreResult, error) {
	q := url.Values{}
	q.Set("resource_id", resourceID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var res DatastoreResult
	if err := c.call(ctx, "datastore_search", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PackageSearch fetches one page of package metadata matching query.
// query "" means all packages.
func (c *Client) PackageSearch(ctx context.Context, query string, rows, start int) (*PackageResult, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	q.Set("rows", strconv.Itoa(rows))
	q.Set("start", strconv.Itoa(start))
	var res PackageResult
	if err := c.call(ctx, "package_search", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RecentlyChanged fetches one page of the portal-wide package change feed.
// The result is a bare array, newest first.
func (c *Client) RecentlyChanged(ctx context.Context, limit, offset int) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var res []map[string]any
	if err := c.call(ctx, "recently_changed_packages_activity_list", q, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// DumpRows downloads a full datastore resource as CSV and returns the
// header plus all data rows. Dumps are how the portal publishes the large
// consultation-analytics resources; they are read whole, once per run.
func (c *Client) DumpRows(ctx context.Context, resourceID string) ([]string, [][]string, error) {
	u := fmt.Sprintf("%s/datastore/dump/%s?format=csv", c.base, url.PathEscape(resourceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("ckan: build dump request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("ckan: dump %s: %w", resourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("ckan: dump %s returned status %d", resourceID, resp.StatusCode)
	}

	header, rows, err := readCSV(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("ckan: dump %s: %w", resourceID, err)
	}
	return header, rows, nil
}

func newLenientCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // dump rows occasionally vary in width
	return cr
}

func readCSV(r io.Reader) ([]string, [][]string, error) {
	cr := newLenientCSVReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var rows [][]string
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
