package ckan

import (
	"context"
	"iter"
)

// DefaultPageSize is the records-per-request default for paginated walks.
const DefaultPageSize = 1000

// PageFunc fetches one page of raw records. It returns the page's records
// and the total record count reported by the endpoint (0 when unknown).
type PageFunc func(ctx context.Context, offset, limit int) ([]map[string]any, int, error)

// Pager walks a paginated endpoint as a lazy, restartable, finite sequence.
// The walk terminates on the first empty page, when the endpoint-reported
// total is reached, or when MaxRecords records have been yielded. Pages are
// fetched on demand; the full result set is never materialized.
type Pager struct {
	Fetch      PageFunc
	PageSize   int // defaults to DefaultPageSize
	MaxRecords int // total-count threshold; 0 means unbounded
}

// Records returns the sequence of raw records. A fetch failure is yielded
// as the error of the final element and ends the sequence; the caller
// aborts the run on it.
func (p Pager) Records(ctx context.Context) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		size := p.PageSize
		if size <= 0 {
			size = DefaultPageSize
		}

		offset := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			limit := size
			if p.MaxRecords > 0 && offset+limit > p.MaxRecords {
				limit = p.MaxRecords - offset
			}
			if limit <= 0 {
				return
			}

			records, total, err := p.Fetch(ctx, offset, limit)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(records) == 0 {
				return
			}
			// A misbehaving endpoint may ignore the limit; truncate so the
			// MaxRecords threshold stays exact.
			if len(records) > limit {
				records = records[:limit]
			}

			for _, rec := range records {
				if !yield(rec, nil) {
					return
				}
			}

			offset += len(records)
			if total > 0 && offset >= total {
				return
			}
			if p.MaxRecords > 0 && offset >= p.MaxRecords {
				return
			}
		}
	}
}

// DatastoreRecords walks every record of a datastore resource.
func (c *Client) DatastoreRecords(ctx context.Context, resourceID string, pageSize, maxRecords int) iter.Seq2[map[string]any, error] {
	p := Pager{
		PageSize:   pageSize,
		MaxRecords: maxRecords,
		Fetch: func(ctx context.Context, offset, limit int) ([]map[string]any, int, error) {
			res, err := c.DatastoreSearch(ctx, resourceID, limit, offset)
			if err != nil {
				return nil, 0, err
			}
			return res.Records, res.Total, nil
		},
	}
	return p.Records(ctx)
}

// Packages walks every package matching query.
func (c *Client) Packages(ctx context.Context, query string, pageSize, maxRecords int) iter.Seq2[map[string]any, error] {
	p := Pager{
		PageSize:   pageSize,
		MaxRecords: maxRecords,
		Fetch: func(ctx context.Context, offset, limit int) ([]map[string]any, int, error) {
			res, err := c.PackageSearch(ctx, query, limit, offset)
			if err != nil {
				return nil, 0, err
			}
			return res.Results, res.Count, nil
		},
	}
	return p.Records(ctx)
}

// RecentActivity walks the portal change feed, newest first. The feed has
// no total count; the walk relies on MaxRecords or an empty page to stop.
func (c *Client) RecentActivity(ctx context.Context, pageSize, maxRecords int) iter.Seq2[map[string]any, error] {
	p := Pager{
		PageSize:   pageSize,
		MaxRecords: maxRecords,
		Fetch: func(ctx context.Context, offset, limit int) ([]map[string]any, int, error) {
			records, err := c.RecentlyChanged(ctx, limit, offset)
			if err != nil {
				return nil, 0, err
			}
			return records, 0, nil
		},
	}
	return p.Records(ctx)
}
