package sqlite

import (
	"context"
	"strings"
	"time"

	pagecache "github.com/eugener/pagecache/internal"
)

// InsertPageViews batch-inserts page views.
func (s *Store) InsertPageViews(ctx context.Context, views []pagecache.PageView) error {
	if len(views) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 6
	placeholders := make([]string, len(views))
	args := make([]any, 0, len(views)*cols)

	for i, v := range views {
		placeholders[i] = "(?, ?, ?, ?, ?, ?)"
		args = append(args,
			v.ID, v.URL, v.Tag, boolToInt(v.FromCache), v.RequestID,
			v.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO page_views (id, url, tag, from_cache, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryPageViews returns page views matching the filter, newest first.
func (s *Store) QueryPageViews(ctx context.Context, f pagecache.PageViewFilter) ([]pagecache.PageView, error) {
	clauses, args := pageViewWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx,
		`SELECT id, url, tag, from_cache, request_id, created_at
		 FROM page_views`+where(clauses)+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pagecache.PageView
	for rows.Next() {
		var v pagecache.PageView
		var fromCache int
		var createdAt string
		if err := rows.Scan(&v.ID, &v.URL, &v.Tag, &fromCache, &v.RequestID, &createdAt); err != nil {
			return nil, err
		}
		v.FromCache = fromCache != 0
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			v.CreatedAt = t
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountPageViews returns the number of page views matching the filter.
func (s *Store) CountPageViews(ctx context.Context, f pagecache.PageViewFilter) (int, error) {
	clauses, args := pageViewWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM page_views`+where(clauses), args...,
	).Scan(&n)
	return n, err
}

func pageViewWhere(f pagecache.PageViewFilter) ([]string, []any) {
	var clauses []string
	var args []any
	if f.Tag != "" {
		clauses = append(clauses, "tag = ?")
		args = append(args, f.Tag)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	return clauses, args
}

// UpsertRollups writes hourly aggregates in one transaction. Each rollup
// replaces the stored counts for its (tag, period, bucket), so recomputing
// a bucket is idempotent.
func (s *Store) UpsertRollups(ctx context.Context, rollups []pagecache.PageViewRollup) error {
	if len(rollups) == 0 {
		return nil
	}
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO page_view_rollups (tag, period, bucket, views, cached_views)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(tag, period, bucket) DO UPDATE SET
		 views = excluded.views,
		 cached_views = excluded.cached_views`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rollups {
		if _, err := stmt.ExecContext(ctx, r.Tag, r.Period, r.Bucket, r.Views, r.CachedViews); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// QueryRollups returns rollups matching the filter, newest bucket first.
func (s *Store) QueryRollups(ctx context.Context, f pagecache.RollupFilter) ([]pagecache.PageViewRollup, error) {
	var clauses []string
	var args []any
	if f.Tag != "" {
		clauses = append(clauses, "tag = ?")
		args = append(args, f.Tag)
	}
	if f.Period != "" {
		clauses = append(clauses, "period = ?")
		args = append(args, f.Period)
	}
	if f.Since != "" {
		clauses = append(clauses, "bucket >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "bucket < ?")
		args = append(args, f.Until)
	}

	rows, err := s.read.QueryContext(ctx,
		`SELECT tag, period, bucket, views, cached_views
		 FROM page_view_rollups`+where(clauses)+` ORDER BY bucket DESC, tag`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pagecache.PageViewRollup
	for rows.Next() {
		var r pagecache.PageViewRollup
		if err := rows.Scan(&r.Tag, &r.Period, &r.Bucket, &r.Views, &r.CachedViews); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
