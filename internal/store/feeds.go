package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Feed is a syndicated source polled for new items.
type Feed struct {
	ID            int64         `json:"id"`
	CommunityID   string        `json:"community_id"`
	URL           string        `json:"url"`
	Title         string        `json:"title,omitempty"`
	Interval      time.Duration `json:"interval"`
	LastFetchedAt *int64        `json:"last_fetched_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     int64         `json:"created_at"`
}

// AddFeed registers a feed. Re-adding the same URL updates its interval.
func (db *DB) AddFeed(ctx context.Context, communityID, url string, interval time.Duration) (*Feed, error) {
	if url == "" {
		return nil, fmt.Errorf("add feed: url required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("add feed: interval must be positive")
	}
	now := time.Now().UnixMilli()
	var id int64
	err := db.QueryRowContext(ctx, `
		INSERT INTO feeds (community_id, url, interval_ms, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (community_id, url) DO UPDATE SET interval_ms = excluded.interval_ms
		RETURNING id
	`, communityID, url, interval.Milliseconds(), now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("add feed: %w", err)
	}
	return db.GetFeed(ctx, id)
}

const feedColumns = `id, community_id, url, title, interval_ms, last_fetched_at, last_error, created_at`

func scanFeed(row interface{ Scan(...any) error }) (*Feed, error) {
	var (
		f          Feed
		intervalMs int64
		fetched    sql.NullInt64
		lastErr    sql.NullString
	)
	if err := row.Scan(&f.ID, &f.CommunityID, &f.URL, &f.Title, &intervalMs, &fetched, &lastErr, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Interval = time.Duration(intervalMs) * time.Millisecond
	if fetched.Valid {
		v := fetched.Int64
		f.LastFetchedAt = &v
	}
	f.LastError = lastErr.String
	return &f, nil
}

// GetFeed returns a feed by id, or ErrNotFound.
func (db *DB) GetFeed(ctx context.Context, id int64) (*Feed, error) {
	f, err := scanFeed(db.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return f, nil
}

func (db *DB) listFeeds(ctx context.Context, query string, args ...any) ([]Feed, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed: %w", err)
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// ListFeeds returns every feed in a community (all communities when empty).
func (db *DB) ListFeeds(ctx context.Context, communityID string) ([]Feed, error) {
	feeds, err := db.listFeeds(ctx, `SELECT `+feedColumns+` FROM feeds
		WHERE ? = '' OR community_id = ? ORDER BY id`, communityID, communityID)
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}
	return feeds, nil
}

// DueFeeds returns feeds never fetched or whose last fetch is at least
// interval-leeway ago.
func (db *DB) DueFeeds(ctx context.Context, now time.Time, leeway time.Duration) ([]Feed, error) {
	feeds, err := db.listFeeds(ctx, `SELECT `+feedColumns+` FROM feeds
		WHERE last_fetched_at IS NULL OR ? - last_fetched_at >= interval_ms - ?
		ORDER BY COALESCE(last_fetched_at, 0), id`, now.UnixMilli(), leeway.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("due feeds: %w", err)
	}
	return feeds, nil
}

// MarkFeedFetched records a successful fetch and clears any previous error.
func (db *DB) MarkFeedFetched(ctx context.Context, id int64, title string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE feeds SET last_fetched_at = ?, last_error = NULL,
			title = CASE WHEN ? <> '' THEN ? ELSE title END
		WHERE id = ?
	`, at.UnixMilli(), title, title, id)
	if err != nil {
		return fmt.Errorf("mark feed fetched: %w", err)
	}
	return nil
}

// MarkFeedFailed records a fetch error without advancing last_fetched_at,
// so the feed is retried on the next poll.
func (db *DB) MarkFeedFailed(ctx context.Context, id int64, msg string) error {
	if _, err := db.ExecContext(ctx, `UPDATE feeds SET last_error = ? WHERE id = ?`, msg, id); err != nil {
		return fmt.Errorf("mark feed failed: %w", err)
	}
	return nil
}

// DeleteFeed removes a feed. Memories ingested from it are kept.
func (db *DB) DeleteFeed(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasSourceURL reports whether any memory in the community already carries
// url as its metadata source_url.
func (db *DB) HasSourceURL(ctx context.Context, communityID, url string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM hyperedges
			WHERE community_id = ? AND json_extract(metadata, '$.source_url') = ?)
	`, communityID, url).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check source url: %w", err)
	}
	return exists, nil
}
