package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"
)

// UrgencyFunc recomputes urgency from a memory's permanent attributes.
type UrgencyFunc func(importance, ageDays float64, accessCount int) float64

// DecayHyperedges recomputes urgency for every memory in the community (all
// communities when communityID is empty) and writes back only changed rows,
// one short UPDATE each. Returns the number of rows updated.
//
// The urgency math runs in Go so the sweep and the engine share one
// UrgencyFunc.
func (db *DB) DecayHyperedges(ctx context.Context, communityID string, now time.Time, urgency UrgencyFunc) (int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, importance, urgency, access_count, created_at
		FROM hyperedges
		WHERE ? = '' OR community_id = ?
	`, communityID, communityID)
	if err != nil {
		return 0, fmt.Errorf("decay query: %w", err)
	}

	type target struct {
		id       string
		newValue float64
	}
	var targets []target
	nowMs := now.UnixMilli()

	for rows.Next() {
		var (
			id          string
			importance  float64
			current     float64
			accessCount int
			createdAt   int64
		)
		if err := rows.Scan(&id, &importance, &current, &accessCount, &createdAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("decay scan: %w", err)
		}

		ageDays := float64(nowMs-createdAt) / float64(24*time.Hour/time.Millisecond)
		if ageDays < 0 {
			ageDays = 0
		}
		next := urgency(importance, ageDays, accessCount)
		if math.Abs(next-current) < 1e-9 {
			continue
		}
		targets = append(targets, target{id: id, newValue: next})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("decay rows: %w", err)
	}
	rows.Close()

	updated := 0
	for _, t := range targets {
		res, err := db.ExecContext(ctx, `UPDATE hyperedges SET urgency = ? WHERE id = ?`, t.newValue, t.id)
		if err != nil {
			return updated, fmt.Errorf("decay update %s: %w", t.id, err)
		}
		// pruned between read and write
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}
	return updated, nil
}

// PruneHyperedges deletes memories with urgency below minUrgency that are
// older than minAge, together with their memberships. Irreversible.
func (db *DB) PruneHyperedges(ctx context.Context, communityID string, minUrgency float64, minAge time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-minAge).UnixMilli()
	const match = `SELECT id FROM hyperedges
		WHERE (? = '' OR community_id = ?) AND urgency < ? AND created_at < ?`

	var pruned int64
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE edge_id IN (`+match+`)`,
			communityID, communityID, minUrgency, cutoff); err != nil {
			return fmt.Errorf("prune memberships: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM hyperedges WHERE id IN (`+match+`)`,
			communityID, communityID, minUrgency, cutoff)
		if err != nil {
			return fmt.Errorf("prune hyperedges: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(pruned), nil
}
