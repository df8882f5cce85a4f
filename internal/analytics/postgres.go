package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresSink stores events in the match_attempts table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink creates a sink backed by the given database handle. The
// schema is created by Migrate.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Record inserts one match attempt.
func (s *PostgresSink) Record(ctx context.Context, e Event) error {
	var score sql.NullFloat64
	if e.CompatibilityScore != nil {
		score = sql.NullFloat64{Float64: *e.CompatibilityScore, Valid: true}
	}

	const query = `
		INSERT INTO match_attempts (id, attempted_at, user_id, match_found, compatibility_score, latency_ms, pool_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Timestamp.UTC(),
		e.UserID,
		e.MatchFound,
		score,
		e.LatencyMs,
		e.PoolSize,
	)
	if err != nil {
		return fmt.Errorf("analytics: insert: %w", err)
	}
	return nil
}

// MatchRate returns the share of a user's attempts within window that
// found a match, and the number of attempts considered.
func (s *PostgresSink) MatchRate(ctx context.Context, userID string, window time.Duration) (float64, int, error) {
	const query = `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN match_found THEN 1 ELSE 0 END), 0)
		FROM match_attempts
		WHERE user_id = $1
		  AND attempted_at >= NOW() - make_interval(secs => $2)`

	var total, found int
	err := s.db.QueryRowContext(ctx, query, userID, window.Seconds()).Scan(&total, &found)
	if err != nil {
		return 0, 0, fmt.Errorf("analytics: match rate: %w", err)
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(found) / float64(total), total, nil
}
