package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// InsertQueueOutcome records how one stint in the queue ended.
func (db *DB) InsertQueueOutcome(ctx context.Context, o model.QueueOutcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO queue_outcomes (agent_id, mode, waited_ms, matched, opponent_id, rating_diff, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.AgentID, string(o.Mode), o.Waited.Milliseconds(), o.Matched,
		nullIfEmpty(o.OpponentID), o.RatingDiff, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert queue outcome: %w", err)
	}
	return nil
}

// EstimateWait returns the median wait of matched queue stints for a mode
// over the trailing hour, or zero when there is no recent history.
func (db *DB) EstimateWait(ctx context.Context, mode model.Mode) (time.Duration, error) {
	var medianMS *float64
	err := db.pool.QueryRow(ctx,
		`SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY waited_ms)
		 FROM queue_outcomes
		 WHERE mode = $1 AND matched AND created_at > now() - interval '1 hour'`,
		string(mode)).Scan(&medianMS)
	if err != nil {
		return 0, fmt.Errorf("storage: estimate wait: %w", err)
	}
	if medianMS == nil {
		return 0, nil
	}
	return time.Duration(*medianMS) * time.Millisecond, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
