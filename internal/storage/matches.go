package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

const matchColumns = `id, mode, map, agent_a, agent_b, faction_a, faction_b, status,
	winner_id, draw, reason, duration_ms, rating_delta_a, rating_delta_b,
	created_at, completed_at`

// Multi-row writes retry on transient serialization and deadlock conflicts.
const (
	txRetries   = 3
	txBaseDelay = 50 * time.Millisecond
)

func scanMatch(row pgx.Row) (model.MatchRecord, error) {
	var rec model.MatchRecord
	var durationMS int64
	err := row.Scan(
		&rec.ID, &rec.Mode, &rec.Map, &rec.AgentA, &rec.AgentB,
		&rec.FactionA, &rec.FactionB, &rec.Status,
		&rec.WinnerID, &rec.Draw, &rec.Reason, &durationMS,
		&rec.RatingDeltaA, &rec.RatingDeltaB, &rec.CreatedAt, &rec.CompletedAt,
	)
	if err != nil {
		return model.MatchRecord{}, err
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}

// CompleteMatch upserts the terminal match record and applies the updated
// agent rows in one transaction, retried on serialization and deadlock
// conflicts. agents carries the post-rating state of both participants; it
// is empty for unrated terminations.
func (db *DB) CompleteMatch(ctx context.Context, rec model.MatchRecord, agents []model.Agent) error {
	return WithRetry(ctx, txRetries, txBaseDelay, func() error {
		return db.completeMatchTx(ctx, rec, agents)
	})
}

func (db *DB) completeMatchTx(ctx context.Context, rec model.MatchRecord, agents []model.Agent) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin complete match tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO matches (id, mode, map, agent_a, agent_b, faction_a, faction_b, status,
		                      winner_id, draw, reason, duration_ms, rating_delta_a, rating_delta_b,
		                      created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (id) DO UPDATE SET
		     status = EXCLUDED.status,
		     winner_id = EXCLUDED.winner_id,
		     draw = EXCLUDED.draw,
		     reason = EXCLUDED.reason,
		     duration_ms = EXCLUDED.duration_ms,
		     rating_delta_a = EXCLUDED.rating_delta_a,
		     rating_delta_b = EXCLUDED.rating_delta_b,
		     completed_at = EXCLUDED.completed_at`,
		rec.ID, string(rec.Mode), rec.Map, rec.AgentA, rec.AgentB,
		string(rec.FactionA), string(rec.FactionB), string(rec.Status),
		rec.WinnerID, rec.Draw, rec.Reason, rec.Duration.Milliseconds(),
		rec.RatingDeltaA, rec.RatingDeltaB, rec.CreatedAt, rec.CompletedAt,
	); err != nil {
		return fmt.Errorf("storage: upsert match: %w", err)
	}

	for _, a := range agents {
		tag, err := tx.Exec(ctx,
			`UPDATE agents
			 SET rating = $1, peak_rating = $2, wins = $3, losses = $4, draws = $5,
			     games_played = $6, streak = $7, faction_history = $8, updated_at = now()
			 WHERE agent_id = $9`,
			a.Rating, a.PeakRating, a.Wins, a.Losses, a.Draws,
			a.GamesPlayed, a.Streak, factionStrings(a.FactionHistory), a.AgentID,
		)
		if err != nil {
			return fmt.Errorf("storage: update agent %s in complete match tx: %w", a.AgentID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("storage: agent %s: %w", a.AgentID, ErrNotFound)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit complete match tx: %w", err)
	}
	return nil
}

// GetMatch retrieves one match record by identifier.
func (db *DB) GetMatch(ctx context.Context, id uuid.UUID) (model.MatchRecord, error) {
	rec, err := scanMatch(db.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.MatchRecord{}, fmt.Errorf("storage: match %s: %w", id, ErrNotFound)
		}
		return model.MatchRecord{}, fmt.Errorf("storage: get match: %w", err)
	}
	return rec, nil
}

// ListMatches returns match records newest first, optionally filtered by
// participant. limit is clamped to [1, 200] with a default of 50.
func (db *DB) ListMatches(ctx context.Context, agentID string, limit, offset int) ([]model.MatchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE $1 = '' OR agent_a = $1 OR agent_b = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		agentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: list matches: %w", err)
	}
	defer rows.Close()

	var recs []model.MatchRecord
	for rows.Next() {
		rec, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan match: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
