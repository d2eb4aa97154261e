package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

const agentColumns = `id, agent_id, name, api_key_hash, rating, peak_rating,
	wins, losses, draws, games_played, streak, faction_history, created_at, updated_at`

func scanAgent(row pgx.Row) (model.Agent, error) {
	var a model.Agent
	var history []string
	err := row.Scan(
		&a.ID, &a.AgentID, &a.Name, &a.APIKeyHash, &a.Rating, &a.PeakRating,
		&a.Wins, &a.Losses, &a.Draws, &a.GamesPlayed, &a.Streak, &history,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Agent{}, err
	}
	for _, f := range history {
		a.FactionHistory = append(a.FactionHistory, model.Faction(f))
	}
	return a, nil
}

func factionStrings(history []model.Faction) []string {
	out := make([]string, len(history))
	for i, f := range history {
		out[i] = string(f)
	}
	return out
}

// CreateAgent inserts a new agent. Returns ErrDuplicate when the agent_id is
// already registered.
func (db *DB) CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agents (id, agent_id, name, api_key_hash, rating, peak_rating,
		                     wins, losses, draws, games_played, streak, faction_history,
		                     created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		agent.ID, agent.AgentID, agent.Name, agent.APIKeyHash, agent.Rating, agent.PeakRating,
		agent.Wins, agent.Losses, agent.Draws, agent.GamesPlayed, agent.Streak,
		factionStrings(agent.FactionHistory), agent.CreatedAt, agent.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Agent{}, fmt.Errorf("storage: agent %s: %w", agent.AgentID, ErrDuplicate)
		}
		return model.Agent{}, fmt.Errorf("storage: create agent: %w", err)
	}
	return agent, nil
}

// GetAgent retrieves an agent by agent_id.
func (db *DB) GetAgent(ctx context.Context, agentID string) (model.Agent, error) {
	a, err := scanAgent(db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, agentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Agent{}, fmt.Errorf("storage: agent %s: %w", agentID, ErrNotFound)
		}
		return model.Agent{}, fmt.Errorf("storage: get agent: %w", err)
	}
	return a, nil
}

// Leaderboard returns agents ordered by rating descending, ties broken by
// fewer games played then agent_id for a stable order. limit is clamped to
// [1, 500] with a default of 100; offset must be non-negative.
func (db *DB) Leaderboard(ctx context.Context, limit, offset int) ([]model.Agent, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents
		 ORDER BY rating DESC, games_played ASC, agent_id ASC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("storage: leaderboard: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CountAgents returns the number of registered agents.
func (db *DB) CountAgents(ctx context.Context) (int, error) {
	var count int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: count agents: %w", err)
	}
	return count, nil
}

// FactionHistory returns the recent-factions ring for an agent.
func (db *DB) FactionHistory(ctx context.Context, agentID string) ([]model.Faction, error) {
	var history []string
	err := db.pool.QueryRow(ctx,
		`SELECT faction_history FROM agents WHERE agent_id = $1`, agentID).Scan(&history)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("storage: agent %s: %w", agentID, ErrNotFound)
		}
		return nil, fmt.Errorf("storage: faction history: %w", err)
	}
	out := make([]model.Faction, len(history))
	for i, f := range history {
		out[i] = model.Faction(f)
	}
	return out, nil
}

// AppendFaction pushes a played faction onto the agent's history ring,
// trimming to the newest FactionHistorySize entries. The update contends
// with CompleteMatch on the same row, so it retries on deadlock.
func (db *DB) AppendFaction(ctx context.Context, agentID string, faction model.Faction) error {
	return WithRetry(ctx, txRetries, txBaseDelay, func() error {
		return db.appendFaction(ctx, agentID, faction)
	})
}

func (db *DB) appendFaction(ctx context.Context, agentID string, faction model.Faction) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agents
		 SET faction_history = CASE
		         WHEN array_length(faction_history || $1::text, 1) > $2
		         THEN (faction_history || $1::text)[array_length(faction_history || $1::text, 1) - $2 + 1:]
		         ELSE faction_history || $1::text
		     END,
		     updated_at = now()
		 WHERE agent_id = $3`,
		string(faction), model.FactionHistorySize, agentID)
	if err != nil {
		return fmt.Errorf("storage: append faction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}
