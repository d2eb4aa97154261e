package model

import (
	"time"

	"github.com/google/uuid"
)

// Mode names a matchmaking queue (e.g. "1v1").
type Mode string

// ModeDefault is the only mode shipped by default; the queue set is
// configuration-driven.
const ModeDefault Mode = "1v1"

// QueueEntry is an agent waiting for a match. Tolerance widens monotonically
// with waiting time.
type QueueEntry struct {
	AgentID    string    `json:"agent_id"`
	Name       string    `json:"name"`
	Mode       Mode      `json:"mode"`
	Preference Faction   `json:"preference"`
	Rating     int       `json:"rating"`
	Tolerance  int       `json:"tolerance"`
	JoinedAt   time.Time `json:"joined_at"`
}

// Participant is one side of a pairing, annotated with the faction the
// matchmaker assigned and a rating snapshot taken at pairing time.
type Participant struct {
	AgentID string  `json:"agent_id"`
	Name    string  `json:"name"`
	Faction Faction `json:"faction"`
	Rating  int     `json:"rating"`
}

// Pairing is an immutable matchmaker product: two participants, a mode, and
// a map.
type Pairing struct {
	Mode      Mode        `json:"mode"`
	Map       string      `json:"map"`
	A         Participant `json:"a"`
	B         Participant `json:"b"`
	CreatedAt time.Time   `json:"created_at"`
}

// Opponent returns the counterparty of agentID within the pairing, and
// whether agentID is a participant at all.
func (p Pairing) Opponent(agentID string) (Participant, bool) {
	switch agentID {
	case p.A.AgentID:
		return p.B, true
	case p.B.AgentID:
		return p.A, true
	}
	return Participant{}, false
}

// Side returns the participant record for agentID.
func (p Pairing) Side(agentID string) (Participant, bool) {
	switch agentID {
	case p.A.AgentID:
		return p.A, true
	case p.B.AgentID:
		return p.B, true
	}
	return Participant{}, false
}

// MatchStatus is the arbiter state-machine state.
type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchConnecting MatchStatus = "connecting"
	MatchRunning    MatchStatus = "running"
	MatchCompleted  MatchStatus = "completed"
	MatchCancelled  MatchStatus = "cancelled"
	MatchError      MatchStatus = "error"
)

// Terminal reports whether s is a terminal state.
func (s MatchStatus) Terminal() bool {
	return s == MatchCompleted || s == MatchCancelled || s == MatchError
}

// MatchRecord is the persisted outcome of a match.
type MatchRecord struct {
	ID           uuid.UUID     `json:"id"`
	Mode         Mode          `json:"mode"`
	Map          string        `json:"map"`
	AgentA       string        `json:"agent_a"`
	AgentB       string        `json:"agent_b"`
	FactionA     Faction       `json:"faction_a"`
	FactionB     Faction       `json:"faction_b"`
	Status       MatchStatus   `json:"status"`
	WinnerID     *string       `json:"winner_id,omitempty"`
	Draw         bool          `json:"draw"`
	Reason       string        `json:"reason"`
	Duration     time.Duration `json:"duration"`
	RatingDeltaA int           `json:"rating_delta_a"`
	RatingDeltaB int           `json:"rating_delta_b"`
	CreatedAt    time.Time     `json:"created_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// QueueOutcome records how a stint in the queue ended, for wait-time
// estimation and matchmaking quality analysis.
type QueueOutcome struct {
	AgentID    string        `json:"agent_id"`
	Mode       Mode          `json:"mode"`
	Waited     time.Duration `json:"waited"`
	Matched    bool          `json:"matched"`
	OpponentID string        `json:"opponent_id,omitempty"`
	RatingDiff int           `json:"rating_diff"`
	CreatedAt  time.Time     `json:"created_at"`
}
