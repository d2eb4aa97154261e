// Package protocol defines the persistent-channel message frames exchanged
// with agents and spectators, and the websocket close codes. Both the
// server (transport) and the arbiter (producer) speak these types.
package protocol

import (
	"github.com/google/uuid"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/orders"
)

// Message type tags.
const (
	// Agent → server.
	TypeIdentify  = "identify"
	TypeOrders    = "orders"
	TypeGetState  = "get_state"
	TypeChat      = "chat"
	TypeSurrender = "surrender"

	// Server → agent / spectator.
	TypeIdentified      = "identified"
	TypeStateUpdate     = "state_update"
	TypeStateResponse   = "state_response"
	TypeOrderViolations = "order_violations"
	TypeGameStart       = "game_start"
	TypeGameEnd         = "game_end"
	TypeMatchCancelled  = "match_cancelled"
	TypeError           = "error"
)

// Violation sources for order_violations frames.
const (
	SourceLimiter   = "apm_limiter"
	SourceValidator = "order_validator"
)

// Close codes. 1000 and 1001 are standard; the 4xxx range is
// application-defined.
const (
	CloseNormal         = 1000 // match ended
	CloseGoingAway      = 1001 // server shutting down
	CloseInternalError  = 1011 // arbiter failure
	CloseInvalidKey     = 4001 // invalid credential
	CloseNotParticipant = 4003 // not a participant in this match
	CloseUnknownMatch   = 4004 // unknown route or match
	CloseSpectatorsFull = 4029 // spectator capacity reached
)

// Inbound is the superset envelope for agent-to-server frames; Type selects
// which fields are meaningful.
type Inbound struct {
	Type    string        `json:"type"`
	AgentID string        `json:"agent_id,omitempty"`
	APIKey  string        `json:"api_key,omitempty"`
	Orders  []model.Order `json:"orders,omitempty"`
	Message string        `json:"message,omitempty"`
}

// MatchSettings is the static match metadata shared on handshake.
type MatchSettings struct {
	Mode        model.Mode `json:"mode"`
	RateProfile string     `json:"rate_profile"`
}

// Identified acknowledges a successful identify.
type Identified struct {
	Type     string            `json:"type"`
	MatchID  uuid.UUID         `json:"match_id"`
	Map      string            `json:"map"`
	Faction  model.Faction     `json:"faction"`
	Opponent model.Participant `json:"opponent"`
	Settings MatchSettings     `json:"settings"`
}

// StateUpdate carries a fog-filtered view, one per simulator tick.
type StateUpdate struct {
	Type  string         `json:"type"`
	State *model.FogView `json:"state"`
}

// SpectatorState carries the full authoritative state to spectators.
type SpectatorState struct {
	Type  string           `json:"type"`
	State *model.GameState `json:"state"`
}

// StateResponse replies to get_state.
type StateResponse struct {
	Type  string         `json:"type"`
	State *model.FogView `json:"state"`
}

// OrderViolations reports per-batch rejections back to the agent.
type OrderViolations struct {
	Type       string             `json:"type"`
	Source     string             `json:"source"`
	Violations []orders.Violation `json:"violations"`
}

// Chat is a broadcast chat frame.
type Chat struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// GameStart announces the transition to running.
type GameStart struct {
	Type     string        `json:"type"`
	Map      string        `json:"map"`
	Settings MatchSettings `json:"settings"`
}

// GameEnd carries the personalized outcome to one participant.
type GameEnd struct {
	Type        string `json:"type"`
	Result      string `json:"result"` // "win", "loss", "draw"
	Reason      string `json:"reason"`
	DurationMS  int64  `json:"duration_ms"`
	RatingDelta int    `json:"rating_delta"`
}

// MatchCancelled announces cancellation before or during connection.
type MatchCancelled struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Error is a generic error frame for protocol misuse that does not warrant
// a close.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
