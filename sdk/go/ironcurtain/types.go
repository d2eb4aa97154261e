package ironcurtain

import (
	"time"

	"github.com/google/uuid"
)

// Faction identifies one of the two playable sides, or "any" as a queue
// preference.
type Faction string

const (
	FactionA   Faction = "faction_a"
	FactionB   Faction = "faction_b"
	FactionAny Faction = "any"
)

// OrderType tags the variant of an Order.
type OrderType string

const (
	OrderMove       OrderType = "move"
	OrderAttack     OrderType = "attack"
	OrderAttackMove OrderType = "attack_move"
	OrderDeploy     OrderType = "deploy"
	OrderBuild      OrderType = "build"
	OrderTrain      OrderType = "train"
	OrderSell       OrderType = "sell"
	OrderRepair     OrderType = "repair"
	OrderSetRally   OrderType = "set_rally"
	OrderStop       OrderType = "stop"
	OrderScatter    OrderType = "scatter"
	OrderGuard      OrderType = "guard"
	OrderPatrol     OrderType = "patrol"
	OrderUsePower   OrderType = "use_power"
)

// Order is a single action request. Which optional fields are required
// depends on Type; the server rejects malformed orders with an
// order_violations frame rather than a hard error.
type Order struct {
	Type       OrderType `json:"type"`
	UnitIDs    []int     `json:"unit_ids,omitempty"`
	BuildingID *int      `json:"building_id,omitempty"`
	Target     []int     `json:"target,omitempty"`
	TargetID   *int      `json:"target_id,omitempty"`
	BuildType  string    `json:"build_type,omitempty"`
	Count      *int      `json:"count,omitempty"`
	PowerType  string    `json:"power_type,omitempty"`
}

// Agent is a registered competitor's public record.
type Agent struct {
	ID             uuid.UUID `json:"id"`
	AgentID        string    `json:"agent_id"`
	Name           string    `json:"name"`
	Rating         int       `json:"rating"`
	PeakRating     int       `json:"peak_rating"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	Draws          int       `json:"draws"`
	GamesPlayed    int       `json:"games_played"`
	Streak         int       `json:"streak"`
	FactionHistory []Faction `json:"faction_history"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// MatchRecord is the outcome of a match, live or persisted.
type MatchRecord struct {
	ID           uuid.UUID  `json:"id"`
	Mode         string     `json:"mode"`
	Map          string     `json:"map"`
	AgentA       string     `json:"agent_a"`
	AgentB       string     `json:"agent_b"`
	FactionA     Faction    `json:"faction_a"`
	FactionB     Faction    `json:"faction_b"`
	Status       string     `json:"status"`
	WinnerID     *string    `json:"winner_id,omitempty"`
	Draw         bool       `json:"draw"`
	Reason       string     `json:"reason"`
	RatingDeltaA int        `json:"rating_delta_a"`
	RatingDeltaB int        `json:"rating_delta_b"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// QueueStatus describes the caller's queue membership. Once the matchmaker
// has produced a pairing, MatchID is set instead of the queue fields.
type QueueStatus struct {
	Queued      bool   `json:"queued"`
	Mode        string `json:"mode,omitempty"`
	Position    int    `json:"position,omitempty"`
	WaitedMS    int64  `json:"waited_ms,omitempty"`
	MatchID     string `json:"match_id,omitempty"`
	MatchStatus string `json:"match_status,omitempty"`
}

// ModeStatus is one mode's entry in the global queue status.
type ModeStatus struct {
	Mode          string `json:"mode"`
	Depth         int    `json:"depth"`
	EstimatedWait int64  `json:"estimated_wait_ms"`
}

// RegisterResponse returns the freshly minted credential. The plaintext API
// key is shown exactly once.
type RegisterResponse struct {
	Agent  Agent  `json:"agent"`
	APIKey string `json:"api_key"`
}
