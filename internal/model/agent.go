// Package model defines the shared domain types for the Iron Curtain
// arbitration server: agent records, queue entries, pairings, matches,
// authoritative game state, fog-filtered views, and orders.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Faction identifies one of the two playable sides, or "any" as a queue preference.
type Faction string

const (
	FactionA   Faction = "faction_a"
	FactionB   Faction = "faction_b"
	FactionAny Faction = "any"
)

// Concrete reports whether f names an actual side rather than a preference.
func (f Faction) Concrete() bool {
	return f == FactionA || f == FactionB
}

// Opposite returns the complement side. Only meaningful for concrete factions.
func (f Faction) Opposite() Faction {
	if f == FactionA {
		return FactionB
	}
	return FactionA
}

// FactionHistorySize bounds the per-agent ring of recently played factions.
const FactionHistorySize = 10

// DefaultRating is the rating assigned to a freshly registered agent.
const DefaultRating = 1200

// Agent is the durable identity of a competing AI. Counters mutate only on
// match completion.
type Agent struct {
	ID             uuid.UUID `json:"id"`
	AgentID        string    `json:"agent_id"`
	Name           string    `json:"name"`
	APIKeyHash     string    `json:"-"`
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

// AppendFaction pushes f onto the agent's faction-history ring, evicting the
// oldest entry once the ring holds FactionHistorySize factions.
func (a *Agent) AppendFaction(f Faction) {
	a.FactionHistory = append(a.FactionHistory, f)
	if len(a.FactionHistory) > FactionHistorySize {
		a.FactionHistory = a.FactionHistory[len(a.FactionHistory)-FactionHistorySize:]
	}
}

// ValidateAgentID checks that an agent ID conforms to the allowed format.
// Agent IDs must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("agent_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("agent_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
