package model

// Cell is an integer map coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// CellSet builds a membership set from a cell list.
func CellSet(cells []Cell) map[Cell]struct{} {
	set := make(map[Cell]struct{}, len(cells))
	for _, c := range cells {
		set[c] = struct{}{}
	}
	return set
}

// Unit is a mobile actor in the authoritative state.
type Unit struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	Owner     string `json:"owner"`
	Pos       Cell   `json:"pos"`
	Health    int    `json:"health"`
	MaxHealth int    `json:"max_health"`
	Idle      bool   `json:"idle"`
}

// ProductionItem is one slot of a structure's build queue.
type ProductionItem struct {
	Type     string  `json:"type"`
	Progress float64 `json:"progress"`
}

// Structure is a static actor in the authoritative state. Production is the
// build queue, present only when something is being produced.
type Structure struct {
	ID         int              `json:"id"`
	Type       string           `json:"type"`
	Owner      string           `json:"owner"`
	Pos        Cell             `json:"pos"`
	Health     int              `json:"health"`
	MaxHealth  int              `json:"max_health"`
	Production []ProductionItem `json:"production,omitempty"`
}

// ResourceDeposit marks a harvestable patch on the map.
type ResourceDeposit struct {
	Center Cell   `json:"center"`
	Type   string `json:"type"`
}

// PlayerState is the per-participant slice of the authoritative state.
type PlayerState struct {
	AgentID        string `json:"agent_id"`
	Credits        int    `json:"credits"`
	PowerGenerated int    `json:"power_generated"`
	PowerConsumed  int    `json:"power_consumed"`
	Visible        []Cell `json:"visible"`
	Explored       []Cell `json:"explored"`
}

// MapInfo describes the battlefield.
type MapInfo struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// GameState is one tick of unredacted simulator output. The arbiter never
// forwards it to a participant without fog filtering; spectators receive it
// verbatim.
type GameState struct {
	Tick       int64             `json:"tick"`
	Players    []PlayerState     `json:"players"`
	Units      []Unit            `json:"units"`
	Structures []Structure       `json:"structures"`
	Resources  []ResourceDeposit `json:"resources"`
	Map        MapInfo           `json:"map"`
}

// Player returns the participant record for agentID, or nil if the agent is
// not a participant in this state.
func (s *GameState) Player(agentID string) *PlayerState {
	for i := range s.Players {
		if s.Players[i].AgentID == agentID {
			return &s.Players[i]
		}
	}
	return nil
}
