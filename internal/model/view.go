package model

// BucketHealth maps an exact health fraction to a coarse percentage bucket
// (25, 50, 75, 100). Exact enemy health is never exposed: it leaks damage
// information otherwise derivable only by sustained observation.
func BucketHealth(health, maxHealth int) int {
	if maxHealth <= 0 {
		return 0
	}
	pct := health * 100 / maxHealth
	switch {
	case pct <= 25:
		return 25
	case pct <= 50:
		return 50
	case pct <= 75:
		return 75
	default:
		return 100
	}
}

// EnemyUnit is a fog-projected enemy unit: position and type are exact,
// health is bucketed, the idle flag is withheld.
type EnemyUnit struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	Owner     string `json:"owner"`
	Pos       Cell   `json:"pos"`
	HealthPct int    `json:"health_pct"`
}

// EnemyStructure is a fog-projected enemy structure. The production queue is
// always elided: it is a strategic tell.
type EnemyStructure struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	Owner     string `json:"owner"`
	Pos       Cell   `json:"pos"`
	HealthPct int    `json:"health_pct"`
}

// ActorKind distinguishes frozen units from frozen structures.
type ActorKind string

const (
	ActorUnit      ActorKind = "unit"
	ActorStructure ActorKind = "structure"
)

// FrozenActor is the server-maintained last-seen snapshot of an enemy actor
// that was visible in an earlier tick but no longer is.
type FrozenActor struct {
	ID           int       `json:"id"`
	Kind         ActorKind `json:"kind"`
	Type         string    `json:"type"`
	Owner        string    `json:"owner"`
	Pos          Cell      `json:"pos"`
	HealthPct    int       `json:"health_pct"`
	LastSeenTick int64     `json:"last_seen_tick"`
}

// FogView is the per-agent, per-tick projection of the authoritative state.
// Own-side information is verbatim; the enemy side contains only what the
// viewer's visible set covers.
type FogView struct {
	Tick    int64   `json:"tick"`
	AgentID string  `json:"agent_id"`
	Map     MapInfo `json:"map"`

	Credits        int         `json:"credits"`
	PowerGenerated int         `json:"power_generated"`
	PowerConsumed  int         `json:"power_consumed"`
	Units          []Unit      `json:"units"`
	Structures     []Structure `json:"structures"`
	Visible        []Cell      `json:"visible"`
	Explored       []Cell      `json:"explored"`
	ExplorationPct float64     `json:"exploration_pct"`

	EnemyUnits      []EnemyUnit      `json:"enemy_units"`
	EnemyStructures []EnemyStructure `json:"enemy_structures"`
	FrozenActors    []FrozenActor    `json:"frozen_actors"`
}

// OwnsUnit reports whether id is among the viewer's own units.
func (v *FogView) OwnsUnit(id int) bool {
	for i := range v.Units {
		if v.Units[i].ID == id {
			return true
		}
	}
	return false
}

// OwnsStructure reports whether id is among the viewer's own structures.
func (v *FogView) OwnsStructure(id int) bool {
	for i := range v.Structures {
		if v.Structures[i].ID == id {
			return true
		}
	}
	return false
}

// SeesEnemy reports whether id is a currently visible enemy unit or structure.
func (v *FogView) SeesEnemy(id int) bool {
	for i := range v.EnemyUnits {
		if v.EnemyUnits[i].ID == id {
			return true
		}
	}
	for i := range v.EnemyStructures {
		if v.EnemyStructures[i].ID == id {
			return true
		}
	}
	return false
}
