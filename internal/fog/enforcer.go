// Package fog projects authoritative game state into per-viewer restricted
// views and maintains server-side last-seen memory of enemy actors.
//
// The enforcer is a pure data transformer: it never closes channels or
// touches the network. The only error it can signal is an unknown viewer,
// which indicates an arbiter identity-binding bug rather than a runtime
// condition.
package fog

import (
	"errors"
	"sort"
	"sync"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// ErrUnknownViewer is returned when the viewer is not a participant in the
// supplied state.
var ErrUnknownViewer = errors.New("fog: unknown viewer")

// MaxFrozenActors bounds the frozen list per viewer. Long matches with heavy
// churn would otherwise grow last-seen memory without limit; the most recent
// sightings win.
const MaxFrozenActors = 200

// Enforcer holds per-viewer frozen-actor memory for one match. Safe for
// concurrent use by the match's tasks.
type Enforcer struct {
	mu sync.Mutex
	// viewer -> enemy actor ID -> last-seen snapshot
	memory map[string]map[int]model.FrozenActor
}

// New creates an Enforcer with empty memory.
func New() *Enforcer {
	return &Enforcer{memory: make(map[string]map[int]model.FrozenActor)}
}

// FilterFor produces viewerID's fog-filtered view of state and updates the
// viewer's last-seen memory with everything currently visible.
func (e *Enforcer) FilterFor(state *model.GameState, viewerID string) (*model.FogView, error) {
	player := state.Player(viewerID)
	if player == nil {
		return nil, ErrUnknownViewer
	}

	visible := model.CellSet(player.Visible)

	view := &model.FogView{
		Tick:           state.Tick,
		AgentID:        viewerID,
		Map:            state.Map,
		Credits:        player.Credits,
		PowerGenerated: player.PowerGenerated,
		PowerConsumed:  player.PowerConsumed,
		Visible:        player.Visible,
		Explored:       player.Explored,
	}
	if total := state.Map.Width * state.Map.Height; total > 0 {
		view.ExplorationPct = float64(len(player.Explored)) / float64(total)
	}

	// Actors currently visible to the viewer this tick; used below to decide
	// which memory entries surface as frozen.
	seen := make(map[int]model.FrozenActor)

	for _, u := range state.Units {
		if u.Owner == viewerID {
			view.Units = append(view.Units, u)
			continue
		}
		if _, ok := visible[u.Pos]; !ok {
			continue
		}
		bucket := model.BucketHealth(u.Health, u.MaxHealth)
		view.EnemyUnits = append(view.EnemyUnits, model.EnemyUnit{
			ID: u.ID, Type: u.Type, Owner: u.Owner, Pos: u.Pos, HealthPct: bucket,
		})
		seen[u.ID] = model.FrozenActor{
			ID: u.ID, Kind: model.ActorUnit, Type: u.Type, Owner: u.Owner,
			Pos: u.Pos, HealthPct: bucket, LastSeenTick: state.Tick,
		}
	}

	for _, s := range state.Structures {
		if s.Owner == viewerID {
			view.Structures = append(view.Structures, s)
			continue
		}
		if _, ok := visible[s.Pos]; !ok {
			continue
		}
		bucket := model.BucketHealth(s.Health, s.MaxHealth)
		// Production queues are stripped from enemy structures.
		view.EnemyStructures = append(view.EnemyStructures, model.EnemyStructure{
			ID: s.ID, Type: s.Type, Owner: s.Owner, Pos: s.Pos, HealthPct: bucket,
		})
		seen[s.ID] = model.FrozenActor{
			ID: s.ID, Kind: model.ActorStructure, Type: s.Type, Owner: s.Owner,
			Pos: s.Pos, HealthPct: bucket, LastSeenTick: state.Tick,
		}
	}

	e.mu.Lock()
	mem := e.memory[viewerID]
	if mem == nil {
		mem = make(map[int]model.FrozenActor)
		e.memory[viewerID] = mem
	}

	// Frozen actors: remembered enemies not visible right now.
	for id, snap := range mem {
		if _, visibleNow := seen[id]; !visibleNow {
			view.FrozenActors = append(view.FrozenActors, snap)
		}
	}

	// Record this tick's sightings after computing the frozen list, so an
	// actor never appears frozen on the tick it is first seen.
	for id, snap := range seen {
		mem[id] = snap
	}
	trimMemory(mem)
	e.mu.Unlock()

	sort.Slice(view.FrozenActors, func(i, j int) bool {
		if view.FrozenActors[i].LastSeenTick != view.FrozenActors[j].LastSeenTick {
			return view.FrozenActors[i].LastSeenTick > view.FrozenActors[j].LastSeenTick
		}
		return view.FrozenActors[i].ID < view.FrozenActors[j].ID
	})
	if len(view.FrozenActors) > MaxFrozenActors {
		view.FrozenActors = view.FrozenActors[:MaxFrozenActors]
	}

	return view, nil
}

// Release drops a viewer's memory. Called by the match on completion.
func (e *Enforcer) Release(viewerID string) {
	e.mu.Lock()
	delete(e.memory, viewerID)
	e.mu.Unlock()
}

// trimMemory evicts the oldest sightings once memory exceeds the frozen
// bound, keeping the MaxFrozenActors most recent.
func trimMemory(mem map[int]model.FrozenActor) {
	if len(mem) <= MaxFrozenActors {
		return
	}
	snaps := make([]model.FrozenActor, 0, len(mem))
	for _, s := range mem {
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].LastSeenTick < snaps[j].LastSeenTick })
	for _, s := range snaps[:len(mem)-MaxFrozenActors] {
		delete(mem, s.ID)
	}
}
