package fog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jediswimmer/ironcurtain-sub000/internal/fog"
	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

const (
	viewer = "alpha"
	enemy  = "bravo"
)

// twoPlayerState builds the scenario state: own unit at (10,10), own
// structure at (8,8), enemy units at (50,50) and (80,80). The viewer sees
// {(10,10),(11,10),(50,50),(51,50)}.
func twoPlayerState(tick int64) *model.GameState {
	return &model.GameState{
		Tick: tick,
		Map:  model.MapInfo{Name: "ore-gardens", Width: 100, Height: 100},
		Players: []model.PlayerState{
			{
				AgentID: viewer,
				Credits: 5000, PowerGenerated: 100, PowerConsumed: 40,
				Visible: []model.Cell{{X: 10, Y: 10}, {X: 11, Y: 10}, {X: 50, Y: 50}, {X: 51, Y: 50}},
				Explored: []model.Cell{
					{X: 10, Y: 10}, {X: 11, Y: 10}, {X: 50, Y: 50}, {X: 51, Y: 50}, {X: 8, Y: 8},
				},
			},
			{
				AgentID: enemy,
				Credits: 9999,
				Visible: []model.Cell{{X: 50, Y: 50}, {X: 80, Y: 80}},
			},
		},
		Units: []model.Unit{
			{ID: 1, Type: "rifle", Owner: viewer, Pos: model.Cell{X: 10, Y: 10}, Health: 50, MaxHealth: 100},
			{ID: 2, Type: "tank", Owner: enemy, Pos: model.Cell{X: 50, Y: 50}, Health: 30, MaxHealth: 100},
			{ID: 3, Type: "tank", Owner: enemy, Pos: model.Cell{X: 80, Y: 80}, Health: 100, MaxHealth: 100},
		},
		Structures: []model.Structure{
			{
				ID: 10, Type: "barracks", Owner: viewer, Pos: model.Cell{X: 8, Y: 8},
				Health: 400, MaxHealth: 400,
				Production: []model.ProductionItem{{Type: "rifle", Progress: 0.5}},
			},
		},
	}
}

func TestFilterForUnknownViewer(t *testing.T) {
	e := fog.New()
	_, err := e.FilterFor(twoPlayerState(1), "nobody")
	assert.ErrorIs(t, err, fog.ErrUnknownViewer)
}

func TestFilterForOwnSideVerbatim(t *testing.T) {
	e := fog.New()
	view, err := e.FilterFor(twoPlayerState(1), viewer)
	require.NoError(t, err)

	require.Len(t, view.Units, 1)
	assert.Equal(t, 1, view.Units[0].ID)
	assert.Equal(t, 50, view.Units[0].Health, "own health is exact")

	require.Len(t, view.Structures, 1)
	assert.Equal(t, 10, view.Structures[0].ID)
	assert.NotEmpty(t, view.Structures[0].Production, "own production queue kept")

	assert.Equal(t, 5000, view.Credits)
	assert.Equal(t, 100, view.PowerGenerated)
	assert.InDelta(t, 5.0/10000.0, view.ExplorationPct, 1e-9)
}

func TestFilterForEnemyProjection(t *testing.T) {
	e := fog.New()
	view, err := e.FilterFor(twoPlayerState(1), viewer)
	require.NoError(t, err)

	require.Len(t, view.EnemyUnits, 1, "only the enemy inside the visible set")
	assert.Equal(t, 2, view.EnemyUnits[0].ID)
	assert.Equal(t, 50, view.EnemyUnits[0].HealthPct, "30/100 buckets to 50")
	assert.Empty(t, view.EnemyStructures)
	assert.Empty(t, view.FrozenActors, "no frozen actors on first tick")
}

func TestFilterForFrozenActorMemory(t *testing.T) {
	e := fog.New()
	_, err := e.FilterFor(twoPlayerState(1), viewer)
	require.NoError(t, err)

	// Second tick: the seen enemy moved out of sight.
	next := twoPlayerState(2)
	next.Units[1].Pos = model.Cell{X: 60, Y: 60}

	view, err := e.FilterFor(next, viewer)
	require.NoError(t, err)

	assert.Empty(t, view.EnemyUnits)
	require.Len(t, view.FrozenActors, 1)
	frozen := view.FrozenActors[0]
	assert.Equal(t, 2, frozen.ID)
	assert.Equal(t, model.Cell{X: 50, Y: 50}, frozen.Pos, "last-seen position retained")
	assert.Equal(t, int64(1), frozen.LastSeenTick)
	assert.Equal(t, model.ActorUnit, frozen.Kind)
}

func TestFilterForReacquiredActorLeavesFrozenList(t *testing.T) {
	e := fog.New()
	_, err := e.FilterFor(twoPlayerState(1), viewer)
	require.NoError(t, err)

	out := twoPlayerState(2)
	out.Units[1].Pos = model.Cell{X: 60, Y: 60}
	_, err = e.FilterFor(out, viewer)
	require.NoError(t, err)

	// Third tick: back in sight at a new visible cell.
	back := twoPlayerState(3)
	back.Units[1].Pos = model.Cell{X: 51, Y: 50}
	view, err := e.FilterFor(back, viewer)
	require.NoError(t, err)

	require.Len(t, view.EnemyUnits, 1)
	assert.Empty(t, view.FrozenActors, "visible actors are never frozen")
}

// Frozen-actor honesty: every frozen identifier was visible in some earlier
// tick and is absent from the current visible-enemy set.
func TestFrozenActorHonesty(t *testing.T) {
	e := fog.New()
	everVisible := map[int]bool{}

	for tick := int64(1); tick <= 5; tick++ {
		st := twoPlayerState(tick)
		if tick >= 3 {
			st.Units[1].Pos = model.Cell{X: 60, Y: 60} // out of sight from tick 3
		}
		view, err := e.FilterFor(st, viewer)
		require.NoError(t, err)

		nowVisible := map[int]bool{}
		for _, u := range view.EnemyUnits {
			nowVisible[u.ID] = true
		}
		for _, f := range view.FrozenActors {
			assert.True(t, everVisible[f.ID], "frozen id %d was seen before", f.ID)
			assert.False(t, nowVisible[f.ID], "frozen id %d is not currently visible", f.ID)
		}
		for id := range nowVisible {
			everVisible[id] = true
		}
	}
}

// Fog information-hiding: no enemy actor outside the visible set, no enemy
// production queues, no exact enemy health.
func TestInformationHiding(t *testing.T) {
	st := twoPlayerState(1)
	st.Structures = append(st.Structures, model.Structure{
		ID: 20, Type: "war-factory", Owner: enemy, Pos: model.Cell{X: 51, Y: 50},
		Health: 123, MaxHealth: 500,
		Production: []model.ProductionItem{{Type: "tank", Progress: 0.9}},
	})

	e := fog.New()
	view, err := e.FilterFor(st, viewer)
	require.NoError(t, err)

	visible := model.CellSet(st.Players[0].Visible)
	for _, u := range view.EnemyUnits {
		_, ok := visible[u.Pos]
		assert.True(t, ok, "enemy unit %d leaked from outside visible set", u.ID)
	}
	require.Len(t, view.EnemyStructures, 1)
	es := view.EnemyStructures[0]
	assert.Equal(t, 25, es.HealthPct, "123/500 buckets to 25")
}

func TestReleaseDropsMemory(t *testing.T) {
	e := fog.New()
	_, err := e.FilterFor(twoPlayerState(1), viewer)
	require.NoError(t, err)

	e.Release(viewer)

	next := twoPlayerState(2)
	next.Units[1].Pos = model.Cell{X: 60, Y: 60}
	view, err := e.FilterFor(next, viewer)
	require.NoError(t, err)
	assert.Empty(t, view.FrozenActors, "released memory holds no sightings")
}

func TestFrozenListBounded(t *testing.T) {
	st := &model.GameState{
		Tick: 1,
		Map:  model.MapInfo{Width: 1000, Height: 1000},
		Players: []model.PlayerState{
			{AgentID: viewer},
			{AgentID: enemy},
		},
	}
	// First tick: viewer sees 250 enemy units.
	for i := 0; i < 250; i++ {
		pos := model.Cell{X: i, Y: 0}
		st.Players[0].Visible = append(st.Players[0].Visible, pos)
		st.Units = append(st.Units, model.Unit{
			ID: 1000 + i, Type: "tank", Owner: enemy, Pos: pos, Health: 100, MaxHealth: 100,
		})
	}

	e := fog.New()
	_, err := e.FilterFor(st, viewer)
	require.NoError(t, err)

	// Second tick: nothing visible.
	blind := &model.GameState{
		Tick:    2,
		Map:     st.Map,
		Players: []model.PlayerState{{AgentID: viewer}, {AgentID: enemy}},
		Units:   st.Units,
	}
	view, err := e.FilterFor(blind, viewer)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(view.FrozenActors), fog.MaxFrozenActors)
}
