package matchmaker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

type fakeNotifier struct {
	found    []model.Pairing
	timeouts []model.QueueEntry
}

func (f *fakeNotifier) MatchFound(p model.Pairing)      { f.found = append(f.found, p) }
func (f *fakeNotifier) QueueTimeout(e model.QueueEntry) { f.timeouts = append(f.timeouts, e) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestMatchmaker returns a matchmaker with a controllable clock and a
// deterministic picker (always index 0).
func newTestMatchmaker(cfg Config) (*Matchmaker, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := New(cfg, nil, nil, testLogger())
	m.now = func() time.Time { return now }
	m.pick = func(int) int { return 0 }
	return m, &now
}

func entry(id string, rating int) model.QueueEntry {
	return model.QueueEntry{
		AgentID: id, Name: id, Mode: model.ModeDefault,
		Preference: model.FactionAny, Rating: rating,
	}
}

func TestJoinRejectsDuplicates(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, entry("a", 1200)))
	err := m.Join(ctx, entry("a", 1200))
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	// Also across modes.
	e := entry("a", 1200)
	e.Mode = "ffa"
	assert.ErrorIs(t, m.Join(ctx, e), ErrAlreadyQueued)
}

func TestLeave(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, entry("a", 1200)))
	assert.True(t, m.Leave("a"))
	assert.False(t, m.Leave("a"))

	// After leaving, re-join succeeds.
	assert.NoError(t, m.Join(ctx, entry("a", 1200)))
}

func TestStatus(t *testing.T) {
	m, now := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, entry("a", 1200)))
	require.NoError(t, m.Join(ctx, entry("b", 1200)))
	*now = now.Add(45 * time.Second)

	st, ok := m.Status("b")
	require.True(t, ok)
	assert.Equal(t, 2, st.Position)
	assert.Equal(t, model.ModeDefault, st.Mode)
	assert.Equal(t, int64(45000), st.WaitedMS)

	_, ok = m.Status("ghost")
	assert.False(t, ok)
}

func TestTickPairsCompatibleRatings(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, entry("a", 1200)))
	require.NoError(t, m.Join(ctx, entry("b", 1350)))

	pairings := m.Tick(ctx)
	require.Len(t, pairings, 1)
	p := pairings[0]
	assert.Equal(t, "a", p.A.AgentID, "oldest entry is side A")
	assert.Equal(t, "b", p.B.AgentID)
	assert.NotEqual(t, p.A.Faction, p.B.Faction)
	assert.Equal(t, "ore-gardens", p.Map)

	// Matched entries leave the queue.
	_, ok := m.Status("a")
	assert.False(t, ok)
}

// Every emitted pairing satisfies |R_A - R_B| <= max(tol_A, tol_B).
func TestPairingRatingCompatibility(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	ratings := []int{900, 1050, 1300, 1700, 1720, 2400}
	for i, r := range ratings {
		require.NoError(t, m.Join(ctx, entry(string(rune('a'+i)), r)))
	}

	for _, p := range m.Tick(ctx) {
		diff := p.A.Rating - p.B.Rating
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, m.cfg.InitialTolerance,
			"fresh entries pair within the initial tolerance")
	}
}

func TestToleranceWidensMonotonically(t *testing.T) {
	m, now := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, entry("lonely", 1200)))

	prev := 0
	for i := 0; i < 8; i++ {
		m.Tick(ctx)
		st := m.queues[model.ModeDefault]
		require.Len(t, st, 1)
		tol := st[0].Tolerance
		assert.GreaterOrEqual(t, tol, prev, "tolerance never shrinks")
		assert.LessOrEqual(t, tol, m.cfg.MaxTolerance)
		prev = tol
		*now = now.Add(30 * time.Second)
	}
	assert.Equal(t, m.cfg.MaxTolerance, prev, "tolerance saturates at the cap")
}

// Ratings 800 and 2000: the gap exceeds the tolerance cap, so no pairing
// ever forms and both entries eventually time out.
func TestIncompatiblePairTimesOut(t *testing.T) {
	m, now := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	low := &fakeNotifier{}
	m.Subscribe("low", low)
	require.NoError(t, m.Join(ctx, entry("low", 800)))
	require.NoError(t, m.Join(ctx, entry("high", 2000)))

	for i := 0; i < 12; i++ {
		pairings := m.Tick(ctx)
		assert.Empty(t, pairings, "gap 1200 > max tolerance 500")
		*now = now.Add(30 * time.Second)
	}

	// Past the 5-minute timeout both are evicted.
	require.Len(t, low.timeouts, 1)
	assert.Equal(t, "low", low.timeouts[0].AgentID)
	_, ok := m.Status("high")
	assert.False(t, ok)
}

func TestTickNotifiesMatchFound(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	na, nb := &fakeNotifier{}, &fakeNotifier{}
	m.Subscribe("a", na)
	m.Subscribe("b", nb)
	require.NoError(t, m.Join(ctx, entry("a", 1200)))
	require.NoError(t, m.Join(ctx, entry("b", 1250)))

	m.Tick(ctx)
	require.Len(t, na.found, 1)
	require.Len(t, nb.found, 1)
	assert.Equal(t, na.found[0], nb.found[0])
}

func TestQueueUniquenessAfterOperations(t *testing.T) {
	m, now := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		require.NoError(t, m.Join(ctx, entry(id, 1000+i*100)))
	}
	m.Leave("c")
	m.Tick(ctx)
	*now = now.Add(time.Minute)
	_ = m.Join(ctx, entry("a", 1000)) // may or may not be queued still
	m.Tick(ctx)

	seen := map[string]int{}
	for _, q := range m.queues {
		for _, e := range q {
			seen[e.AgentID]++
		}
	}
	for id, n := range seen {
		assert.Equal(t, 1, n, "agent %s appears once", id)
	}
}

func TestFactionAssignmentPreferences(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())

	mk := func(id string, pref model.Faction) *model.QueueEntry {
		e := entry(id, 1200)
		e.Preference = pref
		return &e
	}

	// Both concrete and different.
	fa, fb := m.assignFactionsLocked(mk("a", model.FactionA), mk("b", model.FactionB))
	assert.Equal(t, model.FactionA, fa)
	assert.Equal(t, model.FactionB, fb)

	// Exactly one concrete.
	fa, fb = m.assignFactionsLocked(mk("a", model.FactionAny), mk("b", model.FactionB))
	assert.Equal(t, model.FactionA, fa)
	assert.Equal(t, model.FactionB, fb)

	fa, fb = m.assignFactionsLocked(mk("a", model.FactionB), mk("b", model.FactionAny))
	assert.Equal(t, model.FactionB, fa)
	assert.Equal(t, model.FactionA, fb)
}

func TestFactionRotationOnRepeats(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())

	// Three identical recent factions force the complement.
	m.history["a"] = []model.Faction{model.FactionA, model.FactionA, model.FactionA}
	a, b := &model.QueueEntry{AgentID: "a", Preference: model.FactionAny},
		&model.QueueEntry{AgentID: "b", Preference: model.FactionAny}
	fa, fb := m.assignFactionsLocked(a, b)
	assert.Equal(t, model.FactionB, fa)
	assert.Equal(t, model.FactionA, fb)

	// Otherwise the less-represented side wins.
	m.history["a"] = []model.Faction{model.FactionA, model.FactionB, model.FactionA}
	fa, _ = m.assignFactionsLocked(a, b)
	assert.Equal(t, model.FactionB, fa)
}

func TestRecordFactionFeedsRotation(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordFaction(ctx, "a", model.FactionB)
	}
	a, b := &model.QueueEntry{AgentID: "a", Preference: model.FactionAny},
		&model.QueueEntry{AgentID: "b", Preference: model.FactionAny}
	fa, _ := m.assignFactionsLocked(a, b)
	assert.Equal(t, model.FactionA, fa)
	_ = b
}

// reentrantStore dials back into the matchmaker on every call. If the queue
// lock were held across persistence, any of these calls would deadlock.
type reentrantStore struct {
	m *Matchmaker

	mu       sync.Mutex
	outcomes []model.QueueOutcome
	ctxs     []context.Context
}

func (s *reentrantStore) FactionHistory(_ context.Context, agentID string) ([]model.Faction, error) {
	s.m.Status(agentID)
	return nil, nil
}

func (s *reentrantStore) AppendFaction(_ context.Context, agentID string, _ model.Faction) error {
	s.m.Status(agentID)
	return nil
}

func (s *reentrantStore) InsertQueueOutcome(ctx context.Context, out model.QueueOutcome) error {
	s.m.Status(out.AgentID)
	s.mu.Lock()
	s.outcomes = append(s.outcomes, out)
	s.ctxs = append(s.ctxs, ctx)
	s.mu.Unlock()
	return nil
}

type tickCtxKey struct{}

func TestStoreCallsRunOutsideQueueLock(t *testing.T) {
	store := &reentrantStore{}
	m := New(DefaultConfig(), store, nil, testLogger())
	store.m = m
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	m.pick = func(int) int { return 0 }

	tickCtx := context.WithValue(context.Background(), tickCtxKey{}, "tick")

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.Background()
		assert.NoError(t, m.Join(ctx, entry("a", 1200)))
		assert.NoError(t, m.Join(ctx, entry("b", 1250)))
		m.Tick(tickCtx)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("a store call deadlocked against the queue lock")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.outcomes, 2)
	for _, out := range store.outcomes {
		assert.True(t, out.Matched)
	}
	// Outcomes carry the tick's context, not a detached one.
	for _, ctx := range store.ctxs {
		assert.Equal(t, "tick", ctx.Value(tickCtxKey{}))
	}
}

func TestGlobalStatusFallbackHeuristic(t *testing.T) {
	m, _ := newTestMatchmaker(DefaultConfig())
	ctx := context.Background()

	require.NoError(t, m.Join(ctx, entry("a", 1200)))
	require.NoError(t, m.Join(ctx, entry("b", 3000)))

	st := m.GlobalStatus(ctx)
	require.Len(t, st, 1)
	assert.Equal(t, model.ModeDefault, st[0].Mode)
	assert.Equal(t, 2, st[0].Depth)
	assert.Equal(t, (2 * 30 * time.Second).Milliseconds(), st[0].EstimatedWait)
}
