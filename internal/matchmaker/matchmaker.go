// Package matchmaker maintains per-mode queues and emits rating-compatible
// pairings on a periodic tick. Rating tolerance widens with waiting time;
// entries that outwait the queue timeout are evicted and notified.
package matchmaker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// ErrAlreadyQueued is returned when an agent joins while present in any queue.
var ErrAlreadyQueued = errors.New("matchmaker: agent already queued")

// Notifier receives queue lifecycle events for one agent. Implementations
// must not block; the matchmaker calls them inline during the tick.
type Notifier interface {
	MatchFound(pairing model.Pairing)
	QueueTimeout(entry model.QueueEntry)
}

// Store persists faction history and queue outcomes. The matchmaker touches
// persistence for nothing else; rating mutation belongs to the arbiter.
type Store interface {
	FactionHistory(ctx context.Context, agentID string) ([]model.Faction, error)
	AppendFaction(ctx context.Context, agentID string, faction model.Faction) error
	InsertQueueOutcome(ctx context.Context, outcome model.QueueOutcome) error
}

// WaitOracle estimates queue wait per mode from historical data. The second
// return is false when no estimate is available.
type WaitOracle interface {
	EstimateWait(ctx context.Context, mode model.Mode) (time.Duration, bool)
}

// Config holds the matchmaking policy knobs.
type Config struct {
	QueueTimeout     time.Duration // eviction threshold; default 5 m
	InitialTolerance int           // rating tolerance at join; default 200
	WidenStep        int           // tolerance added per interval; default 50
	WidenInterval    time.Duration // widening cadence; default 30 s
	MaxTolerance     int           // tolerance ceiling; default 500
	MapPool          []string
}

// DefaultConfig returns the ladder policy.
func DefaultConfig() Config {
	return Config{
		QueueTimeout:     5 * time.Minute,
		InitialTolerance: 200,
		WidenStep:        50,
		WidenInterval:    30 * time.Second,
		MaxTolerance:     500,
		MapPool:          []string{"ore-gardens"},
	}
}

// Matchmaker owns the process-wide queue set. All queue operations go
// through its methods.
type Matchmaker struct {
	cfg    Config
	store  Store      // optional
	oracle WaitOracle // optional
	logger *slog.Logger
	now    func() time.Time
	pick   func(n int) int // uniform choice, injected for tests

	// mu guards the queue set. It is never held across store calls; a slow
	// store must not stall queue operations.
	mu        sync.Mutex
	queues    map[model.Mode][]*model.QueueEntry
	history   map[string][]model.Faction
	notifiers map[string]Notifier
}

// New creates a Matchmaker. store and oracle may be nil.
func New(cfg Config, store Store, oracle WaitOracle, logger *slog.Logger) *Matchmaker {
	return &Matchmaker{
		cfg:       cfg,
		store:     store,
		oracle:    oracle,
		logger:    logger,
		now:       time.Now,
		pick:      rand.IntN,
		queues:    make(map[model.Mode][]*model.QueueEntry),
		history:   make(map[string][]model.Faction),
		notifiers: make(map[string]Notifier),
	}
}

// Join appends a prospective entry to its mode's queue. The same agent may
// appear in at most one queue entry across all modes.
func (m *Matchmaker) Join(ctx context.Context, entry model.QueueEntry) error {
	// Warm the faction-history cache before taking the queue lock; the store
	// is never called with the lock held.
	var hist []model.Faction
	haveHist := false
	if m.store != nil {
		h, err := m.store.FactionHistory(ctx, entry.AgentID)
		if err == nil {
			hist, haveHist = h, true
		} else {
			m.logger.Warn("matchmaker: faction history load failed",
				"agent_id", entry.AgentID, "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range m.queues {
		for _, e := range q {
			if e.AgentID == entry.AgentID {
				return ErrAlreadyQueued
			}
		}
	}

	entry.Tolerance = m.cfg.InitialTolerance
	if entry.JoinedAt.IsZero() {
		entry.JoinedAt = m.now()
	}
	if entry.Preference == "" {
		entry.Preference = model.FactionAny
	}
	m.queues[entry.Mode] = append(m.queues[entry.Mode], &entry)
	if haveHist {
		m.history[entry.AgentID] = hist
	}

	m.logger.Info("matchmaker: agent queued",
		"agent_id", entry.AgentID, "mode", entry.Mode, "rating", entry.Rating)
	return nil
}

// Leave removes the agent from whatever queue contains them. Returns whether
// anything was removed.
func (m *Matchmaker) Leave(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for mode, q := range m.queues {
		for i, e := range q {
			if e.AgentID == agentID {
				m.queues[mode] = append(q[:i], q[i+1:]...)
				m.logger.Info("matchmaker: agent left queue", "agent_id", agentID, "mode", mode)
				return true
			}
		}
	}
	return false
}

// Status describes the agent's queue membership with a 1-based position.
func (m *Matchmaker) Status(agentID string) (model.QueueStatusResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for mode, q := range m.queues {
		for i, e := range q {
			if e.AgentID == agentID {
				return model.QueueStatusResponse{
					Queued:   true,
					Mode:     mode,
					Position: i + 1,
					WaitedMS: m.now().Sub(e.JoinedAt).Milliseconds(),
				}, true
			}
		}
	}
	return model.QueueStatusResponse{}, false
}

// GlobalStatus reports per-mode depth and estimated wait. Without an oracle
// the estimate falls back to a heuristic proportional to depth.
func (m *Matchmaker) GlobalStatus(ctx context.Context) []model.ModeStatus {
	m.mu.Lock()
	depths := make(map[model.Mode]int, len(m.queues))
	for mode, q := range m.queues {
		depths[mode] = len(q)
	}
	m.mu.Unlock()

	modes := make([]model.Mode, 0, len(depths))
	for mode := range depths {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

	out := make([]model.ModeStatus, 0, len(modes))
	for _, mode := range modes {
		est, ok := time.Duration(0), false
		if m.oracle != nil {
			est, ok = m.oracle.EstimateWait(ctx, mode)
		}
		if !ok {
			est = time.Duration(depths[mode]) * m.cfg.WidenInterval
		}
		out = append(out, model.ModeStatus{
			Mode:          mode,
			Depth:         depths[mode],
			EstimatedWait: est.Milliseconds(),
		})
	}
	return out
}

// Subscribe associates a notification sink with an agent identifier.
func (m *Matchmaker) Subscribe(agentID string, n Notifier) {
	m.mu.Lock()
	m.notifiers[agentID] = n
	m.mu.Unlock()
}

// Unsubscribe removes the agent's notification sink.
func (m *Matchmaker) Unsubscribe(agentID string) {
	m.mu.Lock()
	delete(m.notifiers, agentID)
	m.mu.Unlock()
}

// RecordFaction records the faction actually played after a match; it feeds
// the rotation policy on subsequent pairings.
func (m *Matchmaker) RecordFaction(ctx context.Context, agentID string, faction model.Faction) {
	m.mu.Lock()
	ring := append(m.history[agentID], faction)
	if len(ring) > model.FactionHistorySize {
		ring = ring[len(ring)-model.FactionHistorySize:]
	}
	m.history[agentID] = ring
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.AppendFaction(ctx, agentID, faction); err != nil {
			m.logger.Warn("matchmaker: faction history persist failed",
				"agent_id", agentID, "error", err)
		}
	}
}

// Tick scans all queues once: evicts timed-out entries, widens tolerances,
// and pairs compatible entries oldest-first. Failures on individual entries
// are surfaced and skipped; one bad entry never aborts a tick.
func (m *Matchmaker) Tick(ctx context.Context) []model.Pairing {
	m.mu.Lock()

	now := m.now()
	var pairings []model.Pairing
	var outcomes []model.QueueOutcome

	modes := make([]model.Mode, 0, len(m.queues))
	for mode := range m.queues {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })

	for _, mode := range modes {
		var keep []*model.QueueEntry
		for _, e := range m.queues[mode] {
			if now.Sub(e.JoinedAt) > m.cfg.QueueTimeout {
				outcomes = append(outcomes, m.evictLocked(e, now))
				continue
			}
			e.Tolerance = m.tolerance(now.Sub(e.JoinedAt))
			keep = append(keep, e)
		}

		sort.SliceStable(keep, func(i, j int) bool {
			return keep[i].JoinedAt.Before(keep[j].JoinedAt)
		})

		matched := make([]bool, len(keep))
		for i := 0; i < len(keep); i++ {
			if matched[i] {
				continue
			}
			for j := i + 1; j < len(keep); j++ {
				if matched[j] {
					continue
				}
				if !compatible(keep[i], keep[j]) {
					continue
				}
				pairing, outs := m.pairLocked(keep[i], keep[j], mode, now)
				pairings = append(pairings, pairing)
				outcomes = append(outcomes, outs[0], outs[1])
				matched[i], matched[j] = true, true
				break
			}
		}

		var remaining []*model.QueueEntry
		for i, e := range keep {
			if !matched[i] {
				remaining = append(remaining, e)
			}
		}
		m.queues[mode] = remaining
	}

	m.mu.Unlock()

	// Persist after releasing the lock so a slow store never stalls queue
	// operations.
	for _, out := range outcomes {
		m.recordOutcome(ctx, out)
	}
	return pairings
}

// tolerance implements min(max_tol, initial + floor(wait/interval)*step).
func (m *Matchmaker) tolerance(waited time.Duration) int {
	widenings := int(waited / m.cfg.WidenInterval)
	tol := m.cfg.InitialTolerance + widenings*m.cfg.WidenStep
	if tol > m.cfg.MaxTolerance {
		tol = m.cfg.MaxTolerance
	}
	return tol
}

func compatible(a, b *model.QueueEntry) bool {
	diff := a.Rating - b.Rating
	if diff < 0 {
		diff = -diff
	}
	tol := a.Tolerance
	if b.Tolerance > tol {
		tol = b.Tolerance
	}
	return diff <= tol
}

func (m *Matchmaker) evictLocked(e *model.QueueEntry, now time.Time) model.QueueOutcome {
	m.logger.Info("matchmaker: queue timeout", "agent_id", e.AgentID, "mode", e.Mode)
	if n, ok := m.notifiers[e.AgentID]; ok {
		n.QueueTimeout(*e)
	}
	return model.QueueOutcome{
		AgentID:   e.AgentID,
		Mode:      e.Mode,
		Waited:    now.Sub(e.JoinedAt),
		Matched:   false,
		CreatedAt: now,
	}
}

func (m *Matchmaker) pairLocked(a, b *model.QueueEntry, mode model.Mode, now time.Time) (model.Pairing, [2]model.QueueOutcome) {
	fa, fb := m.assignFactionsLocked(a, b)

	pairing := model.Pairing{
		Mode:      mode,
		Map:       m.selectMap(),
		A:         model.Participant{AgentID: a.AgentID, Name: a.Name, Faction: fa, Rating: a.Rating},
		B:         model.Participant{AgentID: b.AgentID, Name: b.Name, Faction: fb, Rating: b.Rating},
		CreatedAt: now,
	}

	m.logger.Info("matchmaker: pairing emitted",
		"mode", mode, "map", pairing.Map,
		"agent_a", a.AgentID, "faction_a", fa, "rating_a", a.Rating,
		"agent_b", b.AgentID, "faction_b", fb, "rating_b", b.Rating)

	for _, e := range []*model.QueueEntry{a, b} {
		if n, ok := m.notifiers[e.AgentID]; ok {
			n.MatchFound(pairing)
		}
	}

	diff := a.Rating - b.Rating
	if diff < 0 {
		diff = -diff
	}
	outcomes := [2]model.QueueOutcome{
		{
			AgentID: a.AgentID, Mode: mode, Waited: now.Sub(a.JoinedAt),
			Matched: true, OpponentID: b.AgentID, RatingDiff: diff, CreatedAt: now,
		},
		{
			AgentID: b.AgentID, Mode: mode, Waited: now.Sub(b.JoinedAt),
			Matched: true, OpponentID: a.AgentID, RatingDiff: diff, CreatedAt: now,
		},
	}

	return pairing, outcomes
}

func (m *Matchmaker) recordOutcome(ctx context.Context, out model.QueueOutcome) {
	if m.store == nil {
		return
	}
	if err := m.store.InsertQueueOutcome(ctx, out); err != nil {
		m.logger.Warn("matchmaker: queue outcome persist failed",
			"agent_id", out.AgentID, "error", err)
	}
}

func (m *Matchmaker) selectMap() string {
	if len(m.cfg.MapPool) == 0 {
		return ""
	}
	return m.cfg.MapPool[m.pick(len(m.cfg.MapPool))]
}
