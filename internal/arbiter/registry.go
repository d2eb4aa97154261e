package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/sim"
)

// ErrMatchNotFound is returned for lookups of unknown or evicted matches.
var ErrMatchNotFound = errors.New("arbiter: match not found")

// Registry tracks live matches and indexes them by participant so a
// connecting agent can be routed without knowing its match identifier.
// Terminal matches stay resolvable for the retention window, then evict.
type Registry struct {
	cfg      Config
	logger   *slog.Logger
	store    Store
	recorder FactionRecorder
	prov     sim.Provisioner

	mu      sync.RWMutex
	matches map[uuid.UUID]*Match
	byAgent map[string]uuid.UUID
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, store Store, recorder FactionRecorder, prov sim.Provisioner, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		recorder: recorder,
		prov:     prov,
		matches:  make(map[uuid.UUID]*Match),
		byAgent:  make(map[string]uuid.UUID),
	}
}

// Create builds a match for a pairing, registers it, and starts
// provisioning. The match is returned even when provisioning fails; it will
// already be in a terminal state and evict after retention.
func (r *Registry) Create(ctx context.Context, pairing model.Pairing) (*Match, error) {
	m := NewMatch(pairing, r.cfg, r.store, r.recorder, r.prov, r.logger)
	m.onTerminal = r.evict

	r.mu.Lock()
	r.matches[m.ID] = m
	r.byAgent[pairing.A.AgentID] = m.ID
	r.byAgent[pairing.B.AgentID] = m.ID
	r.mu.Unlock()

	if err := m.Start(ctx); err != nil {
		return m, err
	}
	return m, nil
}

// Get returns the match with the given identifier.
func (r *Registry) Get(id uuid.UUID) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// ForAgent returns the match the agent currently belongs to.
func (r *Registry) ForAgent(agentID string) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAgent[agentID]
	if !ok {
		return nil, ErrMatchNotFound
	}
	m, ok := r.matches[id]
	if !ok {
		return nil, ErrMatchNotFound
	}
	return m, nil
}

// List returns snapshots of all tracked matches, newest first.
func (r *Registry) List() []model.MatchRecord {
	r.mu.RLock()
	matches := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		matches = append(matches, m)
	}
	r.mu.RUnlock()

	out := make([]model.MatchRecord, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Active returns the number of non-terminal matches.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.matches {
		if !m.Status().Terminal() {
			n++
		}
	}
	return n
}

// evict drops a terminal match after its retention window.
func (r *Registry) evict(m *Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.ID]; !ok {
		return
	}
	delete(r.matches, m.ID)
	if r.byAgent[m.Pairing.A.AgentID] == m.ID {
		delete(r.byAgent, m.Pairing.A.AgentID)
	}
	if r.byAgent[m.Pairing.B.AgentID] == m.ID {
		delete(r.byAgent, m.Pairing.B.AgentID)
	}
}

// Shutdown closes every tracked match for server shutdown.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	matches := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		matches = append(matches, m)
	}
	r.mu.RUnlock()

	for _, m := range matches {
		m.Shutdown()
	}
}
