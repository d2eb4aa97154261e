// Package arbiter owns the per-match state machine: it shepherds a pairing
// from creation through connection and play to termination, multiplexes
// participant and spectator channels, routes authoritative state through the
// fog enforcer, and routes orders through the order pipeline.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jediswimmer/ironcurtain-sub000/internal/fog"
	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/orders"
	"github.com/jediswimmer/ironcurtain-sub000/internal/protocol"
	"github.com/jediswimmer/ironcurtain-sub000/internal/sim"
)

var (
	// ErrNotParticipant is returned on identify by an agent outside the pairing.
	ErrNotParticipant = errors.New("arbiter: not a participant in this match")
	// ErrAlreadyConnected is returned when a participant identifies twice.
	ErrAlreadyConnected = errors.New("arbiter: participant already connected")
	// ErrNoState is returned by state requests before the first tick arrives.
	ErrNoState = errors.New("arbiter: no authoritative state yet")
	// ErrSpectatorsFull is returned when the spectator cap is reached.
	ErrSpectatorsFull = errors.New("arbiter: spectator capacity reached")
	// ErrNotRunning is returned for play-phase inputs outside running.
	ErrNotRunning = errors.New("arbiter: match is not running")
)

// Channel is the arbiter's view of one network connection. SendControl
// frames are never dropped; SendState frames may be dropped-oldest when the
// peer is slower than the tick rate. Implementations must not block.
type Channel interface {
	SendControl(msg any)
	SendState(msg any)
	Close(code int, reason string)
}

// Store is the persistence the arbiter needs: agent lookup for rating, and
// a transactional match-completion write (match record plus both agents'
// rating/counters/streak/history, or none).
type Store interface {
	GetAgent(ctx context.Context, agentID string) (model.Agent, error)
	CompleteMatch(ctx context.Context, rec model.MatchRecord, agents []model.Agent) error
}

// FactionRecorder feeds the faction actually played back to the matchmaker's
// rotation policy.
type FactionRecorder interface {
	RecordFaction(ctx context.Context, agentID string, faction model.Faction)
}

// Config holds the arbiter policy knobs.
type Config struct {
	ConnectTimeout time.Duration  // both-identified deadline; default 60 s
	Retention      time.Duration  // terminal match kept for late status reads; default 30 s
	SimTimeout     time.Duration  // per simulator request; default 5 s
	DeliverRetries int            // bounded order-delivery attempts; default 3
	Profile        orders.Profile // rate-limit profile applied to both agents
	SpectatorCap   int            // per-match spectator ceiling
}

// DefaultConfig returns the production arbiter policy.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 60 * time.Second,
		Retention:      30 * time.Second,
		SimTimeout:     5 * time.Second,
		DeliverRetries: 3,
		Profile:        orders.Competitive,
		SpectatorCap:   32,
	}
}

// Match is one active match. All fields behind mu are mutated only under
// the lock, which is never held across simulator or persistence calls.
type Match struct {
	ID      uuid.UUID
	Pairing model.Pairing

	cfg      Config
	logger   *slog.Logger
	store    Store
	recorder FactionRecorder
	prov     sim.Provisioner
	now      func() time.Time

	// onTerminal is invoked once, after the retention window, so the
	// registry can evict. Set by the registry before Start.
	onTerminal func(*Match)

	mu           sync.Mutex
	status       model.MatchStatus
	session      sim.Session
	channels     map[string]Channel
	spectators   map[Channel]struct{}
	lastState    *model.GameState
	record       model.MatchRecord
	startedAt    time.Time
	connectTimer *time.Timer

	fogger    *fog.Enforcer
	pipelines map[string]*orders.Pipeline
}

// NewMatch creates a match in pending state.
func NewMatch(pairing model.Pairing, cfg Config, store Store, recorder FactionRecorder, prov sim.Provisioner, logger *slog.Logger) *Match {
	id := uuid.New()
	m := &Match{
		ID:         id,
		Pairing:    pairing,
		cfg:        cfg,
		logger:     logger.With("match_id", id),
		store:      store,
		recorder:   recorder,
		prov:       prov,
		now:        time.Now,
		status:     model.MatchPending,
		channels:   make(map[string]Channel),
		spectators: make(map[Channel]struct{}),
		fogger:     fog.New(),
		pipelines: map[string]*orders.Pipeline{
			pairing.A.AgentID: orders.NewPipeline(cfg.Profile),
			pairing.B.AgentID: orders.NewPipeline(cfg.Profile),
		},
	}
	m.record = model.MatchRecord{
		ID:        id,
		Mode:      pairing.Mode,
		Map:       pairing.Map,
		AgentA:    pairing.A.AgentID,
		AgentB:    pairing.B.AgentID,
		FactionA:  pairing.A.Faction,
		FactionB:  pairing.B.Faction,
		Status:    model.MatchPending,
		CreatedAt: m.now(),
	}
	return m
}

// Status returns the current state-machine state.
func (m *Match) Status() model.MatchStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Record returns a snapshot of the match record.
func (m *Match) Record() model.MatchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record
}

// Suspicious reports the validator suspicion flag for one participant.
func (m *Match) Suspicious(agentID string) bool {
	p, ok := m.pipelines[agentID]
	return ok && p.Suspicious()
}

// Start provisions the simulator and transitions pending → connecting. A
// provisioning failure cancels the match.
func (m *Match) Start(ctx context.Context) error {
	provCtx, cancel := context.WithTimeout(ctx, m.cfg.SimTimeout)
	session, err := m.prov.Provision(provCtx, sim.MatchSpec{
		MatchID:      m.ID,
		Mode:         m.Pairing.Mode,
		Map:          m.Pairing.Map,
		Participants: [2]model.Participant{m.Pairing.A, m.Pairing.B},
	})
	cancel()
	if err != nil {
		m.logger.Error("simulator provisioning failed", "error", err)
		m.cancel("simulator unavailable")
		return fmt.Errorf("arbiter: provision: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.status = model.MatchConnecting
	m.record.Status = model.MatchConnecting
	m.connectTimer = time.AfterFunc(m.cfg.ConnectTimeout, func() {
		m.cancel("connection timeout")
	})
	m.mu.Unlock()

	m.logger.Info("match connecting",
		"agent_a", m.Pairing.A.AgentID, "agent_b", m.Pairing.B.AgentID, "map", m.Pairing.Map)

	go m.pump(ctx)
	return nil
}

// Identify binds a channel to a participant identifier. When both
// participants are bound the match transitions to running and game_start is
// emitted on every channel.
func (m *Match) Identify(agentID string, ch Channel) (protocol.Identified, error) {
	side, ok := m.Pairing.Side(agentID)
	if !ok {
		return protocol.Identified{}, ErrNotParticipant
	}
	opponent, _ := m.Pairing.Opponent(agentID)

	m.mu.Lock()
	if m.status != model.MatchConnecting && m.status != model.MatchRunning {
		m.mu.Unlock()
		return protocol.Identified{}, ErrNotRunning
	}
	if _, dup := m.channels[agentID]; dup {
		m.mu.Unlock()
		return protocol.Identified{}, ErrAlreadyConnected
	}
	m.channels[agentID] = ch
	bothConnected := len(m.channels) == 2 && m.status == model.MatchConnecting
	if bothConnected {
		m.status = model.MatchRunning
		m.record.Status = model.MatchRunning
		m.startedAt = m.now()
		if m.connectTimer != nil {
			m.connectTimer.Stop()
		}
	}
	targets := m.broadcastTargetsLocked()
	m.mu.Unlock()

	if bothConnected {
		m.logger.Info("match running")
		start := protocol.GameStart{
			Type: protocol.TypeGameStart,
			Map:  m.Pairing.Map,
			Settings: protocol.MatchSettings{
				Mode:        m.Pairing.Mode,
				RateProfile: m.cfg.Profile.Name,
			},
		}
		for _, t := range targets {
			t.SendControl(start)
		}
	}

	return protocol.Identified{
		Type:     protocol.TypeIdentified,
		MatchID:  m.ID,
		Map:      m.Pairing.Map,
		Faction:  side.Faction,
		Opponent: opponent,
		Settings: protocol.MatchSettings{Mode: m.Pairing.Mode, RateProfile: m.cfg.Profile.Name},
	}, nil
}

// HandleOrders runs a batch through the order pipeline and delivers the
// surviving orders to the simulator. Violations are reflected back on the
// agent's channel; they never abort the match.
func (m *Match) HandleOrders(ctx context.Context, agentID string, batch []model.Order) {
	m.mu.Lock()
	if m.status != model.MatchRunning {
		m.mu.Unlock()
		return
	}
	ch := m.channels[agentID]
	pipeline := m.pipelines[agentID]
	state := m.lastState
	session := m.session
	m.mu.Unlock()

	if pipeline == nil || ch == nil {
		return
	}
	if state == nil {
		ch.SendControl(protocol.Error{Type: protocol.TypeError, Message: "no authoritative state yet"})
		return
	}

	view, err := m.fogger.FilterFor(state, agentID)
	if err != nil {
		// Identity binding guarantees participants exist in the state.
		m.logger.Error("fog filter failed for participant", "agent_id", agentID, "error", err)
		return
	}

	res := pipeline.Process(batch, view)
	if len(res.LimiterViolations) > 0 {
		ch.SendControl(protocol.OrderViolations{
			Type: protocol.TypeOrderViolations, Source: protocol.SourceLimiter,
			Violations: res.LimiterViolations,
		})
	}
	if len(res.ValidatorViolations) > 0 {
		ch.SendControl(protocol.OrderViolations{
			Type: protocol.TypeOrderViolations, Source: protocol.SourceValidator,
			Violations: res.ValidatorViolations,
		})
	}
	if len(res.Valid) == 0 {
		return
	}

	if err := m.deliverWithRetry(ctx, session, agentID, res.Valid); err != nil {
		m.logger.Error("order delivery exhausted retries", "agent_id", agentID, "error", err)
		m.fail("simulator delivery failed")
	}
}

// deliverWithRetry bounds simulator delivery attempts; each attempt carries
// its own timeout.
func (m *Match) deliverWithRetry(ctx context.Context, session sim.Session, agentID string, batch []model.Order) error {
	var err error
	for attempt := 0; attempt < m.cfg.DeliverRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.SimTimeout)
		err = session.DeliverOrders(attemptCtx, agentID, batch)
		cancel()
		if err == nil {
			return nil
		}
		m.logger.Warn("order delivery failed, retrying", "agent_id", agentID, "attempt", attempt+1, "error", err)
	}
	return err
}

// StateFor responds to a get_state request with a fresh fog projection.
func (m *Match) StateFor(agentID string) (*model.FogView, error) {
	m.mu.Lock()
	state := m.lastState
	m.mu.Unlock()
	if state == nil {
		return nil, ErrNoState
	}
	return m.fogger.FilterFor(state, agentID)
}

// Chat broadcasts an already-normalized chat line to every participant and
// spectator channel.
func (m *Match) Chat(from, message string) {
	m.mu.Lock()
	targets := m.broadcastTargetsLocked()
	m.mu.Unlock()

	frame := protocol.Chat{Type: protocol.TypeChat, From: from, Message: message}
	for _, t := range targets {
		t.SendControl(frame)
	}
}

// Surrender resolves the match against the sender.
func (m *Match) Surrender(agentID string) error {
	opponent, ok := m.Pairing.Opponent(agentID)
	if !ok {
		return ErrNotParticipant
	}
	m.mu.Lock()
	running := m.status == model.MatchRunning
	m.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	m.logger.Info("surrender", "agent_id", agentID)
	m.resolve(opponent.AgentID, false, "surrender")
	return nil
}

// Disconnected handles a participant channel closure: forfeit during
// running, cancellation during the connection phase.
func (m *Match) Disconnected(agentID string) {
	opponent, ok := m.Pairing.Opponent(agentID)
	if !ok {
		return
	}

	m.mu.Lock()
	status := m.status
	delete(m.channels, agentID)
	m.mu.Unlock()

	switch status {
	case model.MatchRunning:
		m.logger.Info("participant disconnected, forfeiting", "agent_id", agentID)
		m.resolve(opponent.AgentID, false, "disconnect")
	case model.MatchConnecting:
		m.cancel("participant disconnected during connection")
	}
}

// AttachSpectator subscribes a read-only channel to the full state stream.
func (m *Match) AttachSpectator(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.Terminal() {
		return ErrNotRunning
	}
	if len(m.spectators) >= m.cfg.SpectatorCap {
		return ErrSpectatorsFull
	}
	m.spectators[ch] = struct{}{}
	return nil
}

// DetachSpectator removes a spectator channel.
func (m *Match) DetachSpectator(ch Channel) {
	m.mu.Lock()
	delete(m.spectators, ch)
	m.mu.Unlock()
}

// pump consumes the simulator streams for the life of the match. States for
// tick T are fully dispatched before T+1 is read.
func (m *Match) pump(ctx context.Context) {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	states := session.States()
	outcomes := session.Outcomes()

	for {
		select {
		case <-ctx.Done():
			return
		case outcome, ok := <-outcomes:
			if !ok {
				// Closed without a terminal event: the simulator is lost.
				m.mu.Lock()
				terminal := m.status.Terminal()
				m.mu.Unlock()
				if !terminal {
					m.fail("simulator stream closed")
				}
				return
			}
			m.handleOutcome(outcome)
			return
		case state, ok := <-states:
			if !ok {
				// State stream drained; keep waiting for the outcome.
				states = nil
				continue
			}
			m.deliverState(state)
		}
	}
}

// deliverState fans one authoritative state out: fog projections to each
// connected participant, full state to spectators.
func (m *Match) deliverState(state *model.GameState) {
	m.mu.Lock()
	m.lastState = state
	participants := make(map[string]Channel, len(m.channels))
	for id, ch := range m.channels {
		participants[id] = ch
	}
	specs := make([]Channel, 0, len(m.spectators))
	for ch := range m.spectators {
		specs = append(specs, ch)
	}
	m.mu.Unlock()

	for agentID, ch := range participants {
		view, err := m.fogger.FilterFor(state, agentID)
		if err != nil {
			m.logger.Error("fog filter failed", "agent_id", agentID, "error", err)
			continue
		}
		ch.SendState(protocol.StateUpdate{Type: protocol.TypeStateUpdate, State: view})
	}
	full := protocol.SpectatorState{Type: protocol.TypeStateUpdate, State: state}
	for _, ch := range specs {
		ch.SendState(full)
	}
}

func (m *Match) handleOutcome(outcome sim.Outcome) {
	if outcome.Draw || outcome.WinnerID != "" {
		winner := outcome.WinnerID
		if outcome.Draw && winner == "" {
			winner = m.Pairing.A.AgentID
		}
		reason := outcome.Reason
		if reason == "" {
			reason = "game_ended"
		}
		m.resolve(winner, outcome.Draw, reason)
		return
	}
	m.fail("simulator reported no outcome")
}
