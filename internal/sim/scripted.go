package sim

import (
	"context"
	"sync"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// Scripted is an in-process simulator for tests: states and outcomes are fed
// by the test, delivered orders are recorded for inspection.
type Scripted struct {
	mu       sync.Mutex
	sessions []*ScriptedSession
	failNext error
}

// NewScripted creates an empty scripted simulator.
func NewScripted() *Scripted {
	return &Scripted{}
}

// FailNextProvision makes the next Provision call return err.
func (s *Scripted) FailNextProvision(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Provision returns a fresh scripted session.
func (s *Scripted) Provision(_ context.Context, spec MatchSpec) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, err
	}
	sess := &ScriptedSession{
		Spec:     spec,
		states:   make(chan *model.GameState, 64),
		outcomes: make(chan Outcome, 1),
	}
	s.sessions = append(s.sessions, sess)
	return sess, nil
}

// LastSession returns the most recently provisioned session.
func (s *Scripted) LastSession() *ScriptedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return nil
	}
	return s.sessions[len(s.sessions)-1]
}

// ScriptedSession is the test-controlled Session implementation.
type ScriptedSession struct {
	Spec MatchSpec

	mu         sync.Mutex
	delivered  []DeliveredBatch
	deliverErr error
	stopped    bool

	states   chan *model.GameState
	outcomes chan Outcome
}

// DeliveredBatch records one DeliverOrders call.
type DeliveredBatch struct {
	AgentID string
	Orders  []model.Order
}

func (s *ScriptedSession) States() <-chan *model.GameState { return s.states }
func (s *ScriptedSession) Outcomes() <-chan Outcome        { return s.outcomes }

// PushState feeds an authoritative state to the consumer.
func (s *ScriptedSession) PushState(st *model.GameState) { s.states <- st }

// PushOutcome feeds the terminal event and closes both streams.
func (s *ScriptedSession) PushOutcome(o Outcome) {
	s.outcomes <- o
	close(s.outcomes)
	close(s.states)
}

// CloseStreams ends both streams without an outcome, simulating a lost
// simulator.
func (s *ScriptedSession) CloseStreams() {
	close(s.outcomes)
	close(s.states)
}

// FailDeliveries makes subsequent DeliverOrders calls return err (nil resets).
func (s *ScriptedSession) FailDeliveries(err error) {
	s.mu.Lock()
	s.deliverErr = err
	s.mu.Unlock()
}

func (s *ScriptedSession) DeliverOrders(_ context.Context, agentID string, batch []model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deliverErr != nil {
		return s.deliverErr
	}
	s.delivered = append(s.delivered, DeliveredBatch{AgentID: agentID, Orders: batch})
	return nil
}

// Delivered returns a copy of all recorded batches.
func (s *ScriptedSession) Delivered() []DeliveredBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeliveredBatch, len(s.delivered))
	copy(out, s.delivered)
	return out
}

func (s *ScriptedSession) Stop(context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

// Stopped reports whether Stop was called.
func (s *ScriptedSession) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
