package arbiter

import (
	"context"
	"time"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/protocol"
	"github.com/jediswimmer/ironcurtain-sub000/internal/rating"
)

// resolve transitions running → completed, applies the rating update,
// persists the outcome, and emits personalized game_end frames. For a draw
// winnerID names an arbitrary side; the deltas come out symmetric.
func (m *Match) resolve(winnerID string, draw bool, reason string) {
	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.status = model.MatchCompleted
	session := m.session
	channels := m.channelsSnapshotLocked()
	specs := m.spectatorsSnapshotLocked()

	duration := time.Duration(0)
	if !m.startedAt.IsZero() {
		duration = m.now().Sub(m.startedAt)
	}
	completedAt := m.now()

	m.record.Status = model.MatchCompleted
	m.record.Draw = draw
	m.record.Reason = reason
	m.record.Duration = duration
	m.record.CompletedAt = &completedAt
	if !draw {
		w := winnerID
		m.record.WinnerID = &w
	}
	m.mu.Unlock()

	loser, _ := m.Pairing.Opponent(winnerID)
	winnerSide, _ := m.Pairing.Side(winnerID)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SimTimeout)
	defer cancel()
	if session != nil {
		if err := session.Stop(ctx); err != nil {
			m.logger.Warn("simulator stop failed", "error", err)
		}
	}

	winnerAgent, errW := m.store.GetAgent(ctx, winnerID)
	loserAgent, errL := m.store.GetAgent(ctx, loser.AgentID)
	var change rating.Change
	if errW == nil && errL == nil {
		change = rating.Apply(&winnerAgent, &loserAgent, winnerSide.Faction, loser.Faction, draw)

		m.mu.Lock()
		if winnerID == m.Pairing.A.AgentID {
			m.record.RatingDeltaA = change.WinnerDelta
			m.record.RatingDeltaB = change.LoserDelta
		} else {
			m.record.RatingDeltaA = change.LoserDelta
			m.record.RatingDeltaB = change.WinnerDelta
		}
		rec := m.record
		m.mu.Unlock()

		if err := m.store.CompleteMatch(ctx, rec, []model.Agent{winnerAgent, loserAgent}); err != nil {
			m.logger.Error("persist match completion failed", "error", err)
		}
	} else {
		m.logger.Error("rating lookup failed, match recorded unrated",
			"winner_err", errW, "loser_err", errL)
		m.mu.Lock()
		rec := m.record
		m.mu.Unlock()
		if err := m.store.CompleteMatch(ctx, rec, nil); err != nil {
			m.logger.Error("persist match completion failed", "error", err)
		}
	}

	if m.recorder != nil {
		m.recorder.RecordFaction(ctx, m.Pairing.A.AgentID, m.Pairing.A.Faction)
		m.recorder.RecordFaction(ctx, m.Pairing.B.AgentID, m.Pairing.B.Faction)
	}

	m.logger.Info("match completed",
		"winner_id", winnerID, "draw", draw, "reason", reason,
		"duration_ms", duration.Milliseconds(),
		"delta_winner", change.WinnerDelta, "delta_loser", change.LoserDelta)

	for agentID, ch := range channels {
		result := "loss"
		delta := change.LoserDelta
		switch {
		case draw:
			result = "draw"
			if agentID == winnerID {
				delta = change.WinnerDelta
			}
		case agentID == winnerID:
			result = "win"
			delta = change.WinnerDelta
		}
		ch.SendControl(protocol.GameEnd{
			Type:        protocol.TypeGameEnd,
			Result:      result,
			Reason:      reason,
			DurationMS:  duration.Milliseconds(),
			RatingDelta: delta,
		})
		ch.Close(protocol.CloseNormal, "match ended")
	}
	for _, ch := range specs {
		ch.Close(protocol.CloseNormal, "match ended")
	}

	m.releaseViews()
	m.scheduleEviction()
}

// cancel transitions any pre-terminal state to cancelled. No rating update
// is applied and connected peers receive match_cancelled.
func (m *Match) cancel(reason string) {
	m.terminate(model.MatchCancelled, reason)
}

// fail transitions to error: an infrastructure fault, not a game outcome.
func (m *Match) fail(reason string) {
	m.terminate(model.MatchError, reason)
}

func (m *Match) terminate(status model.MatchStatus, reason string) {
	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	m.status = status
	m.record.Status = status
	m.record.Reason = reason
	completedAt := m.now()
	m.record.CompletedAt = &completedAt
	if m.connectTimer != nil {
		m.connectTimer.Stop()
	}
	session := m.session
	channels := m.channelsSnapshotLocked()
	specs := m.spectatorsSnapshotLocked()
	rec := m.record
	m.mu.Unlock()

	ctx, cancelCtx := context.WithTimeout(context.Background(), m.cfg.SimTimeout)
	defer cancelCtx()
	if session != nil {
		if err := session.Stop(ctx); err != nil {
			m.logger.Warn("simulator stop failed", "error", err)
		}
	}
	if err := m.store.CompleteMatch(ctx, rec, nil); err != nil {
		m.logger.Error("persist match termination failed", "error", err)
	}

	level := m.logger.Info
	if status == model.MatchError {
		level = m.logger.Error
	}
	level("match terminated", "status", string(status), "reason", reason)

	frame := protocol.MatchCancelled{Type: protocol.TypeMatchCancelled, Reason: reason}
	code := protocol.CloseNormal
	if status == model.MatchError {
		code = protocol.CloseInternalError
	}
	for _, ch := range channels {
		ch.SendControl(frame)
		ch.Close(code, reason)
	}
	for _, ch := range specs {
		ch.Close(code, reason)
	}

	m.releaseViews()
	m.scheduleEviction()
}

// Shutdown closes all channels for server shutdown. Running matches are
// recorded as cancelled.
func (m *Match) Shutdown() {
	m.mu.Lock()
	terminal := m.status.Terminal()
	channels := m.channelsSnapshotLocked()
	specs := m.spectatorsSnapshotLocked()
	m.mu.Unlock()

	if !terminal {
		m.terminate(model.MatchCancelled, "server shutting down")
		return
	}
	for _, ch := range channels {
		ch.Close(protocol.CloseGoingAway, "server shutting down")
	}
	for _, ch := range specs {
		ch.Close(protocol.CloseGoingAway, "server shutting down")
	}
}

func (m *Match) releaseViews() {
	m.fogger.Release(m.Pairing.A.AgentID)
	m.fogger.Release(m.Pairing.B.AgentID)
}

func (m *Match) scheduleEviction() {
	m.mu.Lock()
	onTerminal := m.onTerminal
	m.mu.Unlock()
	if onTerminal == nil {
		return
	}
	time.AfterFunc(m.cfg.Retention, func() { onTerminal(m) })
}

func (m *Match) channelsSnapshotLocked() map[string]Channel {
	out := make(map[string]Channel, len(m.channels))
	for id, ch := range m.channels {
		out[id] = ch
	}
	return out
}

func (m *Match) spectatorsSnapshotLocked() []Channel {
	out := make([]Channel, 0, len(m.spectators))
	for ch := range m.spectators {
		out = append(out, ch)
	}
	return out
}

// broadcastTargetsLocked returns every connected channel, participant and
// spectator alike. Callers hold mu.
func (m *Match) broadcastTargetsLocked() []Channel {
	out := make([]Channel, 0, len(m.channels)+len(m.spectators))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	for ch := range m.spectators {
		out = append(out, ch)
	}
	return out
}
