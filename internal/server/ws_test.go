package server

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jediswimmer/ironcurtain-sub000/internal/arbiter"
	"github.com/jediswimmer/ironcurtain-sub000/internal/auth"
	"github.com/jediswimmer/ironcurtain-sub000/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/protocol"
	"github.com/jediswimmer/ironcurtain-sub000/internal/sim"
	"github.com/jediswimmer/ironcurtain-sub000/internal/storage"
)

func newBareChannel() *wsChannel {
	return &wsChannel{
		control:    make(chan any, wsControlBacklog),
		stateReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func TestChannelStateSlotKeepsLatest(t *testing.T) {
	c := newBareChannel()
	for i := 0; i < 5; i++ {
		c.SendState(i)
	}

	c.stateMu.Lock()
	got := c.state
	c.stateMu.Unlock()
	assert.Equal(t, 4, got, "older states are dropped, the newest survives")
	assert.Len(t, c.stateReady, 1)
}

func TestChannelControlPreservesOrder(t *testing.T) {
	c := newBareChannel()
	for i := 0; i < wsControlBacklog; i++ {
		c.SendControl(i)
	}

	select {
	case <-c.done:
		t.Fatal("channel closed while the control backlog had capacity")
	default:
	}
	for i := 0; i < wsControlBacklog; i++ {
		assert.Equal(t, i, <-c.control)
	}
}

func TestChannelSlowControlConsumerIsCut(t *testing.T) {
	c := newBareChannel()
	for i := 0; i < wsControlBacklog; i++ {
		c.SendControl(i)
	}
	c.SendControl("overflow")

	select {
	case <-c.done:
	default:
		t.Fatal("overflowing the control backlog must close the channel")
	}
	assert.Equal(t, protocol.CloseInternalError, c.closeCode)
}

// wsStore is the in-memory store behind the websocket tests: agent lookup
// for the identify handshake plus match persistence for resolution.
type wsStore struct {
	mu      sync.Mutex
	agents  map[string]model.Agent
	matches map[uuid.UUID]model.MatchRecord
}

func newWSStore() *wsStore {
	return &wsStore{
		agents:  make(map[string]model.Agent),
		matches: make(map[uuid.UUID]model.MatchRecord),
	}
}

func (s *wsStore) CreateAgent(_ context.Context, agent model.Agent) (model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.AgentID] = agent
	return agent, nil
}

func (s *wsStore) GetAgent(_ context.Context, agentID string) (model.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return model.Agent{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *wsStore) Leaderboard(context.Context, int, int) ([]model.Agent, error) {
	return nil, nil
}

func (s *wsStore) GetMatch(_ context.Context, id uuid.UUID) (model.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.matches[id]
	if !ok {
		return model.MatchRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *wsStore) ListMatches(context.Context, string, int, int) ([]model.MatchRecord, error) {
	return nil, nil
}

func (s *wsStore) Ping(context.Context) error { return nil }

func (s *wsStore) CompleteMatch(_ context.Context, rec model.MatchRecord, agents []model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[rec.ID] = rec
	for _, a := range agents {
		s.agents[a.AgentID] = a
	}
	return nil
}

type wsFixture struct {
	store *wsStore
	sims  *sim.Scripted
	reg   *arbiter.Registry
	srv   *httptest.Server
	keys  map[string]string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	store := newWSStore()
	sims := sim.NewScripted()
	mm := matchmaker.New(matchmaker.DefaultConfig(), nil, nil, logger)
	reg := arbiter.NewRegistry(arbiter.DefaultConfig(), store, mm, sims, logger)
	t.Cleanup(reg.Shutdown)

	srv := New(ServerConfig{
		Store:      store,
		JWTMgr:     jwtMgr,
		Matchmaker: mm,
		Registry:   reg,
		Logger:     logger,
		Version:    "test",
	})
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &wsFixture{store: store, sims: sims, reg: reg, srv: hs, keys: make(map[string]string)}
}

func (f *wsFixture) addAgent(t *testing.T, agentID string) {
	t.Helper()
	key, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	hash, err := auth.HashAPIKey(key)
	require.NoError(t, err)

	f.store.mu.Lock()
	f.store.agents[agentID] = model.Agent{
		ID: uuid.New(), AgentID: agentID, Name: agentID,
		APIKeyHash: hash, Rating: model.DefaultRating, PeakRating: model.DefaultRating,
	}
	f.store.mu.Unlock()
	f.keys[agentID] = key
}

// startMatch registers both agents and creates their match; the registry
// routes the websocket handshake to it.
func (f *wsFixture) startMatch(t *testing.T, agentA, agentB string) (*arbiter.Match, *sim.ScriptedSession) {
	t.Helper()
	f.addAgent(t, agentA)
	f.addAgent(t, agentB)

	pairing := model.Pairing{
		Mode: model.ModeDefault, Map: "ore-gardens",
		A:         model.Participant{AgentID: agentA, Name: agentA, Faction: model.FactionA, Rating: model.DefaultRating},
		B:         model.Participant{AgentID: agentB, Name: agentB, Faction: model.FactionB, Rating: model.DefaultRating},
		CreatedAt: time.Now(),
	}
	m, err := f.reg.Create(context.Background(), pairing)
	require.NoError(t, err)
	return m, f.sims.LastSession()
}

func (f *wsFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/match"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials and completes the identify handshake, returning the
// connection with the identified ack already consumed.
func (f *wsFixture) connect(t *testing.T, agentID string) *websocket.Conn {
	t.Helper()
	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "identify", "agent_id": agentID, "api_key": f.keys[agentID],
	}))
	frame := readFrame(t, conn)
	require.Equal(t, protocol.TypeIdentified, frame["type"])
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

// awaitFrame reads frames until one of the wanted type arrives, skipping
// interleaved traffic such as state updates.
func awaitFrame(t *testing.T, conn *websocket.Conn, wantType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		frame := readFrame(t, conn)
		if frame["type"] == wantType {
			return frame
		}
	}
	t.Fatalf("no %s frame before deadline", wantType)
	return nil
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, code, ce.Code)
			return
		}
	}
}

func twoPlayerState(tick int64, a, b string) *model.GameState {
	return &model.GameState{
		Tick: tick,
		Map:  model.MapInfo{Name: "ore-gardens", Width: 20, Height: 20},
		Players: []model.PlayerState{
			{AgentID: a, Credits: 500, Visible: []model.Cell{{X: 1, Y: 1}}, Explored: []model.Cell{{X: 1, Y: 1}}},
			{AgentID: b, Credits: 500, Visible: []model.Cell{{X: 18, Y: 18}}, Explored: []model.Cell{{X: 18, Y: 18}}},
		},
		Units: []model.Unit{
			{ID: 1, Type: "rifle", Owner: a, Pos: model.Cell{X: 1, Y: 1}, Health: 50, MaxHealth: 50},
			{ID: 2, Type: "rifle", Owner: b, Pos: model.Cell{X: 18, Y: 18}, Health: 50, MaxHealth: 50},
		},
	}
}

func TestMatchChannelRejectsNonIdentifyFirstFrame(t *testing.T) {
	f := newWSFixture(t)
	f.startMatch(t, "alpha", "bravo")

	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "orders"}))
	expectClose(t, conn, protocol.CloseInvalidKey)
}

func TestMatchChannelRejectsBadCredentials(t *testing.T) {
	f := newWSFixture(t)
	f.startMatch(t, "alpha", "bravo")

	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "identify", "agent_id": "alpha", "api_key": "ic_wrong",
	}))
	expectClose(t, conn, protocol.CloseInvalidKey)

	conn = f.dial(t)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "identify", "agent_id": "ghost", "api_key": "ic_whatever",
	}))
	expectClose(t, conn, protocol.CloseInvalidKey)
}

func TestMatchChannelRejectsAgentWithoutMatch(t *testing.T) {
	f := newWSFixture(t)
	f.addAgent(t, "idle-agent")

	conn := f.dial(t)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "identify", "agent_id": "idle-agent", "api_key": f.keys["idle-agent"],
	}))
	expectClose(t, conn, protocol.CloseUnknownMatch)
}

func TestMatchChannelHandshake(t *testing.T) {
	f := newWSFixture(t)
	match, _ := f.startMatch(t, "alpha", "bravo")

	connA := f.dial(t)
	require.NoError(t, connA.WriteJSON(map[string]string{
		"type": "identify", "agent_id": "alpha", "api_key": f.keys["alpha"],
	}))
	ack := readFrame(t, connA)
	require.Equal(t, protocol.TypeIdentified, ack["type"])
	assert.Equal(t, "ore-gardens", ack["map"])
	assert.Equal(t, string(model.FactionA), ack["faction"])
	opponent, ok := ack["opponent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bravo", opponent["agent_id"])

	connB := f.connect(t, "bravo")

	// Both identified: the match runs and both sides get game_start.
	awaitFrame(t, connA, protocol.TypeGameStart)
	awaitFrame(t, connB, protocol.TypeGameStart)
	assert.Equal(t, model.MatchRunning, match.Status())

	// A second connection for an already-bound participant is refused.
	dup := f.dial(t)
	require.NoError(t, dup.WriteJSON(map[string]string{
		"type": "identify", "agent_id": "alpha", "api_key": f.keys["alpha"],
	}))
	expectClose(t, dup, protocol.CloseNotParticipant)
}

func TestOrdersAttributedToConnectionIdentity(t *testing.T) {
	f := newWSFixture(t)
	_, sess := f.startMatch(t, "alpha", "bravo")

	connA := f.connect(t, "alpha")
	connB := f.connect(t, "bravo")
	awaitFrame(t, connA, protocol.TypeGameStart)
	awaitFrame(t, connB, protocol.TypeGameStart)

	sess.PushState(twoPlayerState(1, "alpha", "bravo"))
	awaitFrame(t, connA, protocol.TypeStateUpdate)

	// The payload claims to be bravo; attribution must follow the handshake
	// identity, so the order is checked and delivered as alpha's.
	require.NoError(t, connA.WriteJSON(protocol.Inbound{
		Type:    protocol.TypeOrders,
		AgentID: "bravo",
		Orders:  []model.Order{{Type: model.OrderMove, UnitIDs: []int{1}, Target: []int{2, 3}}},
	}))

	require.Eventually(t, func() bool {
		return len(sess.Delivered()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	batch := sess.Delivered()[0]
	assert.Equal(t, "alpha", batch.AgentID)
	require.Len(t, batch.Orders, 1)
	assert.Equal(t, model.OrderMove, batch.Orders[0].Type)

	// Unit 2 belongs to bravo: alpha ordering it is an ownership violation,
	// reflected back and never delivered.
	require.NoError(t, connA.WriteJSON(protocol.Inbound{
		Type:   protocol.TypeOrders,
		Orders: []model.Order{{Type: model.OrderMove, UnitIDs: []int{2}, Target: []int{2, 3}}},
	}))
	viol := awaitFrame(t, connA, protocol.TypeOrderViolations)
	assert.Equal(t, protocol.SourceValidator, viol["source"])
	assert.Len(t, sess.Delivered(), 1)
}

func TestStateUpdatesAreFogFiltered(t *testing.T) {
	f := newWSFixture(t)
	_, sess := f.startMatch(t, "alpha", "bravo")

	connA := f.connect(t, "alpha")
	connB := f.connect(t, "bravo")
	awaitFrame(t, connA, protocol.TypeGameStart)
	awaitFrame(t, connB, protocol.TypeGameStart)

	sess.PushState(twoPlayerState(3, "alpha", "bravo"))
	frame := awaitFrame(t, connA, protocol.TypeStateUpdate)

	state, ok := frame["state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), state["tick"])
	units, ok := state["units"].([]any)
	require.True(t, ok)
	require.Len(t, units, 1, "only own units are exact")
	own := units[0].(map[string]any)
	assert.Equal(t, float64(1), own["id"])
	assert.Empty(t, state["enemy_units"], "bravo's unit is outside alpha's vision")

	// get_state returns the same projection on demand.
	require.NoError(t, connA.WriteJSON(map[string]string{"type": "get_state"}))
	resp := awaitFrame(t, connA, protocol.TypeStateResponse)
	respState, ok := resp["state"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), respState["tick"])
}

func TestChatBroadcastsSanitized(t *testing.T) {
	f := newWSFixture(t)
	f.startMatch(t, "alpha", "bravo")

	connA := f.connect(t, "alpha")
	connB := f.connect(t, "bravo")
	awaitFrame(t, connA, protocol.TypeGameStart)
	awaitFrame(t, connB, protocol.TypeGameStart)

	require.NoError(t, connA.WriteJSON(map[string]string{
		"type": "chat", "message": "  good \t luck   commander  ",
	}))
	frame := awaitFrame(t, connB, protocol.TypeChat)
	assert.Equal(t, "alpha", frame["from"])
	assert.Equal(t, "good luck commander", frame["message"])
}

func TestSurrenderDeliversGameEndThenCloses(t *testing.T) {
	f := newWSFixture(t)
	f.startMatch(t, "alpha", "bravo")

	connA := f.connect(t, "alpha")
	connB := f.connect(t, "bravo")
	awaitFrame(t, connA, protocol.TypeGameStart)
	awaitFrame(t, connB, protocol.TypeGameStart)

	require.NoError(t, connA.WriteJSON(map[string]string{"type": "surrender"}))

	endA := awaitFrame(t, connA, protocol.TypeGameEnd)
	assert.Equal(t, "loss", endA["result"])
	assert.Equal(t, "surrender", endA["reason"])
	endB := awaitFrame(t, connB, protocol.TypeGameEnd)
	assert.Equal(t, "win", endB["result"])

	// game_end is flushed before the close handshake.
	expectClose(t, connA, protocol.CloseNormal)
	expectClose(t, connB, protocol.CloseNormal)
}
