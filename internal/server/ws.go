package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jediswimmer/ironcurtain-sub000/internal/arbiter"
	"github.com/jediswimmer/ironcurtain-sub000/internal/auth"
	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/protocol"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsControlBacklog = 256
	maxInboundBytes  = 256 * 1024
	identifyDeadline = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agent processes connect directly, not from browsers; origin checks
	// would only get in the way.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsChannel adapts one websocket connection to the arbiter's Channel
// interface. Control frames queue and are always delivered in order; state
// frames collapse to a latest-value slot so a slow reader skips ticks
// instead of accumulating lag.
type wsChannel struct {
	conn *websocket.Conn

	control chan any

	stateMu    sync.Mutex
	state      any
	stateReady chan struct{}

	closeOnce   sync.Once
	done        chan struct{}
	closeCode   int
	closeReason string
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	c := &wsChannel{
		conn:       conn,
		control:    make(chan any, wsControlBacklog),
		stateReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *wsChannel) SendControl(msg any) {
	select {
	case c.control <- msg:
	case <-c.done:
	default:
		// The peer cannot keep up with control traffic; cut it loose
		// rather than let the backlog grow without bound.
		c.Close(protocol.CloseInternalError, "slow consumer")
	}
}

func (c *wsChannel) SendState(msg any) {
	c.stateMu.Lock()
	c.state = msg
	c.stateMu.Unlock()
	select {
	case c.stateReady <- struct{}{}:
	default:
	}
}

func (c *wsChannel) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *wsChannel) writePump() {
	for {
		select {
		case <-c.done:
			// Flush queued control frames (game_end and friends) before
			// the close handshake.
			for {
				select {
				case msg := <-c.control:
					c.writeJSON(msg)
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(c.closeCode, c.closeReason))
					_ = c.conn.Close()
					return
				}
			}
		case msg := <-c.control:
			c.writeJSON(msg)
		case <-c.stateReady:
			c.stateMu.Lock()
			msg := c.state
			c.state = nil
			c.stateMu.Unlock()
			if msg != nil {
				c.writeJSON(msg)
			}
		}
	}
}

func (c *wsChannel) writeJSON(msg any) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.Close(protocol.CloseInternalError, "write failed")
	}
}

// HandleMatchChannel is the persistent agent connection. The first frame
// must be an identify carrying the agent credential; everything after is
// play-phase traffic routed to the agent's match.
func (h *Handlers) HandleMatchChannel(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxInboundBytes)
	ch := newWSChannel(conn)

	agentID, match, ok := h.identifyAgent(r, conn, ch)
	if !ok {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			match.Disconnected(agentID)
			ch.Close(protocol.CloseNormal, "")
			return
		}

		var frame protocol.Inbound
		if err := json.Unmarshal(data, &frame); err != nil {
			ch.SendControl(protocol.Error{Type: protocol.TypeError, Message: "malformed frame"})
			continue
		}

		switch frame.Type {
		case protocol.TypeOrders:
			match.HandleOrders(r.Context(), agentID, frame.Orders)
		case protocol.TypeGetState:
			view, err := match.StateFor(agentID)
			if err != nil {
				ch.SendControl(protocol.Error{Type: protocol.TypeError, Message: err.Error()})
				continue
			}
			ch.SendControl(protocol.StateResponse{Type: protocol.TypeStateResponse, State: view})
		case protocol.TypeChat:
			msg, ok := SanitizeChat(frame.Message)
			if !ok {
				ch.SendControl(protocol.Error{Type: protocol.TypeError, Message: "empty or invalid chat message"})
				continue
			}
			match.Chat(agentID, msg)
		case protocol.TypeSurrender:
			if err := match.Surrender(agentID); err != nil {
				ch.SendControl(protocol.Error{Type: protocol.TypeError, Message: err.Error()})
			}
		default:
			ch.SendControl(protocol.Error{Type: protocol.TypeError, Message: "unknown frame type"})
		}
	}
}

// identifyAgent performs the in-band handshake: read the identify frame,
// verify the API key, route to the agent's match, and bind the channel.
func (h *Handlers) identifyAgent(r *http.Request, conn *websocket.Conn, ch *wsChannel) (string, *arbiter.Match, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(identifyDeadline))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		ch.Close(protocol.CloseNormal, "")
		return "", nil, false
	}

	var frame protocol.Inbound
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != protocol.TypeIdentify {
		ch.Close(protocol.CloseInvalidKey, "expected identify frame")
		return "", nil, false
	}

	agent, err := h.store.GetAgent(r.Context(), frame.AgentID)
	if err != nil {
		auth.DummyVerify()
		ch.Close(protocol.CloseInvalidKey, "invalid credentials")
		return "", nil, false
	}
	ok, err := auth.VerifyAPIKey(frame.APIKey, agent.APIKeyHash)
	if err != nil || !ok {
		ch.Close(protocol.CloseInvalidKey, "invalid credentials")
		return "", nil, false
	}

	match, err := h.registry.ForAgent(agent.AgentID)
	if err != nil {
		ch.Close(protocol.CloseUnknownMatch, "no match for agent")
		return "", nil, false
	}

	ack, err := match.Identify(agent.AgentID, ch)
	if err != nil {
		switch {
		case errors.Is(err, arbiter.ErrNotParticipant):
			ch.Close(protocol.CloseNotParticipant, "not a participant")
		case errors.Is(err, arbiter.ErrAlreadyConnected):
			ch.Close(protocol.CloseNotParticipant, "already connected")
		default:
			ch.Close(protocol.CloseUnknownMatch, "match not accepting connections")
		}
		return "", nil, false
	}

	ch.SendControl(ack)
	h.logger.Info("agent channel bound", "agent_id", agent.AgentID, "match_id", match.ID)
	return agent.AgentID, match, true
}

// HandleSpectate attaches a read-only channel to a match's full state
// stream.
func (h *Handlers) HandleSpectate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("match_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid match id")
		return
	}
	match, err := h.registry.Get(id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "match not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxInboundBytes)
	ch := newWSChannel(conn)

	if err := match.AttachSpectator(ch); err != nil {
		if errors.Is(err, arbiter.ErrSpectatorsFull) {
			ch.Close(protocol.CloseSpectatorsFull, "spectator capacity reached")
		} else {
			ch.Close(protocol.CloseUnknownMatch, "match not accepting spectators")
		}
		return
	}

	// Spectators only read; drain inbound frames to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			match.DetachSpectator(ch)
			ch.Close(protocol.CloseNormal, "")
			return
		}
	}
}
