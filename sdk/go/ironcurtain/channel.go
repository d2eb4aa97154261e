package ironcurtain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// Frame is a server-to-agent message from the match channel. Type selects
// which fields are meaningful; State is left raw so callers can decode into
// their own view structures.
type Frame struct {
	Type    string          `json:"type"`
	State   json.RawMessage `json:"state,omitempty"`
	Source  string          `json:"source,omitempty"`
	From    string          `json:"from,omitempty"`
	Message string          `json:"message,omitempty"`
	Reason  string          `json:"reason,omitempty"`

	// game_end fields.
	Result      string `json:"result,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
	RatingDelta int    `json:"rating_delta,omitempty"`

	// order_violations payload, raw for the same reason as State.
	Violations json.RawMessage `json:"violations,omitempty"`
}

// MatchInfo is the handshake acknowledgement: the match the agent was routed
// to and the side it plays.
type MatchInfo struct {
	MatchID  string  `json:"match_id"`
	Map      string  `json:"map"`
	Faction  Faction `json:"faction"`
	Opponent struct {
		AgentID string  `json:"agent_id"`
		Name    string  `json:"name"`
		Faction Faction `json:"faction"`
		Rating  int     `json:"rating"`
	} `json:"opponent"`
}

// MatchChannel is the persistent connection to a live match. Writes are
// serialized internally; Frames delivers inbound traffic until the channel
// closes.
type MatchChannel struct {
	conn   *websocket.Conn
	frames chan Frame

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	readErr   error // written by readLoop before done closes
}

// ConnectMatch dials the match channel and performs the identify handshake.
// The server routes the connection to the agent's current match; call it
// only after QueueStatus reports a MatchID.
func (c *Client) ConnectMatch(ctx context.Context) (*MatchChannel, MatchInfo, error) {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/ws/match"
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, MatchInfo{}, fmt.Errorf("ironcurtain: dial match channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	identify := map[string]string{
		"type":     "identify",
		"agent_id": c.agentID,
		"api_key":  c.apiKey,
	}
	if err := conn.WriteJSON(identify); err != nil {
		conn.Close()
		return nil, MatchInfo{}, fmt.Errorf("ironcurtain: send identify: %w", err)
	}

	var ack struct {
		Type string `json:"type"`
		MatchInfo
	}
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, MatchInfo{}, fmt.Errorf("ironcurtain: read identify ack: %w", err)
	}
	if ack.Type != "identified" {
		conn.Close()
		return nil, MatchInfo{}, fmt.Errorf("ironcurtain: unexpected handshake frame %q", ack.Type)
	}

	ch := &MatchChannel{
		conn:   conn,
		frames: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	go ch.readLoop()
	return ch, ack.MatchInfo, nil
}

// Frames returns the inbound frame stream. The channel closes when the
// connection does; Err reports why.
func (ch *MatchChannel) Frames() <-chan Frame {
	return ch.frames
}

// SendOrders submits a batch of orders for the current tick.
func (ch *MatchChannel) SendOrders(orders []Order) error {
	return ch.writeJSON(map[string]any{"type": "orders", "orders": orders})
}

// RequestState asks for an immediate fog-filtered state snapshot, answered
// with a state_response frame.
func (ch *MatchChannel) RequestState() error {
	return ch.writeJSON(map[string]string{"type": "get_state"})
}

// Chat broadcasts a message to the opponent and spectators.
func (ch *MatchChannel) Chat(message string) error {
	return ch.writeJSON(map[string]string{"type": "chat", "message": message})
}

// Surrender concedes the match.
func (ch *MatchChannel) Surrender() error {
	return ch.writeJSON(map[string]string{"type": "surrender"})
}

// Close tears down the connection. Safe to call multiple times.
func (ch *MatchChannel) Close() error {
	var err error
	ch.closeOnce.Do(func() {
		ch.writeMu.Lock()
		_ = ch.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		ch.writeMu.Unlock()
		err = ch.conn.Close()
	})
	return err
}

// Err returns the error that ended the read loop, nil before then and after
// a clean close.
func (ch *MatchChannel) Err() error {
	select {
	case <-ch.done:
		return ch.readErr
	default:
		return nil
	}
}

func (ch *MatchChannel) writeJSON(msg any) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	select {
	case <-ch.done:
		return fmt.Errorf("ironcurtain: match channel closed")
	default:
	}
	if err := ch.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("ironcurtain: write frame: %w", err)
	}
	return nil
}

func (ch *MatchChannel) readLoop() {
	defer close(ch.frames)
	for {
		var frame Frame
		if err := ch.conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				ch.readErr = err
			}
			close(ch.done)
			return
		}
		ch.frames <- frame
	}
}

// StatusText maps the server's application close codes to short
// descriptions, for logging.
func StatusText(closeCode int) string {
	switch closeCode {
	case 4001:
		return "invalid credentials"
	case 4003:
		return "not a participant"
	case 4004:
		return "unknown match"
	case 4029:
		return "spectator capacity reached"
	default:
		return http.StatusText(closeCode)
	}
}
