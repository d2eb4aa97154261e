package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// Client provisions sessions on a remote simulator service. A POST to
// /matches allocates a game instance; the returned websocket URL carries the
// state stream and accepts order frames.
type Client struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewClient creates a simulator client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  logger,
	}
}

type provisionResponse struct {
	MatchID   string `json:"match_id"`
	StreamURL string `json:"stream_url"`
}

// Provision allocates a game instance and attaches to its stream.
func (c *Client) Provision(ctx context.Context, spec MatchSpec) (Session, error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("sim: marshal match spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/matches", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sim: build provision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sim: provision: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sim: provision: unexpected status %d", resp.StatusCode)
	}

	var pr provisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("sim: decode provision response: %w", err)
	}

	conn, _, err := c.dialer.DialContext(ctx, pr.StreamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("sim: dial stream: %w", err)
	}

	s := &remoteSession{
		conn:     conn,
		logger:   c.logger.With("match_id", spec.MatchID),
		states:   make(chan *model.GameState, 8),
		outcomes: make(chan Outcome, 1),
	}
	go s.readLoop()
	return s, nil
}

// remoteSession adapts one simulator websocket to the Session interface.
type remoteSession struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	states   chan *model.GameState
	outcomes chan Outcome

	writeMu  sync.Mutex
	stopOnce sync.Once
}

// streamFrame is the simulator's wire envelope.
type streamFrame struct {
	Type    string           `json:"type"` // "state" or "outcome"
	State   *model.GameState `json:"state,omitempty"`
	Outcome *Outcome         `json:"outcome,omitempty"`
}

type orderFrame struct {
	Type    string        `json:"type"` // "orders"
	AgentID string        `json:"agent_id"`
	Orders  []model.Order `json:"orders"`
}

func (s *remoteSession) States() <-chan *model.GameState { return s.states }
func (s *remoteSession) Outcomes() <-chan Outcome        { return s.outcomes }

func (s *remoteSession) DeliverOrders(ctx context.Context, agentID string, batch []model.Order) error {
	frame, err := json.Marshal(orderFrame{Type: "orders", AgentID: agentID, Orders: batch})
	if err != nil {
		return fmt.Errorf("sim: marshal orders: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("sim: deliver orders: %w", err)
	}
	return nil
}

func (s *remoteSession) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "match ended"), deadline)
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *remoteSession) readLoop() {
	defer close(s.states)
	defer close(s.outcomes)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("sim: stream read failed", "error", err)
			}
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("sim: malformed stream frame", "error", err)
			continue
		}

		switch frame.Type {
		case "state":
			if frame.State != nil {
				s.states <- frame.State
			}
		case "outcome":
			if frame.Outcome != nil {
				s.outcomes <- *frame.Outcome
				return
			}
		default:
			s.logger.Warn("sim: unknown stream frame type", "type", frame.Type)
		}
	}
}
