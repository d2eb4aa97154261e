// Package ironcurtain is the Go client for the Iron Curtain arbitration
// server: agent registration, matchmaking, and the websocket match channel.
//
// Typical flow:
//
//	c := ironcurtain.NewClient(ironcurtain.Config{
//	    BaseURL: "http://localhost:8080",
//	    AgentID: "my-bot",
//	    APIKey:  apiKey,
//	})
//	if _, err := c.JoinQueue(ctx, "", ironcurtain.FactionAny); err != nil { ... }
//	// poll c.QueueStatus until MatchID is set, then:
//	ch, hello, err := c.ConnectMatch(ctx)
package ironcurtain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the server (e.g. "http://localhost:8080").
	BaseURL string

	// AgentID and APIKey are the credential minted at registration. Both may
	// be empty for a client used only for public reads.
	AgentID string
	APIKey  string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client
}

// Client talks to the arbitration server's REST API. All methods are safe
// for concurrent use. JWTs are obtained lazily and refreshed before expiry.
type Client struct {
	baseURL string
	agentID string
	apiKey  string
	httpc   *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: cfg.BaseURL,
		agentID: cfg.AgentID,
		apiKey:  cfg.APIKey,
		httpc:   httpc,
	}
}

// Register creates an agent and returns its record plus the plaintext API
// key. This is the only call that ever reveals the key.
func Register(ctx context.Context, baseURL, agentID, name string, httpc *http.Client) (RegisterResponse, error) {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	c := &Client{baseURL: baseURL, httpc: httpc}
	var out RegisterResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/agents",
		map[string]string{"agent_id": agentID, "name": name}, &out, false)
	return out, err
}

// Leaderboard returns agents ranked by rating.
func (c *Client) Leaderboard(ctx context.Context, limit, offset int) ([]Agent, error) {
	var out []Agent
	err := c.doJSON(ctx, http.MethodGet, "/v1/leaderboard?"+pageQuery(limit, offset), nil, &out, false)
	return out, err
}

// Matches returns match history, optionally filtered by agent.
func (c *Client) Matches(ctx context.Context, agentID string, limit, offset int) ([]MatchRecord, error) {
	q := pageQuery(limit, offset)
	if agentID != "" {
		q += "&agent_id=" + url.QueryEscape(agentID)
	}
	var out []MatchRecord
	err := c.doJSON(ctx, http.MethodGet, "/v1/matches?"+q, nil, &out, false)
	return out, err
}

// Match returns a single match by identifier.
func (c *Client) Match(ctx context.Context, id uuid.UUID) (MatchRecord, error) {
	var out MatchRecord
	err := c.doJSON(ctx, http.MethodGet, "/v1/matches/"+id.String(), nil, &out, false)
	return out, err
}

// GlobalQueueStatus returns per-mode queue depth and wait estimates.
func (c *Client) GlobalQueueStatus(ctx context.Context) ([]ModeStatus, error) {
	var out []ModeStatus
	err := c.doJSON(ctx, http.MethodGet, "/v1/queue/status", nil, &out, false)
	return out, err
}

// JoinQueue enters the agent into a matchmaking queue. Empty mode selects
// the server default; preference defaults to FactionAny.
func (c *Client) JoinQueue(ctx context.Context, mode string, preference Faction) (QueueStatus, error) {
	if preference == "" {
		preference = FactionAny
	}
	body := map[string]string{"preference": string(preference)}
	if mode != "" {
		body["mode"] = mode
	}
	var out QueueStatus
	err := c.doJSON(ctx, http.MethodPost, "/v1/queue", body, &out, true)
	return out, err
}

// LeaveQueue removes the agent from its queue.
func (c *Client) LeaveQueue(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/queue", nil, nil, true)
}

// QueueStatus reports the agent's queue position, or the match it has been
// assigned to.
func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	var out QueueStatus
	err := c.doJSON(ctx, http.MethodGet, "/v1/queue", nil, &out, true)
	return out, err
}

// tokenRefreshMargin renews the JWT this long before its recorded expiry.
const tokenRefreshMargin = time.Minute

func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Until(c.tokenExp) > tokenRefreshMargin {
		return c.token, nil
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/auth/token",
		map[string]string{"agent_id": c.agentID, "api_key": c.apiKey}, &out, false)
	if err != nil {
		return "", err
	}
	c.token = out.Token
	c.tokenExp = out.ExpiresAt
	return c.token, nil
}

// doJSON performs a request against the server, unwrapping the standard
// {data, meta} envelope into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any, authed bool) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ironcurtain: encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("ironcurtain: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		token, err := c.bearer(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("ironcurtain: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("ironcurtain: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("ironcurtain: decode envelope: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("ironcurtain: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Meta struct {
			RequestID string `json:"request_id"`
		} `json:"meta"`
	}
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.Meta.RequestID
	}
	return apiErr
}

func pageQuery(limit, offset int) string {
	return "limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)
}
