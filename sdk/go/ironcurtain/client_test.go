package ironcurtain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(data any) map[string]any {
	return map[string]any{
		"data": data,
		"meta": map[string]any{"request_id": "req-1", "timestamp": time.Now().UTC()},
	}
}

func writeEnvelope(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope(data))
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
		"meta":  map[string]any{"request_id": "req-err"},
	})
}

// tokenIssuer counts /auth/token hits so tests can verify caching.
type tokenIssuer struct {
	hits int
}

func (ti *tokenIssuer) handle(w http.ResponseWriter, r *http.Request) {
	ti.hits++
	writeEnvelope(w, http.StatusOK, map[string]any{
		"token":      "tok-" + time.Now().Format("150405.000000000"),
		"expires_at": time.Now().Add(time.Hour),
	})
}

func TestRegister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/agents", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "fresh-bot", body["agent_id"])
		writeEnvelope(w, http.StatusCreated, RegisterResponse{
			Agent:  Agent{AgentID: "fresh-bot", Rating: 1200},
			APIKey: "ic_secret",
		})
	}))
	defer srv.Close()

	resp, err := Register(context.Background(), srv.URL, "fresh-bot", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ic_secret", resp.APIKey)
	assert.Equal(t, 1200, resp.Agent.Rating)
}

func TestJoinQueueObtainsToken(t *testing.T) {
	ti := &tokenIssuer{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/token":
			ti.handle(w, r)
		case "/v1/queue":
			assert.NotEmpty(t, r.Header.Get("Authorization"))
			switch r.Method {
			case http.MethodPost:
				writeEnvelope(w, http.StatusOK, QueueStatus{Queued: true, Mode: "1v1", Position: 1})
			case http.MethodGet:
				writeEnvelope(w, http.StatusOK, QueueStatus{Queued: true, Mode: "1v1", Position: 1})
			case http.MethodDelete:
				writeEnvelope(w, http.StatusOK, QueueStatus{})
			}
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, AgentID: "bot", APIKey: "ic_key"})
	st, err := c.JoinQueue(context.Background(), "", FactionAny)
	require.NoError(t, err)
	assert.True(t, st.Queued)
	assert.Equal(t, 1, st.Position)

	// Subsequent authed calls reuse the cached token.
	_, err = c.QueueStatus(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.LeaveQueue(context.Background()))
	assert.Equal(t, 1, ti.hits)
}

func TestAPIErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "match not found")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Match(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, "match not found", apiErr.Message)
	assert.Equal(t, "req-err", apiErr.RequestID)
}

func TestConflictAndRateLimitSentinels(t *testing.T) {
	assert.True(t, errors.Is(&APIError{StatusCode: 409}, ErrConflict))
	assert.True(t, errors.Is(&APIError{StatusCode: 429}, ErrRateLimited))
	assert.True(t, errors.Is(&APIError{StatusCode: 401}, ErrUnauthorized))
	assert.False(t, errors.Is(&APIError{StatusCode: 409}, ErrNotFound))
}

func TestLeaderboardAndMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/leaderboard":
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			writeEnvelope(w, http.StatusOK, []Agent{{AgentID: "top", Rating: 1500}})
		case "/v1/matches":
			assert.Equal(t, "top", r.URL.Query().Get("agent_id"))
			writeEnvelope(w, http.StatusOK, []MatchRecord{{Mode: "1v1", Map: "ore-gardens"}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	agents, err := c.Leaderboard(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, 1500, agents[0].Rating)

	recs, err := c.Matches(context.Background(), "top", 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "ore-gardens", recs[0].Map)
}
