package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jediswimmer/ironcurtain-sub000/internal/arbiter"
	"github.com/jediswimmer/ironcurtain-sub000/internal/auth"
	"github.com/jediswimmer/ironcurtain-sub000/internal/matchmaker"
	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
	"github.com/jediswimmer/ironcurtain-sub000/internal/storage"
)

// Store is the persistence surface the HTTP handlers need. *storage.DB
// satisfies it; tests substitute a fake.
type Store interface {
	CreateAgent(ctx context.Context, agent model.Agent) (model.Agent, error)
	GetAgent(ctx context.Context, agentID string) (model.Agent, error)
	Leaderboard(ctx context.Context, limit, offset int) ([]model.Agent, error)
	GetMatch(ctx context.Context, id uuid.UUID) (model.MatchRecord, error)
	ListMatches(ctx context.Context, agentID string, limit, offset int) ([]model.MatchRecord, error)
	Ping(ctx context.Context) error
}

// HandlersDeps carries the dependencies for the HTTP handlers.
type HandlersDeps struct {
	Store      Store
	JWTMgr     *auth.JWTManager
	Matchmaker *matchmaker.Matchmaker
	Registry   *arbiter.Registry
	Logger     *slog.Logger
	Version    string
	Modes      []model.Mode // allowed queue modes; empty allows any
}

// Handlers holds the HTTP handler methods.
type Handlers struct {
	store      Store
	jwtMgr     *auth.JWTManager
	matchmaker *matchmaker.Matchmaker
	registry   *arbiter.Registry
	logger     *slog.Logger
	version    string
	modes      []model.Mode
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{
		store:      deps.Store,
		jwtMgr:     deps.JWTMgr,
		matchmaker: deps.Matchmaker,
		registry:   deps.Registry,
		logger:     deps.Logger,
		version:    deps.Version,
		modes:      deps.Modes,
	}
}

func (h *Handlers) modeAllowed(mode model.Mode) bool {
	if len(h.modes) == 0 {
		return true
	}
	for _, m := range h.modes {
		if m == mode {
			return true
		}
	}
	return false
}

// HandleHealth reports liveness and storage connectivity.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, map[string]any{
		"status":         status,
		"version":        h.version,
		"active_matches": h.registry.Active(),
	})
}

// HandleRegisterAgent creates an agent and mints its API key. The plaintext
// key appears in this response only.
func (h *Handlers) HandleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if err := model.ValidateAgentID(req.AgentID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Name == "" {
		req.Name = req.AgentID
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		h.logger.Error("generate api key failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		h.logger.Error("hash api key failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	agent, err := h.store.CreateAgent(r.Context(), model.Agent{
		AgentID:    req.AgentID,
		Name:       req.Name,
		APIKeyHash: hash,
		Rating:     model.DefaultRating,
		PeakRating: model.DefaultRating,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "agent_id already registered")
			return
		}
		h.logger.Error("create agent failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}

	h.logger.Info("agent registered", "agent_id", agent.AgentID)
	writeJSON(w, r, http.StatusCreated, model.RegisterAgentResponse{Agent: agent, APIKey: apiKey})
}

// HandleAuthToken exchanges agent credentials for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}

	agent, err := h.store.GetAgent(r.Context(), req.AgentID)
	if err != nil {
		// Burn the same hashing cost as a real verification so response
		// timing does not reveal whether the agent_id exists.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	ok, err := auth.VerifyAPIKey(req.APIKey, agent.APIKeyHash)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(agent)
	if err != nil {
		h.logger.Error("issue token failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

// HandleLeaderboard returns agents by rating.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	agents, err := h.store.Leaderboard(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("leaderboard query failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	if agents == nil {
		agents = []model.Agent{}
	}
	writeJSON(w, r, http.StatusOK, agents)
}

// HandleListMatches returns match history, optionally filtered by agent.
func (h *Handlers) HandleListMatches(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListMatches(r.Context(),
		r.URL.Query().Get("agent_id"),
		queryInt(r, "limit", 50),
		queryInt(r, "offset", 0))
	if err != nil {
		h.logger.Error("list matches failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	if recs == nil {
		recs = []model.MatchRecord{}
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleGetMatch returns one match: the live arbiter record when the match
// is still tracked, the persisted record otherwise.
func (h *Handlers) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("match_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid match id")
		return
	}

	if m, err := h.registry.Get(id); err == nil {
		writeJSON(w, r, http.StatusOK, m.Record())
		return
	}

	rec, err := h.store.GetMatch(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "match not found")
			return
		}
		h.logger.Error("get match failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleJoinQueue enters the authenticated agent into a matchmaking queue.
func (h *Handlers) HandleJoinQueue(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var req model.JoinQueueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid JSON body")
		return
	}
	if req.Mode == "" {
		req.Mode = model.ModeDefault
	}
	if !h.modeAllowed(req.Mode) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown queue mode")
		return
	}
	if req.Preference == "" {
		req.Preference = model.FactionAny
	}
	switch req.Preference {
	case model.FactionA, model.FactionB, model.FactionAny:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown faction preference")
		return
	}

	agent, err := h.store.GetAgent(r.Context(), claims.AgentID)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "unknown agent")
		return
	}
	if _, err := h.registry.ForAgent(agent.AgentID); err == nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "agent already has a match")
		return
	}

	err = h.matchmaker.Join(r.Context(), model.QueueEntry{
		AgentID:    agent.AgentID,
		Name:       agent.Name,
		Mode:       req.Mode,
		Preference: req.Preference,
		Rating:     agent.Rating,
	})
	if err != nil {
		if errors.Is(err, matchmaker.ErrAlreadyQueued) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "already queued")
			return
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	status, _ := h.matchmaker.Status(agent.AgentID)
	writeJSON(w, r, http.StatusOK, status)
}

// HandleLeaveQueue removes the authenticated agent from its queue.
func (h *Handlers) HandleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	if !h.matchmaker.Leave(claims.AgentID) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not queued")
		return
	}
	writeJSON(w, r, http.StatusOK, model.QueueStatusResponse{Queued: false})
}

// HandleQueueStatus reports the caller's queue position, or the match the
// matchmaker produced for them.
func (h *Handlers) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	if status, ok := h.matchmaker.Status(claims.AgentID); ok {
		writeJSON(w, r, http.StatusOK, status)
		return
	}
	if m, err := h.registry.ForAgent(claims.AgentID); err == nil {
		writeJSON(w, r, http.StatusOK, model.QueueStatusResponse{
			MatchID:     m.ID.String(),
			MatchStatus: m.Status(),
		})
		return
	}
	writeJSON(w, r, http.StatusOK, model.QueueStatusResponse{Queued: false})
}

// HandleGlobalQueueStatus reports per-mode queue depth and wait estimates.
func (h *Handlers) HandleGlobalQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.matchmaker.GlobalStatus(r.Context()))
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
