package model

import "time"

// APIResponse is the standard success response envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// RegisterAgentRequest is the request body for POST /v1/agents.
type RegisterAgentRequest struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
}

// RegisterAgentResponse returns the freshly minted credential. The plaintext
// API key is shown exactly once; only its hash is stored.
type RegisterAgentResponse struct {
	Agent  Agent  `json:"agent"`
	APIKey string `json:"api_key"`
}

// AuthTokenRequest exchanges an API key for a JWT.
type AuthTokenRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse carries the issued JWT.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JoinQueueRequest is the request body for POST /v1/queue.
type JoinQueueRequest struct {
	Mode       Mode    `json:"mode"`
	Preference Faction `json:"preference"`
}

// QueueStatusResponse describes the caller's queue membership. When the
// matchmaker has already produced a pairing, MatchID points the agent at the
// match channel instead.
type QueueStatusResponse struct {
	Queued      bool        `json:"queued"`
	Mode        Mode        `json:"mode,omitempty"`
	Position    int         `json:"position,omitempty"`
	WaitedMS    int64       `json:"waited_ms,omitempty"`
	MatchID     string      `json:"match_id,omitempty"`
	MatchStatus MatchStatus `json:"match_status,omitempty"`
}

// ModeStatus is one mode's entry in the global queue status.
type ModeStatus struct {
	Mode          Mode  `json:"mode"`
	Depth         int   `json:"depth"`
	EstimatedWait int64 `json:"estimated_wait_ms"`
}
