package ironcurtain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common API failure classes. Use errors.Is to test an
// *APIError against them.
var (
	ErrUnauthorized = errors.New("ironcurtain: unauthorized")
	ErrNotFound     = errors.New("ironcurtain: not found")
	ErrConflict     = errors.New("ironcurtain: conflict")
	ErrRateLimited  = errors.New("ironcurtain: rate limited")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("ironcurtain: %s (%d %s, request %s)", e.Message, e.StatusCode, e.Code, e.RequestID)
	}
	return fmt.Sprintf("ironcurtain: %s (%d %s)", e.Message, e.StatusCode, e.Code)
}

// Is maps the error onto the sentinel matching its status code.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == 401
	case ErrNotFound:
		return e.StatusCode == 404
	case ErrConflict:
		return e.StatusCode == 409
	case ErrRateLimited:
		return e.StatusCode == 429
	}
	return false
}
