// Package sim abstracts the external game simulator: the arbiter provisions
// a session per match, streams authoritative states and outcome events in,
// and delivers validated orders out.
package sim

import (
	"context"

	"github.com/google/uuid"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// MatchSpec describes the match a session should run.
type MatchSpec struct {
	MatchID      uuid.UUID            `json:"match_id"`
	Mode         model.Mode           `json:"mode"`
	Map          string               `json:"map"`
	Participants [2]model.Participant `json:"participants"`
}

// Outcome is a terminal event from the simulator.
type Outcome struct {
	WinnerID string `json:"winner_id,omitempty"`
	Draw     bool   `json:"draw"`
	Reason   string `json:"reason"`
}

// Session is one provisioned match on the simulator.
//
// States delivers authoritative states in strictly increasing tick order and
// is closed when the simulator stops producing. Outcomes delivers at most
// one terminal event. DeliverOrders is potentially blocking; callers must
// bound it with a context deadline and must not hold match-scope locks
// across the call.
type Session interface {
	States() <-chan *model.GameState
	Outcomes() <-chan Outcome
	DeliverOrders(ctx context.Context, agentID string, batch []model.Order) error
	Stop(ctx context.Context) error
}

// Provisioner creates sessions. Implementations: the HTTP/websocket client
// in this package, and the scripted simulator used in tests.
type Provisioner interface {
	Provision(ctx context.Context, spec MatchSpec) (Session, error)
}
