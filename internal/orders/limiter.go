package orders

import (
	"fmt"
	"sync"
	"time"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// Limiter enforces a profile's volume ceilings for one agent in one match.
// Ceilings are evaluated in a fixed order: units-per-command, then the
// per-tick batch cap, then the rolling-window APM cap. Submission order is
// preserved in the allowed slice.
//
// Grounded on the same sliding-window shape as the HTTP limiter in
// internal/ratelimit, but order-batch semantics (partial acceptance,
// per-category violations) make it a distinct type.
type Limiter struct {
	profile Profile
	now     func() time.Time

	mu     sync.Mutex
	window []time.Time // accepted-order timestamps within the last 60 s
	stats  Stats
}

// NewLimiter creates a limiter for one agent with the given profile.
func NewLimiter(profile Profile) *Limiter {
	return &Limiter{profile: profile, now: time.Now, stats: newStats()}
}

// newLimiterAt is the test hook: an injected clock replaces time.Now.
func newLimiterAt(profile Profile, now func() time.Time) *Limiter {
	l := NewLimiter(profile)
	l.now = now
	return l
}

const apmWindow = 60 * time.Second

// Process filters a batch. Returns the orders that passed, the ones dropped,
// and one violation per dropped order.
func (l *Limiter) Process(batch []model.Order) (allowed, rejected []model.Order, violations []Violation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneWindow(now)
	l.stats.Total += len(batch)

	accepted := 0
	for i, o := range batch {
		if max := l.profile.MaxUnitsPerCommand; max != Unlimited && len(o.UnitIDs) > max {
			rejected = append(rejected, o)
			violations = append(violations, Violation{
				Index:    i,
				Category: CategoryUnitsPerCommand,
				Severity: SeverityWarning,
				Reason:   fmt.Sprintf("unit list has %d ids, limit is %d", len(o.UnitIDs), max),
			})
			continue
		}
		if accepted >= l.profile.MaxOrdersPerTick {
			rejected = append(rejected, o)
			violations = append(violations, Violation{
				Index:    i,
				Category: CategoryOrdersPerTick,
				Severity: SeverityWarning,
				Reason:   fmt.Sprintf("batch exceeds %d orders per tick", l.profile.MaxOrdersPerTick),
			})
			continue
		}
		if max := l.profile.MaxAPM; max != Unlimited && len(l.window) >= max {
			rejected = append(rejected, o)
			violations = append(violations, Violation{
				Index:    i,
				Category: CategoryAPM,
				Severity: SeverityWarning,
				Reason:   fmt.Sprintf("rolling 60s window exceeds %d orders", max),
			})
			continue
		}
		allowed = append(allowed, o)
		l.window = append(l.window, now)
		accepted++
	}

	l.stats.record(len(allowed), violations)
	return allowed, rejected, violations
}

// Stats returns a snapshot of the accumulated counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats.clone()
}

func (l *Limiter) pruneWindow(now time.Time) {
	cutoff := now.Add(-apmWindow)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	l.window = l.window[i:]
}
