package orders

import "github.com/jediswimmer/ironcurtain-sub000/internal/model"

// Pipeline composes the rate limiter and the command validator for one agent
// in one match. A rejected order in either stage never reaches the
// simulator.
type Pipeline struct {
	limiter   *Limiter
	validator *Validator
}

// NewPipeline creates a pipeline with a fresh limiter and validator.
func NewPipeline(profile Profile) *Pipeline {
	return &Pipeline{
		limiter:   NewLimiter(profile),
		validator: NewValidator(),
	}
}

// Result carries the outcome of one batch through both stages. Violations
// are kept per stage so the arbiter can attribute them in order_violations
// messages.
type Result struct {
	Valid               []model.Order
	LimiterViolations   []Violation
	ValidatorViolations []Violation
}

// Process runs the batch through rate limiting then validation against the
// agent's current fog view.
func (p *Pipeline) Process(batch []model.Order, view *model.FogView) Result {
	allowed, _, limViol := p.limiter.Process(batch)
	valid, _, valViol := p.validator.Validate(allowed, view)
	return Result{
		Valid:               valid,
		LimiterViolations:   limViol,
		ValidatorViolations: valViol,
	}
}

// Suspicious reports whether the agent has crossed the validator's
// suspicion threshold.
func (p *Pipeline) Suspicious() bool { return p.validator.Suspicious() }

// LimiterStats returns the limiter's counters.
func (p *Pipeline) LimiterStats() Stats { return p.limiter.Stats() }

// ValidatorStats returns the validator's counters.
func (p *Pipeline) ValidatorStats() Stats { return p.validator.Stats() }
