package orders

import (
	"fmt"
	"sync"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// Train count bounds.
const (
	minTrainCount = 1
	maxTrainCount = 20
)

// DefaultSuspicionThreshold is the per-agent violation count above which the
// agent is flagged for operators. Nothing automatic happens at the
// threshold; it is a boolean surfaced alongside match detail.
const DefaultSuspicionThreshold = 50

// Validator checks the semantic legality of orders against the issuing
// agent's current fog-filtered view. It never returns an error: illegal
// orders are classified and counted.
type Validator struct {
	mu         sync.Mutex
	stats      Stats
	violations int
	threshold  int
}

// NewValidator creates a Validator with the default suspicion threshold.
func NewValidator() *Validator {
	return &Validator{stats: newStats(), threshold: DefaultSuspicionThreshold}
}

// Validate partitions a batch into legal and rejected orders. An order that
// accumulates any violation is rejected as a whole.
func (v *Validator) Validate(batch []model.Order, view *model.FogView) (valid, rejected []model.Order, violations []Violation) {
	for i, o := range batch {
		if viol, ok := checkOrder(&o, view); !ok {
			viol.Index = i
			rejected = append(rejected, o)
			violations = append(violations, viol)
			continue
		}
		valid = append(valid, o)
	}

	v.mu.Lock()
	v.stats.Total += len(batch)
	v.stats.record(len(valid), violations)
	v.violations += len(violations)
	v.mu.Unlock()
	return valid, rejected, violations
}

// Suspicious reports whether the agent has crossed the violation threshold.
func (v *Validator) Suspicious() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.violations > v.threshold
}

// Stats returns a snapshot of the accumulated counters.
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stats.clone()
}

// checkOrder evaluates the rule chain for one order. The first failing rule
// wins; later rules are not evaluated.
func checkOrder(o *model.Order, view *model.FogView) (Violation, bool) {
	// 1. Type.
	if !o.Type.Known() {
		return Violation{
			Category: CategoryInvalidType, Severity: SeverityWarning,
			Reason: fmt.Sprintf("unknown order type %q", o.Type),
		}, false
	}

	// 2. Required-field shape.
	if o.Type.RequiresUnits() && len(o.UnitIDs) == 0 {
		return malformed("%s requires a non-empty unit_ids list", o.Type)
	}
	if o.Type.RequiresBuilding() && o.BuildingID == nil {
		return malformed("%s requires building_id", o.Type)
	}
	if o.Type.RequiresTarget() && len(o.Target) != 2 {
		return malformed("%s requires a target of exactly two coordinates", o.Type)
	}
	if o.Type.RequiresTargetID() && o.TargetID == nil {
		return malformed("%s requires target_id", o.Type)
	}

	// 3. Ownership.
	for _, id := range o.UnitIDs {
		if !view.OwnsUnit(id) {
			return Violation{
				Category: CategoryOwnership, Severity: SeverityCritical,
				Reason: fmt.Sprintf("unit %d is not owned by the issuing agent", id),
			}, false
		}
	}
	if o.Type.RequiresBuilding() && !view.OwnsStructure(*o.BuildingID) {
		return Violation{
			Category: CategoryOwnership, Severity: SeverityCritical,
			Reason: fmt.Sprintf("structure %d is not owned by the issuing agent", *o.BuildingID),
		}, false
	}

	// 4. Bounds.
	if o.Type.RequiresTarget() {
		c := o.TargetCell()
		if c.X < 0 || c.Y < 0 || c.X >= view.Map.Width || c.Y >= view.Map.Height {
			return Violation{
				Category: CategoryBounds, Severity: SeverityWarning,
				Reason: fmt.Sprintf("target (%d,%d) is outside the %dx%d map", c.X, c.Y, view.Map.Width, view.Map.Height),
			}, false
		}
	}

	// 5. Fog compliance and target legality.
	switch o.Type {
	case model.OrderAttack:
		id := *o.TargetID
		if !view.OwnsUnit(id) && !view.OwnsStructure(id) && !view.SeesEnemy(id) {
			return Violation{
				Category: CategoryFog, Severity: SeverityCritical,
				Reason: fmt.Sprintf("attack target %d is not visible to the issuing agent", id),
			}, false
		}
	case model.OrderGuard:
		if !view.OwnsUnit(*o.TargetID) {
			return Violation{
				Category: CategoryOwnership, Severity: SeverityCritical,
				Reason: fmt.Sprintf("guard target %d is not an own unit", *o.TargetID),
			}, false
		}
	case model.OrderRepair:
		id := *o.TargetID
		if !view.OwnsUnit(id) && !view.OwnsStructure(id) {
			return Violation{
				Category: CategoryExistence, Severity: SeverityWarning,
				Reason: fmt.Sprintf("repair target %d is not among own actors", id),
			}, false
		}
	}

	// 6. Production.
	if o.Type == model.OrderTrain {
		if o.BuildType == "" {
			return Violation{
				Category: CategoryProduction, Severity: SeverityWarning,
				Reason: "train requires a build_type",
			}, false
		}
		if o.Count != nil && (*o.Count < minTrainCount || *o.Count > maxTrainCount) {
			return malformed("train count %d outside [%d,%d]", *o.Count, minTrainCount, maxTrainCount)
		}
	}

	// 7. Build / use-power payloads.
	if o.Type == model.OrderBuild && o.BuildType == "" {
		return malformed("build requires a build_type")
	}
	if o.Type == model.OrderUsePower && o.PowerType == "" {
		return malformed("use_power requires a power_type")
	}

	return Violation{}, true
}

func malformed(format string, args ...any) (Violation, bool) {
	return Violation{
		Category: CategoryMalformed,
		Severity: SeverityWarning,
		Reason:   fmt.Sprintf(format, args...),
	}, false
}
