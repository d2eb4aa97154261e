package orders

// Category classifies why an order was rejected.
type Category string

const (
	CategoryAPM             Category = "apm"
	CategoryOrdersPerTick   Category = "max_orders_per_tick"
	CategoryUnitsPerCommand Category = "units_per_command"
	CategoryInvalidType     Category = "invalid_type"
	CategoryOwnership       Category = "ownership"
	CategoryBounds          Category = "bounds"
	CategoryExistence       Category = "existence"
	CategoryTech            Category = "tech"
	CategoryProduction      Category = "production"
	CategoryFog             Category = "fog_violation"
	CategoryMalformed       Category = "malformed"
)

// Severity grades a violation. Critical violations feed suspicion tracking.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Violation describes one rejected order.
type Violation struct {
	Index    int      `json:"index"` // position in the submitted batch
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Reason   string   `json:"reason"`
}

// Stats accumulates per-agent counters across a match.
type Stats struct {
	Total      int              `json:"total"`
	Accepted   int              `json:"accepted"`
	Rejected   int              `json:"rejected"`
	ByCategory map[Category]int `json:"by_category"`
}

func newStats() Stats {
	return Stats{ByCategory: make(map[Category]int)}
}

func (s *Stats) record(accepted int, violations []Violation) {
	s.Accepted += accepted
	s.Rejected += len(violations)
	for _, v := range violations {
		s.ByCategory[v.Category]++
	}
}

// clone returns a copy safe to hand out while the source keeps mutating.
func (s Stats) clone() Stats {
	out := s
	out.ByCategory = make(map[Category]int, len(s.ByCategory))
	for k, v := range s.ByCategory {
		out.ByCategory[k] = v
	}
	return out
}
