// Package orders gates every order batch an agent emits: a volume-based rate
// limiter followed by a semantic command validator. Rejections are
// classified, counted, and reflected back to the agent — they are data, not
// errors, and nothing rejected ever reaches the simulator.
package orders

import "time"

// Unlimited marks a cap as absent in a Profile.
const Unlimited = 0

// Profile is a named set of rate-limit ceilings.
type Profile struct {
	Name               string
	MaxAPM             int           // orders per rolling 60 s; Unlimited = no cap
	MaxOrdersPerTick   int           // per-batch cap
	MinOrderSpacing    time.Duration // declared minimum intra-batch spacing
	MaxUnitsPerCommand int           // unit-id list ceiling; Unlimited = no cap
}

var (
	// Competitive is the ladder default.
	Competitive = Profile{
		Name:               "competitive",
		MaxAPM:             600,
		MaxOrdersPerTick:   8,
		MinOrderSpacing:    10 * time.Millisecond,
		MaxUnitsPerCommand: 50,
	}

	// Permissive suits untuned or experimental agents.
	Permissive = Profile{
		Name:               "permissive",
		MaxAPM:             200,
		MaxOrdersPerTick:   3,
		MinOrderSpacing:    50 * time.Millisecond,
		MaxUnitsPerCommand: 12,
	}

	// Unrestricted lifts the APM and unit caps for exhibition matches.
	Unrestricted = Profile{
		Name:               "unrestricted",
		MaxAPM:             Unlimited,
		MaxOrdersPerTick:   100,
		MinOrderSpacing:    0,
		MaxUnitsPerCommand: Unlimited,
	}
)

// ProfileByName resolves a profile name, defaulting to Competitive for
// unknown names.
func ProfileByName(name string) Profile {
	switch name {
	case Permissive.Name:
		return Permissive
	case Unrestricted.Name:
		return Unrestricted
	default:
		return Competitive
	}
}
