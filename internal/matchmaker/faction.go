package matchmaker

import "github.com/jediswimmer/ironcurtain-sub000/internal/model"

// assignFactionsLocked resolves the faction for each side of a pairing.
//
//   - Both preferences concrete and different: each gets what they asked for.
//   - Exactly one concrete: that side gets its preference, the other the
//     complement.
//   - Both "any" or both wanting the same side: A's faction-history ring
//     decides. Three identical recent entries force the complement;
//     otherwise A gets the side less represented in its history, tie-broken
//     randomly. B gets the complement.
func (m *Matchmaker) assignFactionsLocked(a, b *model.QueueEntry) (model.Faction, model.Faction) {
	prefA, prefB := a.Preference, b.Preference

	if prefA.Concrete() && prefB.Concrete() && prefA != prefB {
		return prefA, prefB
	}
	if prefA.Concrete() && !prefB.Concrete() {
		return prefA, prefA.Opposite()
	}
	if prefB.Concrete() && !prefA.Concrete() {
		return prefB.Opposite(), prefB
	}

	fa := m.rotateLocked(a.AgentID)
	return fa, fa.Opposite()
}

// rotateLocked applies the rotation policy against agentID's history ring.
func (m *Matchmaker) rotateLocked(agentID string) model.Faction {
	hist := m.history[agentID]

	if f, ok := lastThreeIdentical(hist); ok {
		return f.Opposite()
	}

	countA, countB := 0, 0
	for _, f := range hist {
		switch f {
		case model.FactionA:
			countA++
		case model.FactionB:
			countB++
		}
	}
	switch {
	case countA < countB:
		return model.FactionA
	case countB < countA:
		return model.FactionB
	default:
		if m.pick(2) == 0 {
			return model.FactionA
		}
		return model.FactionB
	}
}

func lastThreeIdentical(hist []model.Faction) (model.Faction, bool) {
	n := len(hist)
	if n < 3 {
		return "", false
	}
	f := hist[n-1]
	if hist[n-2] == f && hist[n-3] == f {
		return f, true
	}
	return "", false
}
