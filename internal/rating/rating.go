// Package rating implements the Elo update applied on match completion.
package rating

import (
	"math"

	"github.com/jediswimmer/ironcurtain-sub000/internal/model"
)

// Floor is the absolute rating floor; a loss never drops an agent below it.
const Floor = 100

// KFactor returns the K applicable at an agent's games-played count,
// evaluated before the match being rated.
func KFactor(gamesPlayed int) int {
	switch {
	case gamesPlayed < 10:
		return 40
	case gamesPlayed < 30:
		return 32
	default:
		return 20
	}
}

// Expected returns the expected score of a player rated r against an
// opponent rated opp.
func Expected(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// Change holds the signed rating deltas for one rated match.
type Change struct {
	WinnerDelta int
	LoserDelta  int
}

// Compute derives the rating deltas for a match between winner and loser.
// For a draw the "winner"/"loser" labels are arbitrary; both sides score 0.5.
// Games-played counts are taken from before this match.
func Compute(winnerRating, loserRating, winnerGames, loserGames int, draw bool) Change {
	ew := Expected(winnerRating, loserRating)
	el := 1 - ew

	sw, sl := 1.0, 0.0
	if draw {
		sw, sl = 0.5, 0.5
	}

	return Change{
		WinnerDelta: int(math.Round(float64(KFactor(winnerGames)) * (sw - ew))),
		LoserDelta:  int(math.Round(float64(KFactor(loserGames)) * (sl - el))),
	}
}

// Apply mutates both agent records for a completed match: rating (floored at
// Floor), peak, win/loss/draw counters, games played, streak, and the
// faction-history ring. winnerFaction/loserFaction are the sides actually
// played. Returns the computed change.
func Apply(winner, loser *model.Agent, winnerFaction, loserFaction model.Faction, draw bool) Change {
	ch := Compute(winner.Rating, loser.Rating, winner.GamesPlayed, loser.GamesPlayed, draw)

	winner.Rating += ch.WinnerDelta
	loser.Rating += ch.LoserDelta
	if winner.Rating < Floor {
		winner.Rating = Floor
	}
	if loser.Rating < Floor {
		loser.Rating = Floor
	}
	if winner.Rating > winner.PeakRating {
		winner.PeakRating = winner.Rating
	}
	if loser.Rating > loser.PeakRating {
		loser.PeakRating = loser.Rating
	}

	winner.GamesPlayed++
	loser.GamesPlayed++

	if draw {
		winner.Draws++
		loser.Draws++
		// A draw neither increments nor resets the streak.
	} else {
		winner.Wins++
		loser.Losses++
		winner.Streak = bumpStreak(winner.Streak, +1)
		loser.Streak = bumpStreak(loser.Streak, -1)
	}

	winner.AppendFaction(winnerFaction)
	loser.AppendFaction(loserFaction)
	return ch
}

// bumpStreak increments a same-direction streak and resets to ±1 on reversal.
func bumpStreak(streak, direction int) int {
	if direction > 0 {
		if streak > 0 {
			return streak + 1
		}
		return 1
	}
	if streak < 0 {
		return streak - 1
	}
	return -1
}
