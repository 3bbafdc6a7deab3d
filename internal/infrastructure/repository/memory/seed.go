package memory

import (
	"time"

	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
)

// SeedClubs is a small development fixture of one league.
func SeedClubs() []club.Club {
	return []club.Club{
		{ID: 1, Name: "SV Viktoria", Active: true},
		{ID: 2, Name: "FC Eichel", Active: true},
		{ID: 3, Name: "TSV Kreuzwertheim", Active: true},
		{ID: 4, Name: "SV Nassig", Active: true},
	}
}

// SeedGames returns the first matchdays of the seeded league-season (1, 1).
func SeedGames() []game.Game {
	goals := func(n int) *int { return &n }
	kickoff := func(matchday int) time.Time {
		return time.Date(2025, 8, 9, 15, 30, 0, 0, time.UTC).AddDate(0, 0, 7*(matchday-1))
	}

	return []game.Game{
		{
			ID: "seed-g1", LeagueID: 1, SeasonID: 1, Matchday: 1, Date: kickoff(1),
			HomeClubID: 1, AwayClubID: 2, HomeGoals: goals(2), AwayGoals: goals(1),
			Status: game.StatusFinished,
		},
		{
			ID: "seed-g2", LeagueID: 1, SeasonID: 1, Matchday: 1, Date: kickoff(1),
			HomeClubID: 3, AwayClubID: 4, HomeGoals: goals(0), AwayGoals: goals(0),
			Status: game.StatusFinished,
		},
		{
			ID: "seed-g3", LeagueID: 1, SeasonID: 1, Matchday: 2, Date: kickoff(2),
			HomeClubID: 4, AwayClubID: 1, HomeGoals: goals(1), AwayGoals: goals(3),
			Status: game.StatusFinished,
		},
		{
			ID: "seed-g4", LeagueID: 1, SeasonID: 1, Matchday: 2, Date: kickoff(2),
			HomeClubID: 2, AwayClubID: 3,
			Status: game.StatusScheduled,
		},
	}
}
