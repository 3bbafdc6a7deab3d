package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/headonpro/tabellen-service/internal/apperrors"
	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
	"github.com/headonpro/tabellen-service/internal/infrastructure/repository/memory"
	"github.com/headonpro/tabellen-service/internal/platform/cache"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

func goals(n int) *int { return &n }

func finishedGame(id string, matchday int, home, away int64, homeGoals, awayGoals int) game.Game {
	return game.Game{
		ID:         id,
		LeagueID:   1,
		SeasonID:   1,
		Matchday:   matchday,
		Date:       time.Date(2025, 8, 9, 15, 30, 0, 0, time.UTC),
		HomeClubID: home,
		AwayClubID: away,
		HomeGoals:  goals(homeGoals),
		AwayGoals:  goals(awayGoals),
		Status:     game.StatusFinished,
	}
}

func newCalcFixture(clubs []club.Club, games []game.Game) (*CalculationService, *memory.TableEntryRepository, *cache.Store) {
	gameRepo := memory.NewGameRepository(games)
	clubRepo := memory.NewClubRepository(clubs)
	entryRepo := memory.NewTableEntryRepository(gameRepo, clubRepo)
	cacheStore := cache.NewStore(time.Minute)
	svc := NewCalculationService(entryRepo, cacheStore, CalculationConfig{MaxTeamsPerLeague: 20}, logging.NewNop())
	return svc, entryRepo, cacheStore
}

func TestRecalculate_TwoClubsOneGame(t *testing.T) {
	t.Parallel()

	clubs := []club.Club{
		{ID: 1, Name: "FC Eichel", Active: true},
		{ID: 2, Name: "TSV Kreuzwertheim", Active: true},
	}
	svc, entryRepo, _ := newCalcFixture(clubs, []game.Game{
		finishedGame("g1", 1, 1, 2, 3, 1),
	})

	written, err := svc.Recalculate(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if written != 2 {
		t.Fatalf("written = %d, want 2", written)
	}

	entries, err := entryRepo.ListBySeason(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}

	winner := entries[0]
	loser := entries[1]
	if winner.ClubID != 1 || winner.Rank != 1 || winner.Played != 1 || winner.Wins != 1 ||
		winner.Draws != 0 || winner.Losses != 0 || winner.GoalsFor != 3 || winner.GoalsAgainst != 1 ||
		winner.GoalDifference != 2 || winner.Points != 3 {
		t.Fatalf("winner row wrong: %+v", winner)
	}
	if loser.ClubID != 2 || loser.Rank != 2 || loser.Played != 1 || loser.Wins != 0 ||
		loser.Losses != 1 || loser.GoalsFor != 1 || loser.GoalsAgainst != 3 ||
		loser.GoalDifference != -2 || loser.Points != 0 {
		t.Fatalf("loser row wrong: %+v", loser)
	}
	if !winner.AutoCalculated || winner.Source != tableentry.SourceAutomatic {
		t.Fatalf("provenance wrong: %+v", winner)
	}
}

func TestRecalculate_TieBrokenByGoalDifferenceThenGoalsFor(t *testing.T) {
	t.Parallel()

	clubs := []club.Club{
		{ID: 1, Name: "A", Active: true},
		{ID: 2, Name: "B", Active: true},
		{ID: 3, Name: "C", Active: true},
	}
	// A and C both win once against B; C's larger margin decides the
	// goal-difference tie-break.
	svc, entryRepo, _ := newCalcFixture(clubs, []game.Game{
		finishedGame("g1", 1, 1, 2, 1, 0),
		finishedGame("g2", 2, 3, 2, 5, 0),
	})

	if _, err := svc.Recalculate(context.Background(), 1, 1); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	entries, _ := entryRepo.ListBySeason(context.Background(), 1, 1)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].ClubName != "C" || entries[1].ClubName != "A" || entries[2].ClubName != "B" {
		t.Fatalf("order = %s, %s, %s; want C, A, B",
			entries[0].ClubName, entries[1].ClubName, entries[2].ClubName)
	}
	for idx, item := range entries {
		if item.Rank != idx+1 {
			t.Fatalf("rank at %d = %d", idx, item.Rank)
		}
		if item.Points != 3*item.Wins+item.Draws {
			t.Fatalf("points invariant broken: %+v", item)
		}
		if item.Played != item.Wins+item.Draws+item.Losses {
			t.Fatalf("played invariant broken: %+v", item)
		}
	}
}

func TestRecalculate_EqualGoalDifferenceFallsBackToGoalsFor(t *testing.T) {
	t.Parallel()

	clubs := []club.Club{
		{ID: 1, Name: "A", Active: true},
		{ID: 2, Name: "B", Active: true},
		{ID: 3, Name: "C", Active: true},
	}
	// A and C both win by one goal; C scored more overall.
	svc, entryRepo, _ := newCalcFixture(clubs, []game.Game{
		finishedGame("g1", 1, 1, 2, 2, 1),
		finishedGame("g2", 2, 3, 2, 3, 2),
	})

	if _, err := svc.Recalculate(context.Background(), 1, 1); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	entries, _ := entryRepo.ListBySeason(context.Background(), 1, 1)
	if entries[0].ClubName != "C" || entries[1].ClubName != "A" {
		t.Fatalf("goals-for tie-break failed: %s before %s", entries[0].ClubName, entries[1].ClubName)
	}
}

func TestRecalculate_OnlyFinishedGamesCount(t *testing.T) {
	t.Parallel()

	clubs := []club.Club{
		{ID: 1, Name: "A", Active: true},
		{ID: 2, Name: "B", Active: true},
	}
	scheduled := game.Game{
		ID: "g2", LeagueID: 1, SeasonID: 1, Matchday: 2,
		HomeClubID: 1, AwayClubID: 2, Status: game.StatusScheduled,
	}
	postponed := game.Game{
		ID: "g3", LeagueID: 1, SeasonID: 1, Matchday: 3,
		HomeClubID: 2, AwayClubID: 1, Status: game.StatusPostponed,
	}
	svc, entryRepo, _ := newCalcFixture(clubs, []game.Game{
		finishedGame("g1", 1, 1, 2, 1, 0),
		scheduled,
		postponed,
	})

	if _, err := svc.Recalculate(context.Background(), 1, 1); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	entries, _ := entryRepo.ListBySeason(context.Background(), 1, 1)
	for _, item := range entries {
		if item.Played > 1 {
			t.Fatalf("non-finished game counted: %+v", item)
		}
	}
}

func TestRecalculate_MissingClubIsDataInconsistency(t *testing.T) {
	t.Parallel()

	clubs := []club.Club{{ID: 1, Name: "A", Active: true}} // club 2 missing
	svc, _, _ := newCalcFixture(clubs, []game.Game{
		finishedGame("g1", 1, 1, 2, 1, 0),
	})

	_, err := svc.Recalculate(context.Background(), 1, 1)
	if err == nil {
		t.Fatal("expected data inconsistency error")
	}

	classified, ok := apperrors.AsClassified(err)
	if !ok {
		t.Fatalf("error not classified: %v", err)
	}
	if classified.Type != apperrors.TypeCalculationError || classified.Code != apperrors.CodeDataInconsistency {
		t.Fatalf("classification = %s/%s", classified.Type, classified.Code)
	}
	if classified.Retryable {
		t.Fatal("data inconsistency must not be retryable")
	}
}

func TestRecalculate_MaxTeamsGuard(t *testing.T) {
	t.Parallel()

	clubs := make([]club.Club, 0, 4)
	for id := int64(1); id <= 4; id++ {
		clubs = append(clubs, club.Club{ID: id, Name: string(rune('A' + id - 1)), Active: true})
	}
	games := []game.Game{
		finishedGame("g1", 1, 1, 2, 1, 0),
		finishedGame("g2", 1, 3, 4, 2, 2),
	}

	gameRepo := memory.NewGameRepository(games)
	clubRepo := memory.NewClubRepository(clubs)
	entryRepo := memory.NewTableEntryRepository(gameRepo, clubRepo)
	svc := NewCalculationService(entryRepo, nil, CalculationConfig{MaxTeamsPerLeague: 3}, logging.NewNop())

	_, err := svc.Recalculate(context.Background(), 1, 1)
	if err == nil {
		t.Fatal("expected max teams guard to fire")
	}
	classified, _ := apperrors.AsClassified(err)
	if classified.Type != apperrors.TypeResourceExhausted {
		t.Fatalf("classification = %s, want RESOURCE_EXHAUSTED", classified.Type)
	}
}

func TestRecalculate_InvalidatesCacheRegions(t *testing.T) {
	t.Parallel()

	clubs := []club.Club{
		{ID: 1, Name: "A", Active: true},
		{ID: 2, Name: "B", Active: true},
	}
	svc, _, cacheStore := newCalcFixture(clubs, []game.Game{
		finishedGame("g1", 1, 1, 2, 2, 0),
	})

	ctx := context.Background()
	cacheStore.Set(ctx, cache.TableKey(1, 1), "stale-table")
	cacheStore.Set(ctx, cache.TeamStatsKey(1, 1, 1), "stale-stats")
	cacheStore.Set(ctx, cache.TableKey(2, 1), "other-league")

	if _, err := svc.Recalculate(ctx, 1, 1); err != nil {
		t.Fatalf("recalculate: %v", err)
	}

	if _, ok := cacheStore.Get(ctx, cache.TableKey(1, 1)); ok {
		t.Fatal("table cache not invalidated")
	}
	if _, ok := cacheStore.Get(ctx, cache.TeamStatsKey(1, 1, 1)); ok {
		t.Fatal("team stats cache not invalidated")
	}
	if _, ok := cacheStore.Get(ctx, cache.TableKey(2, 1)); !ok {
		t.Fatal("unrelated league cache must survive")
	}
}

func TestRecalculate_RejectsNonPositiveIDs(t *testing.T) {
	t.Parallel()

	svc, _, _ := newCalcFixture(nil, nil)
	if _, err := svc.Recalculate(context.Background(), 0, 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
