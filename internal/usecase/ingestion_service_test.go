package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/domain/job"
	"github.com/headonpro/tabellen-service/internal/infrastructure/repository/memory"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

func newIngestionFixture(t *testing.T) (*IngestionService, *queueFixture, *memory.GameRepository) {
	t.Helper()

	queueFx := newQueueFixture(t, QueueConfig{
		Concurrency:          1,
		MaxRetries:           1,
		AutomaticCalculation: true,
	}, nil)

	clubs := memory.NewClubRepository([]club.Club{
		{ID: 1, Name: "FC Eichel", Active: true},
		{ID: 2, Name: "TSV Kreuzwertheim", Active: true},
		{ID: 3, Name: "SV Ruine", Active: false},
	})
	games := memory.NewGameRepository(nil)
	svc := NewIngestionService(games, clubs, queueFx.queue, logging.NewNop())
	return svc, queueFx, games
}

func TestIngestion_UpsertEnqueuesCalculation(t *testing.T) {
	t.Parallel()

	svc, queueFx, games := newIngestionFixture(t)
	ctx := context.Background()

	result, err := svc.UpsertResults(ctx, []game.Game{
		finishedGame("g1", 1, 1, 2, 3, 1),
		finishedGame("g2", 2, 2, 1, 0, 0),
	})
	if err != nil {
		t.Fatalf("upsert results: %v", err)
	}

	if result.UpsertedGames != 2 {
		t.Fatalf("upserted = %d, want 2", result.UpsertedGames)
	}
	// both games target the same pair, so they coalesce into one job
	if len(result.QueuedJobs) != 1 {
		t.Fatalf("queued jobs = %v, want exactly 1", result.QueuedJobs)
	}

	waitForStatus(t, queueFx.queue, result.QueuedJobs[0], job.StatusCompleted)

	if _, ok, _ := games.GetByID(ctx, "g1"); !ok {
		t.Fatal("game g1 not stored")
	}
}

func TestIngestion_RejectsUnknownAndInactiveClubs(t *testing.T) {
	t.Parallel()

	svc, _, _ := newIngestionFixture(t)
	ctx := context.Background()

	unknown := finishedGame("g1", 1, 1, 9, 3, 1)
	if _, err := svc.UpsertResults(ctx, []game.Game{unknown}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown club error = %v, want ErrInvalidInput", err)
	}

	inactive := finishedGame("g2", 1, 1, 3, 2, 2)
	if _, err := svc.UpsertResults(ctx, []game.Game{inactive}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("inactive club error = %v, want ErrInvalidInput", err)
	}
}

func TestIngestion_RejectsIllegalStatusTransition(t *testing.T) {
	t.Parallel()

	svc, queueFx, _ := newIngestionFixture(t)
	ctx := context.Background()

	first, err := svc.UpsertResults(ctx, []game.Game{finishedGame("g1", 1, 1, 2, 3, 1)})
	if err != nil {
		t.Fatalf("initial upsert: %v", err)
	}
	waitForStatus(t, queueFx.queue, first.QueuedJobs[0], job.StatusCompleted)

	// FINISHED is terminal
	reverted := finishedGame("g1", 1, 1, 2, 3, 1)
	reverted.Status = game.StatusScheduled
	reverted.HomeGoals = nil
	reverted.AwayGoals = nil
	if _, err := svc.UpsertResults(ctx, []game.Game{reverted}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("illegal transition error = %v, want ErrInvalidInput", err)
	}
}
