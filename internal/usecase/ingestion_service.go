package usecase

import (
	"context"
	"fmt"

	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/domain/job"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

// IngestResult reports what one batch submission did.
type IngestResult struct {
	UpsertedGames int      `json:"upserted_games"`
	QueuedJobs    []string `json:"queued_jobs"`
}

// IngestionService accepts game results, validates them against the club
// registry and the status transition rules, persists them, and enqueues a
// calculation for every touched league-season.
type IngestionService struct {
	games  game.Repository
	clubs  club.Repository
	queue  *QueueService
	logger *logging.Logger
}

func NewIngestionService(games game.Repository, clubs club.Repository, queue *QueueService, logger *logging.Logger) *IngestionService {
	if logger == nil {
		logger = logging.Default()
	}

	return &IngestionService{
		games:  games,
		clubs:  clubs,
		queue:  queue,
		logger: logger,
	}
}

// UpsertResults writes the given games and schedules recalculations. The whole
// batch is validated before anything is written.
func (s *IngestionService) UpsertResults(ctx context.Context, items []game.Game) (IngestResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.IngestionService.UpsertResults")
	defer span.End()

	if len(items) == 0 {
		return IngestResult{}, fmt.Errorf("%w: at least one game is required", ErrInvalidInput)
	}

	for _, item := range items {
		if err := item.Validate(); err != nil {
			return IngestResult{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
		}
		if err := s.checkClubs(ctx, item); err != nil {
			return IngestResult{}, err
		}
		if err := s.checkTransition(ctx, item); err != nil {
			return IngestResult{}, err
		}
	}

	if err := s.games.UpsertGames(ctx, items); err != nil {
		return IngestResult{}, fmt.Errorf("upsert games: %w", err)
	}

	result := IngestResult{UpsertedGames: len(items)}
	queued := make(map[string]struct{})
	for _, item := range items {
		key := fmt.Sprintf("%d/%d", item.LeagueID, item.SeasonID)
		if _, done := queued[key]; done {
			continue
		}
		queued[key] = struct{}{}

		jobID, err := s.queue.EnqueueCalculation(ctx, item.LeagueID, item.SeasonID, EnqueueOptions{
			Trigger:     string(job.TriggerGameResult),
			Description: fmt.Sprintf("game result %s", item.ID),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "enqueue after game result failed",
				"league_id", item.LeagueID, "season_id", item.SeasonID, "error", err)
			continue
		}
		result.QueuedJobs = append(result.QueuedJobs, jobID)
	}

	return result, nil
}

func (s *IngestionService) checkClubs(ctx context.Context, item game.Game) error {
	for _, clubID := range []int64{item.HomeClubID, item.AwayClubID} {
		member, exists, err := s.clubs.GetByID(ctx, clubID)
		if err != nil {
			return fmt.Errorf("check club %d: %w", clubID, err)
		}
		if !exists {
			return fmt.Errorf("%w: club %d does not exist", ErrInvalidInput, clubID)
		}
		if !member.Active {
			return fmt.Errorf("%w: club %d is not active", ErrInvalidInput, clubID)
		}
	}
	return nil
}

func (s *IngestionService) checkTransition(ctx context.Context, item game.Game) error {
	existing, exists, err := s.games.GetByID(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("read game %s: %w", item.ID, err)
	}
	if !exists || existing.Status == item.Status {
		return nil
	}
	if !game.CanTransition(existing.Status, item.Status) {
		return fmt.Errorf("%w: game %s cannot change from %s to %s", ErrInvalidInput, item.ID, existing.Status, item.Status)
	}
	return nil
}
