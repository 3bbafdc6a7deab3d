package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/headonpro/tabellen-service/internal/apperrors"
	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
	"github.com/headonpro/tabellen-service/internal/platform/cache"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

// CalculationStore runs one full recalculation of a league-season under a
// single transaction: it reads the finished games, the current entries and the
// participating clubs, hands them to compute, and persists the result.
type CalculationStore interface {
	RecalculateSeason(
		ctx context.Context,
		leagueID, seasonID int64,
		compute func(games []game.Game, existing []tableentry.TableEntry, clubs []club.Club) ([]tableentry.TableEntry, error),
	) (int, error)
}

type CalculationConfig struct {
	Timeout           time.Duration
	MaxTeamsPerLeague int
}

// CalculationService derives the ordered standings table of a league-season
// from its game log.
type CalculationService struct {
	store  CalculationStore
	cache  *cache.Store
	cfg    CalculationConfig
	logger *logging.Logger
	now    func() time.Time
}

func NewCalculationService(store CalculationStore, cacheStore *cache.Store, cfg CalculationConfig, logger *logging.Logger) *CalculationService {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxTeamsPerLeague <= 0 {
		cfg.MaxTeamsPerLeague = 24
	}

	return &CalculationService{
		store:  store,
		cache:  cacheStore,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Recalculate rebuilds the table for one pair and returns the number of
// written entries. On success the table and team-stats cache regions of the
// pair are invalidated.
func (s *CalculationService) Recalculate(ctx context.Context, leagueID, seasonID int64) (int, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.CalculationService.Recalculate")
	defer span.End()

	if leagueID <= 0 || seasonID <= 0 {
		return 0, fmt.Errorf("%w: league and season ids must be positive", ErrInvalidInput)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	started := s.now()
	written, err := s.store.RecalculateSeason(ctx, leagueID, seasonID, func(games []game.Game, existing []tableentry.TableEntry, clubs []club.Club) ([]tableentry.TableEntry, error) {
		return s.compute(leagueID, seasonID, games, existing, clubs)
	})
	if err != nil {
		return 0, fmt.Errorf("recalculate league=%d season=%d: %w", leagueID, seasonID, err)
	}

	s.invalidateCaches(ctx, leagueID, seasonID)
	s.logger.InfoContext(ctx, "table recalculated",
		"league_id", leagueID,
		"season_id", seasonID,
		"entries", written,
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)
	return written, nil
}

// compute is the pure part of the engine: finished games in, ordered entries
// out.
func (s *CalculationService) compute(leagueID, seasonID int64, games []game.Game, existing []tableentry.TableEntry, clubs []club.Club) ([]tableentry.TableEntry, error) {
	clubByID := make(map[int64]club.Club, len(clubs))
	for _, item := range clubs {
		clubByID[item.ID] = item
	}
	existingByClub := make(map[int64]tableentry.TableEntry, len(existing))
	for _, item := range existing {
		existingByClub[item.ClubID] = item
	}

	rowByClub := make(map[int64]*tableentry.TableEntry)
	order := make([]int64, 0, len(clubs))

	ensureRow := func(clubID int64) (*tableentry.TableEntry, error) {
		if row, ok := rowByClub[clubID]; ok {
			return row, nil
		}

		member, ok := clubByID[clubID]
		if !ok {
			return nil, apperrors.New(apperrors.TypeCalculationError, apperrors.CodeDataInconsistency,
				fmt.Sprintf("club %d appears in the game log but does not exist", clubID)).
				WithContext("league_id", leagueID).
				WithContext("season_id", seasonID)
		}

		row := &tableentry.TableEntry{
			LeagueID:       leagueID,
			SeasonID:       seasonID,
			ClubID:         clubID,
			ClubName:       member.Name,
			AutoCalculated: true,
			Source:         tableentry.SourceAutomatic,
		}
		if previous, ok := existingByClub[clubID]; ok && previous.Source != "" {
			row.Source = previous.Source
		}
		rowByClub[clubID] = row
		order = append(order, clubID)
		return row, nil
	}

	for _, match := range games {
		if !match.IsFinished() || match.HomeGoals == nil || match.AwayGoals == nil {
			continue
		}
		if match.HomeClubID == match.AwayClubID {
			return nil, apperrors.New(apperrors.TypeCalculationError, apperrors.CodeDataInconsistency,
				fmt.Sprintf("game %s pairs club %d with itself", match.ID, match.HomeClubID))
		}

		home, err := ensureRow(match.HomeClubID)
		if err != nil {
			return nil, err
		}
		away, err := ensureRow(match.AwayClubID)
		if err != nil {
			return nil, err
		}

		homeGoals := *match.HomeGoals
		awayGoals := *match.AwayGoals

		home.Played++
		away.Played++
		home.GoalsFor += homeGoals
		home.GoalsAgainst += awayGoals
		away.GoalsFor += awayGoals
		away.GoalsAgainst += homeGoals

		switch {
		case homeGoals > awayGoals:
			home.Wins++
			away.Losses++
		case homeGoals < awayGoals:
			away.Wins++
			home.Losses++
		default:
			home.Draws++
			away.Draws++
		}
	}

	if len(order) > s.cfg.MaxTeamsPerLeague {
		return nil, apperrors.New(apperrors.TypeResourceExhausted, apperrors.CodeMaxTeamsExceeded,
			fmt.Sprintf("league %d season %d has %d participating teams, limit exceeded: %d allowed", leagueID, seasonID, len(order), s.cfg.MaxTeamsPerLeague))
	}

	now := s.now().UTC()
	entries := make([]tableentry.TableEntry, 0, len(order))
	for _, clubID := range order {
		row := rowByClub[clubID]
		row.Normalize()
		row.LastUpdated = now
		entries = append(entries, *row)
	}

	tableentry.SortEntries(entries)

	for _, item := range entries {
		if err := item.Validate(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeCalculationError, apperrors.CodeDataInconsistency, err.Error())
		}
	}
	return entries, nil
}

// invalidateCaches drops the table region and the team stats region of the
// pair, one call each.
func (s *CalculationService) invalidateCaches(ctx context.Context, leagueID, seasonID int64) {
	if s.cache == nil {
		return
	}
	s.cache.InvalidatePattern(ctx, cache.TablePattern(leagueID, seasonID))
	s.cache.InvalidatePattern(ctx, cache.TeamStatsPattern(leagueID, seasonID))
}
