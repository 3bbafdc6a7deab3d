package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
)

// CalculationRepository runs a full table recalculation under one transaction:
// read finished games and current entries, hand them to a pure compute
// callback, write the result. Any error rolls the whole calculation back.
type CalculationRepository struct {
	db *sqlx.DB
}

func NewCalculationRepository(db *sqlx.DB) *CalculationRepository {
	return &CalculationRepository{db: db}
}

func (r *CalculationRepository) RecalculateSeason(
	ctx context.Context,
	leagueID, seasonID int64,
	compute func(games []game.Game, existing []tableentry.TableEntry, clubs []club.Club) ([]tableentry.TableEntry, error),
) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx recalculate season: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	games, err := listGames(ctx, tx, leagueID, seasonID, string(game.StatusFinished))
	if err != nil {
		return 0, err
	}
	existing, err := listEntries(ctx, tx, leagueID, seasonID)
	if err != nil {
		return 0, err
	}

	clubIDs := participatingClubIDs(games)
	clubs, err := listClubsByIDs(ctx, tx, clubIDs)
	if err != nil {
		return 0, err
	}

	entries, err := compute(games, existing, clubs)
	if err != nil {
		return 0, err
	}

	if err := deleteEntries(ctx, tx, leagueID, seasonID); err != nil {
		return 0, err
	}
	if err := insertEntries(ctx, tx, leagueID, seasonID, entries); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit recalculate season tx: %w", err)
	}
	return len(entries), nil
}

func participatingClubIDs(games []game.Game) []int64 {
	seen := make(map[int64]struct{}, len(games)*2)
	out := make([]int64, 0, len(games)*2)
	for _, item := range games {
		for _, id := range []int64{item.HomeClubID, item.AwayClubID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
