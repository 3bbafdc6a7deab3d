package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/headonpro/tabellen-service/internal/domain/game"
	qb "github.com/headonpro/tabellen-service/internal/platform/querybuilder"
)

type GameRepository struct {
	db *sqlx.DB
}

func NewGameRepository(db *sqlx.DB) *GameRepository {
	return &GameRepository{db: db}
}

func (r *GameRepository) ListBySeason(ctx context.Context, leagueID, seasonID int64) ([]game.Game, error) {
	return listGames(ctx, r.db, leagueID, seasonID, "")
}

func (r *GameRepository) ListFinished(ctx context.Context, leagueID, seasonID int64) ([]game.Game, error) {
	return listGames(ctx, r.db, leagueID, seasonID, string(game.StatusFinished))
}

func (r *GameRepository) GetByID(ctx context.Context, gameID string) (game.Game, bool, error) {
	query, args, err := qb.Select("*").From("games").
		Where(
			qb.Eq("public_id", gameID),
			qb.IsNull("deleted_at"),
		).
		ToSQL()
	if err != nil {
		return game.Game{}, false, fmt.Errorf("build select game by id query: %w", err)
	}

	var row gameTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return game.Game{}, false, nil
		}
		return game.Game{}, false, fmt.Errorf("select game by id: %w", err)
	}

	return gameFromTableRow(row), true, nil
}

func (r *GameRepository) UpsertGames(ctx context.Context, items []game.Game) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx upsert games: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("upsert game id=%s: %w", item.ID, err)
		}

		insertModel := gameInsertModel{
			PublicID:   item.ID,
			LeagueID:   item.LeagueID,
			SeasonID:   item.SeasonID,
			Matchday:   item.Matchday,
			PlayedAt:   item.Date,
			HomeClubID: item.HomeClubID,
			AwayClubID: item.AwayClubID,
			HomeGoals:  item.HomeGoals,
			AwayGoals:  item.AwayGoals,
			Status:     string(game.NormalizeStatus(string(item.Status))),
		}
		query, args, err := qb.InsertModel("games", insertModel, `ON CONFLICT (public_id)
DO UPDATE SET
    league_id = EXCLUDED.league_id,
    season_id = EXCLUDED.season_id,
    matchday = EXCLUDED.matchday,
    played_at = EXCLUDED.played_at,
    home_club_id = EXCLUDED.home_club_id,
    away_club_id = EXCLUDED.away_club_id,
    home_goals = EXCLUDED.home_goals,
    away_goals = EXCLUDED.away_goals,
    status = EXCLUDED.status,
    updated_at = NOW(),
    deleted_at = NULL`)
		if err != nil {
			return fmt.Errorf("build upsert game query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert game id=%s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert games tx: %w", err)
	}
	return nil
}

func listGames(ctx context.Context, q sqlx.QueryerContext, leagueID, seasonID int64, status string) ([]game.Game, error) {
	conditions := []qb.Condition{
		qb.Eq("league_id", leagueID),
		qb.Eq("season_id", seasonID),
		qb.IsNull("deleted_at"),
	}
	if status != "" {
		conditions = append(conditions, qb.Eq("status", status))
	}

	query, args, err := qb.Select("*").From("games").
		Where(conditions...).
		OrderBy("matchday", "played_at", "id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select games query: %w", err)
	}

	var rows []gameTableModel
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}

	out := make([]game.Game, 0, len(rows))
	for _, row := range rows {
		out = append(out, gameFromTableRow(row))
	}
	return out, nil
}

func gameFromTableRow(row gameTableModel) game.Game {
	return game.Game{
		ID:         row.PublicID,
		LeagueID:   row.LeagueID,
		SeasonID:   row.SeasonID,
		Matchday:   row.Matchday,
		Date:       row.PlayedAt,
		HomeClubID: row.HomeClubID,
		AwayClubID: row.AwayClubID,
		HomeGoals:  nullInt64ToIntPtr(row.HomeGoals),
		AwayGoals:  nullInt64ToIntPtr(row.AwayGoals),
		Status:     game.NormalizeStatus(row.Status),
	}
}
