package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/headonpro/tabellen-service/internal/domain/club"
	qb "github.com/headonpro/tabellen-service/internal/platform/querybuilder"
)

type ClubRepository struct {
	db *sqlx.DB
}

func NewClubRepository(db *sqlx.DB) *ClubRepository {
	return &ClubRepository{db: db}
}

func (r *ClubRepository) ListByIDs(ctx context.Context, ids []int64) ([]club.Club, error) {
	return listClubsByIDs(ctx, r.db, ids)
}

func (r *ClubRepository) ListByLeague(ctx context.Context, leagueID int64) ([]club.Club, error) {
	query, args, err := qb.Select("*").From("clubs").
		Where(
			qb.Eq("league_id", leagueID),
			qb.IsNull("deleted_at"),
		).
		OrderBy("name", "id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select clubs by league query: %w", err)
	}

	var rows []clubTableModel
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select clubs by league: %w", err)
	}

	return clubsFromTableRows(rows), nil
}

func (r *ClubRepository) GetByID(ctx context.Context, id int64) (club.Club, bool, error) {
	query, args, err := qb.Select("*").From("clubs").
		Where(
			qb.Eq("id", id),
			qb.IsNull("deleted_at"),
		).
		ToSQL()
	if err != nil {
		return club.Club{}, false, fmt.Errorf("build select club by id query: %w", err)
	}

	var row clubTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return club.Club{}, false, nil
		}
		return club.Club{}, false, fmt.Errorf("select club by id: %w", err)
	}

	return club.Club{ID: row.ID, Name: row.Name, Active: row.Active}, true, nil
}

func listClubsByIDs(ctx context.Context, q sqlx.QueryerContext, ids []int64) ([]club.Club, error) {
	if len(ids) == 0 {
		return []club.Club{}, nil
	}

	values := make([]any, 0, len(ids))
	for _, id := range ids {
		values = append(values, id)
	}

	query, args, err := qb.Select("*").From("clubs").
		Where(
			qb.In("id", values),
			qb.IsNull("deleted_at"),
		).
		OrderBy("id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select clubs by ids query: %w", err)
	}

	var rows []clubTableModel
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select clubs by ids: %w", err)
	}

	return clubsFromTableRows(rows), nil
}

func clubsFromTableRows(rows []clubTableModel) []club.Club {
	out := make([]club.Club, 0, len(rows))
	for _, row := range rows {
		out = append(out, club.Club{ID: row.ID, Name: row.Name, Active: row.Active})
	}
	return out
}
