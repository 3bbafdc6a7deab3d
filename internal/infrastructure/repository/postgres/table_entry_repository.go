package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
	qb "github.com/headonpro/tabellen-service/internal/platform/querybuilder"
)

type TableEntryRepository struct {
	db *sqlx.DB
}

func NewTableEntryRepository(db *sqlx.DB) *TableEntryRepository {
	return &TableEntryRepository{db: db}
}

func (r *TableEntryRepository) ListBySeason(ctx context.Context, leagueID, seasonID int64) ([]tableentry.TableEntry, error) {
	return listEntries(ctx, r.db, leagueID, seasonID)
}

// ReplaceBySeason deletes every current row of the pair and inserts the given
// entries, all inside one transaction.
func (r *TableEntryRepository) ReplaceBySeason(ctx context.Context, leagueID, seasonID int64, entries []tableentry.TableEntry) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx replace table entries: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := deleteEntries(ctx, tx, leagueID, seasonID); err != nil {
		return err
	}
	if err := insertEntries(ctx, tx, leagueID, seasonID, entries); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace table entries tx: %w", err)
	}
	return nil
}

func listEntries(ctx context.Context, q sqlx.QueryerContext, leagueID, seasonID int64) ([]tableentry.TableEntry, error) {
	query, args, err := qb.Select("*").From("table_entries").
		Where(
			qb.Eq("league_id", leagueID),
			qb.Eq("season_id", seasonID),
		).
		OrderBy("rank", "points DESC", "goal_difference DESC", "id").
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list table entries query: %w", err)
	}

	var rows []tableEntryTableModel
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list table entries: %w", err)
	}

	out := make([]tableentry.TableEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, entryFromTableRow(row))
	}
	return out, nil
}

func deleteEntries(ctx context.Context, tx *sqlx.Tx, leagueID, seasonID int64) error {
	query, args, err := qb.DeleteFrom("table_entries").
		Where(
			qb.Eq("league_id", leagueID),
			qb.Eq("season_id", seasonID),
		).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build delete table entries query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete table entries league=%d season=%d: %w", leagueID, seasonID, err)
	}
	return nil
}

func insertEntries(ctx context.Context, tx *sqlx.Tx, leagueID, seasonID int64, entries []tableentry.TableEntry) error {
	for _, item := range entries {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("insert table entry: %w", err)
		}

		lastUpdated := item.LastUpdated
		if lastUpdated.IsZero() {
			lastUpdated = time.Now().UTC()
		}
		insertModel := tableEntryInsertModel{
			LeagueID:       leagueID,
			SeasonID:       seasonID,
			ClubID:         item.ClubID,
			ClubName:       item.ClubName,
			Rank:           item.Rank,
			Played:         item.Played,
			Wins:           item.Wins,
			Draws:          item.Draws,
			Losses:         item.Losses,
			GoalsFor:       item.GoalsFor,
			GoalsAgainst:   item.GoalsAgainst,
			GoalDifference: item.GoalDifference,
			Points:         item.Points,
			LastUpdated:    lastUpdated,
			AutoCalculated: item.AutoCalculated,
			Source:         string(item.Source),
		}
		query, args, err := qb.InsertModel("table_entries", insertModel, `ON CONFLICT (league_id, season_id, club_id)
DO UPDATE SET
    club_name = EXCLUDED.club_name,
    rank = EXCLUDED.rank,
    played = EXCLUDED.played,
    wins = EXCLUDED.wins,
    draws = EXCLUDED.draws,
    losses = EXCLUDED.losses,
    goals_for = EXCLUDED.goals_for,
    goals_against = EXCLUDED.goals_against,
    goal_difference = EXCLUDED.goal_difference,
    points = EXCLUDED.points,
    last_updated = EXCLUDED.last_updated,
    auto_calculated = EXCLUDED.auto_calculated,
    source = EXCLUDED.source`)
		if err != nil {
			return fmt.Errorf("build upsert table entry query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert table entry club=%d: %w", item.ClubID, err)
		}
	}
	return nil
}

func entryFromTableRow(row tableEntryTableModel) tableentry.TableEntry {
	return tableentry.TableEntry{
		LeagueID:       row.LeagueID,
		SeasonID:       row.SeasonID,
		ClubID:         row.ClubID,
		ClubName:       row.ClubName,
		Rank:           row.Rank,
		Played:         row.Played,
		Wins:           row.Wins,
		Draws:          row.Draws,
		Losses:         row.Losses,
		GoalsFor:       row.GoalsFor,
		GoalsAgainst:   row.GoalsAgainst,
		GoalDifference: row.GoalDifference,
		Points:         row.Points,
		LastUpdated:    row.LastUpdated,
		AutoCalculated: row.AutoCalculated,
		Source:         tableentry.Source(row.Source),
	}
}
