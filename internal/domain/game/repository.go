package game

import "context"

type Repository interface {
	ListBySeason(ctx context.Context, leagueID, seasonID int64) ([]Game, error)
	ListFinished(ctx context.Context, leagueID, seasonID int64) ([]Game, error)
	GetByID(ctx context.Context, gameID string) (Game, bool, error)
	UpsertGames(ctx context.Context, items []Game) error
}
