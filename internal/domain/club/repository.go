package club

import "context"

type Repository interface {
	ListByIDs(ctx context.Context, ids []int64) ([]Club, error)
	ListByLeague(ctx context.Context, leagueID int64) ([]Club, error)
	GetByID(ctx context.Context, id int64) (Club, bool, error)
}
