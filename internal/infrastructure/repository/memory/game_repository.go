package memory

import (
	"context"
	"sync"

	"github.com/headonpro/tabellen-service/internal/domain/game"
)

type pairKey struct {
	leagueID int64
	seasonID int64
}

type GameRepository struct {
	mu     sync.RWMutex
	byPair map[pairKey][]game.Game
	byID   map[string]game.Game
}

func NewGameRepository(games []game.Game) *GameRepository {
	repo := &GameRepository{
		byPair: make(map[pairKey][]game.Game),
		byID:   make(map[string]game.Game),
	}
	_ = repo.UpsertGames(context.Background(), games)
	return repo
}

func (r *GameRepository) ListBySeason(_ context.Context, leagueID, seasonID int64) ([]game.Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := r.byPair[pairKey{leagueID, seasonID}]
	out := make([]game.Game, 0, len(items))
	out = append(out, items...)
	return out, nil
}

func (r *GameRepository) ListFinished(ctx context.Context, leagueID, seasonID int64) ([]game.Game, error) {
	items, err := r.ListBySeason(ctx, leagueID, seasonID)
	if err != nil {
		return nil, err
	}

	out := make([]game.Game, 0, len(items))
	for _, item := range items {
		if item.IsFinished() {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *GameRepository) GetByID(_ context.Context, gameID string) (game.Game, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.byID[gameID]
	return item, ok, nil
}

func (r *GameRepository) UpsertGames(_ context.Context, items []game.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, item := range items {
		key := pairKey{item.LeagueID, item.SeasonID}
		if existing, ok := r.byID[item.ID]; ok {
			oldKey := pairKey{existing.LeagueID, existing.SeasonID}
			r.byPair[oldKey] = removeGame(r.byPair[oldKey], item.ID)
		}
		r.byID[item.ID] = item
		r.byPair[key] = append(r.byPair[key], item)
	}
	return nil
}

func removeGame(items []game.Game, gameID string) []game.Game {
	out := items[:0]
	for _, item := range items {
		if item.ID != gameID {
			out = append(out, item)
		}
	}
	return out
}
