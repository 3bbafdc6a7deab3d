package memory

import (
	"context"
	"sync"

	"github.com/headonpro/tabellen-service/internal/domain/club"
)

type ClubRepository struct {
	mu       sync.RWMutex
	byID     map[int64]club.Club
	byLeague map[int64][]int64
}

func NewClubRepository(clubs []club.Club) *ClubRepository {
	repo := &ClubRepository{
		byID:     make(map[int64]club.Club, len(clubs)),
		byLeague: make(map[int64][]int64),
	}
	for _, item := range clubs {
		repo.byID[item.ID] = item
	}
	return repo
}

// AssignLeague registers a club as member of a league for ListByLeague.
func (r *ClubRepository) AssignLeague(clubID, leagueID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byLeague[leagueID] = append(r.byLeague[leagueID], clubID)
}

func (r *ClubRepository) ListByIDs(_ context.Context, ids []int64) ([]club.Club, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]club.Club, 0, len(ids))
	for _, id := range ids {
		if item, ok := r.byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *ClubRepository) ListByLeague(_ context.Context, leagueID int64) ([]club.Club, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byLeague[leagueID]
	out := make([]club.Club, 0, len(ids))
	for _, id := range ids {
		if item, ok := r.byID[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *ClubRepository) GetByID(_ context.Context, id int64) (club.Club, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.byID[id]
	return item, ok, nil
}
