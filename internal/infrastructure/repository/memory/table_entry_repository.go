package memory

import (
	"context"
	"sync"

	"github.com/headonpro/tabellen-service/internal/domain/club"
	"github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
)

// TableEntryRepository mirrors the postgres entry store, including the
// recalculate used by the calculation engine. The reads and the final replace
// each take the mutex on their own; a recalculate is not isolated from
// concurrent writes to the same pair.
type TableEntryRepository struct {
	mu     sync.RWMutex
	byPair map[pairKey][]tableentry.TableEntry

	games *GameRepository
	clubs *ClubRepository
}

func NewTableEntryRepository(games *GameRepository, clubs *ClubRepository) *TableEntryRepository {
	return &TableEntryRepository{
		byPair: make(map[pairKey][]tableentry.TableEntry),
		games:  games,
		clubs:  clubs,
	}
}

func (r *TableEntryRepository) ListBySeason(_ context.Context, leagueID, seasonID int64) ([]tableentry.TableEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := r.byPair[pairKey{leagueID, seasonID}]
	out := make([]tableentry.TableEntry, 0, len(items))
	out = append(out, items...)
	return out, nil
}

func (r *TableEntryRepository) ReplaceBySeason(_ context.Context, leagueID, seasonID int64, entries []tableentry.TableEntry) error {
	for _, item := range entries {
		if err := item.Validate(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := make([]tableentry.TableEntry, len(entries))
	copy(stored, entries)
	r.byPair[pairKey{leagueID, seasonID}] = stored
	return nil
}

func (r *TableEntryRepository) RecalculateSeason(
	ctx context.Context,
	leagueID, seasonID int64,
	compute func(games []game.Game, existing []tableentry.TableEntry, clubs []club.Club) ([]tableentry.TableEntry, error),
) (int, error) {
	finished, err := r.games.ListFinished(ctx, leagueID, seasonID)
	if err != nil {
		return 0, err
	}
	existing, err := r.ListBySeason(ctx, leagueID, seasonID)
	if err != nil {
		return 0, err
	}

	ids := make([]int64, 0, len(finished)*2)
	seen := make(map[int64]struct{}, len(finished)*2)
	for _, item := range finished {
		for _, id := range []int64{item.HomeClubID, item.AwayClubID} {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	participants, err := r.clubs.ListByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	entries, err := compute(finished, existing, participants)
	if err != nil {
		return 0, err
	}

	if err := r.ReplaceBySeason(ctx, leagueID, seasonID, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
