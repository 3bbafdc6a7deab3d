package tableentry

import "context"

type Repository interface {
	ListBySeason(ctx context.Context, leagueID, seasonID int64) ([]TableEntry, error)
	// ReplaceBySeason deletes the current rows for the pair and inserts the given
	// entries inside one transaction.
	ReplaceBySeason(ctx context.Context, leagueID, seasonID int64, entries []TableEntry) error
}
