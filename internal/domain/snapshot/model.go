package snapshot

import (
	"time"

	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
)

// BlobVersion is the current on-disk format version.
const BlobVersion = 1

// Metadata describes a snapshot without its entries.
type Metadata struct {
	SnapshotID  string    `json:"snapshot_id" validate:"required"`
	LeagueID    int64     `json:"league_id" validate:"gt=0"`
	SeasonID    int64     `json:"season_id" validate:"gt=0"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Version     int       `json:"version" validate:"gte=1"`
}

// Snapshot is an immutable saved state of a league-season table.
type Snapshot struct {
	Metadata  Metadata
	Entries   []tableentry.TableEntry
	Checksum  string
	SizeBytes int64
	FilePath  string
}

// RestoreError is one structured entry-level failure from a restore attempt.
type RestoreError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	ClubID  int64  `json:"club_id,omitempty"`
}

const (
	RestoreErrorValidation = "validation_error"
	RestoreErrorDatabase   = "database_error"
	RestoreErrorNotFound   = "snapshot_not_found"
)

// RestoreResult reports the outcome of a whole-table restore.
type RestoreResult struct {
	Success              bool           `json:"success"`
	RestoredEntries      int            `json:"restored_entries"`
	PreRestoreSnapshotID string         `json:"pre_restore_snapshot_id,omitempty"`
	Errors               []RestoreError `json:"errors,omitempty"`
}
