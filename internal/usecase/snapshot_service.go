package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/headonpro/tabellen-service/internal/domain/snapshot"
	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
	"github.com/headonpro/tabellen-service/internal/infrastructure/snapshotfile"
	idgen "github.com/headonpro/tabellen-service/internal/platform/id"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

// EntryStore is the slice of the table-entry repository the snapshot side
// needs: read everything for a pair, or replace everything transactionally.
type EntryStore interface {
	ListBySeason(ctx context.Context, leagueID, seasonID int64) ([]tableentry.TableEntry, error)
	ReplaceBySeason(ctx context.Context, leagueID, seasonID int64, entries []tableentry.TableEntry) error
}

type SnapshotConfig struct {
	MaxAge time.Duration
	// ProductionMode guards every restore with a pre-restore snapshot of the
	// current state.
	ProductionMode bool
}

// SnapshotService archives and restores whole league-season tables.
type SnapshotService struct {
	entries EntryStore
	files   *snapshotfile.Store
	ids     *idgen.RandomGenerator
	cfg     SnapshotConfig
	logger  *logging.Logger
	now     func() time.Time
}

func NewSnapshotService(entries EntryStore, files *snapshotfile.Store, cfg SnapshotConfig, logger *logging.Logger) *SnapshotService {
	if logger == nil {
		logger = logging.Default()
	}

	return &SnapshotService{
		entries: entries,
		files:   files,
		ids:     idgen.NewRandomGenerator(),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Create archives the current table of the pair and returns the snapshot id.
func (s *SnapshotService) Create(ctx context.Context, leagueID, seasonID int64, description string) (string, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SnapshotService.Create")
	defer span.End()

	if leagueID <= 0 || seasonID <= 0 {
		return "", fmt.Errorf("%w: league and season ids must be positive", ErrInvalidInput)
	}

	entries, err := s.entries.ListBySeason(ctx, leagueID, seasonID)
	if err != nil {
		return "", fmt.Errorf("read table for snapshot league=%d season=%d: %w", leagueID, seasonID, err)
	}

	suffix, err := s.ids.NewToken(3)
	if err != nil {
		return "", fmt.Errorf("generate snapshot id suffix: %w", err)
	}

	createdAt := s.now().UTC()
	meta := snapshot.Metadata{
		SnapshotID:  snapshotfile.BuildID(leagueID, seasonID, createdAt, suffix),
		LeagueID:    leagueID,
		SeasonID:    seasonID,
		CreatedAt:   createdAt,
		Description: description,
		Version:     snapshot.BlobVersion,
	}

	written, err := s.files.Write(ctx, meta, entries)
	if err != nil {
		return "", fmt.Errorf("write snapshot league=%d season=%d: %w", leagueID, seasonID, err)
	}

	if s.cfg.MaxAge > 0 {
		if removed, err := s.files.SweepOlderThan(ctx, s.cfg.MaxAge); err != nil {
			s.logger.WarnContext(ctx, "snapshot age sweep failed", "error", err)
		} else if removed > 0 {
			s.logger.InfoContext(ctx, "snapshots swept by age", "removed", removed)
		}
	}

	s.logger.InfoContext(ctx, "snapshot created",
		"snapshot_id", written.Metadata.SnapshotID,
		"league_id", leagueID,
		"season_id", seasonID,
		"entries", len(entries),
		"size_bytes", written.SizeBytes,
	)
	return written.Metadata.SnapshotID, nil
}

func (s *SnapshotService) Get(ctx context.Context, snapshotID string) (snapshot.Snapshot, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SnapshotService.Get")
	defer span.End()

	snap, err := s.files.Read(ctx, snapshotID)
	if err != nil {
		if errors.Is(err, snapshotfile.ErrNotFound) {
			return snapshot.Snapshot{}, fmt.Errorf("%w: snapshot=%s", ErrNotFound, snapshotID)
		}
		return snapshot.Snapshot{}, fmt.Errorf("read snapshot %s: %w", snapshotID, err)
	}
	return snap, nil
}

func (s *SnapshotService) List(ctx context.Context, leagueID, seasonID int64) ([]snapshot.Snapshot, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SnapshotService.List")
	defer span.End()

	return s.files.List(ctx, leagueID, seasonID)
}

// Latest returns the most recent snapshot of the pair, if any.
func (s *SnapshotService) Latest(ctx context.Context, leagueID, seasonID int64) (snapshot.Snapshot, bool, error) {
	items, err := s.List(ctx, leagueID, seasonID)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}
	if len(items) == 0 {
		return snapshot.Snapshot{}, false, nil
	}
	return items[0], true, nil
}

// Restore replaces the live table of the snapshot's pair with the archived
// entries inside one transaction. In production mode the current state is
// archived first and its id recorded in the result. The restore is
// all-or-nothing: any entry-level failure rolls everything back.
func (s *SnapshotService) Restore(ctx context.Context, snapshotID string) (snapshot.RestoreResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SnapshotService.Restore")
	defer span.End()

	result := snapshot.RestoreResult{}

	snap, err := s.files.Read(ctx, snapshotID)
	if err != nil {
		switch {
		case errors.Is(err, snapshotfile.ErrNotFound):
			result.Errors = append(result.Errors, snapshot.RestoreError{
				Type:    snapshot.RestoreErrorNotFound,
				Message: fmt.Sprintf("snapshot %s does not exist", snapshotID),
			})
		case errors.Is(err, snapshotfile.ErrInvalidBlob):
			result.Errors = append(result.Errors, snapshot.RestoreError{
				Type:    snapshot.RestoreErrorValidation,
				Message: err.Error(),
			})
		default:
			result.Errors = append(result.Errors, snapshot.RestoreError{
				Type:    snapshot.RestoreErrorDatabase,
				Message: err.Error(),
			})
		}
		return result, nil
	}

	for _, item := range snap.Entries {
		if err := item.Validate(); err != nil {
			result.Errors = append(result.Errors, snapshot.RestoreError{
				Type:    snapshot.RestoreErrorValidation,
				Message: err.Error(),
				ClubID:  item.ClubID,
			})
		}
	}
	if len(result.Errors) > 0 {
		return result, nil
	}

	if s.cfg.ProductionMode {
		preRestoreID, err := s.Create(ctx, snap.Metadata.LeagueID, snap.Metadata.SeasonID,
			fmt.Sprintf("pre-restore of %s", snapshotID))
		if err != nil {
			result.Errors = append(result.Errors, snapshot.RestoreError{
				Type:    snapshot.RestoreErrorDatabase,
				Message: fmt.Sprintf("pre-restore snapshot failed: %v", err),
			})
			return result, nil
		}
		result.PreRestoreSnapshotID = preRestoreID
	}

	if err := s.entries.ReplaceBySeason(ctx, snap.Metadata.LeagueID, snap.Metadata.SeasonID, snap.Entries); err != nil {
		result.Errors = append(result.Errors, snapshot.RestoreError{
			Type:    snapshot.RestoreErrorDatabase,
			Message: err.Error(),
		})
		return result, nil
	}

	result.Success = true
	result.RestoredEntries = len(snap.Entries)
	s.logger.InfoContext(ctx, "snapshot restored",
		"snapshot_id", snapshotID,
		"league_id", snap.Metadata.LeagueID,
		"season_id", snap.Metadata.SeasonID,
		"restored_entries", result.RestoredEntries,
		"pre_restore_snapshot_id", result.PreRestoreSnapshotID,
	)
	return result, nil
}

func (s *SnapshotService) Delete(ctx context.Context, snapshotID string) error {
	ctx, span := startUsecaseSpan(ctx, "usecase.SnapshotService.Delete")
	defer span.End()

	if err := s.files.Remove(ctx, snapshotID); err != nil {
		if errors.Is(err, snapshotfile.ErrNotFound) {
			return fmt.Errorf("%w: snapshot=%s", ErrNotFound, snapshotID)
		}
		return fmt.Errorf("delete snapshot %s: %w", snapshotID, err)
	}
	return nil
}

// DeleteOlderThan sweeps snapshots past the age cap and returns how many were
// removed.
func (s *SnapshotService) DeleteOlderThan(ctx context.Context, maxAgeDays int) (int, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.SnapshotService.DeleteOlderThan")
	defer span.End()

	if maxAgeDays <= 0 {
		return 0, fmt.Errorf("%w: max age days must be positive", ErrInvalidInput)
	}

	removed, err := s.files.SweepOlderThan(ctx, time.Duration(maxAgeDays)*24*time.Hour)
	if err != nil {
		return 0, fmt.Errorf("sweep snapshots older than %d days: %w", maxAgeDays, err)
	}
	if removed > 0 {
		s.logger.InfoContext(ctx, "snapshots swept by age", "removed", removed, "max_age_days", maxAgeDays)
	}
	return removed, nil
}
