package usecase

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/headonpro/tabellen-service/internal/domain/tableentry"
	"github.com/headonpro/tabellen-service/internal/platform/cache"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
)

const (
	TableStatusOK       = "ok"
	TableStatusCached   = "cached"
	TableStatusRestored = "restored"
	TableStatusFallback = "fallback"
)

// maxCachedTableAge bounds how stale a cached table may be before the
// validation fallback refuses to serve it.
const maxCachedTableAge = time.Hour

// TableResult is a read-side answer that may come from a degraded source.
type TableResult struct {
	Entries []tableentry.TableEntry `json:"entries"`
	Status  string                  `json:"status"`
}

// DBProber checks database liveness, typically with SELECT 1.
type DBProber interface {
	Ping(ctx context.Context) error
}

type FallbackConfig struct {
	OverloadCooldown time.Duration
	ProbeInterval    time.Duration
}

// FallbackService answers user-visible read requests when the primary path
// has failed, and runs the degradation plays for overload and database
// outages.
type FallbackService struct {
	cache     *cache.Store
	snapshots *SnapshotService
	entries   EntryStore
	queue     *QueueService
	prober    DBProber
	cfg       FallbackConfig
	logger    *logging.Logger

	readOnly atomic.Bool
	probing  atomic.Bool
}

func NewFallbackService(
	cacheStore *cache.Store,
	snapshots *SnapshotService,
	entries EntryStore,
	queue *QueueService,
	prober DBProber,
	cfg FallbackConfig,
	logger *logging.Logger,
) *FallbackService {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.OverloadCooldown <= 0 {
		cfg.OverloadCooldown = 30 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Second
	}

	return &FallbackService{
		cache:     cacheStore,
		snapshots: snapshots,
		entries:   entries,
		queue:     queue,
		prober:    prober,
		cfg:       cfg,
		logger:    logger,
	}
}

// TableAfterCalculationFailure serves the most recent snapshot of the pair,
// or an empty fallback table when no snapshot exists.
func (s *FallbackService) TableAfterCalculationFailure(ctx context.Context, leagueID, seasonID int64) TableResult {
	ctx, span := startUsecaseSpan(ctx, "usecase.FallbackService.TableAfterCalculationFailure")
	defer span.End()

	if s.snapshots != nil {
		latest, ok, err := s.snapshots.Latest(ctx, leagueID, seasonID)
		if err == nil && ok {
			s.logger.WarnContext(ctx, "serving table from snapshot after calculation failure",
				"league_id", leagueID, "season_id", seasonID, "snapshot_id", latest.Metadata.SnapshotID)
			return TableResult{Entries: latest.Entries, Status: TableStatusRestored}
		}
	}

	s.logger.WarnContext(ctx, "serving empty fallback table",
		"league_id", leagueID, "season_id", seasonID)
	return TableResult{Entries: []tableentry.TableEntry{}, Status: TableStatusFallback}
}

// TableAfterValidationFailure serves a fresh cached table if available, then a
// direct read, then the empty fallback.
func (s *FallbackService) TableAfterValidationFailure(ctx context.Context, leagueID, seasonID int64) TableResult {
	ctx, span := startUsecaseSpan(ctx, "usecase.FallbackService.TableAfterValidationFailure")
	defer span.End()

	if s.cache != nil {
		key := cache.TableKey(leagueID, seasonID)
		if age, ok := s.cache.Age(ctx, key); ok && age <= maxCachedTableAge {
			if value, ok := s.cache.Get(ctx, key); ok {
				if entries, ok := value.([]tableentry.TableEntry); ok {
					return TableResult{Entries: entries, Status: TableStatusCached}
				}
			}
		}
	}

	if s.entries != nil {
		entries, err := s.entries.ListBySeason(ctx, leagueID, seasonID)
		if err == nil {
			return TableResult{Entries: entries, Status: TableStatusOK}
		}
		s.logger.WarnContext(ctx, "direct table read failed in validation fallback",
			"league_id", leagueID, "season_id", seasonID, "error", err)
	}

	return TableResult{Entries: []tableentry.TableEntry{}, Status: TableStatusFallback}
}

// HandleQueueOverload pauses the queue, discards pending LOW jobs and
// schedules an automatic resume after the cooldown.
func (s *FallbackService) HandleQueueOverload(ctx context.Context) {
	ctx, span := startUsecaseSpan(ctx, "usecase.FallbackService.HandleQueueOverload")
	defer span.End()

	if s.queue == nil {
		return
	}

	s.queue.Pause()
	dropped := s.queue.ClearLowPriority()
	s.logger.WarnContext(ctx, "queue overload fallback engaged",
		"dropped_low_priority", dropped, "cooldown_ms", s.cfg.OverloadCooldown.Milliseconds())

	time.AfterFunc(s.cfg.OverloadCooldown, s.queue.Resume)
}

// EnterReadOnly flips the read-only flag and probes the database until it
// answers again.
func (s *FallbackService) EnterReadOnly(ctx context.Context) {
	if !s.readOnly.CompareAndSwap(false, true) {
		return
	}
	s.logger.WarnContext(ctx, "database unavailable, entering read-only mode")

	if s.prober == nil || !s.probing.CompareAndSwap(false, true) {
		return
	}
	go s.probeLoop()
}

func (s *FallbackService) IsReadOnly() bool {
	return s.readOnly.Load()
}

func (s *FallbackService) probeLoop() {
	defer s.probing.Store(false)

	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !s.readOnly.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeInterval)
		err := s.prober.Ping(ctx)
		cancel()
		if err == nil {
			s.readOnly.Store(false)
			s.logger.Info("database reachable again, leaving read-only mode")
			return
		}
	}
}
