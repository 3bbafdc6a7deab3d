package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/headonpro/tabellen-service/internal/platform/resilience"
)

// Key types of the cache grammar {type}:{leagueId}:{seasonId}[...].
const (
	KeyTypeTable       = "table"
	KeyTypeTeamStats   = "team_stats"
	KeyTypeQueueStatus = "queue_status"
	KeyTypeEntry       = "entry"
)

// TableKey addresses the full cached table of a league-season. The trailing
// segment keeps every table key inside the invalidation pattern
// "table:{league}:{season}:*".
func TableKey(leagueID, seasonID int64) string {
	return fmt.Sprintf("%s:%d:%d:full", KeyTypeTable, leagueID, seasonID)
}

func TablePattern(leagueID, seasonID int64) string {
	return fmt.Sprintf("%s:%d:%d:*", KeyTypeTable, leagueID, seasonID)
}

func TeamStatsKey(clubID, leagueID, seasonID int64) string {
	return fmt.Sprintf("%s:%d:liga:%d:saison:%d", KeyTypeTeamStats, clubID, leagueID, seasonID)
}

func TeamStatsPattern(leagueID, seasonID int64) string {
	return fmt.Sprintf("%s:*:liga:%d:saison:%d", KeyTypeTeamStats, leagueID, seasonID)
}

type entry struct {
	value     any
	expiresAt time.Time
	storedAt  time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Keys      int     `json:"keys"`
	HitRate   float64 `json:"hit_rate"`
}

// Store is an in-process key/value cache with per-entry TTL, pattern
// invalidation and counter-backed stats. Reads of live entries take the read
// lock only; evicting an expired entry on read, writes and bulk invalidation
// take the write lock.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	flight resilience.SingleFlight
	now    func() time.Time
}

func NewStore(defaultTTL time.Duration) *Store {
	return &Store{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

func (s *Store) Get(_ context.Context, key string) (any, bool) {
	if key == "" {
		return nil, false
	}

	now := s.now()
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		s.misses.Add(1)
		return nil, false
	}
	if e.expired(now) {
		s.mu.Lock()
		if current, still := s.entries[key]; still && current.expired(now) {
			delete(s.entries, key)
			s.evictions.Add(1)
		}
		s.mu.Unlock()
		s.misses.Add(1)
		return nil, false
	}

	s.hits.Add(1)
	return e.value, true
}

// Age reports how long ago the key was stored.
func (s *Store) Age(_ context.Context, key string) (time.Duration, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || e.expired(s.now()) {
		return 0, false
	}
	return s.now().Sub(e.storedAt), true
}

// Set stores value under key using the default TTL.
func (s *Store) Set(ctx context.Context, key string, value any) {
	s.SetTTL(ctx, key, value, s.defaultTTL)
}

// SetTTL stores value with an explicit TTL. A zero or negative TTL means the
// entry never expires.
func (s *Store) SetTTL(_ context.Context, key string, value any, ttl time.Duration) {
	if key == "" {
		return
	}

	now := s.now()
	expiresAt := time.Time{}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry{value: value, expiresAt: expiresAt, storedAt: now}
	s.mu.Unlock()
}

func (s *Store) Delete(_ context.Context, key string) {
	if key == "" {
		return
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// InvalidatePattern bulk-deletes every key matching pattern, where '*' matches
// any run of characters. Returns the number of removed keys.
func (s *Store) InvalidatePattern(_ context.Context, pattern string) int {
	if pattern == "" {
		return 0
	}

	removed := 0
	s.mu.Lock()
	for key := range s.entries {
		if matchPattern(pattern, key) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	s.evictions.Add(int64(removed))
	return removed
}

// Sweep evicts every expired entry and returns how many were removed.
func (s *Store) Sweep(_ context.Context) int {
	now := s.now()
	removed := 0
	s.mu.Lock()
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	s.mu.Unlock()
	s.evictions.Add(int64(removed))
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is done.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
		Keys:      len(s.entries),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}
	return stats
}

// GetOrLoad returns the cached value for key or loads it once, deduplicating
// concurrent loads for the same key.
func (s *Store) GetOrLoad(ctx context.Context, key string, loader func(context.Context) (any, error)) (any, error) {
	if loader == nil {
		return nil, fmt.Errorf("loader is required")
	}
	if key == "" {
		return loader(ctx)
	}

	if value, ok := s.Get(ctx, key); ok {
		return value, nil
	}

	value, err, _ := s.flight.Do(key, func() (any, error) {
		if cached, ok := s.Get(ctx, key); ok {
			return cached, nil
		}

		loaded, loadErr := loader(ctx)
		if loadErr != nil {
			return nil, loadErr
		}
		s.Set(ctx, key, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// matchPattern reports whether key matches pattern, with '*' matching any run
// of characters (including across ':' separators).
func matchPattern(pattern, key string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == key
	}

	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(key, parts[0]) {
		return false
	}
	key = key[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(key, parts[i])
		if idx < 0 {
			return false
		}
		key = key[idx+len(parts[i]):]
	}

	last := parts[len(parts)-1]
	return strings.HasSuffix(key, last)
}
