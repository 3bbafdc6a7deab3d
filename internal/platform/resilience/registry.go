package resilience

import (
	"sort"
	"sync"
	"time"
)

// Registry holds one circuit breaker per operation name, created lazily with a
// shared configuration.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	cfg      CircuitBreakerConfig
	now      func() time.Time
}

func NewRegistry(cfg CircuitBreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      NormalizeCircuitBreakerConfig(cfg),
		now:      time.Now,
	}
}

// For returns the breaker for the operation, creating it on first use.
func (r *Registry) For(operation string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, ok := r.breakers[operation]; ok {
		return breaker
	}
	breaker := NewCircuitBreaker(r.cfg.FailureThreshold, r.cfg.OpenTimeout, r.cfg.HalfOpenMaxReq)
	breaker.now = r.now
	r.breakers[operation] = breaker
	return breaker
}

// Reset forces the named breaker back to closed. Unknown names are a no-op.
func (r *Registry) Reset(operation string) {
	r.mu.Lock()
	breaker, ok := r.breakers[operation]
	r.mu.Unlock()
	if ok {
		breaker.Reset()
	}
}

// Snapshots returns the current state of every known breaker, keyed by name.
func (r *Registry) Snapshots() map[string]StateSnapshot {
	r.mu.Lock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	breakers := make([]*CircuitBreaker, 0, len(names))
	for _, name := range names {
		breakers = append(breakers, r.breakers[name])
	}
	r.mu.Unlock()

	out := make(map[string]StateSnapshot, len(names))
	for i, name := range names {
		out[name] = breakers[i].Snapshot()
	}
	return out
}
