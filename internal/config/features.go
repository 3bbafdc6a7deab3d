package config

import (
	"fmt"
	"strconv"
	"sync"
)

// Features are the boolean toggles of the service.
type Features struct {
	AutomaticCalculation bool
	QueueProcessing      bool
	SnapshotCreation     bool
	Caching              bool
	CircuitBreaker       bool
	Notifications        bool
}

func loadFeatures() (Features, error) {
	out := Features{}
	toggles := []struct {
		target   *bool
		key      string
		fallback string
	}{
		{&out.AutomaticCalculation, "FEATURE_AUTOMATIC_CALCULATION", "true"},
		{&out.QueueProcessing, "FEATURE_QUEUE_PROCESSING", "true"},
		{&out.SnapshotCreation, "FEATURE_SNAPSHOT_CREATION", "true"},
		{&out.Caching, "FEATURE_CACHING", "true"},
		{&out.CircuitBreaker, "FEATURE_CIRCUIT_BREAKER", "true"},
		{&out.Notifications, "FEATURE_NOTIFICATIONS", "false"},
	}
	for _, item := range toggles {
		value, err := strconv.ParseBool(getEnv(item.key, item.fallback))
		if err != nil {
			return Features{}, fmt.Errorf("parse %s: %w", item.key, err)
		}
		*item.target = value
	}
	return out, nil
}

// FeatureGate serves feature toggles at runtime. The production profile
// forbids mutation; other profiles may flip toggles for operational work.
type FeatureGate struct {
	mu       sync.RWMutex
	features Features
	frozen   bool
}

func NewFeatureGate(features Features, production bool) *FeatureGate {
	return &FeatureGate{features: features, frozen: production}
}

func (g *FeatureGate) Current() Features {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.features
}

// Set flips one named toggle. Unknown names and frozen gates return an error.
func (g *FeatureGate) Set(name string, enabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return fmt.Errorf("feature flags are immutable in the production profile")
	}

	switch name {
	case "automaticCalculation":
		g.features.AutomaticCalculation = enabled
	case "queueProcessing":
		g.features.QueueProcessing = enabled
	case "snapshotCreation":
		g.features.SnapshotCreation = enabled
	case "caching":
		g.features.Caching = enabled
	case "circuitBreaker":
		g.features.CircuitBreaker = enabled
	case "notifications":
		g.features.Notifications = enabled
	default:
		return fmt.Errorf("unknown feature flag %q", name)
	}
	return nil
}
