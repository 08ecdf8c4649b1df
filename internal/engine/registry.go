/**
 * Engine Registry for the recognition service
 *
 * Lazy construction with per-name guards, availability caching, capability
 * lookup and fallback selection across registered backends.
 */

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/docsight/recognition-service/internal/errors"
	"github.com/docsight/recognition-service/internal/logging"
	"github.com/docsight/recognition-service/internal/metrics"
)

// Registry tracks registered backends, their instances and availability
type Registry struct {
	fallbackOrder []string

	mu           sync.Mutex // guards maps below
	factories    map[string]Factory
	instances    map[string]Engine
	availability map[string]bool
	building     map[string]chan struct{} // per-name construction guard

	logger    *logging.Logger
	collector metrics.Collector
}

// NewRegistry creates an empty registry with the given fallback order
func NewRegistry(fallbackOrder []string, collector metrics.Collector) *Registry {
	r := &Registry{
		fallbackOrder: append([]string(nil), fallbackOrder...),
		factories:     make(map[string]Factory),
		instances:     make(map[string]Engine),
		availability:  make(map[string]bool),
		building:      make(map[string]chan struct{}),
		logger:        logging.NewLogger("EngineRegistry"),
		collector:     collector,
	}
	return r
}

// Register stores a constructor for a named backend. Registering the same
// name twice keeps the first factory.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return
	}
	r.factories[name] = factory
	r.logger.Info("Engine registered", "engine", name)
}

// Names returns all registered engine names in fallback order, followed by
// any registered engines outside the fallback order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	seen := make(map[string]bool, len(r.factories))
	for _, name := range r.fallbackOrder {
		if _, ok := r.factories[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	for name := range r.factories {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// Get returns the cached instance for name, constructing it on first use.
// Construction failures are not cached, so the next call retries.
func (r *Registry) Get(name string) (Engine, error) {
	for {
		r.mu.Lock()
		if inst, ok := r.instances[name]; ok {
			r.mu.Unlock()
			return inst, nil
		}

		factory, registered := r.factories[name]
		if !registered {
			r.mu.Unlock()
			return nil, errors.NewEngineNotRegistered(name)
		}

		if done, inProgress := r.building[name]; inProgress {
			// Another goroutine is constructing this engine; wait for it
			// and re-check the instance cache.
			r.mu.Unlock()
			<-done
			continue
		}

		done := make(chan struct{})
		r.building[name] = done
		r.mu.Unlock()

		inst, err := factory()

		r.mu.Lock()
		delete(r.building, name)
		if err == nil {
			r.instances[name] = inst
		}
		r.mu.Unlock()
		close(done)

		if err != nil {
			return nil, errors.NewEngineInitFailed(name, err)
		}
		return inst, nil
	}
}

// IsAvailable consults the per-name availability cache, probing the backend
// on a cache miss. Probe failures and unregistered names cache as false.
func (r *Registry) IsAvailable(ctx context.Context, name string) bool {
	r.mu.Lock()
	if cached, ok := r.availability[name]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	available := r.probe(ctx, name)

	r.mu.Lock()
	r.availability[name] = available
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.SetEngineAvailability(name, available)
	}
	return available
}

func (r *Registry) probe(ctx context.Context, name string) bool {
	inst, err := r.Get(name)
	if err != nil {
		r.logger.Warn("Availability probe failed during construction", "engine", name, "error", err)
		return false
	}
	return inst.IsAvailable(ctx)
}

// ClearAvailabilityCache drops all cached availability booleans without
// touching constructed instances.
func (r *Registry) ClearAvailabilityCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.availability = make(map[string]bool)
	r.logger.Info("Availability cache cleared")
}

// availableNames lists engines whose availability cache (or probe) says true
func (r *Registry) availableNames(ctx context.Context) []string {
	names := r.Names()
	available := make([]string, 0, len(names))
	for _, name := range names {
		if r.IsAvailable(ctx, name) {
			available = append(available, name)
		}
	}
	return available
}

func (r *Registry) supportsLanguage(name, language string) bool {
	inst, err := r.Get(name)
	if err != nil {
		return false
	}
	return inst.Capabilities().SupportsLanguage(language)
}

// Select picks an engine name for the given request characteristics:
// explicit preference first, then vision-only use cases, then the
// configured fallback order.
func (r *Registry) Select(ctx context.Context, fileType, useCase, language, userPreference string) (string, error) {
	if userPreference != "" && r.IsAvailable(ctx, userPreference) && r.supportsLanguage(userPreference, language) {
		return userPreference, nil
	}

	if useCase == "vision" || useCase == "analysis" {
		for _, name := range r.Names() {
			inst, err := r.Get(name)
			if err != nil {
				continue
			}
			if inst.Capabilities().SupportsVision && r.IsAvailable(ctx, name) {
				return name, nil
			}
		}
		return "", errors.NewVisionRequired(useCase)
	}

	for _, name := range r.fallbackOrder {
		if r.IsAvailable(ctx, name) && r.supportsLanguage(name, language) {
			return name, nil
		}
	}

	return "", errors.NewNoSuitableEngine(language, r.availableNames(ctx))
}

// ProcessRequest describes one input for fallback processing
type ProcessRequest struct {
	Input           []byte
	FileType        string
	Language        string
	Options         map[string]string
	UserPreference  string
	DisableFallback bool
}

// ProcessWithFallback runs the input through candidate engines in order
// (user preference first, then the fallback order), returning the first
// successful result. When fallback is disabled the first failure propagates.
func (r *Registry) ProcessWithFallback(ctx context.Context, req *ProcessRequest) (*Result, error) {
	candidates := make([]string, 0, len(r.fallbackOrder)+1)
	seen := make(map[string]bool)
	if req.UserPreference != "" {
		candidates = append(candidates, req.UserPreference)
		seen[req.UserPreference] = true
	}
	for _, name := range r.fallbackOrder {
		if !seen[name] {
			candidates = append(candidates, name)
			seen[name] = true
		}
	}

	attempts := make([]errors.EngineAttempt, 0, len(candidates))

	for _, name := range candidates {
		if !r.IsAvailable(ctx, name) {
			r.logger.Debug("Skipping unavailable engine", "engine", name)
			continue
		}
		if !r.supportsLanguage(name, req.Language) {
			r.logger.Debug("Skipping engine without language support", "engine", name, "language", req.Language)
			continue
		}

		inst, err := r.Get(name)
		if err != nil {
			attempts = append(attempts, errors.EngineAttempt{Engine: name, Err: err.Error()})
			if req.DisableFallback {
				return nil, err
			}
			continue
		}

		start := time.Now()
		result, err := inst.Recognize(ctx, req.Input, req.Language, req.Options)
		if err != nil {
			r.logger.Warn("Engine failed, trying next candidate",
				"engine", name, "error", err, "duration", time.Since(start))
			attempts = append(attempts, errors.EngineAttempt{Engine: name, Err: err.Error()})
			if req.DisableFallback {
				return nil, fmt.Errorf("engine %s failed with fallback disabled: %w", name, err)
			}
			continue
		}

		if result.Engine == "" {
			result.Engine = name
		}
		if result.Duration == 0 {
			result.Duration = time.Since(start)
		}
		if r.collector != nil {
			r.collector.ObserveConfidence(name, result.Confidence)
		}
		return result, nil
	}

	return nil, errors.NewAllEnginesFailed(attempts)
}
