/**
 * Orchestrator - the recognition request pipeline
 *
 * Composes rate limiting, admission control, the result cache, engine
 * selection/fallback and fusion into one flow:
 *
 *   rate check -> acquire slot -> cache lookup -> engine(s) -> fuse ->
 *   cache store -> release slot
 *
 * The slot is released on every exit path; results are never cached for a
 * cancelled request.
 */

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docsight/recognition-service/internal/cache"
	"github.com/docsight/recognition-service/internal/engine"
	"github.com/docsight/recognition-service/internal/errors"
	"github.com/docsight/recognition-service/internal/fusion"
	"github.com/docsight/recognition-service/internal/identity"
	"github.com/docsight/recognition-service/internal/logging"
	"github.com/docsight/recognition-service/internal/metrics"
	"github.com/docsight/recognition-service/internal/ratelimit"
	"github.com/docsight/recognition-service/internal/resource"
)

const endpointRecognize = "recognize"

// Config holds pipeline parameters
type Config struct {
	AcquireTimeout   time.Duration
	EngineTimeout    time.Duration
	CacheTTL         time.Duration
	DefaultPerMinute int
	DefaultPerHour   int
	FusionStrategy   fusion.Strategy
	FusionEngines    []string
	MaxFileSize      int64
}

// Orchestrator wires the orchestration core together
type Orchestrator struct {
	cfg      Config
	registry *engine.Registry
	fuser    *fusion.Engine
	ctrl     *resource.Controller
	limiter  *ratelimit.Limiter
	cache    *cache.Manager
	clients  identity.Store

	collector metrics.Collector
	logger    *logging.Logger
}

// New creates an orchestrator over the given components
func New(cfg Config, registry *engine.Registry, fuser *fusion.Engine, ctrl *resource.Controller,
	limiter *ratelimit.Limiter, cacheManager *cache.Manager, clients identity.Store,
	collector metrics.Collector) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		fuser:     fuser,
		ctrl:      ctrl,
		limiter:   limiter,
		cache:     cacheManager,
		clients:   clients,
		collector: collector,
		logger:    logging.NewLogger("Orchestrator"),
	}
}

// Request represents one recognition request
type Request struct {
	RequestID       string            `json:"requestId"`
	ClientID        string            `json:"clientId"`
	Filename        string            `json:"filename"`
	FileType        string            `json:"fileType,omitempty"` // sniffed from content when empty
	Input           []byte            `json:"input"`
	Language        string            `json:"language,omitempty"`
	UseCase         string            `json:"useCase,omitempty"`
	PreferredEngine string            `json:"preferredEngine,omitempty"`
	Options         map[string]string `json:"options,omitempty"`
	Fusion          bool              `json:"fusion,omitempty"`
	FusionEngines   []string          `json:"fusionEngines,omitempty"`
	Strategy        fusion.Strategy   `json:"strategy,omitempty"`
	DisableFallback bool              `json:"disableFallback,omitempty"`
}

// Response represents the pipeline output
type Response struct {
	RequestID  string          `json:"requestId"`
	Engine     string          `json:"engine"`
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Spans      []engine.Span   `json:"spans,omitempty"`
	Fusion     *fusion.Result  `json:"fusion,omitempty"`
	Cached     bool            `json:"cached"`
	DurationMs int64           `json:"durationMs"`
}

// Process runs one request through the full pipeline
func (o *Orchestrator) Process(ctx context.Context, req *Request) (*Response, error) {
	startTime := time.Now()

	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if req.FileType == "" {
		req.FileType = engine.DetectMimeType(req.Input)
	}

	o.logger.Info("Processing request",
		"requestId", req.RequestID,
		"client", req.ClientID,
		"fileType", req.FileType,
		"bytes", len(req.Input),
		"fusion", req.Fusion)

	if o.cfg.MaxFileSize > 0 && int64(len(req.Input)) > o.cfg.MaxFileSize {
		o.observe(startTime, "rejected")
		return nil, fmt.Errorf("input size %d exceeds maximum %d bytes", len(req.Input), o.cfg.MaxFileSize)
	}

	// Step 1: rate limiting (non-blocking)
	perMinute, perHour, err := o.clientLimits(ctx, req.ClientID)
	if err != nil {
		o.observe(startTime, "rejected")
		return nil, err
	}

	if allowed, retryAfter := o.limiter.Check(req.ClientID, perMinute, perHour); !allowed {
		o.observe(startTime, "rate_limited")
		return nil, errors.NewRateLimited(retryAfter)
	}

	// Step 2: admission control (scoped slot)
	slot, err := o.ctrl.Acquire(ctx, o.cfg.AcquireTimeout, true)
	if err != nil {
		o.observe(startTime, "backpressure")
		return nil, err
	}
	defer slot.Release()

	if o.collector != nil {
		o.collector.IncActiveRequests()
		defer o.collector.DecActiveRequests()
	}

	// Step 3: cache lookup. Must happen after admission so a flood of
	// identical requests cannot bypass the concurrency bound.
	cacheKey := cache.Key(req.Input, o.cacheOptions(req))
	if data, hit := o.cache.Get(ctx, cacheKey); hit {
		var resp Response
		if err := json.Unmarshal(data, &resp); err == nil {
			resp.Cached = true
			resp.RequestID = req.RequestID
			o.logger.Info("Cache hit", "requestId", req.RequestID)
			o.observe(startTime, "ok")
			return &resp, nil
		}
		o.logger.Warn("Failed to decode cached response, reprocessing", "requestId", req.RequestID)
	}

	// Step 4: engine execution
	var resp *Response
	if req.Fusion {
		resp, err = o.processFusion(ctx, req)
	} else {
		resp, err = o.processSingle(ctx, req)
	}
	if err != nil {
		o.observe(startTime, "failed")
		return nil, err
	}

	resp.RequestID = req.RequestID
	resp.DurationMs = time.Since(startTime).Milliseconds()

	// Never cache on behalf of a caller that has gone away.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Step 5: cache store
	if data, marshalErr := json.Marshal(resp); marshalErr == nil {
		o.cache.Set(ctx, cacheKey, data, o.cfg.CacheTTL)
	}

	o.observe(startTime, "ok")
	return resp, nil
}

// clientLimits resolves per-client budgets, falling back to defaults for
// unknown clients. Disabled clients are rejected outright.
func (o *Orchestrator) clientLimits(ctx context.Context, clientID string) (int, int, error) {
	client, err := o.clients.GetClient(ctx, clientID)
	if err != nil {
		if err == identity.ErrClientNotFound {
			return o.cfg.DefaultPerMinute, o.cfg.DefaultPerHour, nil
		}
		// Store unavailable: degrade to defaults rather than failing requests
		o.logger.Warn("Client store lookup failed, using default limits", "client", clientID, "error", err)
		return o.cfg.DefaultPerMinute, o.cfg.DefaultPerHour, nil
	}

	if !client.Enabled {
		return 0, 0, errors.NewAdmissionRejected(fmt.Sprintf("client %s is disabled", clientID))
	}
	if !client.HasPermission("recognize") {
		return 0, 0, errors.NewAdmissionRejected(fmt.Sprintf("client %s lacks recognize permission", clientID))
	}

	if err := o.clients.TouchLastUsed(ctx, clientID); err != nil {
		o.logger.Debug("Failed to record client last-used time", "client", clientID, "error", err)
	}

	perMinute, perHour := client.PerMinuteLimit, client.PerHourLimit
	if perMinute <= 0 {
		perMinute = o.cfg.DefaultPerMinute
	}
	if perHour <= 0 {
		perHour = o.cfg.DefaultPerHour
	}
	return perMinute, perHour, nil
}

// cacheOptions builds the exact option set the result depends on. Any
// field that changes the output must appear here, so no two different
// option sets ever collide on a key.
func (o *Orchestrator) cacheOptions(req *Request) map[string]string {
	opts := make(map[string]string, len(req.Options)+6)
	for k, v := range req.Options {
		opts["opt."+k] = v
	}
	opts["language"] = req.Language
	opts["useCase"] = req.UseCase
	opts["preferredEngine"] = req.PreferredEngine
	if req.Fusion {
		opts["fusion"] = "true"
		opts["strategy"] = string(o.strategy(req))
		engines := req.FusionEngines
		if len(engines) == 0 {
			engines = o.cfg.FusionEngines
		}
		for i, name := range engines {
			opts[fmt.Sprintf("fusionEngine.%d", i)] = name
		}
	}
	return opts
}

func (o *Orchestrator) strategy(req *Request) fusion.Strategy {
	if req.Strategy != "" {
		return req.Strategy
	}
	if o.cfg.FusionStrategy != "" {
		return o.cfg.FusionStrategy
	}
	return fusion.StrategyConfidenceWeighted
}

// processSingle selects one engine (with fallback) for the request.
// Vision and analysis use cases are resolved through Select first, so a
// request that needs a vision-capable engine fails with VISION_REQUIRED
// instead of falling back to a text-only backend.
func (o *Orchestrator) processSingle(ctx context.Context, req *Request) (*Response, error) {
	preference := req.PreferredEngine
	disableFallback := req.DisableFallback
	if req.UseCase == "vision" || req.UseCase == "analysis" {
		name, err := o.registry.Select(ctx, req.FileType, req.UseCase, req.Language, req.PreferredEngine)
		if err != nil {
			return nil, err
		}
		preference = name
		disableFallback = true
	}

	result, err := o.registry.ProcessWithFallback(ctx, &engine.ProcessRequest{
		Input:           req.Input,
		FileType:        req.FileType,
		Language:        req.Language,
		Options:         req.Options,
		UserPreference:  preference,
		DisableFallback: disableFallback,
	})
	if err != nil {
		return nil, err
	}

	if o.collector != nil {
		o.collector.ObserveConfidence(result.Engine, result.Confidence)
	}

	return &Response{
		Engine:     result.Engine,
		Text:       result.Text,
		Confidence: result.Confidence,
		Spans:      result.Spans,
	}, nil
}

// fanoutResult carries one engine's outcome out of the fan-out
type fanoutResult struct {
	name   string
	result *engine.Result
	err    error
}

// processFusion runs the configured engine set in parallel, joins the
// survivors and fuses them. A slow or failing engine is dropped after its
// per-engine timeout; its error is recorded in the fusion metadata.
func (o *Orchestrator) processFusion(ctx context.Context, req *Request) (*Response, error) {
	names := req.FusionEngines
	if len(names) == 0 {
		names = o.cfg.FusionEngines
	}
	if len(names) == 0 {
		return nil, errors.NewNoSuitableEngine(req.Language, nil)
	}

	deduped := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !seen[name] {
			seen[name] = true
			deduped = append(deduped, name)
		}
	}
	names = deduped

	ch := make(chan fanoutResult, len(names))
	for _, name := range names {
		go func(name string) {
			engineCtx, cancel := context.WithTimeout(ctx, o.cfg.EngineTimeout)
			defer cancel()

			inst, err := o.registry.Get(name)
			if err != nil {
				ch <- fanoutResult{name: name, err: err}
				return
			}
			if !o.registry.IsAvailable(engineCtx, name) {
				ch <- fanoutResult{name: name, err: fmt.Errorf("engine %s is unavailable", name)}
				return
			}

			result, err := inst.Recognize(engineCtx, req.Input, req.Language, req.Options)
			ch <- fanoutResult{name: name, result: result, err: err}
		}(name)
	}

	// The join is bounded too: an engine that ignores its context must not
	// stall collection of the others. Laggards are recorded as timed out;
	// their late sends land in the buffered channel and are discarded.
	byName := make(map[string]fanoutResult, len(names))
	joinTimer := time.NewTimer(o.cfg.EngineTimeout)
	defer joinTimer.Stop()
collect:
	for len(byName) < len(names) {
		select {
		case fr := <-ch:
			byName[fr.name] = fr
		case <-joinTimer.C:
			break collect
		}
	}
	for _, name := range names {
		if _, ok := byName[name]; !ok {
			byName[name] = fanoutResult{
				name: name,
				err:  fmt.Errorf("engine %s timed out after %v", name, o.cfg.EngineTimeout),
			}
		}
	}

	// Keep the configured engine order so fusion tie-breaks stay
	// deterministic across runs.
	results := make([]*engine.Result, 0, len(names))
	engineErrors := make(map[string]string)
	attempts := make([]errors.EngineAttempt, 0)
	for _, name := range names {
		fr := byName[name]
		if fr.err != nil {
			o.logger.Warn("Engine dropped from fusion", "engine", name, "error", fr.err)
			engineErrors[name] = fr.err.Error()
			attempts = append(attempts, errors.EngineAttempt{Engine: name, Err: fr.err.Error()})
			continue
		}
		if fr.result.Engine == "" {
			fr.result.Engine = name
		}
		if o.collector != nil {
			o.collector.ObserveConfidence(name, fr.result.Confidence)
		}
		results = append(results, fr.result)
	}

	if len(results) == 0 {
		return nil, errors.NewAllEnginesFailed(attempts)
	}

	fused := o.fuser.Fuse(results, o.strategy(req))
	if len(engineErrors) > 0 {
		fused.EngineErrors = engineErrors
	}

	return &Response{
		Engine:     "fusion",
		Text:       fused.Text,
		Confidence: fused.Confidence,
		Fusion:     fused,
	}, nil
}

// Status aggregates component introspection for operators
type Status struct {
	Resources resource.Status `json:"resources"`
	Cache     cache.Stats     `json:"cache"`
}

// Status returns a snapshot of the orchestration core
func (o *Orchestrator) Status() Status {
	return Status{
		Resources: o.ctrl.Status(),
		Cache:     o.cache.Stats(),
	}
}

func (o *Orchestrator) observe(startTime time.Time, status string) {
	if o.collector == nil {
		return
	}
	o.collector.IncRequest(endpointRecognize, status)
	o.collector.ObserveLatency(endpointRecognize, time.Since(startTime))
}
