/**
 * Orchestrator Tests
 *
 * Runs the full pipeline against in-memory components and scriptable fake
 * engines: caching behavior, rate limiting, client gating, fusion fan-out
 * and the no-caching-of-cancelled-requests rule.
 */

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docsight/recognition-service/internal/cache"
	"github.com/docsight/recognition-service/internal/engine"
	"github.com/docsight/recognition-service/internal/errors"
	"github.com/docsight/recognition-service/internal/fusion"
	"github.com/docsight/recognition-service/internal/identity"
	"github.com/docsight/recognition-service/internal/ratelimit"
	"github.com/docsight/recognition-service/internal/resource"
)

// fakeEngine is a scriptable in-memory backend
type fakeEngine struct {
	name string
	text string
	conf float64
	caps engine.Capabilities
	err  error

	mu        sync.Mutex
	callCount int
	onCall    func(ctx context.Context)
}

func (f *fakeEngine) Name() string                      { return f.name }
func (f *fakeEngine) Capabilities() engine.Capabilities { return f.caps }

func (f *fakeEngine) IsAvailable(ctx context.Context) bool { return true }

func (f *fakeEngine) Recognize(ctx context.Context, input []byte, language string, options map[string]string) (*engine.Result, error) {
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(ctx)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Result{Engine: f.name, Text: f.text, Confidence: f.conf}, nil
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount
}

type fixture struct {
	orch    *Orchestrator
	clients *identity.MemoryStore
	engines map[string]*fakeEngine
}

func newFixture(t *testing.T, engineNames ...string) *fixture {
	t.Helper()

	registry := engine.NewRegistry(engineNames, nil)
	engines := make(map[string]*fakeEngine, len(engineNames))
	for i, name := range engineNames {
		fake := &fakeEngine{name: name, text: "text from " + name, conf: 0.5 + 0.1*float64(i)}
		engines[name] = fake
		func(fake *fakeEngine) {
			registry.Register(fake.name, func() (engine.Engine, error) { return fake, nil })
		}(fake)
	}

	clients := identity.NewMemoryStore()

	cacheManager := cache.NewManager(&cache.Config{
		DefaultTTL: time.Hour,
		MaxEntries: 64,
	}, nil)

	controller := resource.NewController(resource.Config{
		MaxConcurrent:    4,
		MaxMemoryPercent: 100,
		MaxCPUPercent:    100,
	})

	orch := New(Config{
		AcquireTimeout:   time.Second,
		EngineTimeout:    time.Second,
		CacheTTL:         time.Hour,
		DefaultPerMinute: 100,
		DefaultPerHour:   1000,
		FusionStrategy:   fusion.StrategyConfidenceWeighted,
		FusionEngines:    engineNames,
		MaxFileSize:      1 << 20,
	}, registry, fusion.NewEngine(nil), controller, ratelimit.NewLimiter(), cacheManager, clients, nil)

	return &fixture{orch: orch, clients: clients, engines: engines}
}

func TestProcessSingleEngine(t *testing.T) {
	fx := newFixture(t, "alpha")

	resp, err := fx.orch.Process(context.Background(), &Request{
		ClientID: "c1",
		Input:    []byte("document"),
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if resp.Engine != "alpha" {
		t.Errorf("expected engine alpha, got %q", resp.Engine)
	}
	if resp.Text != "text from alpha" {
		t.Errorf("unexpected text %q", resp.Text)
	}
	if resp.Cached {
		t.Error("first request must not report cached")
	}
	if resp.RequestID == "" {
		t.Error("a request ID must be assigned")
	}
}

func TestProcessServesRepeatFromCache(t *testing.T) {
	fx := newFixture(t, "alpha")
	ctx := context.Background()

	req := func() *Request {
		return &Request{ClientID: "c1", Input: []byte("same document")}
	}

	if _, err := fx.orch.Process(ctx, req()); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}

	resp, err := fx.orch.Process(ctx, req())
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if !resp.Cached {
		t.Error("identical request must be served from cache")
	}
	if got := fx.engines["alpha"].calls(); got != 1 {
		t.Errorf("engine ran %d times, want 1", got)
	}
}

func TestProcessDifferentOptionsMissCache(t *testing.T) {
	fx := newFixture(t, "alpha")
	ctx := context.Background()

	input := []byte("same document")
	if _, err := fx.orch.Process(ctx, &Request{ClientID: "c1", Input: input, Language: "en"}); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	resp, err := fx.orch.Process(ctx, &Request{ClientID: "c1", Input: input, Language: "ar"})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if resp.Cached {
		t.Error("changed language must not hit the cache")
	}
	if got := fx.engines["alpha"].calls(); got != 2 {
		t.Errorf("engine ran %d times, want 2", got)
	}
}

func TestProcessRateLimited(t *testing.T) {
	fx := newFixture(t, "alpha")
	fx.clients.Register(&identity.Client{
		ID:             "limited",
		Enabled:        true,
		PerMinuteLimit: 1,
		PerHourLimit:   100,
	})
	ctx := context.Background()

	if _, err := fx.orch.Process(ctx, &Request{ClientID: "limited", Input: []byte("doc 1")}); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	_, err := fx.orch.Process(ctx, &Request{ClientID: "limited", Input: []byte("doc 2")})
	if !errors.IsCode(err, errors.ErrorRateLimited) {
		t.Fatalf("expected RATE_LIMITED, got %v", err)
	}

	var re *errors.RecognitionError
	if !asRecognitionError(err, &re) || re.RetryAfter <= 0 {
		t.Errorf("rate limit error must carry a positive RetryAfter")
	}
}

func asRecognitionError(err error, target **errors.RecognitionError) bool {
	re, ok := err.(*errors.RecognitionError)
	if ok {
		*target = re
	}
	return ok
}

func TestProcessRejectsDisabledClient(t *testing.T) {
	fx := newFixture(t, "alpha")
	fx.clients.Register(&identity.Client{ID: "banned", Enabled: false})

	_, err := fx.orch.Process(context.Background(), &Request{ClientID: "banned", Input: []byte("doc")})
	if !errors.IsCode(err, errors.ErrorAdmissionRejected) {
		t.Fatalf("expected ADMISSION_REJECTED for disabled client, got %v", err)
	}
	if got := fx.engines["alpha"].calls(); got != 0 {
		t.Errorf("engine must not run for a disabled client, ran %d times", got)
	}
}

func TestProcessUnknownClientGetsDefaults(t *testing.T) {
	fx := newFixture(t, "alpha")

	// No registration at all; the default budgets apply.
	if _, err := fx.orch.Process(context.Background(), &Request{ClientID: "stranger", Input: []byte("doc")}); err != nil {
		t.Fatalf("unknown client should fall back to default limits: %v", err)
	}
}

func TestProcessRejectsOversizedInput(t *testing.T) {
	fx := newFixture(t, "alpha")

	big := make([]byte, (1<<20)+1)
	_, err := fx.orch.Process(context.Background(), &Request{ClientID: "c1", Input: big})
	if err == nil {
		t.Fatal("oversized input must be rejected")
	}
	if got := fx.engines["alpha"].calls(); got != 0 {
		t.Errorf("engine must not see oversized input, ran %d times", got)
	}
}

func TestProcessFusionMergesEngines(t *testing.T) {
	fx := newFixture(t, "alpha", "bravo")
	fx.engines["alpha"].text = "hello world"
	fx.engines["alpha"].conf = 0.6
	fx.engines["bravo"].text = "hello world"
	fx.engines["bravo"].conf = 0.8

	resp, err := fx.orch.Process(context.Background(), &Request{
		ClientID: "c1",
		Input:    []byte("doc"),
		Fusion:   true,
	})
	if err != nil {
		t.Fatalf("fusion Process failed: %v", err)
	}

	if resp.Engine != "fusion" {
		t.Errorf("expected fusion engine marker, got %q", resp.Engine)
	}
	if resp.Fusion == nil {
		t.Fatal("fusion metadata missing")
	}
	if resp.Text != "hello world" {
		t.Errorf("unexpected fused text %q", resp.Text)
	}
	if len(resp.Fusion.Sources) != 2 {
		t.Errorf("expected 2 sources, got %d", len(resp.Fusion.Sources))
	}
}

func TestProcessFusionDropsFailingEngine(t *testing.T) {
	fx := newFixture(t, "alpha", "bravo")
	fx.engines["alpha"].err = fmt.Errorf("alpha backend down")
	fx.engines["bravo"].text = "surviving text"

	resp, err := fx.orch.Process(context.Background(), &Request{
		ClientID: "c1",
		Input:    []byte("doc"),
		Fusion:   true,
	})
	if err != nil {
		t.Fatalf("fusion must survive a single engine failure: %v", err)
	}

	if resp.Text != "surviving text" {
		t.Errorf("expected survivor's text, got %q", resp.Text)
	}
	if resp.Fusion == nil || resp.Fusion.EngineErrors["alpha"] == "" {
		t.Error("the dropped engine's error must be recorded in fusion metadata")
	}
}

// gosseract-style backends block in native calls and only notice their
// context on entry, so the fan-in must not wait for them past the
// per-engine timeout.
func TestProcessFusionDropsEngineIgnoringContext(t *testing.T) {
	fx := newFixture(t, "fast", "stuck")
	fx.orch.cfg.EngineTimeout = 50 * time.Millisecond
	fx.engines["fast"].text = "prompt text"
	fx.engines["stuck"].onCall = func(context.Context) {
		time.Sleep(500 * time.Millisecond)
	}

	start := time.Now()
	resp, err := fx.orch.Process(context.Background(), &Request{
		ClientID: "c1",
		Input:    []byte("doc"),
		Fusion:   true,
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("fusion must survive a stuck engine: %v", err)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("join waited %v for an engine that ignores its context", elapsed)
	}
	if resp.Text != "prompt text" {
		t.Errorf("expected the responsive engine's text, got %q", resp.Text)
	}
	if resp.Fusion == nil || resp.Fusion.EngineErrors["stuck"] == "" {
		t.Error("the stuck engine must be recorded as a timeout in fusion metadata")
	}
	if len(resp.Fusion.Sources) != 1 {
		t.Errorf("the stuck engine's late result must not be fused, got %d sources", len(resp.Fusion.Sources))
	}
}

func TestProcessFusionAllEnginesFailed(t *testing.T) {
	fx := newFixture(t, "alpha", "bravo")
	fx.engines["alpha"].err = fmt.Errorf("alpha down")
	fx.engines["bravo"].err = fmt.Errorf("bravo down")

	_, err := fx.orch.Process(context.Background(), &Request{
		ClientID: "c1",
		Input:    []byte("doc"),
		Fusion:   true,
	})
	if !errors.IsCode(err, errors.ErrorAllEnginesFailed) {
		t.Fatalf("expected ALL_ENGINES_FAILED, got %v", err)
	}
}

func TestProcessVisionUseCaseRequiresVisionEngine(t *testing.T) {
	fx := newFixture(t, "alpha")

	_, err := fx.orch.Process(context.Background(), &Request{
		ClientID: "c1",
		Input:    []byte("doc"),
		UseCase:  "vision",
	})
	if !errors.IsCode(err, errors.ErrorVisionRequired) {
		t.Fatalf("expected VISION_REQUIRED, got %v", err)
	}
}

func TestProcessVisionUseCaseRoutesToVisionEngine(t *testing.T) {
	fx := newFixture(t, "alpha", "seer")
	fx.engines["seer"].caps = engine.Capabilities{SupportsVision: true}

	resp, err := fx.orch.Process(context.Background(), &Request{
		ClientID: "c1",
		Input:    []byte("doc"),
		UseCase:  "analysis",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if resp.Engine != "seer" {
		t.Errorf("expected the vision-capable engine, got %q", resp.Engine)
	}
	if got := fx.engines["alpha"].calls(); got != 0 {
		t.Errorf("text-only engine must not run for an analysis use case, ran %d times", got)
	}
}

func TestProcessNeverCachesCancelledRequests(t *testing.T) {
	fx := newFixture(t, "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	fx.engines["alpha"].onCall = func(context.Context) { cancel() }

	_, err := fx.orch.Process(ctx, &Request{ClientID: "c1", Input: []byte("doc")})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// A fresh request for the same input must recompute.
	fx.engines["alpha"].onCall = nil
	resp, err := fx.orch.Process(context.Background(), &Request{ClientID: "c1", Input: []byte("doc")})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if resp.Cached {
		t.Error("a cancelled request's result leaked into the cache")
	}
	if got := fx.engines["alpha"].calls(); got != 2 {
		t.Errorf("engine ran %d times, want 2", got)
	}
}

func TestProcessReleasesSlotOnFailure(t *testing.T) {
	fx := newFixture(t, "alpha")
	fx.engines["alpha"].err = fmt.Errorf("permanent failure")
	ctx := context.Background()

	// More failing requests than slots; leaks would wedge the pipeline.
	for i := 0; i < 10; i++ {
		_, err := fx.orch.Process(ctx, &Request{ClientID: "c1", Input: []byte(fmt.Sprintf("doc %d", i))})
		if !errors.IsCode(err, errors.ErrorAllEnginesFailed) {
			t.Fatalf("request %d: expected ALL_ENGINES_FAILED, got %v", i, err)
		}
	}

	if current := fx.orch.Status().Resources.Current; current != 0 {
		t.Errorf("slots leaked after failures: %d still held", current)
	}
}
