/**
 * Recognition Service Worker - Main Entry Point
 *
 * Go worker for document text recognition.
 *
 * Architecture:
 * - Asynq consumer for Redis-backed job queue
 * - Engine registry with lazy construction and availability-aware fallback
 * - Multi-engine fusion (confidence-weighted, majority, dictionary, best)
 * - Admission control gated on concurrency and host resource pressure
 * - Per-client sliding-window rate limiting
 * - Content-addressed result cache (Redis with in-memory fallback)
 *
 * Engines:
 * 1. Tesseract - local OCR, free, fast (default)
 * 2. Handwriting - HTTP backend for handwritten text
 * 3. Vision - HTTP backend for complex layouts and analysis use cases
 */

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/docsight/recognition-service/internal/cache"
	"github.com/docsight/recognition-service/internal/config"
	"github.com/docsight/recognition-service/internal/engine"
	"github.com/docsight/recognition-service/internal/fusion"
	"github.com/docsight/recognition-service/internal/identity"
	"github.com/docsight/recognition-service/internal/metrics"
	"github.com/docsight/recognition-service/internal/orchestrator"
	"github.com/docsight/recognition-service/internal/queue"
	"github.com/docsight/recognition-service/internal/ratelimit"
	"github.com/docsight/recognition-service/internal/resource"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: .env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Recognition service worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Workers=%d, MaxConcurrent=%d",
		cfg.RedisURL, cfg.WorkerConcurrency, cfg.MaxConcurrent)

	collector := metrics.NewInProcess()

	// Client registry (PostgreSQL when configured, in-memory otherwise)
	clientStore, err := identity.NewStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize client store: %v", err)
	}
	defer clientStore.Close()

	// Engine registry with lazy factories; nothing is constructed until
	// the first request needs an engine.
	registry := engine.NewRegistry(cfg.FallbackOrder, collector)
	registry.Register("tesseract", func() (engine.Engine, error) {
		return engine.NewTesseractEngine(cfg.TesseractLanguages)
	})
	registry.Register("vision", func() (engine.Engine, error) {
		return engine.NewVisionEngine(cfg.VisionURL)
	})
	registry.Register("handwriting", func() (engine.Engine, error) {
		return engine.NewHandwritingEngine(cfg.HandwritingURL, nil)
	})
	log.Printf("Engine registry initialized: engines=%v, fallback=%v",
		registry.Names(), cfg.FallbackOrder)

	// Domain vocabulary for fusion scoring (optional)
	var vocab *fusion.Vocabulary
	if cfg.VocabularyPath != "" {
		vocab, err = fusion.LoadVocabulary(cfg.VocabularyPath)
		if err != nil {
			log.Fatalf("Failed to load vocabulary from %s: %v", cfg.VocabularyPath, err)
		}
		log.Printf("Vocabulary loaded: %d words", vocab.Size())
	}
	fuser := fusion.NewEngine(vocab)

	// Admission control
	controller := resource.NewController(resource.Config{
		MaxConcurrent:    cfg.MaxConcurrent,
		MaxMemoryPercent: cfg.MaxMemoryPercent,
		MaxCPUPercent:    cfg.MaxCPUPercent,
	})

	// Rate limiter
	limiter := ratelimit.NewLimiter()

	// Result cache; backend decided once at startup
	cacheManager := cache.NewManager(&cache.Config{
		RedisURL:   cfg.RedisURL,
		DefaultTTL: time.Duration(cfg.CacheTTLSeconds) * time.Second,
		MaxEntries: cfg.CacheMaxEntries,
	}, collector)
	log.Printf("Result cache initialized: backend=%s", cacheManager.Backend())

	orch := orchestrator.New(orchestrator.Config{
		AcquireTimeout:   time.Duration(cfg.AcquireTimeoutMs) * time.Millisecond,
		EngineTimeout:    time.Duration(cfg.EngineTimeoutMs) * time.Millisecond,
		CacheTTL:         time.Duration(cfg.CacheTTLSeconds) * time.Second,
		DefaultPerMinute: cfg.DefaultPerMinute,
		DefaultPerHour:   cfg.DefaultPerHour,
		FusionStrategy:   fusion.Strategy(cfg.FusionStrategy),
		FusionEngines:    cfg.FusionEngines,
		MaxFileSize:      cfg.MaxFileSize,
	}, registry, fuser, controller, limiter, cacheManager, clientStore, collector)

	// Queue consumer
	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	}, orch)
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}

	// Print startup summary
	log.Printf("===========================================")
	log.Printf("Recognition Service Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Admission: %d slots, mem<%.0f%%, cpu<%.0f%%",
		cfg.MaxConcurrent, cfg.MaxMemoryPercent, cfg.MaxCPUPercent)
	log.Printf("Rate limits (default): %d/min, %d/hour", cfg.DefaultPerMinute, cfg.DefaultPerHour)
	log.Printf("Cache: backend=%s, ttl=%ds", cacheManager.Backend(), cfg.CacheTTLSeconds)
	log.Printf("Fusion: strategy=%s, engines=%v", cfg.FusionStrategy, cfg.FusionEngines)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}

	if err := clientStore.Close(); err != nil {
		log.Printf("Error closing client store: %v", err)
	}

	log.Printf("Shutdown complete")
}
