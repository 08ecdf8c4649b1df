/**
 * Configuration for the recognition service worker
 *
 * Loads configuration from environment variables matching .env
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration (queue + result cache)
	RedisURL string

	// PostgreSQL client registry (optional; in-memory registry when empty)
	DatabaseURL string

	// Inference backend URLs
	VisionURL      string
	HandwritingURL string

	// Tesseract configuration
	TesseractLanguages []string

	// Engine selection
	FallbackOrder []string

	// Fusion configuration
	FusionEngines  []string
	FusionStrategy string
	VocabularyPath string

	// Admission control
	MaxConcurrent    int
	MaxMemoryPercent float64
	MaxCPUPercent    float64
	AcquireTimeoutMs int

	// Per-engine recognition timeout
	EngineTimeoutMs int

	// Result cache
	CacheTTLSeconds int
	CacheMaxEntries int

	// Default per-client rate limits (used when a client has none configured)
	DefaultPerMinute int
	DefaultPerHour   int

	// Queue configuration
	QueueName         string
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds

	// Maximum accepted input size in bytes
	MaxFileSize int64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:           getEnvOrDefault("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", ""),
		VisionURL:          getEnvOrDefault("VISION_URL", "http://localhost:8085"),
		HandwritingURL:     getEnvOrDefault("HANDWRITING_URL", "http://localhost:8086"),
		TesseractLanguages: getEnvAsListOrDefault("TESSERACT_LANGUAGES", []string{"eng", "ara"}),
		FallbackOrder:      getEnvAsListOrDefault("ENGINE_FALLBACK_ORDER", []string{"tesseract", "handwriting", "vision"}),
		FusionEngines:      getEnvAsListOrDefault("FUSION_ENGINES", []string{"tesseract", "handwriting"}),
		FusionStrategy:     getEnvOrDefault("FUSION_STRATEGY", "confidence_weighted"),
		VocabularyPath:     getEnvOrDefault("VOCABULARY_PATH", ""),
		MaxConcurrent:      getEnvAsIntOrDefault("MAX_CONCURRENT", 10),
		MaxMemoryPercent:   getEnvAsFloatOrDefault("MAX_MEMORY_PERCENT", 85.0),
		MaxCPUPercent:      getEnvAsFloatOrDefault("MAX_CPU_PERCENT", 90.0),
		AcquireTimeoutMs:   getEnvAsIntOrDefault("ACQUIRE_TIMEOUT_MS", 10000),
		EngineTimeoutMs:    getEnvAsIntOrDefault("ENGINE_TIMEOUT_MS", 120000),
		CacheTTLSeconds:    getEnvAsIntOrDefault("CACHE_TTL_SECONDS", 3600),
		CacheMaxEntries:    getEnvAsIntOrDefault("CACHE_MAX_ENTRIES", 1024),
		DefaultPerMinute:   getEnvAsIntOrDefault("DEFAULT_RATE_PER_MINUTE", 60),
		DefaultPerHour:     getEnvAsIntOrDefault("DEFAULT_RATE_PER_HOUR", 1000),
		QueueName:          getEnvOrDefault("QUEUE_NAME", "recognition:jobs"),
		WorkerConcurrency:  getEnvAsIntOrDefault("WORKER_CONCURRENCY", 10),
		ProcessingTimeout:  getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		MaxFileSize:        getEnvAsInt64OrDefault("MAX_FILE_SIZE", 52428800),  // 50MB
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.MaxConcurrent < 1 || c.MaxConcurrent > 1000 {
		return fmt.Errorf("MAX_CONCURRENT must be between 1 and 1000, got %d", c.MaxConcurrent)
	}

	if c.MaxMemoryPercent <= 0 || c.MaxMemoryPercent > 100 {
		return fmt.Errorf("MAX_MEMORY_PERCENT must be in (0, 100], got %.1f", c.MaxMemoryPercent)
	}

	if c.MaxCPUPercent <= 0 || c.MaxCPUPercent > 100 {
		return fmt.Errorf("MAX_CPU_PERCENT must be in (0, 100], got %.1f", c.MaxCPUPercent)
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if len(c.FallbackOrder) == 0 {
		return fmt.Errorf("ENGINE_FALLBACK_ORDER must name at least one engine")
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsFloatOrDefault gets environment variable as float64 or returns default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsListOrDefault gets a comma-separated environment variable or returns default
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}

	if len(values) == 0 {
		return defaultValue
	}

	return values
}
