package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database (empty = in-memory store, dev mode)
	DatabaseURL string

	// Redis (empty = in-memory queues, dev mode)
	RedisURL string

	// Object storage
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string

	// Processing service (transcription, segmentation, extraction, rendering)
	ProcessingServiceURL string

	// OpenAI (segment viral scoring)
	OpenAIKey string

	// Admission
	UploadCostCredits int

	// Dispatch
	ScoreThreshold float64 // Single source of truth for the qualifying-segment cutoff

	// Workers
	AnalysisConcurrency int
	RenderConcurrency   int
	AnalysisTimeout     time.Duration
	RenderTimeout       time.Duration
	JobMaxAttempts      int
	RetryBackoffBase    time.Duration
	DispatchSweepEvery  time.Duration
	RequeueStalledAfter time.Duration // Grace period before a queued job is presumed lost and re-enqueued

	// Rendering
	RenderPreset string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:              getEnv("API_PORT", "8080"),
		WorkerEnabled:        getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:        getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		StorageURL:           getEnv("STORAGE_URL", ""),
		StorageServiceKey:    getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:        getEnv("STORAGE_BUCKET", "reelremix-clips"),
		ProcessingServiceURL: getEnv("PROCESSING_SERVICE_URL", "http://localhost:8000"),
		OpenAIKey:            getEnv("OPENAI_API_KEY", ""),
		UploadCostCredits:    getEnvInt("UPLOAD_COST_CREDITS", 10),
		ScoreThreshold:       getEnvFloat("SCORE_THRESHOLD", 0.8),
		AnalysisConcurrency:  getEnvInt("ANALYSIS_CONCURRENCY", 2),
		RenderConcurrency:    getEnvInt("RENDER_CONCURRENCY", 4),
		AnalysisTimeout:      time.Duration(getEnvInt("ANALYSIS_TIMEOUT_MINUTES", 10)) * time.Minute,
		RenderTimeout:        time.Duration(getEnvInt("RENDER_TIMEOUT_MINUTES", 3)) * time.Minute,
		JobMaxAttempts:       getEnvInt("JOB_MAX_ATTEMPTS", 3),
		RetryBackoffBase:     time.Duration(getEnvInt("RETRY_BACKOFF_SECONDS", 5)) * time.Second,
		DispatchSweepEvery:   time.Duration(getEnvInt("DISPATCH_SWEEP_SECONDS", 30)) * time.Second,
		RequeueStalledAfter:  time.Duration(getEnvInt("REQUEUE_STALLED_SECONDS", 300)) * time.Second,
		RenderPreset:         getEnv("RENDER_PRESET", "bold-captions"),
	}

	// Validate
	if cfg.UploadCostCredits <= 0 {
		return nil, fmt.Errorf("UPLOAD_COST_CREDITS must be positive")
	}

	if cfg.ScoreThreshold < 0 || cfg.ScoreThreshold > 1 {
		return nil, fmt.Errorf("SCORE_THRESHOLD must be in [0,1]")
	}

	if cfg.WorkerEnabled && cfg.ProcessingServiceURL == "" {
		return nil, fmt.Errorf("PROCESSING_SERVICE_URL is required when the worker is enabled")
	}

	if cfg.AnalysisConcurrency <= 0 || cfg.RenderConcurrency <= 0 {
		return nil, fmt.Errorf("worker concurrency must be positive")
	}

	if cfg.JobMaxAttempts <= 0 {
		return nil, fmt.Errorf("JOB_MAX_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}
