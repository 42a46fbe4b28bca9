package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelremix/reelremix/internal/admission"
	"github.com/reelremix/reelremix/internal/aggregate"
	"github.com/reelremix/reelremix/internal/api"
	"github.com/reelremix/reelremix/internal/config"
	"github.com/reelremix/reelremix/internal/db"
	"github.com/reelremix/reelremix/internal/queue"
	"github.com/reelremix/reelremix/internal/services"
	"github.com/reelremix/reelremix/internal/storage"
	"github.com/reelremix/reelremix/internal/store"
	"github.com/reelremix/reelremix/internal/worker"
)

func main() {
	log.Println("Starting ReelRemix API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to the store — Postgres when configured, in-memory for dev
	var st store.Store
	if cfg.DatabaseURL != "" {
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		st = database
		log.Println("Connected to database")
	} else {
		st = store.NewMemory()
		log.Println("WARNING: No DATABASE_URL set — using in-memory store (dev mode)")
	}
	defer st.Close()

	// Connect to the queue — Redis when configured, in-memory for dev
	var q queue.Queue
	if cfg.RedisURL != "" {
		rq, err := queue.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to queue: %v", err)
		}
		q = rq
		log.Println("Connected to Redis queue")
	} else {
		q = queue.NewMemory()
		log.Println("WARNING: No REDIS_URL set — using in-memory queues (dev mode)")
	}
	defer q.Close()

	// Initialize object storage (optional — clip URLs are omitted without it)
	var stor *storage.ObjectStore
	if cfg.StorageURL != "" {
		stor = storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket)
		log.Printf("Initialized object storage (bucket: %s)", cfg.StorageBucket)
	} else {
		log.Println("Object storage not configured — clip download URLs disabled")
	}

	// Pipeline plumbing shared by the API and the workers
	agg := aggregate.New(st)
	adm := admission.New(st, q, cfg.UploadCostCredits)

	// Create API handler
	handler := api.NewHandler(st, adm, stor)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start workers if enabled
	var workerCancel context.CancelFunc
	var pools []*worker.Pool
	if cfg.WorkerEnabled {
		log.Println("Worker enabled, starting background processing...")

		scorer := services.NewOpenAIScorer(cfg.OpenAIKey)
		processing := services.NewProcessingService(cfg.ProcessingServiceURL, scorer)
		log.Printf("Processing service: %s", cfg.ProcessingServiceURL)

		dispatcher := worker.NewDispatcher(st, q, agg, cfg.ScoreThreshold, cfg.RequeueStalledAfter)
		analysisStage := worker.NewAnalysisStage(st, processing, dispatcher, agg)
		renderStage := worker.NewRenderStage(st, processing, agg, cfg.RenderPreset)

		analysisPool := &worker.Pool{
			Name:        "Analysis",
			Queue:       q,
			QueueName:   queue.QueueAnalysis,
			Concurrency: cfg.AnalysisConcurrency,
			JobTimeout:  cfg.AnalysisTimeout,
			MaxAttempts: cfg.JobMaxAttempts,
			BackoffBase: cfg.RetryBackoffBase,
			Handler:     analysisStage.Handle,
			OnRetry:     analysisStage.Retry,
			OnExhausted: analysisStage.Exhausted,
		}
		renderPool := &worker.Pool{
			Name:        "Render",
			Queue:       q,
			QueueName:   queue.QueueRender,
			Concurrency: cfg.RenderConcurrency,
			JobTimeout:  cfg.RenderTimeout,
			MaxAttempts: cfg.JobMaxAttempts,
			BackoffBase: cfg.RetryBackoffBase,
			Handler:     renderStage.Handle,
			OnRetry:     renderStage.Retry,
			OnExhausted: renderStage.Exhausted,
		}

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		analysisPool.Start(workerCtx)
		renderPool.Start(workerCtx)
		pools = []*worker.Pool{analysisPool, renderPool}

		go dispatcher.RunSweep(workerCtx, cfg.DispatchSweepEvery)
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Shutdown workers and wait for in-flight jobs to drain
	if workerCancel != nil {
		workerCancel()
		for _, p := range pools {
			p.Wait()
		}
	}

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
