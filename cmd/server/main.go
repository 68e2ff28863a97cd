package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vytor/ucibridge/internal/api"
	"github.com/vytor/ucibridge/internal/config"
	"github.com/vytor/ucibridge/internal/db"
	"github.com/vytor/ucibridge/internal/engine"
	"github.com/vytor/ucibridge/internal/jobs"
	"github.com/vytor/ucibridge/internal/logger"
	"github.com/vytor/ucibridge/internal/repository/sqlite"
	"github.com/vytor/ucibridge/internal/services"
	"github.com/vytor/ucibridge/internal/worker"
)

const pruneInterval = time.Hour

func main() {
	cfg := config.Load()

	// Initialize logger
	log := logger.New(
		logger.WithLevel(logger.ParseLevel(cfg.LogLevel)),
		logger.WithColors(true),
	)
	logger.SetDefault(log)

	log.Info("===========================================")
	log.Info("UCI Bridge Starting")
	log.Info("===========================================")
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration: %v", err)
		os.Exit(1)
	}
	log.Info("configuration loaded")
	log.Debug("addr=%s", cfg.Addr)
	log.Debug("db_path=%s", cfg.DBPath)
	log.Debug("engine_path=%s", cfg.EnginePath)
	log.Debug("engine_sessions=%d", cfg.EngineSessions)
	log.Debug("engine_threads=%d engine_hash_mb=%d engine_elo=%d", cfg.EngineThreads, cfg.EngineHashMB, cfg.EngineElo)
	log.Debug("move_time_ms default=%d min=%d max=%d", cfg.DefaultMoveTimeMS, cfg.MinMoveTimeMS, cfg.MaxMoveTimeMS)
	log.Debug("analysis_worker_count=%d", cfg.AnalysisWorkers)
	log.Debug("analysis_queue_size=%d", cfg.AnalysisQueueSize)
	log.Debug("cache_max_age_sec=%d retention_days=%d", cfg.CacheMaxAgeSec, cfg.RetentionDays)

	// Open database
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Error("failed to open database: %v", err)
		os.Exit(1)
	}
	defer func() {
		log.Debug("closing database connection")
		database.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Analyses run on the worker pool; the engine pool owns the processes.
	analysisPool := worker.NewPool(cfg.AnalysisWorkers, cfg.AnalysisQueueSize)
	analysisPool.Start(ctx)

	engines, err := engine.NewPool(ctx, engine.PoolConfig{
		Path:        cfg.EnginePath,
		Size:        cfg.EngineSessions,
		GracePeriod: time.Duration(cfg.ShutdownGraceMS) * time.Millisecond,
		MinMoveTime: time.Duration(cfg.MinMoveTimeMS) * time.Millisecond,
		Options: engine.Options{
			Threads: cfg.EngineThreads,
			HashMB:  cfg.EngineHashMB,
			Elo:     cfg.EngineElo,
		},
		Executor: analysisPool,
	})
	if err != nil {
		log.Error("failed to start engines: %v", err)
		analysisPool.Stop()
		database.Close()
		os.Exit(1)
	}

	repo := sqlite.NewAnalysisRepository(database.DB)
	analysisService := services.NewAnalysisService(engines, repo, services.AnalysisConfig{
		DefaultMoveTime: time.Duration(cfg.DefaultMoveTimeMS) * time.Millisecond,
		MaxMoveTime:     time.Duration(cfg.MaxMoveTimeMS) * time.Millisecond,
		MaxLines:        cfg.MaxLines,
		CacheMaxAge:     time.Duration(cfg.CacheMaxAgeSec) * time.Second,
	})

	if cfg.RetentionDays > 0 {
		go jobs.SchedulePrune(ctx, analysisPool, &jobs.PruneJob{
			Repo:      repo,
			Retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		}, pruneInterval)
	}

	srv := &api.Server{
		AnalysisService:    analysisService,
		DB:                 database,
		Engines:            engines,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}

	// Configure HTTP server. Writes may wait for a full search.
	writeTimeout := 30 * time.Second
	if maxSearch := time.Duration(cfg.MaxMoveTimeMS)*time.Millisecond + 15*time.Second; maxSearch > writeTimeout {
		writeTimeout = maxSearch
	}
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server
	go func() {
		log.Info("HTTP server listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop

	log.Info("received signal %v, initiating graceful shutdown", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Debug("shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error: %v", err)
	}

	// Engines first so in-flight searches end with channel errors instead of
	// holding workers.
	log.Debug("stopping engines")
	engines.Close()

	log.Debug("stopping analysis pool")
	cancel()
	analysisPool.Stop()

	log.Info("===========================================")
	log.Info("UCI Bridge Stopped")
	log.Info("===========================================")
}
