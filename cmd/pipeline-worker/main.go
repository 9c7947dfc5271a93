package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"meeting-intelligence/internal/bus"
	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/jira"
	"meeting-intelligence/internal/llm"
	"meeting-intelligence/internal/logger"
	"meeting-intelligence/internal/pipeline"
	"meeting-intelligence/internal/storage"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/internal/transcribe"
	"meeting-intelligence/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Get()

	log.Info().Str("version", cfg.App.Version).Msg("Starting pipeline worker")

	// Initialize database
	database, err := store.NewConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := store.Migrate(database); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize repository
	repo := store.NewRepository(database)

	// Initialize Redis client
	redisClient, err := bus.NewRedisClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	publisher := bus.NewPublisher(redisClient, cfg)

	// Initialize S3 storage
	s3Storage, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize S3 storage")
	}

	// Initialize speech-to-text client
	sttClient, err := transcribe.NewClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize transcription client")
	}

	// Initialize model client
	llmClient, err := llm.NewBedrockClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize model client")
	}

	// Initialize issue tracker client
	jiraClient := jira.NewClient(cfg)

	// Create pipeline worker
	p := pipeline.New(cfg, repo, s3Storage, sttClient, llmClient, jiraClient, publisher)
	pipelineWorker := worker.NewPipelineWorker(cfg, p, redisClient)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker
	go func() {
		if err := pipelineWorker.Start(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Pipeline worker failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down pipeline worker...")

	// Cancel context to stop worker
	cancel()
	pipelineWorker.Stop()

	log.Info().Msg("Pipeline worker exited")
}
