package worker

import (
	"context"

	"meeting-intelligence/internal/bus"
	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/logger"
	"meeting-intelligence/internal/pipeline"

	"github.com/rs/zerolog"
)

// PipelineWorker consumes pipeline events and runs stages on a pool.
// Malformed or unrecognized events are logged and dropped at decode; they
// carry no meeting state worth preserving, so re-delivery or a DLQ trip
// buys nothing. A decodable event whose stage fails is dead-lettered with
// its payload intact for operator replay.
type PipelineWorker struct {
	cfg        *config.Config
	pipeline   *pipeline.Pipeline
	consumer   *bus.Consumer
	workerPool *WorkerPool
	log        zerolog.Logger
}

func NewPipelineWorker(cfg *config.Config, p *pipeline.Pipeline, redisClient *bus.RedisClient) *PipelineWorker {
	return &PipelineWorker{
		cfg:        cfg,
		pipeline:   p,
		consumer:   bus.NewConsumer(redisClient, cfg),
		workerPool: NewWorkerPool(cfg.Workers.Pipeline.Count),
		log:        logger.Get(),
	}
}

func (w *PipelineWorker) Start(ctx context.Context) error {
	w.log.Info().Msg("Starting pipeline worker")

	w.workerPool.Start(ctx)

	return w.consumer.Consume(ctx, w.handleMessage)
}

func (w *PipelineWorker) Stop() {
	w.log.Info().Msg("Stopping pipeline worker")
	w.workerPool.Stop()
}

func (w *PipelineWorker) handleMessage(ctx context.Context, data []byte) error {
	env, payload, err := pipeline.Decode(data)
	if err != nil {
		w.log.Error().Err(err).Msg("Dropping undecodable pipeline event")
		return nil
	}

	w.log.Info().Str("detail_type", string(env.DetailType)).Int("retry_attempt", env.RetryAttempt).Msg("Processing pipeline event")

	// The stage runs on the pool, after this handler has already returned to
	// the consume loop, so its error has to reach the DLQ from here.
	return w.workerPool.Submit(ctx, func(ctx context.Context) error {
		if err := w.pipeline.Dispatch(ctx, env, payload); err != nil {
			w.log.Error().Err(err).Str("detail_type", string(env.DetailType)).Msg("Pipeline stage failed")
			if dlqErr := w.consumer.DeadLetter(ctx, data); dlqErr != nil {
				w.log.Error().Err(dlqErr).Msg("Failed to dead-letter event")
			}
			return err
		}
		return nil
	})
}
