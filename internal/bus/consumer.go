package bus

import (
	"context"
	"strconv"
	"time"

	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type Consumer struct {
	client *redis.Client
	cfg    *config.Config
	log    zerolog.Logger
}

type MessageHandler func(ctx context.Context, data []byte) error

func NewConsumer(redisClient *RedisClient, cfg *config.Config) *Consumer {
	return &Consumer{
		client: redisClient.Client(),
		cfg:    cfg,
		log:    logger.Get(),
	}
}

// Consume blocks on the pipeline queue and feeds each message to handler.
// A handler error moves the message to the DLQ; the loop itself never stops
// until the context is cancelled. A pump goroutine promotes due delayed
// events onto the queue so deferred re-deliveries ride the same path.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	go c.pumpDelayed(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			result, err := c.client.BRPop(ctx, 5*time.Second, c.cfg.Redis.PipelineQueue).Result()
			if err != nil {
				if err == redis.Nil {
					continue // Timeout, continue polling
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.log.Error().Err(err).Str("queue", c.cfg.Redis.PipelineQueue).Msg("Failed to consume message")
				continue
			}

			if len(result) < 2 {
				continue
			}

			message := result[1]
			if err := handler(ctx, []byte(message)); err != nil {
				c.log.Error().Err(err).Str("queue", c.cfg.Redis.PipelineQueue).Msg("Failed to process message")
				if dlqErr := c.DeadLetter(ctx, []byte(message)); dlqErr != nil {
					c.log.Error().Err(dlqErr).Msg("Failed to move message to DLQ")
				}
			}
		}
	}
}

// DeadLetter parks a message that failed processing. The worker also calls
// this for stage errors surfacing after the handler already returned, since
// jobs run on a pool rather than inside the consume loop.
func (c *Consumer) DeadLetter(ctx context.Context, message []byte) error {
	dlqName := c.cfg.Redis.PipelineQueue + c.cfg.Redis.DLQSuffix
	return c.client.LPush(ctx, dlqName, message).Err()
}

func (c *Consumer) pumpDelayed(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.PumpDueOnce(ctx, time.Now()); err != nil && ctx.Err() == nil {
				c.log.Error().Err(err).Msg("Failed to pump delayed events")
			}
		}
	}
}

// PumpDueOnce moves every delayed event whose deliver-at score has passed
// onto the pipeline queue. ZRem before LPush keeps redelivery at-least-once
// without duplicating a member across both structures on a clean pass.
func (c *Consumer) PumpDueOnce(ctx context.Context, now time.Time) error {
	due, err := c.client.ZRangeByScore(ctx, c.cfg.Redis.DelayedSet, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		removed, err := c.client.ZRem(ctx, c.cfg.Redis.DelayedSet, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another pump claimed it
		}
		if err := c.client.LPush(ctx, c.cfg.Redis.PipelineQueue, member).Err(); err != nil {
			return err
		}
	}

	return nil
}
