package bus

import (
	"context"
	"encoding/json"
	"time"

	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/event"

	"github.com/go-redis/redis/v8"
)

// Publisher is the write side of the event bus. Immediate events go onto the
// pipeline list; delayed events are parked in a sorted set scored by their
// deliver-at time and moved onto the list by the consumer's pump.
type Publisher interface {
	Publish(ctx context.Context, env event.Envelope) error
	PublishDelayed(ctx context.Context, env event.Envelope, delay time.Duration) error
}

type RedisPublisher struct {
	client *redis.Client
	cfg    *config.Config
}

func NewPublisher(redisClient *RedisClient, cfg *config.Config) *RedisPublisher {
	return &RedisPublisher{
		client: redisClient.Client(),
		cfg:    cfg,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return p.client.LPush(ctx, p.cfg.Redis.PipelineQueue, data).Err()
}

func (p *RedisPublisher) PublishDelayed(ctx context.Context, env event.Envelope, delay time.Duration) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	deliverAt := float64(time.Now().Add(delay).UnixMilli())
	return p.client.ZAdd(ctx, p.cfg.Redis.DelayedSet, &redis.Z{
		Score:  deliverAt,
		Member: data,
	}).Err()
}
