package retry

import (
	"context"
	"fmt"
	"time"

	"meeting-intelligence/internal/bus"
	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/logger"
	"meeting-intelligence/pkg/errors"

	"github.com/rs/zerolog"
)

const (
	baseAttempts    = 3
	maxAttemptDelay = 60 * time.Second
	maxCooldown     = 10 * time.Minute
	callTimeout     = 30 * time.Second
)

// Coordinator wraps calls to rate-limited providers with a bounded
// immediate-attempt loop and hands exhausted throttling off to delayed bus
// re-delivery. The bus's delivery timer is the retry clock; nothing here
// sleeps outside the bounded loop.
type Coordinator struct {
	publisher bus.Publisher
	sleep     func(ctx context.Context, d time.Duration) error
	log       zerolog.Logger
}

func NewCoordinator(publisher bus.Publisher) *Coordinator {
	return &Coordinator{
		publisher: publisher,
		sleep:     sleepCtx,
		log:       logger.Get(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ImmediateAttempts shrinks the per-invocation budget as the event's global
// retry attempt grows, down to a single attempt.
func ImmediateAttempts(retryAttempt int) int {
	if n := baseAttempts - retryAttempt; n > 1 {
		return n
	}
	return 1
}

// AttemptDelay is the wait between immediate attempts after a throttling
// signal: 2^(retryAttempt+1) seconds scaled by the local attempt, capped at
// one minute.
func AttemptDelay(retryAttempt, localAttempt int) time.Duration {
	base := time.Duration(1<<uint(retryAttempt+1)) * time.Second
	d := base * time.Duration(localAttempt)
	if d > maxAttemptDelay {
		return maxAttemptDelay
	}
	return d
}

// Cooldown is the delayed re-delivery window after exhausting immediate
// attempts on throttling: 2^retryAttempt minutes, capped at ten.
func Cooldown(retryAttempt int) time.Duration {
	d := time.Duration(1<<uint(retryAttempt)) * time.Minute
	if d > maxCooldown {
		return maxCooldown
	}
	return d
}

// InCooldown reports whether a throttled record is still inside its cooldown
// window, and how long remains.
func InCooldown(since time.Time, retryAttempt int, now time.Time) (bool, time.Duration) {
	remaining := Cooldown(retryAttempt) - now.Sub(since)
	return remaining > 0, remaining
}

// Do runs call with the immediate-attempt budget for retryAttempt. Fatal
// provider rejections return at once. Throttling waits AttemptDelay between
// attempts and surfaces ErrThrottleExhausted once the budget is spent, so the
// stage can defer via Requeue. Transient errors burn attempts without the
// throttle wait. Every attempt gets its own call deadline.
func (c *Coordinator) Do(ctx context.Context, retryAttempt int, call func(ctx context.Context) error) error {
	maxAttempts := ImmediateAttempts(retryAttempt)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := call(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		lastErr = err

		if errors.IsFatal(err) {
			return err
		}

		if errors.IsThrottled(err) {
			if attempt == maxAttempts {
				return fmt.Errorf("%w: %v", errors.ErrThrottleExhausted, err)
			}
			delay := AttemptDelay(retryAttempt, attempt)
			c.log.Warn().
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Dur("delay", delay).
				Msg("Provider throttled, backing off before retry")
			if serr := c.sleep(ctx, delay); serr != nil {
				return serr
			}
			continue
		}

		c.log.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("Provider call failed, retrying")
	}

	return lastErr
}

// Requeue publishes env for delayed re-delivery after delay, carrying the
// incremented retry attempt and the queue timestamp.
func (c *Coordinator) Requeue(ctx context.Context, env event.Envelope, delay time.Duration) error {
	env.RetryAttempt++
	env.QueuedAt = time.Now().UTC()

	c.log.Info().
		Str("detail_type", string(env.DetailType)).
		Int("retry_attempt", env.RetryAttempt).
		Dur("delay", delay).
		Msg("Requeueing event for delayed re-delivery")

	return c.publisher.PublishDelayed(ctx, env, delay)
}
