package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"meeting-intelligence/internal/bus"
	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/jira"
	"meeting-intelligence/internal/llm"
	"meeting-intelligence/internal/logger"
	"meeting-intelligence/internal/retry"
	"meeting-intelligence/internal/storage"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/internal/transcribe"

	"github.com/rs/zerolog"
)

// Pipeline wires the four stages to their collaborators. Each stage is a
// stateless unit of work per event; all progress lives in the meeting record
// and on the bus.
type Pipeline struct {
	cfg       *config.Config
	repo      store.Repository
	storage   storage.Storage
	stt       transcribe.Client
	llm       llm.Client
	jira      jira.Client
	publisher bus.Publisher
	retrier   *retry.Coordinator

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error
	log   zerolog.Logger
}

func New(
	cfg *config.Config,
	repo store.Repository,
	objectStore storage.Storage,
	stt transcribe.Client,
	llmClient llm.Client,
	jiraClient jira.Client,
	publisher bus.Publisher,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		repo:      repo,
		storage:   objectStore,
		stt:       stt,
		llm:       llmClient,
		jira:      jiraClient,
		publisher: publisher,
		retrier:   retry.NewCoordinator(publisher),
		now:       time.Now,
		pause:     pauseCtx,
		log:       logger.Get(),
	}
}

func pauseCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Decode validates a raw bus message into its typed envelope and payload.
// Unrecognized events fail here and never reach a stage.
func Decode(data []byte) (event.Envelope, event.Payload, error) {
	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return event.Envelope{}, event.Payload{}, err
	}
	payload, err := event.Decode(env)
	if err != nil {
		return event.Envelope{}, event.Payload{}, err
	}
	return env, payload, nil
}

// Dispatch routes one decoded event to its stage.
func (p *Pipeline) Dispatch(ctx context.Context, env event.Envelope, payload event.Payload) error {
	switch env.DetailType {
	case event.MeetingReadyForTranscription:
		return p.HandleUpload(ctx, env, payload.Upload)
	case event.TranscriptionStatusPoll:
		return p.HandleTranscriptionPoll(ctx, env, payload.TranscriptionPoll)
	case event.TranscriptionCompleted:
		return p.HandleExtraction(ctx, env, payload.TranscriptionCompleted)
	case event.TaskExtractionCompleted:
		return p.HandleReconciliation(ctx, env, payload.ExtractionCompleted)
	case event.TasksReadyForCreation:
		return p.HandleSync(ctx, env, payload.TasksReady, "create")
	case event.TasksReadyForUpdate:
		return p.HandleSync(ctx, env, payload.TasksReady, "update")
	}
	return nil
}

// publishNext persists-then-publishes: callers update the record first so a
// crash between the two steps is recovered by the downstream idempotency
// guards, not by a transaction.
func (p *Pipeline) publishNext(ctx context.Context, detailType event.DetailType, detail interface{}) error {
	env, err := event.New(detailType, detail)
	if err != nil {
		return err
	}
	return p.publisher.Publish(ctx, env)
}
