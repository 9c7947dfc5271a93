package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"

	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/retry"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/internal/transcribe"
	"meeting-intelligence/pkg/errors"
)

// HandleTranscriptionPoll checks a running transcription job and either
// re-queues itself, records the failure, or persists the transcript and
// triggers extraction.
func (p *Pipeline) HandleTranscriptionPoll(ctx context.Context, env event.Envelope, detail *event.TranscriptionPollDetail) error {
	if detail.MeetingID == "" || detail.JobID == "" {
		return errors.ValidationError{Field: "meetingId", Value: detail.MeetingID, Message: "meetingId and jobId required"}
	}

	log := p.log.With().Str("meeting_id", detail.MeetingID).Str("job_id", detail.JobID).Logger()

	record, err := p.repo.Get(ctx, detail.MeetingID)
	if err != nil {
		return err
	}
	if record.Status != model.StatusTranscribing {
		log.Info().Str("status", string(record.Status)).Msg("Meeting no longer transcribing, dropping poll")
		return nil
	}

	var result *transcribe.JobResult
	err = p.retrier.Do(ctx, env.RetryAttempt, func(ctx context.Context) error {
		var jerr error
		result, jerr = p.stt.JobStatus(ctx, detail.JobID)
		return jerr
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrThrottleExhausted) {
			return p.retrier.Requeue(ctx, env, retry.Cooldown(env.RetryAttempt))
		}
		log.Error().Err(err).Msg("Failed to fetch transcription job status")
		if ferr := p.repo.MarkFailed(ctx, detail.MeetingID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to record transcription failure")
		}
		return err
	}

	switch result.Status {
	case model.JobStatusCompleted:
		return p.completeTranscription(ctx, detail.MeetingID, result.TranscriptURI)

	case model.JobStatusFailed:
		reason := result.FailureReason
		if reason == "" {
			reason = "transcription job failed"
		}
		jobStatus := model.JobStatusFailed
		err := p.repo.Advance(ctx, detail.MeetingID, model.StatusTranscribing, model.StatusFailed, store.Updates{
			TranscriptionJobStatus: &jobStatus,
			ErrorMessage:           &reason,
		})
		if err == errors.ErrPreconditionFailed {
			return nil
		}
		if err != nil {
			return err
		}
		log.Error().Str("reason", reason).Msg("Transcription job failed")
		return nil

	default:
		// Still queued or in progress, check again later.
		env.RetryAttempt = 0
		return p.publisher.PublishDelayed(ctx, env, p.cfg.Transcribe.PollInterval)
	}
}

func (p *Pipeline) completeTranscription(ctx context.Context, meetingID, transcriptURI string) error {
	log := p.log.With().Str("meeting_id", meetingID).Logger()

	bucket, key, err := transcribe.ParseArtifactURI(transcriptURI)
	if err != nil {
		if ferr := p.repo.MarkFailed(ctx, meetingID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to record transcript failure")
		}
		return err
	}

	body, err := p.storage.DownloadFrom(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to download transcript artifact: %w", err)
	}
	defer body.Close()

	artifact, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read transcript artifact: %w", err)
	}

	fullTranscript, err := transcribe.ExtractFullTranscript(artifact)
	if err != nil {
		if ferr := p.repo.MarkFailed(ctx, meetingID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to record transcript failure")
		}
		return err
	}

	jobStatus := model.JobStatusCompleted
	err = p.repo.Advance(ctx, meetingID, model.StatusTranscribing, model.StatusTranscribed, store.Updates{
		TranscriptionJobStatus: &jobStatus,
		FullTranscript:         &fullTranscript,
	})
	if err == errors.ErrPreconditionFailed {
		log.Info().Msg("Transcript already persisted, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().Int("transcript_chars", len(fullTranscript)).Msg("Transcript stored")
	return p.publishNext(ctx, event.TranscriptionCompleted, event.TranscriptionCompletedDetail{
		MeetingID:   meetingID,
		TriggeredBy: "transcription-poll",
	})
}
