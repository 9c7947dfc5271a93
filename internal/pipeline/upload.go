package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/retry"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/internal/transcribe"
	"meeting-intelligence/pkg/errors"

	"github.com/google/uuid"
)

var keyIDPattern = regexp.MustCompile(`^([^_]+)_`)

// HandleUpload turns an uploaded audio object into a meeting record and
// submits the transcription job. Completion is observed through delayed
// status-poll events, so this stage never blocks on the provider.
func (p *Pipeline) HandleUpload(ctx context.Context, env event.Envelope, detail *event.UploadDetail) error {
	if detail.StorageKey == "" {
		return errors.ValidationError{Field: "storageKey", Value: "", Message: "required"}
	}

	meta, err := p.storage.GetMetadata(ctx, detail.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to read object metadata for %s: %w", detail.StorageKey, err)
	}

	meetingID, fileName, uploadedAt := meetingInfoFromObject(detail.StorageKey, meta.Tags, p.now())
	log := p.log.With().Str("meeting_id", meetingID).Logger()

	record, err := p.repo.Get(ctx, meetingID)
	switch {
	case err == nil:
		// Duplicate delivery of the upload event. Anything past uploaded
		// already has a transcription job running.
		if record.Status != model.StatusUploaded {
			log.Info().Str("status", string(record.Status)).Msg("Upload event for known meeting, skipping")
			return nil
		}
	case err == errors.ErrNotFound:
		record = &model.MeetingRecord{
			MeetingID:        meetingID,
			FileName:         fileName,
			StorageKey:       detail.StorageKey,
			StorageContainer: detail.StorageContainer,
			FileSize:         meta.Size,
			ContentType:      meta.ContentType,
			UploadTimestamp:  uploadedAt,
		}
		if record.StorageContainer == "" {
			record.StorageContainer = p.storage.Bucket()
		}
		if err := p.repo.Create(ctx, record); err != nil {
			return fmt.Errorf("failed to create meeting record: %w", err)
		}
		log.Info().Str("file_name", fileName).Int64("file_size", meta.Size).Msg("Meeting record created")
	default:
		return err
	}

	jobName := transcribe.JobName(meetingID, p.now().UnixMilli())
	mediaURI := fmt.Sprintf("s3://%s/%s", record.StorageContainer, record.StorageKey)
	outputPrefix := fmt.Sprintf("%s%s/", p.cfg.Transcribe.OutputPrefix, meetingID)

	err = p.retrier.Do(ctx, env.RetryAttempt, func(ctx context.Context) error {
		return p.stt.Submit(ctx, jobName, mediaURI, record.StorageContainer, outputPrefix)
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrThrottleExhausted) {
			log.Warn().Msg("Transcription submit throttled, deferring")
			return p.retrier.Requeue(ctx, env, retry.Cooldown(env.RetryAttempt))
		}
		log.Error().Err(err).Msg("Failed to start transcription job")
		if ferr := p.repo.MarkFailed(ctx, meetingID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to record transcription failure")
		}
		return err
	}

	jobStatus := model.JobStatusInProgress
	err = p.repo.Advance(ctx, meetingID, model.StatusUploaded, model.StatusTranscribing, store.Updates{
		TranscriptionJobID:     &jobName,
		TranscriptionJobStatus: &jobStatus,
	})
	if err == errors.ErrPreconditionFailed {
		log.Info().Msg("Meeting already transcribing, skipping duplicate submit bookkeeping")
		return nil
	}
	if err != nil {
		return err
	}

	pollEnv, err := event.New(event.TranscriptionStatusPoll, event.TranscriptionPollDetail{
		MeetingID: meetingID,
		JobID:     jobName,
	})
	if err != nil {
		return err
	}
	log.Info().Str("job_id", jobName).Msg("Transcription job started")
	return p.publisher.PublishDelayed(ctx, pollEnv, p.cfg.Transcribe.PollInterval)
}

// meetingInfoFromObject derives identity facts for an uploaded object,
// preferring explicit object tags over key conventions.
func meetingInfoFromObject(key string, tags map[string]string, now time.Time) (meetingID, fileName string, uploadedAt time.Time) {
	fileName = tags["original-name"]
	if fileName == "" {
		fileName = path.Base(key)
	}

	uploadedAt = now
	if raw := tags["upload-timestamp"]; raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			uploadedAt = parsed
		}
	}

	meetingID = tags["meeting-id"]
	if meetingID != "" {
		return meetingID, fileName, uploadedAt
	}

	parts := strings.Split(key, "/")
	if parts[0] == "meetings" && len(parts) > 1 {
		return parts[1], fileName, uploadedAt
	}
	base := parts[len(parts)-1]
	if m := keyIDPattern.FindStringSubmatch(base); m != nil {
		return m[1], fileName, uploadedAt
	}
	return uuid.NewString(), fileName, uploadedAt
}
