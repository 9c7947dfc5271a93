package pipeline

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/storage"
	"meeting-intelligence/pkg/errors"
)

func uploadEvent(t *testing.T, key string, retryAttempt int) (event.Envelope, *event.UploadDetail) {
	t.Helper()
	detail := &event.UploadDetail{StorageContainer: "meeting-recordings", StorageKey: key}
	env, err := event.New(event.MeetingReadyForTranscription, *detail)
	if err != nil {
		t.Fatal(err)
	}
	env.RetryAttempt = retryAttempt
	return env, detail
}

func TestMeetingInfoFromObject(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tagged := time.Date(2025, 5, 30, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		key      string
		tags     map[string]string
		wantID   string
		wantFile string
	}{
		{
			name:     "tags win over key conventions",
			key:      "meetings/from-key/audio.mp3",
			tags:     map[string]string{"meeting-id": "from-tag", "original-name": "Standup.mp3", "upload-timestamp": tagged.Format(time.RFC3339)},
			wantID:   "from-tag",
			wantFile: "Standup.mp3",
		},
		{
			name:     "meetings prefix key",
			key:      "meetings/abc-123/audio.mp3",
			wantID:   "abc-123",
			wantFile: "audio.mp3",
		},
		{
			name:     "underscore prefix key",
			key:      "uploads/rec-9_standup.mp3",
			wantID:   "rec-9",
			wantFile: "rec-9_standup.mp3",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, file, at := meetingInfoFromObject(tc.key, tc.tags, now)
			if id != tc.wantID {
				t.Errorf("id = %q, want %q", id, tc.wantID)
			}
			if file != tc.wantFile {
				t.Errorf("file = %q, want %q", file, tc.wantFile)
			}
			if tc.tags["upload-timestamp"] != "" && !at.Equal(tagged) {
				t.Errorf("uploadedAt = %v, want the tagged timestamp", at)
			}
		})
	}

	// A bare key gets a generated identity.
	id, _, _ := meetingInfoFromObject("somefile.mp3", nil, now)
	if id == "" {
		t.Error("expected a generated meeting id")
	}
}

func TestUploadCreatesRecordAndSchedulesPoll(t *testing.T) {
	env := newTestPipeline(t)
	key := "meetings/m-1/standup.mp3"
	env.storage.metadata[key] = &storage.Metadata{Size: 4096, ContentType: "audio/mpeg"}

	evt, detail := uploadEvent(t, key, 0)
	if err := env.p.HandleUpload(context.Background(), evt, detail); err != nil {
		t.Fatalf("HandleUpload returned %v", err)
	}

	record := getMeeting(t, env, "m-1")
	if record.Status != model.StatusTranscribing {
		t.Errorf("status = %s, want transcribing", record.Status)
	}
	if record.TranscriptionJobID == "" {
		t.Error("job id not recorded")
	}
	if record.TranscriptionJobStatus != model.JobStatusInProgress {
		t.Errorf("job status = %s, want IN_PROGRESS", record.TranscriptionJobStatus)
	}
	if record.FileSize != 4096 || record.ContentType != "audio/mpeg" {
		t.Errorf("upload facts = %+v", record)
	}

	if len(env.stt.submitted) != 1 {
		t.Fatalf("submits = %d, want 1", len(env.stt.submitted))
	}
	if len(env.pub.delayed) != 1 {
		t.Fatalf("delayed publishes = %d, want the status poll", len(env.pub.delayed))
	}
	if env.pub.delayed[0].DetailType != event.TranscriptionStatusPoll {
		t.Errorf("delayed detailType = %s", env.pub.delayed[0].DetailType)
	}
	if env.pub.delays[0] != 30*time.Second {
		t.Errorf("poll delay = %v, want the poll interval", env.pub.delays[0])
	}
}

func TestUploadDuplicateDeliveryDoesNotResubmit(t *testing.T) {
	env := newTestPipeline(t)
	key := "meetings/m-1/standup.mp3"
	env.storage.metadata[key] = &storage.Metadata{Size: 4096, ContentType: "audio/mpeg"}
	ctx := context.Background()

	evt, detail := uploadEvent(t, key, 0)
	if err := env.p.HandleUpload(ctx, evt, detail); err != nil {
		t.Fatal(err)
	}
	if err := env.p.HandleUpload(ctx, evt, detail); err != nil {
		t.Fatalf("duplicate HandleUpload returned %v", err)
	}

	if len(env.stt.submitted) != 1 {
		t.Errorf("submits = %d, duplicate delivery must not resubmit", len(env.stt.submitted))
	}
}

func TestUploadThrottleExhaustionDefers(t *testing.T) {
	env := newTestPipeline(t)
	key := "meetings/m-1/standup.mp3"
	env.storage.metadata[key] = &storage.Metadata{Size: 4096, ContentType: "audio/mpeg"}
	env.stt.submitErr = errors.NewThrottled("transcribe", stderrors.New("rate limited"))

	evt, detail := uploadEvent(t, key, 2)
	if err := env.p.HandleUpload(context.Background(), evt, detail); err != nil {
		t.Fatalf("HandleUpload returned %v", err)
	}

	record := getMeeting(t, env, "m-1")
	if record.Status != model.StatusUploaded {
		t.Errorf("status = %s, want uploaded until the re-delivery", record.Status)
	}
	if len(env.pub.delayed) != 1 || env.pub.delayed[0].RetryAttempt != 3 {
		t.Fatalf("delayed = %+v, want one re-delivery at attempt 3", env.pub.delayed)
	}
}

func TestUploadFatalSubmitFailsMeeting(t *testing.T) {
	env := newTestPipeline(t)
	key := "meetings/m-1/standup.mp3"
	env.storage.metadata[key] = &storage.Metadata{Size: 4096, ContentType: "audio/mpeg"}
	env.stt.submitErr = errors.NewRejected("transcribe", stderrors.New("unsupported media"))

	evt, detail := uploadEvent(t, key, 0)
	if err := env.p.HandleUpload(context.Background(), evt, detail); err == nil {
		t.Fatal("expected the fatal submit error to surface")
	}

	record := getMeeting(t, env, "m-1")
	if record.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", record.Status)
	}
	if record.ErrorMessage == "" {
		t.Error("error message not recorded")
	}
}
