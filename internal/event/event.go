package event

import (
	"encoding/json"
	"time"

	"meeting-intelligence/internal/model"
	"meeting-intelligence/pkg/errors"
)

const Source = "meeting.app"

// DetailType is the closed vocabulary of stage-trigger events. Anything
// outside it is rejected at parse time, never silently dropped.
type DetailType string

const (
	MeetingReadyForTranscription DetailType = "Meeting Ready for Transcription"
	TranscriptionStatusPoll      DetailType = "Transcription Status Poll"
	TranscriptionCompleted       DetailType = "Transcription Completed"
	TaskExtractionCompleted      DetailType = "Task Extraction Completed"
	TasksReadyForCreation        DetailType = "Tasks Ready for Creation"
	TasksReadyForUpdate          DetailType = "Tasks Ready for Update"
)

// Envelope is the wire shape of every bus message. RetryAttempt and QueuedAt
// are carried for deferred re-deliveries and stay zero-valued otherwise.
type Envelope struct {
	Source       string          `json:"source"`
	DetailType   DetailType      `json:"detailType"`
	Detail       json.RawMessage `json:"detail"`
	RetryAttempt int             `json:"retryAttempt,omitempty"`
	QueuedAt     time.Time       `json:"queuedAt,omitempty"`
}

type UploadDetail struct {
	StorageContainer string `json:"storageContainer"`
	StorageKey       string `json:"storageKey"`
}

type TranscriptionPollDetail struct {
	MeetingID string `json:"meetingId"`
	JobID     string `json:"jobId"`
}

type TranscriptionCompletedDetail struct {
	MeetingID   string `json:"meetingId"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

type ExtractionCompletedDetail struct {
	MeetingID   string `json:"meetingId"`
	TriggeredBy string `json:"triggeredBy,omitempty"`
}

// TasksReadyDetail carries one batch of tasks for the sync stage. TotalTasks
// is the size of both batches combined so either sync event can tell when the
// whole meeting is settled.
type TasksReadyDetail struct {
	MeetingID  string       `json:"meetingId"`
	Tasks      []model.Task `json:"tasks"`
	TotalTasks int          `json:"totalTasks"`
}

// Payload is the decoded, typed detail of an envelope. Exactly one field is
// non-nil, matching the detail type.
type Payload struct {
	Upload                 *UploadDetail
	TranscriptionPoll      *TranscriptionPollDetail
	TranscriptionCompleted *TranscriptionCompletedDetail
	ExtractionCompleted    *ExtractionCompletedDetail
	TasksReady             *TasksReadyDetail
}

func New(detailType DetailType, detail interface{}) (Envelope, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Source: Source, DetailType: detailType, Detail: raw}, nil
}

// Decode rejects envelopes outside the recognized (source, detailType)
// vocabulary with a ValidationError and returns the typed payload otherwise.
func Decode(env Envelope) (Payload, error) {
	if env.Source != Source {
		return Payload{}, errors.ValidationError{
			Field: "source", Value: env.Source, Message: "unrecognized event source",
		}
	}

	var p Payload
	var err error
	switch env.DetailType {
	case MeetingReadyForTranscription:
		d := &UploadDetail{}
		err = json.Unmarshal(env.Detail, d)
		p.Upload = d
	case TranscriptionStatusPoll:
		d := &TranscriptionPollDetail{}
		err = json.Unmarshal(env.Detail, d)
		p.TranscriptionPoll = d
	case TranscriptionCompleted:
		d := &TranscriptionCompletedDetail{}
		err = json.Unmarshal(env.Detail, d)
		p.TranscriptionCompleted = d
	case TaskExtractionCompleted:
		d := &ExtractionCompletedDetail{}
		err = json.Unmarshal(env.Detail, d)
		p.ExtractionCompleted = d
	case TasksReadyForCreation, TasksReadyForUpdate:
		d := &TasksReadyDetail{}
		err = json.Unmarshal(env.Detail, d)
		p.TasksReady = d
	default:
		return Payload{}, errors.ValidationError{
			Field: "detailType", Value: string(env.DetailType), Message: "unrecognized event type",
		}
	}
	if err != nil {
		return Payload{}, errors.ValidationError{
			Field: "detail", Value: string(env.Detail), Message: err.Error(),
		}
	}
	return p, nil
}
