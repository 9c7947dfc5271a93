package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"meeting-intelligence/internal/model"
	"meeting-intelligence/pkg/errors"
)

// Updates carries the field changes one stage is allowed to apply. Nil
// pointers and nil slices are left untouched.
type Updates struct {
	TranscriptionJobID     *string
	TranscriptionJobStatus *model.TranscriptionJobStatus
	FullTranscript         *string
	MeetingSummary         *string
	MeetingType            *string
	ExtractionMethod       *model.ExtractionMethod
	JiraSyncStatus         *model.JiraSyncStatus
	ErrorMessage           *string
}

// Repository is the meeting-record state machine. Advance is the only way a
// stage moves the pipeline status; its compare-and-set precondition is the
// sole guard against duplicate or re-ordered event delivery.
type Repository interface {
	Create(ctx context.Context, record *model.MeetingRecord) error
	Get(ctx context.Context, meetingID string) (*model.MeetingRecord, error)
	List(ctx context.Context, limit int) ([]*model.MeetingRecord, error)
	Advance(ctx context.Context, meetingID string, expected, next model.MeetingStatus, updates Updates) error
	MarkFailed(ctx context.Context, meetingID string, reason string) error
	SetTaskGeneration(ctx context.Context, meetingID string, status model.TaskGenerationStatus, errText string) error
	SetExtractedTasks(ctx context.Context, meetingID string, tasks []model.Task, summary, meetingType string, method model.ExtractionMethod) (bool, error)
	RecordSyncResults(ctx context.Context, meetingID string, tickets []model.JiraTicket, syncErrs []model.JiraTaskErr) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, record *model.MeetingRecord) error {
	query := `INSERT INTO meetings (meeting_id, file_name, storage_key, storage_container, file_size,
			  content_type, upload_timestamp, status, transcription_job_status, task_generation_status,
			  jira_sync_status, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = model.StatusUploaded
	}
	if record.TranscriptionJobStatus == "" {
		record.TranscriptionJobStatus = model.JobStatusPending
	}
	if record.TaskGenerationStatus == "" {
		record.TaskGenerationStatus = model.GenerationPending
	}
	if record.JiraSyncStatus == "" {
		record.JiraSyncStatus = model.JiraSyncPending
	}

	_, err := r.db.ExecContext(ctx, query,
		record.MeetingID, record.FileName, record.StorageKey, record.StorageContainer,
		record.FileSize, record.ContentType, record.UploadTimestamp, record.Status,
		record.TranscriptionJobStatus, record.TaskGenerationStatus, record.JiraSyncStatus,
		record.CreatedAt, record.UpdatedAt,
	)
	return err
}

const selectColumns = `meeting_id, file_name, storage_key, storage_container, file_size, content_type,
	upload_timestamp, status, transcription_job_id, transcription_job_status, full_transcript,
	meeting_summary, meeting_type, extracted_tasks, extraction_method, task_generation_status,
	task_generation_timestamp, task_generation_error, jira_sync_status, jira_tickets,
	jira_sync_errors, error_message, created_at, updated_at`

func (r *repository) Get(ctx context.Context, meetingID string) (*model.MeetingRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM meetings WHERE meeting_id = ?`

	record, err := scanMeeting(r.db.QueryRowContext(ctx, query, meetingID))
	if err == sql.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]*model.MeetingRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM meetings ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*model.MeetingRecord
	for rows.Next() {
		record, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Advance applies updates and moves status expected -> next in one guarded
// UPDATE. A status mismatch means the triggering event is stale or a
// duplicate and surfaces as ErrPreconditionFailed.
func (r *repository) Advance(ctx context.Context, meetingID string, expected, next model.MeetingStatus, updates Updates) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{next, time.Now().UTC()}

	appendSet := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if updates.TranscriptionJobID != nil {
		appendSet("transcription_job_id", *updates.TranscriptionJobID)
	}
	if updates.TranscriptionJobStatus != nil {
		appendSet("transcription_job_status", *updates.TranscriptionJobStatus)
	}
	if updates.FullTranscript != nil {
		appendSet("full_transcript", *updates.FullTranscript)
	}
	if updates.MeetingSummary != nil {
		appendSet("meeting_summary", *updates.MeetingSummary)
	}
	if updates.MeetingType != nil {
		appendSet("meeting_type", *updates.MeetingType)
	}
	if updates.ExtractionMethod != nil {
		appendSet("extraction_method", *updates.ExtractionMethod)
	}
	if updates.JiraSyncStatus != nil {
		appendSet("jira_sync_status", *updates.JiraSyncStatus)
	}
	if updates.ErrorMessage != nil {
		appendSet("error_message", *updates.ErrorMessage)
	}

	query := fmt.Sprintf("UPDATE meetings SET %s WHERE meeting_id = ? AND status = ?", strings.Join(sets, ", "))
	args = append(args, meetingID, expected)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, meetingID); err != nil {
			return err
		}
		return errors.ErrPreconditionFailed
	}
	return nil
}

// MarkFailed records a terminal failure from any non-terminal state. Repeated
// calls overwrite the error message without erroring; a completed meeting is
// never demoted.
func (r *repository) MarkFailed(ctx context.Context, meetingID string, reason string) error {
	query := `UPDATE meetings SET status = ?, error_message = ?, updated_at = ?
			  WHERE meeting_id = ? AND status <> ?`

	result, err := r.db.ExecContext(ctx, query,
		model.StatusFailed, reason, time.Now().UTC(), meetingID, model.StatusCompleted)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, meetingID); err != nil {
			return err
		}
		// Already completed, leave it alone.
	}
	return nil
}

// SetTaskGeneration is monotonic: once completed, the sub-status is never
// demoted by a late or duplicate write.
func (r *repository) SetTaskGeneration(ctx context.Context, meetingID string, status model.TaskGenerationStatus, errText string) error {
	query := `UPDATE meetings SET task_generation_status = ?, task_generation_timestamp = ?,
			  task_generation_error = ?, updated_at = ?
			  WHERE meeting_id = ? AND task_generation_status <> ?`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, status, now, nullable(errText), now,
		meetingID, model.GenerationCompleted)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, meetingID); err != nil {
			return err
		}
	}
	return nil
}

// SetExtractedTasks writes the task list at most once per meeting. The false
// return means tasks were already present and nothing was written, which
// callers treat as a duplicate-delivery no-op.
func (r *repository) SetExtractedTasks(ctx context.Context, meetingID string, tasks []model.Task, summary, meetingType string, method model.ExtractionMethod) (bool, error) {
	tasksJSON, err := json.Marshal(tasks)
	if err != nil {
		return false, err
	}

	query := `UPDATE meetings SET extracted_tasks = ?, meeting_summary = ?, meeting_type = ?,
			  extraction_method = ?, task_generation_status = ?, task_generation_timestamp = ?, updated_at = ?
			  WHERE meeting_id = ? AND extracted_tasks IS NULL AND task_generation_status <> ?`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, string(tasksJSON), summary, meetingType,
		method, model.GenerationCompleted, now, now, meetingID, model.GenerationCompleted)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		if _, err := r.Get(ctx, meetingID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

const maxMergeAttempts = 10

// RecordSyncResults appends tracker results from one sync batch. Item-level
// errors are stored alongside; they never block the aggregate write. The
// sync sub-status is left alone here because the other batch may still be in
// flight; Advance flips it when the meeting settles.
//
// The creation and update batches run concurrently, so the read-merge-write
// is guarded by sync_version: an interleaved write from the other batch
// bumps the version, the guarded UPDATE touches zero rows, and the merge is
// retried on the fresh lists.
func (r *repository) RecordSyncResults(ctx context.Context, meetingID string, tickets []model.JiraTicket, syncErrs []model.JiraTaskErr) error {
	selectQuery := `SELECT jira_tickets, jira_sync_errors, sync_version FROM meetings WHERE meeting_id = ?`
	updateQuery := `UPDATE meetings SET jira_tickets = ?, jira_sync_errors = ?,
			  sync_version = sync_version + 1, updated_at = ?
			  WHERE meeting_id = ? AND sync_version = ?`

	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		var ticketsJSON, errsJSON sql.NullString
		var version int
		err := r.db.QueryRowContext(ctx, selectQuery, meetingID).Scan(&ticketsJSON, &errsJSON, &version)
		if err == sql.ErrNoRows {
			return errors.ErrNotFound
		}
		if err != nil {
			return err
		}

		var existingTickets []model.JiraTicket
		if ticketsJSON.Valid && ticketsJSON.String != "" {
			if err := json.Unmarshal([]byte(ticketsJSON.String), &existingTickets); err != nil {
				return fmt.Errorf("corrupt jira_tickets for %s: %w", meetingID, err)
			}
		}
		var existingErrs []model.JiraTaskErr
		if errsJSON.Valid && errsJSON.String != "" {
			if err := json.Unmarshal([]byte(errsJSON.String), &existingErrs); err != nil {
				return fmt.Errorf("corrupt jira_sync_errors for %s: %w", meetingID, err)
			}
		}

		mergedJSON, err := json.Marshal(append(existingTickets, tickets...))
		if err != nil {
			return err
		}
		mergedErrsJSON, err := json.Marshal(append(existingErrs, syncErrs...))
		if err != nil {
			return err
		}

		result, err := r.db.ExecContext(ctx, updateQuery, string(mergedJSON), string(mergedErrsJSON),
			time.Now().UTC(), meetingID, version)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
	}
	return fmt.Errorf("sync results for %s kept conflicting after %d merge attempts", meetingID, maxMergeAttempts)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeeting(row rowScanner) (*model.MeetingRecord, error) {
	var record model.MeetingRecord
	var (
		jobID, transcript, summary, meetingType sql.NullString
		tasksJSON, method, genError             sql.NullString
		ticketsJSON, syncErrsJSON, errorMessage sql.NullString
		genTimestamp                            sql.NullTime
	)

	err := row.Scan(
		&record.MeetingID, &record.FileName, &record.StorageKey, &record.StorageContainer,
		&record.FileSize, &record.ContentType, &record.UploadTimestamp, &record.Status,
		&jobID, &record.TranscriptionJobStatus, &transcript, &summary, &meetingType,
		&tasksJSON, &method, &record.TaskGenerationStatus, &genTimestamp, &genError,
		&record.JiraSyncStatus, &ticketsJSON, &syncErrsJSON, &errorMessage,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.TranscriptionJobID = jobID.String
	record.FullTranscript = transcript.String
	record.MeetingSummary = summary.String
	record.MeetingType = meetingType.String
	record.ExtractionMethod = model.ExtractionMethod(method.String)
	record.TaskGenerationError = genError.String
	record.ErrorMessage = errorMessage.String
	if genTimestamp.Valid {
		record.TaskGenerationTimestamp = genTimestamp.Time
	}
	if tasksJSON.Valid && tasksJSON.String != "" {
		if err := json.Unmarshal([]byte(tasksJSON.String), &record.ExtractedTasks); err != nil {
			return nil, fmt.Errorf("corrupt extracted_tasks for %s: %w", record.MeetingID, err)
		}
	}
	if ticketsJSON.Valid && ticketsJSON.String != "" {
		if err := json.Unmarshal([]byte(ticketsJSON.String), &record.JiraTickets); err != nil {
			return nil, fmt.Errorf("corrupt jira_tickets for %s: %w", record.MeetingID, err)
		}
	}
	if syncErrsJSON.Valid && syncErrsJSON.String != "" {
		if err := json.Unmarshal([]byte(syncErrsJSON.String), &record.JiraSyncErrors); err != nil {
			return nil, fmt.Errorf("corrupt jira_sync_errors for %s: %w", record.MeetingID, err)
		}
	}

	return &record, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
