package model

import "time"

// MeetingStatus is the authoritative pipeline state of a meeting. It only
// moves forward; Failed is reachable from any non-terminal state.
type MeetingStatus string

const (
	StatusUploaded     MeetingStatus = "uploaded"
	StatusTranscribing MeetingStatus = "transcribing"
	StatusTranscribed  MeetingStatus = "transcribed"
	StatusExtracting   MeetingStatus = "extracting"
	StatusExtracted    MeetingStatus = "extracted"
	StatusSyncing      MeetingStatus = "syncing"
	StatusCompleted    MeetingStatus = "completed"
	StatusFailed       MeetingStatus = "failed"
)

var statusRank = map[MeetingStatus]int{
	StatusUploaded:     0,
	StatusTranscribing: 1,
	StatusTranscribed:  2,
	StatusExtracting:   3,
	StatusExtracted:    4,
	StatusSyncing:      5,
	StatusCompleted:    6,
	StatusFailed:       7,
}

// Terminal reports whether no further pipeline work applies.
func (s MeetingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PastOrAt reports whether s has already reached or passed other. Used by
// stages to treat duplicate event delivery as a no-op success.
func (s MeetingStatus) PastOrAt(other MeetingStatus) bool {
	return statusRank[s] >= statusRank[other]
}

type TranscriptionJobStatus string

const (
	JobStatusPending    TranscriptionJobStatus = "PENDING"
	JobStatusInProgress TranscriptionJobStatus = "IN_PROGRESS"
	JobStatusCompleted  TranscriptionJobStatus = "COMPLETED"
	JobStatusFailed     TranscriptionJobStatus = "FAILED"
)

type TaskGenerationStatus string

const (
	GenerationPending    TaskGenerationStatus = "pending"
	GenerationProcessing TaskGenerationStatus = "processing"
	GenerationCompleted  TaskGenerationStatus = "completed"
	GenerationThrottled  TaskGenerationStatus = "throttled"
	GenerationFailed     TaskGenerationStatus = "failed"
)

type JiraSyncStatus string

const (
	JiraSyncPending   JiraSyncStatus = "pending"
	JiraSyncCompleted JiraSyncStatus = "completed"
	JiraSyncFailed    JiraSyncStatus = "failed"
)

type ExtractionMethod string

const (
	ExtractionLLM      ExtractionMethod = "llm"
	ExtractionFallback ExtractionMethod = "keyword-fallback"
)

// MeetingRecord is the single source of truth for one meeting's progress
// through the pipeline. Upload facts are set once and never mutated.
type MeetingRecord struct {
	MeetingID        string        `json:"meetingId"`
	FileName         string        `json:"fileName"`
	StorageKey       string        `json:"storageKey"`
	StorageContainer string        `json:"storageContainer"`
	FileSize         int64         `json:"fileSize"`
	ContentType      string        `json:"contentType"`
	UploadTimestamp  time.Time     `json:"uploadTimestamp"`
	Status           MeetingStatus `json:"status"`

	TranscriptionJobID     string                 `json:"transcriptionJobId,omitempty"`
	TranscriptionJobStatus TranscriptionJobStatus `json:"transcriptionJobStatus"`
	FullTranscript         string                 `json:"fullTranscript,omitempty"`

	MeetingSummary   string           `json:"meetingSummary,omitempty"`
	MeetingType      string           `json:"meetingType,omitempty"`
	ExtractedTasks   []Task           `json:"extractedTasks,omitempty"`
	ExtractionMethod ExtractionMethod `json:"extractionMethod,omitempty"`

	TaskGenerationStatus    TaskGenerationStatus `json:"taskGenerationStatus"`
	TaskGenerationTimestamp time.Time            `json:"taskGenerationTimestamp,omitempty"`
	TaskGenerationError     string               `json:"taskGenerationError,omitempty"`

	JiraSyncStatus JiraSyncStatus `json:"jiraSyncStatus"`
	JiraTickets    []JiraTicket   `json:"jiraTickets,omitempty"`
	JiraSyncErrors []JiraTaskErr  `json:"jiraSyncErrors,omitempty"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task is one extracted action item. It lives inside the parent meeting
// record and is never persisted independently.
type Task struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Assignee    string       `json:"assignee"`
	AssigneeID  string       `json:"assigneeId,omitempty"`
	Priority    TaskPriority `json:"priority"`
	DueDate     string       `json:"dueDate,omitempty"`
	Status      string       `json:"status"`
	JiraKey     string       `json:"jiraKey,omitempty"`
}

type JiraTicket struct {
	IssueKey  string `json:"issueKey"`
	IssueURL  string `json:"issueUrl"`
	TaskTitle string `json:"taskTitle"`
	Action    string `json:"action"`
}

type JiraTaskErr struct {
	TaskTitle string `json:"taskTitle"`
	Action    string `json:"action"`
	Error     string `json:"error"`
}
