package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/jira"
	"meeting-intelligence/internal/logger"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/retry"
	"meeting-intelligence/internal/storage"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/internal/transcribe"

	_ "modernc.org/sqlite"
)

type fakePublisher struct {
	published []event.Envelope
	delayed   []event.Envelope
	delays    []time.Duration
}

func (p *fakePublisher) Publish(ctx context.Context, env event.Envelope) error {
	p.published = append(p.published, env)
	return nil
}

func (p *fakePublisher) PublishDelayed(ctx context.Context, env event.Envelope, delay time.Duration) error {
	p.delayed = append(p.delayed, env)
	p.delays = append(p.delays, delay)
	return nil
}

// scriptedLLM returns canned responses in order; the last entry repeats.
type scriptedLLM struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (l *scriptedLLM) Invoke(ctx context.Context, prompt string) (string, error) {
	l.calls++
	l.prompts = append(l.prompts, prompt)
	if l.err != nil {
		return "", l.err
	}
	idx := l.calls - 1
	if idx >= len(l.responses) {
		idx = len(l.responses) - 1
	}
	return l.responses[idx], nil
}

type fakeJira struct {
	members    []jira.Member
	issues     []jira.Issue
	searchErr  error
	createErrs map[string]error

	created     []model.Task
	assigned    map[string]string
	transitions []jira.Transition
	applied     map[string]string
	nextKey     int
}

func newFakeJira() *fakeJira {
	return &fakeJira{
		createErrs: map[string]error{},
		assigned:   map[string]string{},
		applied:    map[string]string{},
	}
}

func (j *fakeJira) ListAssignableMembers(ctx context.Context) ([]jira.Member, error) {
	return j.members, nil
}

func (j *fakeJira) CreateIssue(ctx context.Context, task model.Task, meetingID string) (*jira.CreatedIssue, error) {
	if err := j.createErrs[task.Title]; err != nil {
		return nil, err
	}
	j.nextKey++
	j.created = append(j.created, task)
	key := fmt.Sprintf("MEET-%d", j.nextKey)
	return &jira.CreatedIssue{Key: key, URL: "https://tracker.example.com/browse/" + key}, nil
}

func (j *fakeJira) UpdateAssignee(ctx context.Context, issueKey, accountID string) error {
	j.assigned[issueKey] = accountID
	return nil
}

func (j *fakeJira) ListTransitions(ctx context.Context, issueKey string) ([]jira.Transition, error) {
	return j.transitions, nil
}

func (j *fakeJira) ApplyTransition(ctx context.Context, issueKey, transitionID string) error {
	j.applied[issueKey] = transitionID
	return nil
}

func (j *fakeJira) SearchIssues(ctx context.Context, jql string) ([]jira.Issue, error) {
	if j.searchErr != nil {
		return nil, j.searchErr
	}
	return j.issues, nil
}

type fakeStorage struct {
	metadata  map[string]*storage.Metadata
	objects   map[string]string
	presigned *storage.PresignedUpload
}

func (s *fakeStorage) GetMetadata(ctx context.Context, key string) (*storage.Metadata, error) {
	meta, ok := s.metadata[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return meta, nil
}

func (s *fakeStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.DownloadFrom(ctx, "meeting-recordings", key)
}

func (s *fakeStorage) DownloadFrom(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	body, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (s *fakeStorage) PresignUpload(ctx context.Context, key, contentType string) (*storage.PresignedUpload, error) {
	return s.presigned, nil
}

func (s *fakeStorage) Bucket() string { return "meeting-recordings" }

type fakeSTT struct {
	submitErr error
	submitted []string
	result    *transcribe.JobResult
	statusErr error
}

func (s *fakeSTT) Submit(ctx context.Context, jobName, mediaURI, outputBucket, outputPrefix string) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, jobName)
	return nil
}

func (s *fakeSTT) JobStatus(ctx context.Context, jobName string) (*transcribe.JobResult, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	return s.result, nil
}

type testEnv struct {
	p       *Pipeline
	repo    store.Repository
	pub     *fakePublisher
	llm     *scriptedLLM
	jira    *fakeJira
	storage *fakeStorage
	stt     *fakeSTT
}

func newTestPipeline(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	cfg := &config.Config{}
	cfg.Jira.BaseURL = "https://tracker.example.com"
	cfg.Jira.ProjectKey = "MEET"
	cfg.Transcribe.PollInterval = 30 * time.Second
	cfg.Transcribe.OutputPrefix = "transcripts/"

	env := &testEnv{
		repo:    store.NewRepository(db),
		pub:     &fakePublisher{},
		llm:     &scriptedLLM{responses: []string{"{}"}},
		jira:    newFakeJira(),
		storage: &fakeStorage{metadata: map[string]*storage.Metadata{}, objects: map[string]string{}},
		stt:     &fakeSTT{},
	}
	env.p = &Pipeline{
		cfg:       cfg,
		repo:      env.repo,
		storage:   env.storage,
		stt:       env.stt,
		llm:       env.llm,
		jira:      env.jira,
		publisher: env.pub,
		retrier:   retry.NewCoordinator(env.pub),
		now:       time.Now,
		pause:     func(ctx context.Context, d time.Duration) error { return nil },
		log:       logger.Get(),
	}
	return env
}

// seedMeeting creates a record and walks it to the wanted status, setting the
// fields a real pipeline run would have set on the way.
func seedMeeting(t *testing.T, env *testEnv, id string, status model.MeetingStatus, transcript string, tasks []model.Task) *model.MeetingRecord {
	t.Helper()
	ctx := context.Background()

	record := &model.MeetingRecord{
		MeetingID:        id,
		FileName:         "standup.mp3",
		StorageKey:       "meetings/" + id + "/standup.mp3",
		StorageContainer: "meeting-recordings",
		FileSize:         2048,
		ContentType:      "audio/mpeg",
		UploadTimestamp:  time.Now().UTC(),
	}
	if err := env.repo.Create(ctx, record); err != nil {
		t.Fatalf("failed to seed meeting: %v", err)
	}

	order := []model.MeetingStatus{
		model.StatusUploaded, model.StatusTranscribing, model.StatusTranscribed,
		model.StatusExtracting, model.StatusExtracted, model.StatusSyncing, model.StatusCompleted,
	}
	prev := model.StatusUploaded
	for _, next := range order[1:] {
		if prev == status {
			break
		}
		updates := store.Updates{}
		if next == model.StatusTranscribed && transcript != "" {
			jobStatus := model.JobStatusCompleted
			updates.FullTranscript = &transcript
			updates.TranscriptionJobStatus = &jobStatus
		}
		if err := env.repo.Advance(ctx, id, prev, next, updates); err != nil {
			t.Fatalf("failed to advance seed to %s: %v", next, err)
		}
		if next == model.StatusExtracted && len(tasks) > 0 {
			if _, err := env.repo.SetExtractedTasks(ctx, id, tasks, "seeded", "general", model.ExtractionLLM); err != nil {
				t.Fatalf("failed to seed tasks: %v", err)
			}
		}
		prev = next
	}

	got, err := env.repo.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func getMeeting(t *testing.T, env *testEnv, id string) *model.MeetingRecord {
	t.Helper()
	record, err := env.repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load meeting %s: %v", id, err)
	}
	return record
}
