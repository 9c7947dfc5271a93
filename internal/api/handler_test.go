package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/jira"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/storage"
	"meeting-intelligence/internal/store"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"
)

type stubPublisher struct {
	published []event.Envelope
}

func (p *stubPublisher) Publish(ctx context.Context, env event.Envelope) error {
	p.published = append(p.published, env)
	return nil
}

func (p *stubPublisher) PublishDelayed(ctx context.Context, env event.Envelope, delay time.Duration) error {
	return nil
}

type stubStorage struct {
	known map[string]bool
}

func (s *stubStorage) GetMetadata(ctx context.Context, key string) (*storage.Metadata, error) {
	if !s.known[key] {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return &storage.Metadata{Size: 1024, ContentType: "audio/mpeg"}, nil
}

func (s *stubStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubStorage) DownloadFrom(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("not implemented")
}

func (s *stubStorage) PresignUpload(ctx context.Context, key, contentType string) (*storage.PresignedUpload, error) {
	return &storage.PresignedUpload{
		URL:       "https://storage.example.com/" + key + "?signed",
		Key:       key,
		ExpiresIn: 15 * time.Minute,
	}, nil
}

func (s *stubStorage) Bucket() string { return "meeting-recordings" }

type stubJira struct {
	issues []jira.Issue
	err    error
}

func (j *stubJira) ListAssignableMembers(ctx context.Context) ([]jira.Member, error) {
	return nil, nil
}

func (j *stubJira) CreateIssue(ctx context.Context, task model.Task, meetingID string) (*jira.CreatedIssue, error) {
	return nil, fmt.Errorf("not implemented")
}

func (j *stubJira) UpdateAssignee(ctx context.Context, issueKey, accountID string) error {
	return nil
}

func (j *stubJira) ListTransitions(ctx context.Context, issueKey string) ([]jira.Transition, error) {
	return nil, nil
}

func (j *stubJira) ApplyTransition(ctx context.Context, issueKey, transitionID string) error {
	return nil
}

func (j *stubJira) SearchIssues(ctx context.Context, jql string) ([]jira.Issue, error) {
	if j.err != nil {
		return nil, j.err
	}
	return j.issues, nil
}

func newTestRouter(t *testing.T) (*gin.Engine, store.Repository, *stubPublisher, *stubStorage) {
	router, repo, publisher, objectStore, _ := newTestRouterJira(t)
	return router, repo, publisher, objectStore
}

func newTestRouterJira(t *testing.T) (*gin.Engine, store.Repository, *stubPublisher, *stubStorage, *stubJira) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := store.Migrate(db); err != nil {
		t.Fatal(err)
	}
	repo := store.NewRepository(db)

	cfg := &config.Config{}
	cfg.App.Name = "meeting-intelligence"
	cfg.App.Version = "test"

	publisher := &stubPublisher{}
	objectStore := &stubStorage{known: map[string]bool{}}
	tracker := &stubJira{}
	handler := NewHandler(repo, objectStore, publisher, tracker, cfg)

	router := gin.New()
	SetupRoutes(router, handler)
	return router, repo, publisher, objectStore, tracker
}

func TestHealthCheck(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRequestUpload(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	body := strings.NewReader(`{"fileName": "standup.mp3", "contentType": "audio/mpeg"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/presign", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		MeetingID  string `json:"meetingId"`
		UploadURL  string `json:"uploadUrl"`
		StorageKey string `json:"storageKey"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.MeetingID == "" || resp.UploadURL == "" {
		t.Errorf("response = %+v", resp)
	}
	wantPrefix := "meetings/" + resp.MeetingID + "/"
	if !strings.HasPrefix(resp.StorageKey, wantPrefix) {
		t.Errorf("storageKey = %q, want prefix %q", resp.StorageKey, wantPrefix)
	}
}

func TestCompleteUploadPublishesPipelineEvent(t *testing.T) {
	router, _, publisher, objectStore := newTestRouter(t)
	objectStore.known["meetings/m-1/standup.mp3"] = true

	body := strings.NewReader(`{"storageKey": "meetings/m-1/standup.mp3"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/complete", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(publisher.published) != 1 {
		t.Fatalf("published = %d events, want 1", len(publisher.published))
	}
	if publisher.published[0].DetailType != event.MeetingReadyForTranscription {
		t.Errorf("detailType = %s", publisher.published[0].DetailType)
	}
}

func TestCompleteUploadUnknownObject(t *testing.T) {
	router, _, publisher, _ := newTestRouter(t)

	body := strings.NewReader(`{"storageKey": "meetings/nope/missing.mp3"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/complete", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if len(publisher.published) != 0 {
		t.Errorf("published events for a missing object")
	}
}

func TestGetMeeting(t *testing.T) {
	router, repo, _, _ := newTestRouter(t)
	record := &model.MeetingRecord{
		MeetingID:        "m-1",
		FileName:         "standup.mp3",
		StorageKey:       "meetings/m-1/standup.mp3",
		StorageContainer: "meeting-recordings",
		FileSize:         1024,
		ContentType:      "audio/mpeg",
		UploadTimestamp:  time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/meetings/m-1", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got model.MeetingRecord
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.MeetingID != "m-1" || got.Status != model.StatusUploaded {
		t.Errorf("meeting = %+v", got)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/meetings/other", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing meeting status = %d", w.Code)
	}
}

func TestListMeetingsRejectsBadLimit(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/meetings?limit=abc", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want bad request", w.Code)
	}
}

func TestListJiraIssues(t *testing.T) {
	router, _, _, _, tracker := newTestRouterJira(t)
	tracker.issues = []jira.Issue{
		{Key: "PROJ-7", Summary: "Fix monitoring alerts", Status: "In Progress"},
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jira/tasks", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count  int          `json:"count"`
		Issues []jira.Issue `json:"issues"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Issues[0].Key != "PROJ-7" {
		t.Errorf("issues = %+v", resp)
	}
}

func TestListJiraIssuesUnavailable(t *testing.T) {
	router, _, _, _, tracker := newTestRouterJira(t)
	tracker.err = fmt.Errorf("connection refused")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jira/tasks", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want bad gateway", w.Code)
	}
}
