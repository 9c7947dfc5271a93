package api

import (
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"meeting-intelligence/internal/bus"
	"meeting-intelligence/internal/config"
	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/jira"
	"meeting-intelligence/internal/logger"
	"meeting-intelligence/internal/report"
	"meeting-intelligence/internal/storage"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Handler struct {
	repo      store.Repository
	storage   storage.Storage
	publisher bus.Publisher
	jira      jira.Client
	cfg       *config.Config
	log       zerolog.Logger
}

func NewHandler(
	repo store.Repository,
	objectStore storage.Storage,
	publisher bus.Publisher,
	jiraClient jira.Client,
	cfg *config.Config,
) *Handler {
	return &Handler{
		repo:      repo,
		storage:   objectStore,
		publisher: publisher,
		jira:      jiraClient,
		cfg:       cfg,
		log:       logger.Get(),
	}
}

type presignRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	ContentType string `json:"contentType"`
}

// RequestUpload hands the client a presigned PUT URL. The object key embeds
// a fresh meeting ID so the pipeline can recover it from the key alone.
func (h *Handler) RequestUpload(c *gin.Context) {
	var req presignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	meetingID := uuid.New().String()
	key := fmt.Sprintf("meetings/%s/%s", meetingID, path.Base(req.FileName))

	presigned, err := h.storage.PresignUpload(c.Request.Context(), key, req.ContentType)
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Failed to presign upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload"})
		return
	}

	h.log.Info().Str("meeting_id", meetingID).Str("key", key).Msg("Upload URL issued")

	c.JSON(http.StatusOK, gin.H{
		"meetingId":  meetingID,
		"uploadUrl":  presigned.URL,
		"storageKey": presigned.Key,
		"expiresIn":  int(presigned.ExpiresIn / time.Second),
	})
}

type uploadCompleteRequest struct {
	StorageKey string `json:"storageKey" binding:"required"`
}

// CompleteUpload is the client's signal that the object landed. It starts
// the pipeline by publishing the first stage event.
func (h *Handler) CompleteUpload(c *gin.Context) {
	var req uploadCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if _, err := h.storage.GetMetadata(c.Request.Context(), req.StorageKey); err != nil {
		h.log.Error().Err(err).Str("key", req.StorageKey).Msg("Uploaded object not found")
		c.JSON(http.StatusNotFound, gin.H{"error": "Uploaded file not found"})
		return
	}

	env, err := event.New(event.MeetingReadyForTranscription, event.UploadDetail{
		StorageContainer: h.storage.Bucket(),
		StorageKey:       req.StorageKey,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if err := h.publisher.Publish(c.Request.Context(), env); err != nil {
		h.log.Error().Err(err).Msg("Failed to publish upload event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start processing"})
		return
	}

	h.log.Info().Str("key", req.StorageKey).Msg("Meeting queued for transcription")

	c.JSON(http.StatusAccepted, gin.H{"message": "Processing started", "storageKey": req.StorageKey})
}

func (h *Handler) GetMeeting(c *gin.Context) {
	meetingID := c.Param("meeting_id")

	record, err := h.repo.Get(c.Request.Context(), meetingID)
	if err != nil {
		if err == errors.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
			return
		}
		h.log.Error().Err(err).Str("meeting_id", meetingID).Msg("Failed to load meeting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) ListMeetings(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	records, err := h.repo.List(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list meetings")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"meetings": records, "count": len(records)})
}

func (h *Handler) GetMeetingTasks(c *gin.Context) {
	meetingID := c.Param("meeting_id")

	record, err := h.repo.Get(c.Request.Context(), meetingID)
	if err != nil {
		if err == errors.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
			return
		}
		h.log.Error().Err(err).Str("meeting_id", meetingID).Msg("Failed to load meeting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"meetingId":      record.MeetingID,
		"status":         record.Status,
		"tasks":          record.ExtractedTasks,
		"jiraTickets":    record.JiraTickets,
		"jiraSyncErrors": record.JiraSyncErrors,
	})
}

// ExportMeetingTasks streams the extracted tasks as an Excel workbook.
func (h *Handler) ExportMeetingTasks(c *gin.Context) {
	meetingID := c.Param("meeting_id")

	record, err := h.repo.Get(c.Request.Context(), meetingID)
	if err != nil {
		if err == errors.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Meeting not found"})
			return
		}
		h.log.Error().Err(err).Str("meeting_id", meetingID).Msg("Failed to load meeting")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if len(record.ExtractedTasks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Meeting has no extracted tasks"})
		return
	}

	buf, err := report.TasksWorkbook(record)
	if err != nil {
		h.log.Error().Err(err).Str("meeting_id", meetingID).Msg("Failed to build task export")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	filename := fmt.Sprintf("meeting-tasks-%s.xlsx", meetingID)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// ListJiraIssues returns the open issues in the configured tracker project,
// the same view the reconciliation stage matches extracted tasks against.
func (h *Handler) ListJiraIssues(c *gin.Context) {
	jql := fmt.Sprintf(`project = "%s" AND statusCategory != Done ORDER BY created DESC`, h.cfg.Jira.ProjectKey)

	issues, err := h.jira.SearchIssues(c.Request.Context(), jql)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to search tracker issues")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Issue tracker unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"issues": issues, "count": len(issues)})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.cfg.App.Name,
		"version": h.cfg.App.Version,
	})
}
