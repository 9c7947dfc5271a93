package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/llm"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/retry"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/pkg/errors"

	"github.com/rs/zerolog"
)

type extractedTask struct {
	Title       string `json:"title"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Assignee    string `json:"assignee"`
	Priority    string `json:"priority"`
	DueDate     string `json:"dueDate"`
}

type extractionResult struct {
	Summary     string           `json:"summary"`
	MeetingType string           `json:"meetingType"`
	Tasks       *[]extractedTask `json:"tasks"`
}

// HandleExtraction runs the LLM over the stored transcript and persists the
// extracted action items. The idempotency guard makes duplicate deliveries
// free: a meeting with tasks already generated never reaches the provider.
func (p *Pipeline) HandleExtraction(ctx context.Context, env event.Envelope, detail *event.TranscriptionCompletedDetail) error {
	if detail.MeetingID == "" {
		return errors.ValidationError{Field: "meetingId", Value: "", Message: "required"}
	}

	log := p.log.With().Str("meeting_id", detail.MeetingID).Int("retry_attempt", env.RetryAttempt).Logger()

	record, err := p.repo.Get(ctx, detail.MeetingID)
	if err != nil {
		return err
	}

	if record.TaskGenerationStatus == model.GenerationCompleted || len(record.ExtractedTasks) > 0 {
		log.Info().Msg("Tasks already generated, skipping")
		return nil
	}
	if record.Status.PastOrAt(model.StatusExtracted) {
		log.Info().Str("status", string(record.Status)).Msg("Meeting already past extraction, skipping")
		return nil
	}

	if record.FullTranscript == "" {
		if ferr := p.repo.MarkFailed(ctx, record.MeetingID, errors.ErrMissingTranscript.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to record missing transcript")
		}
		return errors.ErrMissingTranscript
	}

	// Cooldown gate: a throttled record whose window has not elapsed goes
	// straight back onto the delayed queue, before any provider work.
	if record.TaskGenerationStatus == model.GenerationThrottled {
		if waiting, remaining := retry.InCooldown(record.TaskGenerationTimestamp, env.RetryAttempt, p.now()); waiting {
			log.Info().Dur("remaining", remaining).Msg("Still in throttling cooldown, re-queueing")
			return p.retrier.Requeue(ctx, env, remaining)
		}
		log.Info().Msg("Throttling cooldown elapsed, retrying extraction")
	}

	switch record.Status {
	case model.StatusTranscribed:
		if err := p.repo.Advance(ctx, record.MeetingID, model.StatusTranscribed, model.StatusExtracting, store.Updates{}); err != nil {
			if err == errors.ErrPreconditionFailed {
				log.Info().Msg("Concurrent extraction already claimed this meeting")
				return nil
			}
			return err
		}
	case model.StatusExtracting:
		// Re-entry after a throttled deferral.
	default:
		log.Warn().Str("status", string(record.Status)).Msg("Extraction event arrived out of order, dropping")
		return nil
	}

	if err := p.repo.SetTaskGeneration(ctx, record.MeetingID, model.GenerationProcessing, ""); err != nil {
		return err
	}

	result, err := p.extractWithLLM(ctx, env.RetryAttempt, record.FullTranscript)
	switch {
	case err == nil:
		return p.finishExtraction(ctx, log, record.MeetingID, result, model.ExtractionLLM)

	case stderrors.Is(err, errors.ErrThrottleExhausted):
		if serr := p.repo.SetTaskGeneration(ctx, record.MeetingID, model.GenerationThrottled, err.Error()); serr != nil {
			return serr
		}
		log.Warn().Msg("Extraction throttled out, deferring via delayed re-delivery")
		return p.retrier.Requeue(ctx, env, retry.Cooldown(env.RetryAttempt))

	default:
		log.Warn().Err(err).Msg("Model extraction failed, falling back to keyword extraction")
		fallback := &extractionResult{
			Summary:     "",
			MeetingType: "general",
		}
		tasks := FallbackTasks(record.FullTranscript)
		fallback.Tasks = &tasks
		return p.finishExtraction(ctx, log, record.MeetingID, fallback, model.ExtractionFallback)
	}
}

func (p *Pipeline) finishExtraction(ctx context.Context, log zerolog.Logger, meetingID string, result *extractionResult, method model.ExtractionMethod) error {
	tasks := normalizeTasks(*result.Tasks)

	applied, err := p.repo.SetExtractedTasks(ctx, meetingID, tasks, result.Summary, result.MeetingType, method)
	if err != nil {
		if ferr := p.repo.MarkFailed(ctx, meetingID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to record extraction failure")
		}
		return err
	}
	if !applied {
		log.Info().Msg("Tasks written by a concurrent delivery, skipping")
		return nil
	}

	if err := p.repo.Advance(ctx, meetingID, model.StatusExtracting, model.StatusExtracted, store.Updates{}); err != nil {
		if err == errors.ErrPreconditionFailed {
			return nil
		}
		return err
	}

	log.Info().Int("task_count", len(tasks)).Str("method", string(method)).Msg("Task extraction completed")

	if len(tasks) == 0 {
		return nil
	}
	return p.publishNext(ctx, event.TaskExtractionCompleted, event.ExtractionCompletedDetail{
		MeetingID:   meetingID,
		TriggeredBy: "task-extraction",
	})
}

func (p *Pipeline) extractWithLLM(ctx context.Context, retryAttempt int, transcript string) (*extractionResult, error) {
	members := p.assignableNames(ctx)
	prompt := extractionPrompt(transcript, members, p.now().Format("2006-01-02"))

	var result extractionResult
	err := p.retrier.Do(ctx, retryAttempt, func(ctx context.Context) error {
		text, err := p.llm.Invoke(ctx, prompt)
		if err != nil {
			return err
		}
		var parsed extractionResult
		if err := llm.DecodeInto(text, &parsed); err != nil {
			return err
		}
		if parsed.Tasks == nil {
			return fmt.Errorf("%w: missing tasks array", errors.ErrInvalidResponse)
		}
		result = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// assignableNames is best effort: extraction works without the tracker, the
// names just make assignee strings in the model output more consistent.
func (p *Pipeline) assignableNames(ctx context.Context) []string {
	if p.jira == nil {
		return nil
	}
	members, err := p.jira.ListAssignableMembers(ctx)
	if err != nil {
		p.log.Debug().Err(err).Msg("Could not fetch assignable members for extraction prompt")
		return nil
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.Active {
			names = append(names, m.DisplayName)
		}
	}
	return names
}

func extractionPrompt(transcript string, memberNames []string, today string) string {
	var members string
	if len(memberNames) > 0 {
		members = "\nKnown team members: " + strings.Join(memberNames, ", ") + ".\nUse these exact names for assignees when they match.\n"
	}

	return fmt.Sprintf(`Extract actionable tasks from this meeting transcript. Return JSON only.
Today the date is: %s.
%s
TRANSCRIPT:
%s

Return this exact JSON structure:
{
  "summary": "Brief meeting summary",
  "meetingType": "standup|planning|review|general",
  "tasks": [
    {
      "title": "Task title",
      "status": "to do|in progress|done",
      "description": "What needs to be done",
      "assignee": "Person assigned or 'unassigned'",
      "priority": "low|medium|high",
      "dueDate": "YYYY-MM-DD format or null if not specified"
    }
  ]
}
Rules:
- Meeting future check-ins are not tasks
- Extract ALL tasks mentioned, including work that's completed
- Status determination:
  * "done" = completed work ("it's done", "finished", "completed")
  * "in progress" = currently working ("60%% done", "getting there", "working on")
  * "to do" = newly assigned or upcoming work
- Include status updates on existing work
- Return empty tasks array if no actionable items exist
- Return valid JSON only, no additional text`, today, members, transcript)
}

func normalizeTasks(raw []extractedTask) []model.Task {
	tasks := make([]model.Task, 0, len(raw))
	for _, t := range raw {
		if strings.TrimSpace(t.Title) == "" {
			continue
		}
		tasks = append(tasks, model.Task{
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			Assignee:    normalizeAssignee(t.Assignee),
			Priority:    normalizePriority(t.Priority),
			DueDate:     strings.TrimSpace(t.DueDate),
			Status:      normalizeStatusHint(t.Status),
		})
	}
	return tasks
}

func normalizeAssignee(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "unassigned"
	}
	return trimmed
}

func normalizePriority(s string) model.TaskPriority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return model.PriorityHigh
	case "low":
		return model.PriorityLow
	default:
		return model.PriorityMedium
	}
}

func normalizeStatusHint(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "done":
		return "done"
	case "in progress":
		return "in progress"
	default:
		return "to do"
	}
}
