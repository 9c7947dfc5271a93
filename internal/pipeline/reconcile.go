package pipeline

import (
	"context"
	"fmt"
	"strings"

	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/jira"
	"meeting-intelligence/internal/llm"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/pkg/errors"

	"github.com/rs/zerolog"
)

// HandleReconciliation splits the extracted tasks into a create batch and an
// update batch against the open issues already in the tracker, then hands
// each batch to the sync stage as its own event.
func (p *Pipeline) HandleReconciliation(ctx context.Context, env event.Envelope, detail *event.ExtractionCompletedDetail) error {
	if detail.MeetingID == "" {
		return errors.ValidationError{Field: "meetingId", Value: "", Message: "required"}
	}

	log := p.log.With().Str("meeting_id", detail.MeetingID).Logger()

	record, err := p.repo.Get(ctx, detail.MeetingID)
	if err != nil {
		return err
	}
	if record.Status.PastOrAt(model.StatusSyncing) {
		log.Info().Str("status", string(record.Status)).Msg("Meeting already syncing or settled, skipping")
		return nil
	}
	if record.Status != model.StatusExtracted {
		log.Warn().Str("status", string(record.Status)).Msg("Reconciliation event arrived out of order, dropping")
		return nil
	}
	if len(record.ExtractedTasks) == 0 {
		return fmt.Errorf("%w: meeting %s", errors.ErrNoTasksToSync, record.MeetingID)
	}

	if err := p.repo.Advance(ctx, record.MeetingID, model.StatusExtracted, model.StatusSyncing, store.Updates{}); err != nil {
		if err == errors.ErrPreconditionFailed {
			log.Info().Msg("Concurrent reconciliation already claimed this meeting")
			return nil
		}
		return err
	}

	var existing []jira.Issue
	err = p.retrier.Do(ctx, env.RetryAttempt, func(ctx context.Context) error {
		jql := fmt.Sprintf(`project = "%s" AND statusCategory != Done ORDER BY created DESC`, p.cfg.Jira.ProjectKey)
		issues, err := p.jira.SearchIssues(ctx, jql)
		if err != nil {
			return err
		}
		existing = issues
		return nil
	})
	if err != nil {
		// Without tracker visibility any create risks a duplicate, so the
		// stage fails outright and the event lands in the DLQ.
		log.Error().Err(err).Msg("Could not list existing issues")
		if ferr := p.repo.MarkFailed(ctx, record.MeetingID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("Failed to record reconciliation failure")
		}
		return err
	}

	creates, updates := p.classifyTasks(ctx, record.ExtractedTasks, existing, log)
	total := len(creates) + len(updates)
	log.Info().Int("create", len(creates)).Int("update", len(updates)).Int("existing_issues", len(existing)).Msg("Reconciliation classified tasks")

	if total == 0 {
		if err := p.repo.RecordSyncResults(ctx, record.MeetingID, nil, nil); err != nil {
			return err
		}
		syncDone := model.JiraSyncCompleted
		if err := p.repo.Advance(ctx, record.MeetingID, model.StatusSyncing, model.StatusCompleted, store.Updates{JiraSyncStatus: &syncDone}); err != nil && err != errors.ErrPreconditionFailed {
			return err
		}
		return nil
	}

	if len(creates) > 0 {
		if err := p.publishNext(ctx, event.TasksReadyForCreation, event.TasksReadyDetail{
			MeetingID: record.MeetingID, Tasks: creates, TotalTasks: total,
		}); err != nil {
			return err
		}
	}
	if len(updates) > 0 {
		if err := p.publishNext(ctx, event.TasksReadyForUpdate, event.TasksReadyDetail{
			MeetingID: record.MeetingID, Tasks: updates, TotalTasks: total,
		}); err != nil {
			return err
		}
	}
	return nil
}

// classifyTasks decides create-vs-update per task. A deterministic overlap
// pass catches the obvious matches first; only the leftovers go to the model,
// and a model failure degrades those to creates rather than failing the stage.
func (p *Pipeline) classifyTasks(ctx context.Context, tasks []model.Task, existing []jira.Issue, log zerolog.Logger) ([]model.Task, []model.Task) {
	var creates, updates []model.Task
	var ambiguous []model.Task

	if len(existing) == 0 {
		return tasks, nil
	}

	for _, task := range tasks {
		if key := matchExistingIssue(task, existing); key != "" {
			task.JiraKey = key
			updates = append(updates, task)
			continue
		}
		ambiguous = append(ambiguous, task)
	}

	if len(ambiguous) == 0 {
		return creates, updates
	}

	matched, err := p.classifyWithLLM(ctx, ambiguous, existing)
	if err != nil {
		log.Warn().Err(err).Msg("Model classification failed, treating unmatched tasks as new")
		return append(creates, ambiguous...), updates
	}
	for i, task := range ambiguous {
		if key := matched[i]; key != "" {
			task.JiraKey = key
			updates = append(updates, task)
		} else {
			creates = append(creates, task)
		}
	}
	return creates, updates
}

// matchExistingIssue is the conservative deterministic pass: same assignee
// (case-insensitive) and at least one shared significant word between the
// task title and the issue summary means the task is a status report on that
// issue, not new work.
func matchExistingIssue(task model.Task, existing []jira.Issue) string {
	taskWords := significantWords(task.Title)
	for _, issue := range existing {
		if task.Assignee == "" || task.Assignee == "unassigned" {
			continue
		}
		if !strings.EqualFold(task.Assignee, issue.AssigneeName) {
			continue
		}
		issueWords := significantWords(issue.Summary)
		for w := range taskWords {
			if issueWords[w] {
				return issue.Key
			}
		}
	}
	return ""
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "will": true, "task": true, "work": true,
	"update": true, "status": true, "finish": true, "complete": true,
}

func significantWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ",.;:()[]\"'")
		if len(w) >= 4 && !stopwords[w] {
			words[w] = true
		}
	}
	return words
}

// classifyWithLLM asks the model to match each remaining task to an existing
// issue key or NEW. The returned slice is positional with the input; only
// keys present in the existing set are honored.
func (p *Pipeline) classifyWithLLM(ctx context.Context, tasks []model.Task, existing []jira.Issue) ([]string, error) {
	known := make(map[string]bool, len(existing))
	var issueLines strings.Builder
	for _, issue := range existing {
		known[issue.Key] = true
		fmt.Fprintf(&issueLines, "- %s: %q (assignee: %s, status: %s)\n", issue.Key, issue.Summary, issue.AssigneeName, issue.Status)
	}
	var taskLines strings.Builder
	for i, task := range tasks {
		fmt.Fprintf(&taskLines, "%d. %q (assignee: %s, status: %s)\n", i, task.Title, task.Assignee, task.Status)
	}

	prompt := fmt.Sprintf(`Match meeting tasks to existing tracker issues. Return JSON only.

EXISTING ISSUES:
%s
MEETING TASKS:
%s
For each task, decide whether it describes progress on an existing issue (same
underlying work, possibly reworded) or genuinely new work. Prefer matching to
an existing issue when the work plausibly overlaps.

Return this exact JSON structure, one entry per task in order:
{"matches": ["ISSUE-KEY or NEW", ...]}`, issueLines.String(), taskLines.String())

	var text string
	if err := p.retrier.Do(ctx, 0, func(ctx context.Context) error {
		out, err := p.llm.Invoke(ctx, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	}); err != nil {
		return nil, err
	}

	var parsed struct {
		Matches []string `json:"matches"`
	}
	if err := llm.DecodeInto(text, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Matches) != len(tasks) {
		return nil, fmt.Errorf("%w: expected %d matches, got %d", errors.ErrInvalidResponse, len(tasks), len(parsed.Matches))
	}

	out := make([]string, len(tasks))
	for i, m := range parsed.Matches {
		m = strings.TrimSpace(m)
		if known[m] {
			out[i] = m
		}
	}
	return out, nil
}
