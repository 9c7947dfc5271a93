package pipeline

import (
	"context"
	"strings"

	"meeting-intelligence/internal/event"
	"meeting-intelligence/internal/jira"
	"meeting-intelligence/internal/model"
	"meeting-intelligence/internal/store"
	"meeting-intelligence/pkg/errors"

	"github.com/rs/zerolog"
)

// HandleSync applies one batch of tasks to the tracker. action is "create"
// or "update", matching the event that carried the batch. Task failures are
// isolated: one bad task becomes a recorded sync error, never a batch abort.
func (p *Pipeline) HandleSync(ctx context.Context, env event.Envelope, detail *event.TasksReadyDetail, action string) error {
	if detail.MeetingID == "" {
		return errors.ValidationError{Field: "meetingId", Value: "", Message: "required"}
	}

	log := p.log.With().Str("meeting_id", detail.MeetingID).Str("action", action).Logger()

	record, err := p.repo.Get(ctx, detail.MeetingID)
	if err != nil {
		return err
	}
	if record.JiraSyncStatus == model.JiraSyncCompleted {
		log.Info().Msg("Tracker sync already completed, skipping")
		return nil
	}
	if record.Status != model.StatusSyncing {
		log.Warn().Str("status", string(record.Status)).Msg("Sync event arrived out of order, dropping")
		return nil
	}

	// Re-deliveries skip tasks that already produced a ticket in this batch.
	// Counting per title keeps two distinct tasks sharing one title from
	// collapsing into a single skip.
	done := make(map[string]int, len(record.JiraTickets))
	for _, t := range record.JiraTickets {
		if t.Action == action {
			done[strings.ToLower(t.TaskTitle)]++
		}
	}

	resolver, err := p.newResolver(ctx, env.RetryAttempt)
	if err != nil {
		log.Warn().Err(err).Msg("Could not fetch assignable members, tasks will stay unassigned")
		resolver = jira.NewResolver(nil, nil)
	}

	var tickets []model.JiraTicket
	var syncErrs []model.JiraTaskErr
	for i, task := range detail.Tasks {
		if key := strings.ToLower(task.Title); done[key] > 0 {
			done[key]--
			log.Info().Str("task", task.Title).Msg("Task already synced, skipping")
			continue
		}
		task.AssigneeID = resolver.Resolve(ctx, task.Assignee)

		var ticket *model.JiraTicket
		var terr error
		switch action {
		case "create":
			if i > 0 && p.cfg.Jira.CreatePause > 0 {
				if perr := p.pause(ctx, p.cfg.Jira.CreatePause); perr != nil {
					return perr
				}
			}
			ticket, terr = p.createTicket(ctx, env.RetryAttempt, task, detail.MeetingID)
		case "update":
			ticket, terr = p.updateTicket(ctx, env.RetryAttempt, task, log)
		}

		if terr != nil {
			log.Error().Err(terr).Str("task", task.Title).Msg("Task sync failed")
			syncErrs = append(syncErrs, model.JiraTaskErr{
				TaskTitle: task.Title,
				Action:    action,
				Error:     terr.Error(),
			})
			continue
		}
		tickets = append(tickets, *ticket)
	}

	if err := p.repo.RecordSyncResults(ctx, detail.MeetingID, tickets, syncErrs); err != nil {
		return err
	}

	return p.maybeComplete(ctx, detail, log)
}

func (p *Pipeline) newResolver(ctx context.Context, retryAttempt int) (*jira.Resolver, error) {
	var members []jira.Member
	err := p.retrier.Do(ctx, retryAttempt, func(ctx context.Context) error {
		m, err := p.jira.ListAssignableMembers(ctx)
		if err != nil {
			return err
		}
		members = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jira.NewResolver(members, p.llm), nil
}

func (p *Pipeline) createTicket(ctx context.Context, retryAttempt int, task model.Task, meetingID string) (*model.JiraTicket, error) {
	var created *jira.CreatedIssue
	err := p.retrier.Do(ctx, retryAttempt, func(ctx context.Context) error {
		c, err := p.jira.CreateIssue(ctx, task, meetingID)
		if err != nil {
			return err
		}
		created = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &model.JiraTicket{
		IssueKey:  created.Key,
		IssueURL:  created.URL,
		TaskTitle: task.Title,
		Action:    "create",
	}, nil
}

// updateTicket applies the assignee and status the meeting reported onto the
// existing issue. Either half may be a no-op; an update that changes nothing
// is still a successful sync of that task.
func (p *Pipeline) updateTicket(ctx context.Context, retryAttempt int, task model.Task, log zerolog.Logger) (*model.JiraTicket, error) {
	if task.JiraKey == "" {
		return nil, errors.ValidationError{Field: "jiraKey", Value: "", Message: "update task has no issue key"}
	}

	if task.AssigneeID != "" {
		err := p.retrier.Do(ctx, retryAttempt, func(ctx context.Context) error {
			return p.jira.UpdateAssignee(ctx, task.JiraKey, task.AssigneeID)
		})
		if err != nil {
			return nil, err
		}
	}

	if task.Status != "" {
		if err := p.transitionIssue(ctx, retryAttempt, task.JiraKey, task.Status, log); err != nil {
			return nil, err
		}
	}

	return &model.JiraTicket{
		IssueKey:  task.JiraKey,
		IssueURL:  p.cfg.Jira.BaseURL + "/browse/" + task.JiraKey,
		TaskTitle: task.Title,
		Action:    "update",
	}, nil
}

func (p *Pipeline) transitionIssue(ctx context.Context, retryAttempt int, issueKey, status string, log zerolog.Logger) error {
	var transitions []jira.Transition
	err := p.retrier.Do(ctx, retryAttempt, func(ctx context.Context) error {
		t, err := p.jira.ListTransitions(ctx, issueKey)
		if err != nil {
			return err
		}
		transitions = t
		return nil
	})
	if err != nil {
		return err
	}

	for _, t := range transitions {
		if strings.EqualFold(t.Name, status) {
			return p.retrier.Do(ctx, retryAttempt, func(ctx context.Context) error {
				return p.jira.ApplyTransition(ctx, issueKey, t.ID)
			})
		}
	}
	log.Info().Str("issue", issueKey).Str("status", status).Msg("No matching transition, leaving issue status unchanged")
	return nil
}

// maybeComplete settles the meeting once every task in both batches has a
// ticket or a recorded error. The count check makes completion independent
// of which batch's event lands last.
func (p *Pipeline) maybeComplete(ctx context.Context, detail *event.TasksReadyDetail, log zerolog.Logger) error {
	record, err := p.repo.Get(ctx, detail.MeetingID)
	if err != nil {
		return err
	}
	settled := len(record.JiraTickets) + len(record.JiraSyncErrors)
	if settled < detail.TotalTasks {
		log.Info().Int("settled", settled).Int("total", detail.TotalTasks).Msg("Waiting on the other sync batch")
		return nil
	}

	syncDone := model.JiraSyncCompleted
	if err := p.repo.Advance(ctx, detail.MeetingID, model.StatusSyncing, model.StatusCompleted, store.Updates{JiraSyncStatus: &syncDone}); err != nil {
		if err == errors.ErrPreconditionFailed {
			return nil
		}
		return err
	}
	log.Info().Int("tickets", len(record.JiraTickets)).Int("errors", len(record.JiraSyncErrors)).Msg("Meeting pipeline completed")
	return nil
}
