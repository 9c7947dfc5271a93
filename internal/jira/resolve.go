package jira

import (
	"context"
	"fmt"
	"strings"

	"meeting-intelligence/internal/llm"
	"meeting-intelligence/internal/logger"

	"github.com/rs/zerolog"
)

// Resolver maps free-text assignee names from transcripts onto tracker
// identities. Tiers are ordered cheapest first; the LLM is consulted only
// when no lexical tier matches, and its answer is accepted only when it names
// a known identity. A Resolver is scoped to one sync invocation; the member
// list is never shared across meetings.
type Resolver struct {
	members []Member
	llm     llm.Client
	log     zerolog.Logger
}

func NewResolver(members []Member, llmClient llm.Client) *Resolver {
	return &Resolver{
		members: members,
		llm:     llmClient,
		log:     logger.Get(),
	}
}

// Resolve returns the account ID for name, or empty when the task should
// stay unassigned. Provider trouble during the LLM tier degrades to
// unassigned rather than failing the task.
func (r *Resolver) Resolve(ctx context.Context, name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || strings.EqualFold(trimmed, "unassigned") {
		return ""
	}

	lower := strings.ToLower(trimmed)

	for _, m := range r.members {
		if !m.Active {
			continue
		}
		if strings.ToLower(m.DisplayName) == lower {
			return m.AccountID
		}
	}

	for _, m := range r.members {
		if !m.Active {
			continue
		}
		first := strings.ToLower(strings.SplitN(m.DisplayName, " ", 2)[0])
		if first == lower {
			return m.AccountID
		}
	}

	for _, m := range r.members {
		if !m.Active {
			continue
		}
		display := strings.ToLower(m.DisplayName)
		if strings.Contains(display, lower) || strings.Contains(lower, display) {
			return m.AccountID
		}
	}

	return r.resolveWithLLM(ctx, trimmed)
}

func (r *Resolver) resolveWithLLM(ctx context.Context, name string) string {
	if r.llm == nil || len(r.members) == 0 {
		return ""
	}

	var list strings.Builder
	for _, m := range r.members {
		if !m.Active {
			continue
		}
		fmt.Fprintf(&list, "- %s (id: %s)\n", m.DisplayName, m.AccountID)
	}

	prompt := fmt.Sprintf(`Match the person mentioned in a meeting to a project member.

Mentioned name: %q

Project members:
%s
Return JSON only: {"accountId": "<id of the best match, or empty string if none is plausible>"}`,
		name, list.String())

	text, err := r.llm.Invoke(ctx, prompt)
	if err != nil {
		r.log.Warn().Err(err).Str("name", name).Msg("Assignee resolution via model failed, leaving unassigned")
		return ""
	}

	var resp struct {
		AccountID string `json:"accountId"`
	}
	if err := llm.DecodeInto(text, &resp); err != nil {
		r.log.Warn().Err(err).Str("name", name).Msg("Unparseable assignee resolution response")
		return ""
	}

	for _, m := range r.members {
		if m.AccountID == resp.AccountID {
			return resp.AccountID
		}
	}
	return ""
}
