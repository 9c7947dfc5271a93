package jira

import (
	"context"
	"errors"
	"testing"
)

type fakeLLM struct {
	response string
	err      error
	calls    int
}

func (f *fakeLLM) Invoke(ctx context.Context, prompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

var testMembers = []Member{
	{AccountID: "u1", DisplayName: "Sarah Chen", Active: true},
	{AccountID: "u2", DisplayName: "Mike Johnson", Active: true},
	{AccountID: "u3", DisplayName: "Sarah Park", Active: false},
}

func TestResolveExactMatch(t *testing.T) {
	llm := &fakeLLM{}
	r := NewResolver(testMembers, llm)

	if got := r.Resolve(context.Background(), "sarah chen"); got != "u1" {
		t.Errorf("Resolve = %q, want u1", got)
	}
	if llm.calls != 0 {
		t.Errorf("model consulted %d times for an exact match", llm.calls)
	}
}

func TestResolveFirstName(t *testing.T) {
	llm := &fakeLLM{}
	r := NewResolver(testMembers, llm)

	if got := r.Resolve(context.Background(), "Sarah"); got != "u1" {
		t.Errorf("Resolve = %q, want u1", got)
	}
	if got := r.Resolve(context.Background(), "Mike"); got != "u2" {
		t.Errorf("Resolve = %q, want u2", got)
	}
	if llm.calls != 0 {
		t.Errorf("model consulted %d times for first-name matches", llm.calls)
	}
}

func TestResolveSubstring(t *testing.T) {
	r := NewResolver(testMembers, &fakeLLM{})

	if got := r.Resolve(context.Background(), "Johnson"); got != "u2" {
		t.Errorf("Resolve = %q, want u2", got)
	}
}

func TestResolveSkipsUnassigned(t *testing.T) {
	llm := &fakeLLM{}
	r := NewResolver(testMembers, llm)

	for _, name := range []string{"", "  ", "unassigned", "Unassigned"} {
		if got := r.Resolve(context.Background(), name); got != "" {
			t.Errorf("Resolve(%q) = %q, want empty", name, got)
		}
	}
	if llm.calls != 0 {
		t.Errorf("model consulted for unassigned inputs")
	}
}

func TestResolveIgnoresInactiveMembers(t *testing.T) {
	llm := &fakeLLM{response: `{"accountId": ""}`}
	r := NewResolver(testMembers, llm)

	// "Sarah Park" only matches an inactive member lexically, so the model
	// tier runs and declines.
	if got := r.Resolve(context.Background(), "Sarah Park"); got != "u1" && got != "" {
		t.Errorf("Resolve = %q, inactive member must not resolve", got)
	}
}

func TestResolveLLMTier(t *testing.T) {
	llm := &fakeLLM{response: `{"accountId": "u2"}`}
	r := NewResolver(testMembers, llm)

	if got := r.Resolve(context.Background(), "MJ from the platform team"); got != "u2" {
		t.Errorf("Resolve = %q, want u2", got)
	}
	if llm.calls != 1 {
		t.Errorf("model calls = %d, want 1", llm.calls)
	}
}

func TestResolveLLMRejectsUnknownIdentity(t *testing.T) {
	llm := &fakeLLM{response: `{"accountId": "intruder-99"}`}
	r := NewResolver(testMembers, llm)

	if got := r.Resolve(context.Background(), "somebody new"); got != "" {
		t.Errorf("Resolve = %q, unknown identity must not resolve", got)
	}
}

func TestResolveLLMFailureDegradesToUnassigned(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model down")}
	r := NewResolver(testMembers, llm)

	if got := r.Resolve(context.Background(), "nobody matches this"); got != "" {
		t.Errorf("Resolve = %q, want empty on model failure", got)
	}
}
