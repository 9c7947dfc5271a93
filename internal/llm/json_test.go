package llm

import (
	"testing"

	"meeting-intelligence/pkg/errors"
)

func TestExtractJSONObjectBare(t *testing.T) {
	got, err := ExtractJSONObject(`{"summary": "ok"}`)
	if err != nil {
		t.Fatalf("ExtractJSONObject returned %v", err)
	}
	if got != `{"summary": "ok"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObjectWrappedInProse(t *testing.T) {
	text := "Here is the result you asked for:\n```json\n{\"tasks\": [{\"title\": \"Fix it\"}]}\n```\nLet me know if you need anything else."
	got, err := ExtractJSONObject(text)
	if err != nil {
		t.Fatalf("ExtractJSONObject returned %v", err)
	}
	if got != `{"tasks": [{"title": "Fix it"}]}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObjectHandlesBracesInStrings(t *testing.T) {
	text := `prefix {"title": "use {x} placeholders", "note": "escaped \" quote"} suffix`
	got, err := ExtractJSONObject(text)
	if err != nil {
		t.Fatalf("ExtractJSONObject returned %v", err)
	}
	if got != `{"title": "use {x} placeholders", "note": "escaped \" quote"}` {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONObjectNoObject(t *testing.T) {
	if _, err := ExtractJSONObject("no json here"); err != errors.ErrInvalidResponse {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestExtractJSONObjectUnbalanced(t *testing.T) {
	if _, err := ExtractJSONObject(`{"title": "oops"`); err != errors.ErrInvalidResponse {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestDecodeInto(t *testing.T) {
	var out struct {
		Summary string `json:"summary"`
		Tasks   []struct {
			Title string `json:"title"`
		} `json:"tasks"`
	}
	text := "Sure!\n{\"summary\": \"standup\", \"tasks\": [{\"title\": \"Deploy the fix\"}]}"
	if err := DecodeInto(text, &out); err != nil {
		t.Fatalf("DecodeInto returned %v", err)
	}
	if out.Summary != "standup" || len(out.Tasks) != 1 || out.Tasks[0].Title != "Deploy the fix" {
		t.Errorf("decoded %+v", out)
	}
}
