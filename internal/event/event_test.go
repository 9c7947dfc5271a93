package event

import (
	"encoding/json"
	"testing"

	"meeting-intelligence/pkg/errors"
)

func TestDecodeRoundTrip(t *testing.T) {
	env, err := New(TranscriptionCompleted, TranscriptionCompletedDetail{MeetingID: "m-1", TriggeredBy: "transcription"})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	payload, err := Decode(decoded)
	if err != nil {
		t.Fatalf("Decode returned %v", err)
	}
	if payload.TranscriptionCompleted == nil {
		t.Fatal("payload missing transcription-completed detail")
	}
	if payload.TranscriptionCompleted.MeetingID != "m-1" {
		t.Errorf("meetingId = %q", payload.TranscriptionCompleted.MeetingID)
	}
}

func TestDecodeRejectsUnknownDetailType(t *testing.T) {
	env := Envelope{Source: Source, DetailType: "Meeting Deleted", Detail: json.RawMessage(`{}`)}

	_, err := Decode(env)
	var ve errors.ValidationError
	if !asValidation(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Field != "detailType" {
		t.Errorf("field = %q, want detailType", ve.Field)
	}
}

func TestDecodeRejectsForeignSource(t *testing.T) {
	env := Envelope{Source: "other.app", DetailType: TranscriptionCompleted, Detail: json.RawMessage(`{}`)}

	_, err := Decode(env)
	var ve errors.ValidationError
	if !asValidation(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Field != "source" {
		t.Errorf("field = %q, want source", ve.Field)
	}
}

func TestDecodeRejectsMalformedDetail(t *testing.T) {
	env := Envelope{Source: Source, DetailType: TasksReadyForCreation, Detail: json.RawMessage(`{not json`)}

	if _, err := Decode(env); err == nil {
		t.Fatal("expected an error for malformed detail")
	}
}

func TestDecodeBothSyncDetailTypes(t *testing.T) {
	for _, dt := range []DetailType{TasksReadyForCreation, TasksReadyForUpdate} {
		env := Envelope{Source: Source, DetailType: dt, Detail: json.RawMessage(`{"meetingId":"m-1","tasks":[],"totalTasks":3}`)}
		payload, err := Decode(env)
		if err != nil {
			t.Fatalf("Decode(%s) returned %v", dt, err)
		}
		if payload.TasksReady == nil || payload.TasksReady.TotalTasks != 3 {
			t.Errorf("Decode(%s) payload = %+v", dt, payload.TasksReady)
		}
	}
}

func asValidation(err error, target *errors.ValidationError) bool {
	ve, ok := err.(errors.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
