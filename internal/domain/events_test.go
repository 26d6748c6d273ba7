package domain

import (
	"errors"
	"testing"
)

func TestParseFrameNewMessage(t *testing.T) {
	data := []byte(`{
		"type": "new_message",
		"message": {
			"id": "100",
			"message_type": "text",
			"content": "hi",
			"sender": {"id": 7, "username": "alice"},
			"created_at": "2025-06-01T12:00:00Z",
			"updated_at": "2025-06-01T12:00:00Z"
		}
	}`)

	ev, err := ParseFrame(data)
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	received, ok := ev.(MessageReceived)
	if !ok {
		t.Fatalf("expected MessageReceived, got %T", ev)
	}
	if received.Message.ID != "100" || received.Message.Sender.Username != "alice" {
		t.Errorf("unexpected message: %+v", received.Message)
	}
}

func TestParseFrameTypingAndStatus(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"type":"user_typing","user_id":7,"username":"alice","is_typing":true}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	typing, ok := ev.(TypingChanged)
	if !ok || !typing.IsTyping || typing.UserID != 7 {
		t.Errorf("unexpected typing event: %+v", ev)
	}

	ev, err = ParseFrame([]byte(`{"type":"user_status","user_id":7,"username":"alice","status":"online","timestamp":"2025-06-01T12:00:00Z"}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	status, ok := ev.(PresenceChanged)
	if !ok || status.Status != StatusOnline {
		t.Errorf("unexpected presence event: %+v", ev)
	}
}

func TestParseFrameDeleted(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"type":"message_deleted","message_id":"100","deleted_by":"alice"}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	deleted, ok := ev.(MessageDeleted)
	if !ok || deleted.MessageID != "100" || deleted.DeletedBy != "alice" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseFrameRead(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"type":"message_read","message_id":"100","user_id":9,"username":"bob"}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	read, ok := ev.(MessageRead)
	if !ok || read.Reader.ID != 9 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestParseFrameUnknownTypeDropped(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"type":"reaction_added","message_id":"100","emoji":"+1"}`))
	if err != nil {
		t.Fatalf("unknown types must not error, got %v", err)
	}
	if ev != nil {
		t.Errorf("unknown types must be dropped, got %+v", ev)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	_, err := ParseFrame([]byte(`{not json`))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}

	_, err = ParseFrame([]byte(`{"type":"new_message","message":"not-an-object"}`))
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError for bad payload, got %v", err)
	}
	if parseErr.Type != FrameNewMessage {
		t.Errorf("expected frame type in error, got %q", parseErr.Type)
	}
}

func TestParseFrameServerError(t *testing.T) {
	ev, err := ParseFrame([]byte(`{"type":"error","error":"This chat is read-only"}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	serverErr, ok := ev.(ServerError)
	if !ok || serverErr.Message != "This chat is read-only" {
		t.Errorf("unexpected event: %+v", ev)
	}
}
