package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fenggwsx/StayChat/internal/storage"
)

func TestEncodeTypingEventFieldNames(t *testing.T) {
	raw, err := Encode(EventUserTyping, TypingEvent{UserID: "u1", IsTyping: false})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"event":"user-typing","data":{"userId":"u1","isTyping":false}}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}

func TestFrameID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"bare string", `{"event":"join-user-room","data":"u1"}`, "u1", false},
		{"object", `{"event":"join-user-room","data":{"userId":"u2"}}`, "u2", false},
		{"trimmed", `{"event":"join-user-room","data":"  u3 "}`, "u3", false},
		{"missing", `{"event":"join-user-room"}`, "", true},
		{"blank", `{"event":"join-user-room","data":""}`, "", true},
		{"number", `{"event":"join-user-room","data":7}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame([]byte(tt.raw))
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			got, err := frame.ID("userId")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestDecodeFrameRejectsMissingEvent(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"data":"x"}`)); err == nil {
		t.Fatal("expected error")
	}
	frame, err := DecodeFrame([]byte(`{"event":"typing-stop","data":null}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	var stop TypingStop
	if err := frame.Decode(&stop); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
}

func TestFromNotificationWireShape(t *testing.T) {
	n := FromNotification(storage.Notification{
		ID:        "n1",
		UserID:    "u2",
		Type:      "message",
		Title:     "New message from Alice",
		Message:   "hi",
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	raw, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "type", "title", "message", "data", "read", "createdAt"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("missing %q in %s", key, raw)
		}
	}
	if _, ok := fields["userId"]; ok {
		t.Fatalf("recipient should not be on the wire: %s", raw)
	}
	if fields["read"] != false {
		t.Fatalf("read: got %v", fields["read"])
	}
}

func TestFromMessageSender(t *testing.T) {
	msg := FromMessage(storage.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "u1",
		Content:        "hi",
		Sender:         &storage.User{ID: "u1", Name: "Alice", Password: "secret"},
	})
	if msg.Sender == nil || msg.Sender.Name != "Alice" {
		t.Fatalf("sender: %+v", msg.Sender)
	}
	if msg.ConversationID != "c1" {
		t.Fatalf("conversation id: %q", msg.ConversationID)
	}
}
