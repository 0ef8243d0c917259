package dispatch

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/protocol"
	"github.com/fenggwsx/StayChat/internal/storage"
	"github.com/fenggwsx/StayChat/internal/storage/sqlite"
)

type relayedMessage struct {
	msg            protocol.Message
	conversationID string
}

type relayedNotification struct {
	n         protocol.Notification
	recipient string
}

type recordingRelay struct {
	mu            sync.Mutex
	messages      []relayedMessage
	notifications []relayedNotification
	err           error
	panics        bool
}

func (r *recordingRelay) RelayNewMessage(msg protocol.Message, conversationID string) error {
	if r.panics {
		panic("relay exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, relayedMessage{msg: msg, conversationID: conversationID})
	return r.err
}

func (r *recordingRelay) RelayNotification(n protocol.Notification, recipient string) error {
	if r.panics {
		panic("relay exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, relayedNotification{n: n, recipient: recipient})
	return r.err
}

func newTestCoordinator(t *testing.T, relay Publisher) (*Coordinator, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "dispatch.db")}, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewCoordinator(store, relay, zerolog.Nop()), store
}

var (
	alice = &storage.User{ID: "u1", Name: "Alice"}
	bob   = &storage.User{ID: "u2", Name: "Bob"}
)

func TestSendMessageCreatesConversationAndNotifiesReceiver(t *testing.T) {
	relay := &recordingRelay{}
	coord, store := newTestCoordinator(t, relay)
	ctx := context.Background()

	msg, err := coord.SendMessage(ctx, alice, SendMessageRequest{Content: "hi", ReceiverID: "u2"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.SenderID != "u1" || msg.Content != "hi" || msg.ID == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Sender == nil || msg.Sender.Name != "Alice" {
		t.Fatalf("sender not attached: %+v", msg.Sender)
	}

	conv, err := store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if strings.Join(conv.ParticipantIDs, ",") != "u1,u2" {
		t.Fatalf("participants: got %v", conv.ParticipantIDs)
	}
	if conv.LastMessageAt.IsZero() {
		t.Fatal("lastMessageAt not set")
	}

	inbox, err := store.ListNotifications(ctx, "u2", 50)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("u2 notifications: got %d", len(inbox))
	}
	n := inbox[0]
	if n.Type != "message" || n.Message != "hi" || n.Title != "New message from Alice" || n.Read {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Data["conversationId"] != conv.ID || n.Data["messageId"] != msg.ID || n.Data["senderName"] != "Alice" {
		t.Fatalf("notification data: %v", n.Data)
	}
	if own, _ := store.ListNotifications(ctx, "u1", 50); len(own) != 0 {
		t.Fatalf("sender must not be notified, got %d", len(own))
	}

	if len(relay.messages) != 1 || relay.messages[0].conversationID != conv.ID {
		t.Fatalf("relayed messages: %+v", relay.messages)
	}
	if len(relay.notifications) != 1 || relay.notifications[0].recipient != "u2" {
		t.Fatalf("relayed notifications: %+v", relay.notifications)
	}
}

func TestSendMessageReusesCanonicalPair(t *testing.T) {
	coord, store := newTestCoordinator(t, &recordingRelay{})
	ctx := context.Background()

	first, err := coord.SendMessage(ctx, bob, SendMessageRequest{Content: "hey", ReceiverID: "u1"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	conv, err := store.GetConversation(ctx, first.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if strings.Join(conv.ParticipantIDs, ",") != "u1,u2" {
		t.Fatalf("participants should be sorted, got %v", conv.ParticipantIDs)
	}

	second, err := coord.SendMessage(ctx, alice, SendMessageRequest{Content: "hello", ReceiverID: "u2"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("pair lookup should be order independent: %s vs %s", first.ConversationID, second.ConversationID)
	}
}

func TestSendMessageIgnoresNonPairConversations(t *testing.T) {
	coord, store := newTestCoordinator(t, &recordingRelay{})
	ctx := context.Background()

	for _, conv := range []storage.Conversation{
		{ID: "solo", ParticipantIDs: []string{"u1"}},
		{ID: "group", ParticipantIDs: []string{"u1", "u2", "u3"}},
	} {
		conv := conv
		if err := store.CreateConversation(ctx, &conv); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}

	msg, err := coord.SendMessage(ctx, alice, SendMessageRequest{Content: "hi", ReceiverID: "u2"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ConversationID == "solo" || msg.ConversationID == "group" {
		t.Fatalf("matched a conversation without exactly two participants: %s", msg.ConversationID)
	}
	conv, err := store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(conv.ParticipantIDs) != 2 {
		t.Fatalf("new conversation participants: %v", conv.ParticipantIDs)
	}
}

func TestSendMessageExplicitConversation(t *testing.T) {
	relay := &recordingRelay{}
	coord, store := newTestCoordinator(t, relay)
	ctx := context.Background()

	conv := storage.Conversation{ID: "c1", ParticipantIDs: []string{"u1", "u2"}, ReservationID: "r9"}
	if err := store.CreateConversation(ctx, &conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	msg, err := coord.SendMessage(ctx, bob, SendMessageRequest{Content: "ok", ConversationID: "c1", ReceiverID: "ignored"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ConversationID != "c1" {
		t.Fatalf("conversation: got %s", msg.ConversationID)
	}
	if len(relay.notifications) != 1 || relay.notifications[0].recipient != "u1" {
		t.Fatalf("notification should target u1: %+v", relay.notifications)
	}
	if relay.notifications[0].n.Data["reservationId"] != "r9" {
		t.Fatalf("reservation id missing: %v", relay.notifications[0].n.Data)
	}

	tests := []struct {
		name    string
		sender  *storage.User
		req     SendMessageRequest
		wantErr error
	}{
		{"unknown conversation", alice, SendMessageRequest{Content: "x", ConversationID: "nope"}, ErrNotFound},
		{"not a participant", &storage.User{ID: "u3", Name: "Eve"}, SendMessageRequest{Content: "x", ConversationID: "c1"}, ErrForbidden},
		{"missing content", alice, SendMessageRequest{Content: "  ", ConversationID: "c1"}, ErrValidation},
		{"missing target", alice, SendMessageRequest{Content: "x"}, ErrValidation},
		{"self message", alice, SendMessageRequest{Content: "x", ReceiverID: "u1"}, ErrValidation},
		{"no sender", nil, SendMessageRequest{Content: "x", ReceiverID: "u2"}, ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(relay.messages)
			if _, err := coord.SendMessage(ctx, tt.sender, tt.req); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if len(relay.messages) != before {
				t.Fatal("rejected request must not relay")
			}
		})
	}

	history, err := store.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("rejected requests must not persist, history=%d", len(history))
	}
}

func TestSendMessageTruncatesPreview(t *testing.T) {
	coord, store := newTestCoordinator(t, &recordingRelay{})
	ctx := context.Background()

	content := strings.Repeat("a", 150)
	if _, err := coord.SendMessage(ctx, alice, SendMessageRequest{Content: content, ReceiverID: "u2"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	inbox, err := store.ListNotifications(ctx, "u2", 1)
	if err != nil || len(inbox) != 1 {
		t.Fatalf("ListNotifications: %v (%d)", err, len(inbox))
	}
	want := strings.Repeat("a", 100) + "..."
	if inbox[0].Message != want {
		t.Fatalf("preview: got %d chars %q", len(inbox[0].Message), inbox[0].Message)
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short", "hi", "hi"},
		{"exactly limit", strings.Repeat("b", 100), strings.Repeat("b", 100)},
		{"one over", strings.Repeat("b", 101), strings.Repeat("b", 100) + "..."},
		{"multibyte", strings.Repeat("é", 120), strings.Repeat("é", 100) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.in); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRelayFailuresAreSwallowed(t *testing.T) {
	tests := []struct {
		name  string
		relay Publisher
	}{
		{"error", &recordingRelay{err: errors.New("relay down")}},
		{"panic", &recordingRelay{panics: true}},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coord, store := newTestCoordinator(t, tt.relay)
			ctx := context.Background()
			msg, err := coord.SendMessage(ctx, alice, SendMessageRequest{Content: "hi", ReceiverID: "u2"})
			if err != nil {
				t.Fatalf("relay failure surfaced: %v", err)
			}
			history, err := store.ListMessages(ctx, msg.ConversationID)
			if err != nil || len(history) != 1 {
				t.Fatalf("message not persisted: %v (%d)", err, len(history))
			}
			if _, err := coord.CreateNotification(ctx, CreateNotificationRequest{UserID: "u2", Type: "system", Title: "t"}); err != nil {
				t.Fatalf("relay failure surfaced: %v", err)
			}
		})
	}
}

func TestCreateNotification(t *testing.T) {
	relay := &recordingRelay{}
	coord, store := newTestCoordinator(t, relay)
	ctx := context.Background()

	n, err := coord.CreateNotification(ctx, CreateNotificationRequest{
		UserID:  "u2",
		Type:    "reservation",
		Title:   "Reservation confirmed",
		Message: "See you soon",
		Data:    map[string]interface{}{"reservationId": "r1"},
	})
	if err != nil {
		t.Fatalf("CreateNotification: %v", err)
	}
	if n.Read || n.ID == "" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(relay.notifications) != 1 || relay.notifications[0].recipient != "u2" {
		t.Fatalf("relay: %+v", relay.notifications)
	}
	if stored, err := store.GetNotification(ctx, n.ID); err != nil || stored.UserID != "u2" {
		t.Fatalf("GetNotification: %+v, %v", stored, err)
	}

	if _, err := coord.CreateNotification(ctx, CreateNotificationRequest{Type: "x", Title: "y"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
