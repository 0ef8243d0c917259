package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/auth"
	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/protocol"
	"github.com/fenggwsx/StayChat/internal/server"
)

var sessionJWT = config.JWTConfig{Secret: "session-secret", Issuer: "staychat-test", Expiration: time.Hour}

func newRelay(t *testing.T) (*server.Server, string) {
	t.Helper()
	cfg := config.RelayConfig{
		TypingQuietPeriod: time.Hour,
		SendBuffer:        16,
		WriteTimeout:      time.Second,
		ReadLimit:         1 << 16,
		StrictIdentity:    true,
	}
	relay := server.NewServer(cfg, zerolog.Nop(), nil)
	e := echo.New()
	server.NewHandler(relay, sessionJWT, cfg, zerolog.Nop()).Register(e)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		relay.Shutdown()
		ts.Close()
	})
	return relay, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newTestSession(t *testing.T, url, userID, name string) *Session {
	t.Helper()
	var token string
	if userID != "" {
		var err error
		token, _, err = auth.NewToken(sessionJWT, userID, name)
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
	}
	s := NewSession(SessionOptions{
		URL:          url,
		Token:        token,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func connectSession(t *testing.T, s *Session, userID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Connect(ctx, userID); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionConnectIsIdempotent(t *testing.T) {
	relay, url := newRelay(t)
	s := newTestSession(t, url, "u1", "Alice")

	connectSession(t, s, "u1")
	connectSession(t, s, "u1")
	waitFor(t, func() bool { return relay.Registry().Size(server.UserRoom("u1")) == 1 })

	time.Sleep(50 * time.Millisecond)
	if got := relay.Stats().Connections; got != 1 {
		t.Fatalf("connections: got %d, want 1", got)
	}
	if s.Status() != StatusConnected {
		t.Fatalf("status: got %s", s.Status())
	}
}

func TestSessionEmitBeforeConnect(t *testing.T) {
	_, url := newRelay(t)
	s := newTestSession(t, url, "", "")
	if err := s.JoinConversation("c1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("JoinConversation before connect: got %v", err)
	}
}

func TestSessionReconnectRejoinsUserRoomOnly(t *testing.T) {
	relay, url := newRelay(t)
	s := newTestSession(t, url, "u1", "Alice")

	var mu sync.Mutex
	var seen []Status
	s.OnStatus(func(st Status) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	connectSession(t, s, "u1")
	if err := s.JoinConversation("c1"); err != nil {
		t.Fatalf("JoinConversation: %v", err)
	}
	waitFor(t, func() bool { return relay.Registry().Size(server.ConversationRoom("c1")) == 1 })

	first := relay.Registry().All()
	if len(first) != 1 {
		t.Fatalf("expected one relay connection, got %d", len(first))
	}
	first[0].Close()

	waitFor(t, func() bool {
		conns := relay.Registry().All()
		return len(conns) == 1 && conns[0].ID() != first[0].ID() &&
			relay.Registry().Size(server.UserRoom("u1")) == 1
	})
	if got := relay.Registry().Size(server.ConversationRoom("c1")); got != 0 {
		t.Fatalf("conversation room restored automatically: size %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	var reconnecting bool
	for _, st := range seen {
		if st == StatusReconnecting {
			reconnecting = true
		}
	}
	if !reconnecting || seen[len(seen)-1] != StatusConnected {
		t.Fatalf("status sequence: %v", seen)
	}
}

func TestSessionListenerCleanup(t *testing.T) {
	relay, url := newRelay(t)
	alice := newTestSession(t, url, "u1", "Alice")
	bob := newTestSession(t, url, "u2", "Bob")
	connectSession(t, alice, "u1")
	connectSession(t, bob, "u2")

	first := make(chan protocol.TypingEvent, 4)
	second := make(chan protocol.TypingEvent, 4)
	cleanupFirst := bob.OnTyping(func(ev protocol.TypingEvent) { first <- ev })
	cleanupSecond := bob.OnTyping(func(ev protocol.TypingEvent) { second <- ev })
	defer cleanupSecond()

	cleanupFirst()
	cleanupFirst()

	if err := alice.JoinConversation("c1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := bob.JoinConversation("c1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool { return relay.Registry().Size(server.ConversationRoom("c1")) == 2 })

	if err := alice.EmitTypingStart("c1", "u1", "Alice"); err != nil {
		t.Fatalf("EmitTypingStart: %v", err)
	}
	select {
	case ev := <-second:
		if ev != (protocol.TypingEvent{UserID: "u1", UserName: "Alice", IsTyping: true}) {
			t.Fatalf("typing event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("remaining listener not called")
	}
	select {
	case ev := <-first:
		t.Fatalf("removed listener was called: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionReceivesMessagesAndNotifications(t *testing.T) {
	relay, url := newRelay(t)
	s := newTestSession(t, url, "u1", "Alice")

	messages := make(chan protocol.Message, 1)
	notes := make(chan protocol.Notification, 1)
	defer s.OnNewMessage(func(m protocol.Message) { messages <- m })()
	defer s.OnNotification(func(n protocol.Notification) { notes <- n })()

	connectSession(t, s, "u1")
	if err := s.JoinConversation("c1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, func() bool {
		return relay.Registry().Size(server.ConversationRoom("c1")) == 1 &&
			relay.Registry().Size(server.UserRoom("u1")) == 1
	})

	if err := relay.RelayNewMessage(protocol.Message{ID: "m1", Content: "hi", SenderID: "u2"}, "c1"); err != nil {
		t.Fatalf("RelayNewMessage: %v", err)
	}
	if err := relay.RelayNotification(protocol.Notification{ID: "n1", Type: "message", Title: "New message from Bob"}, "u1"); err != nil {
		t.Fatalf("RelayNotification: %v", err)
	}

	select {
	case m := <-messages:
		if m.ID != "m1" || m.ConversationID != "c1" {
			t.Fatalf("message: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no new-message")
	}
	select {
	case n := <-notes:
		if n.ID != "n1" {
			t.Fatalf("notification: %+v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no new-notification")
	}
}

func TestSessionClose(t *testing.T) {
	relay, url := newRelay(t)
	s := newTestSession(t, url, "u1", "Alice")
	connectSession(t, s, "u1")
	waitFor(t, func() bool { return relay.Stats().Connections == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, func() bool { return relay.Stats().Connections == 0 })

	if err := s.JoinConversation("c1"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("emit after close: got %v", err)
	}
	if err := s.Connect(context.Background(), "u1"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("connect after close: got %v", err)
	}
	if s.Status() != StatusClosed {
		t.Fatalf("status: %s", s.Status())
	}
}

func TestSessionDialFailure(t *testing.T) {
	_, url := newRelay(t)
	s := NewSession(SessionOptions{URL: url, Token: "garbage", Logger: zerolog.Nop()})
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Connect(ctx, "u1")
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected 401 dial error, got %v", err)
	}
	if s.Status() != StatusDisconnected {
		t.Fatalf("status: %s", s.Status())
	}
}
