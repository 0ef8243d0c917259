package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/protocol"
	"github.com/fenggwsx/StayChat/internal/server"
	"github.com/fenggwsx/StayChat/internal/storage/sqlite"
)

type testEnv struct {
	api   *Server
	relay *server.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultServerConfig()
	cfg.JWT.Secret = "api-test-secret"
	cfg.Database.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Relay.TypingQuietPeriod = time.Hour

	store, err := sqlite.NewStore(cfg.Database, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	reg := prometheus.NewRegistry()
	relay := server.NewServer(cfg.Relay, zerolog.Nop(), server.NewMetrics(reg))
	t.Cleanup(relay.Shutdown)

	api := New(Options{
		Config:       cfg,
		Store:        store,
		Coordinator:  dispatch.NewCoordinator(store, relay, zerolog.Nop()),
		Relay:        relay,
		Logger:       zerolog.Nop(),
		Gatherer:     reg,
		PasswordCost: bcrypt.MinCost,
	})
	return &testEnv{api: api, relay: relay}
}

func (e *testEnv) do(t *testing.T, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.api.Echo().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func (e *testEnv) register(t *testing.T, name string) protocol.AuthResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", "", protocol.RegisterRequest{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		Password: "pw-" + name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s: %d %s", name, rec.Code, rec.Body.String())
	}
	var resp protocol.AuthResponse
	decodeBody(t, rec, &resp)
	return resp
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")
	if alice.Token == "" || alice.User.Name != "Alice" || alice.User.ID == "" {
		t.Fatalf("unexpected register response: %+v", alice)
	}

	tests := []struct {
		name string
		body protocol.LoginRequest
		want int
	}{
		{"ok", protocol.LoginRequest{Email: "ALICE@example.com", Password: "pw-Alice"}, http.StatusOK},
		{"wrong password", protocol.LoginRequest{Email: "alice@example.com", Password: "nope"}, http.StatusUnauthorized},
		{"unknown email", protocol.LoginRequest{Email: "eve@example.com", Password: "pw"}, http.StatusUnauthorized},
		{"missing fields", protocol.LoginRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/auth/login", "", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status: got %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/api/auth/register", "", protocol.RegisterRequest{Name: "Dup", Email: "alice@example.com", Password: "x"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register: got %d", rec.Code)
	}
}

func TestIdentityRequired(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{"/api/conversations", "/api/notifications", "/api/messages?receiverId=x"} {
		if rec := env.do(t, http.MethodGet, target, "", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: got %d", target, rec.Code)
		}
		if rec := env.do(t, http.MethodGet, target, "forged", nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s with bad token: got %d", target, rec.Code)
		}
	}
	rec := env.do(t, http.MethodPost, "/api/messages", "", dispatch.SendMessageRequest{Content: "hi", ReceiverID: "u2"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous send: got %d", rec.Code)
	}
}

func TestMessageFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")
	bob := env.register(t, "Bob")

	rec := env.do(t, http.MethodPost, "/api/messages", alice.Token, dispatch.SendMessageRequest{Content: "hi", ReceiverID: bob.User.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
	}
	var sent protocol.Message
	decodeBody(t, rec, &sent)
	if sent.SenderID != alice.User.ID || sent.Sender == nil || sent.Sender.Name != "Alice" || sent.ConversationID == "" {
		t.Fatalf("unexpected message: %+v", sent)
	}

	var history []protocol.Message
	rec = env.do(t, http.MethodGet, "/api/messages?receiverId="+alice.User.ID, bob.Token, nil)
	decodeBody(t, rec, &history)
	if len(history) != 1 || history[0].ID != sent.ID {
		t.Fatalf("history by receiver: %+v", history)
	}

	rec = env.do(t, http.MethodGet, "/api/messages?conversationId="+sent.ConversationID, bob.Token, nil)
	decodeBody(t, rec, &history)
	if len(history) != 1 {
		t.Fatalf("history by conversation: %+v", history)
	}

	eve := env.register(t, "Eve")
	for _, target := range []string{
		"/api/messages?conversationId=missing",
		"/api/messages?conversationId=" + sent.ConversationID,
		"/api/messages?receiverId=" + alice.User.ID,
	} {
		rec = env.do(t, http.MethodGet, target, eve.Token, nil)
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
			t.Fatalf("%s as outsider: %d %s", target, rec.Code, rec.Body.String())
		}
	}

	if rec := env.do(t, http.MethodGet, "/api/messages", bob.Token, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("list without params: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/messages", bob.Token, dispatch.SendMessageRequest{ReceiverID: alice.User.ID}); rec.Code != http.StatusBadRequest {
		t.Fatalf("send without content: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/messages", bob.Token, dispatch.SendMessageRequest{Content: "x"}); rec.Code != http.StatusBadRequest {
		t.Fatalf("send without target: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/messages", eve.Token, dispatch.SendMessageRequest{Content: "x", ConversationID: sent.ConversationID}); rec.Code != http.StatusForbidden {
		t.Fatalf("outsider send: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/messages", eve.Token, dispatch.SendMessageRequest{Content: "x", ConversationID: "missing"}); rec.Code != http.StatusNotFound {
		t.Fatalf("send to missing conversation: got %d", rec.Code)
	}

	var convs []protocol.Conversation
	rec = env.do(t, http.MethodGet, "/api/conversations", bob.Token, nil)
	decodeBody(t, rec, &convs)
	if len(convs) != 1 {
		t.Fatalf("conversations: %+v", convs)
	}
	if convs[0].OtherParticipant == nil || convs[0].OtherParticipant.ID != alice.User.ID {
		t.Fatalf("other participant: %+v", convs[0].OtherParticipant)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.Content != "hi" {
		t.Fatalf("last message: %+v", convs[0].LastMessage)
	}
}

func TestConversationsSortedByActivity(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")
	bob := env.register(t, "Bob")
	carol := env.register(t, "Carol")

	send := func(to string, content string) {
		rec := env.do(t, http.MethodPost, "/api/messages", alice.Token, dispatch.SendMessageRequest{Content: content, ReceiverID: to})
		if rec.Code != http.StatusOK {
			t.Fatalf("send: %d %s", rec.Code, rec.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
	send(bob.User.ID, "to bob")
	send(carol.User.ID, "to carol")
	send(bob.User.ID, "bob again")

	var convs []protocol.Conversation
	decodeBody(t, env.do(t, http.MethodGet, "/api/conversations", alice.Token, nil), &convs)
	if len(convs) != 2 {
		t.Fatalf("conversations: %d", len(convs))
	}
	if convs[0].OtherParticipant.ID != bob.User.ID || convs[0].LastMessage.Content != "bob again" {
		t.Fatalf("most recent conversation should come first: %+v", convs[0])
	}
}

func TestNotificationCRUD(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")
	bob := env.register(t, "Bob")

	for _, content := range []string{"one", "two"} {
		env.do(t, http.MethodPost, "/api/messages", alice.Token, dispatch.SendMessageRequest{Content: content, ReceiverID: bob.User.ID})
	}

	var inbox []protocol.Notification
	decodeBody(t, env.do(t, http.MethodGet, "/api/notifications", bob.Token, nil), &inbox)
	if len(inbox) != 2 || inbox[0].Message != "two" || inbox[0].Type != "message" {
		t.Fatalf("inbox: %+v", inbox)
	}

	target := "/api/notifications/" + inbox[0].ID
	if rec := env.do(t, http.MethodPatch, target, alice.Token, map[string]bool{"read": true}); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign patch: got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPatch, target, bob.Token, map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("patch without flag: got %d", rec.Code)
	}
	rec := env.do(t, http.MethodPatch, target, bob.Token, map[string]bool{"read": true})
	var updated protocol.Notification
	decodeBody(t, rec, &updated)
	if rec.Code != http.StatusOK || !updated.Read {
		t.Fatalf("patch: %d %+v", rec.Code, updated)
	}

	var ok protocol.SuccessResponse
	decodeBody(t, env.do(t, http.MethodPatch, "/api/notifications/mark-all-read", bob.Token, nil), &ok)
	if !ok.Success || ok.Updated != 1 {
		t.Fatalf("mark all read: %+v", ok)
	}

	if rec := env.do(t, http.MethodDelete, target, alice.Token, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete: got %d", rec.Code)
	}
	decodeBody(t, env.do(t, http.MethodDelete, target, bob.Token, nil), &ok)
	if !ok.Success {
		t.Fatalf("delete: %+v", ok)
	}
	decodeBody(t, env.do(t, http.MethodGet, "/api/notifications", bob.Token, nil), &inbox)
	if len(inbox) != 1 || !inbox[0].Read {
		t.Fatalf("inbox after delete: %+v", inbox)
	}

	rec = env.do(t, http.MethodPost, "/api/notifications", alice.Token, dispatch.CreateNotificationRequest{
		UserID: bob.User.ID, Type: "reservation", Title: "Booked", Message: "See you",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create notification: %d %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	var health map[string]interface{}
	decodeBody(t, rec, &health)
	if health["status"] != "ok" {
		t.Fatalf("health: %v", health)
	}
	if _, ok := health["connections"]; !ok {
		t.Fatalf("health missing relay stats: %v", health)
	}

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "staychat_relay_connections") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestSendPushesToConnectedReceiver(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "Alice")
	bob := env.register(t, "Bob")

	ts := httptest.NewServer(env.api.Echo())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + bob.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.relay.Registry().Size(server.UserRoom(bob.User.ID)) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("bob never joined his user room")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := env.do(t, http.MethodPost, "/api/messages", alice.Token, dispatch.SendMessageRequest{Content: "hi bob", ReceiverID: bob.User.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("send: %d", rec.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Event != protocol.EventNewNotification {
		t.Fatalf("event: %s", frame.Event)
	}
	var n protocol.Notification
	if err := frame.Decode(&n); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if n.Title != "New message from Alice" || n.Message != "hi bob" || n.Read {
		t.Fatalf("notification: %+v", n)
	}
}
