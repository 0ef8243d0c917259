package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/protocol"
)

// HTTPError is a non-2xx response from the REST surface.
type HTTPError struct {
	Op      string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, e.Message)
}

// API is a small client for the REST endpoints the terminal client needs.
type API struct {
	base *url.URL
	http *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPI parses serverURL (http or https). A nil httpClient gets a default
// with a request timeout.
func NewAPI(serverURL string, httpClient *http.Client) (*API, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("parse server url: unsupported scheme %q", base.Scheme)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &API{base: base, http: httpClient}, nil
}

// WebSocketURL returns the relay endpoint on the same host.
func (a *API) WebSocketURL() string {
	ws := *a.base
	if ws.Scheme == "https" {
		ws.Scheme = "wss"
	} else {
		ws.Scheme = "ws"
	}
	ws.Path = strings.TrimRight(ws.Path, "/") + "/ws"
	return ws.String()
}

// Token returns the bearer token from the last login.
func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

// SetToken overrides the bearer token.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// Login authenticates and stores the returned token.
func (a *API) Login(ctx context.Context, email, password string) (protocol.AuthResponse, error) {
	var resp protocol.AuthResponse
	err := a.do(ctx, "login", http.MethodPost, "/api/auth/login",
		protocol.LoginRequest{Email: email, Password: password}, &resp)
	if err == nil {
		a.SetToken(resp.Token)
	}
	return resp, err
}

// Register creates an account and stores the returned token.
func (a *API) Register(ctx context.Context, req protocol.RegisterRequest) (protocol.AuthResponse, error) {
	var resp protocol.AuthResponse
	err := a.do(ctx, "register", http.MethodPost, "/api/auth/register", req, &resp)
	if err == nil {
		a.SetToken(resp.Token)
	}
	return resp, err
}

// Conversations lists the caller's conversations, most recent first.
func (a *API) Conversations(ctx context.Context) ([]protocol.Conversation, error) {
	var out []protocol.Conversation
	err := a.do(ctx, "list conversations", http.MethodGet, "/api/conversations", nil, &out)
	return out, err
}

// Messages fetches history by conversation id or, when empty, by the other
// participant's id.
func (a *API) Messages(ctx context.Context, conversationID, receiverID string) ([]protocol.Message, error) {
	q := url.Values{}
	if conversationID != "" {
		q.Set("conversationId", conversationID)
	}
	if receiverID != "" {
		q.Set("receiverId", receiverID)
	}
	var out []protocol.Message
	err := a.do(ctx, "list messages", http.MethodGet, "/api/messages?"+q.Encode(), nil, &out)
	return out, err
}

// SendMessage stores a message and returns the confirmed copy.
func (a *API) SendMessage(ctx context.Context, req dispatch.SendMessageRequest) (protocol.Message, error) {
	var out protocol.Message
	err := a.do(ctx, "send message", http.MethodPost, "/api/messages", req, &out)
	return out, err
}

// Notifications fetches the most recent notifications.
func (a *API) Notifications(ctx context.Context) ([]protocol.Notification, error) {
	var out []protocol.Notification
	err := a.do(ctx, "list notifications", http.MethodGet, "/api/notifications", nil, &out)
	return out, err
}

// MarkNotificationRead sets the read flag of one notification.
func (a *API) MarkNotificationRead(ctx context.Context, id string, read bool) (protocol.Notification, error) {
	var out protocol.Notification
	err := a.do(ctx, "update notification", http.MethodPatch, "/api/notifications/"+url.PathEscape(id),
		protocol.UpdateNotificationRequest{Read: &read}, &out)
	return out, err
}

// MarkAllNotificationsRead flags every unread notification of the caller.
func (a *API) MarkAllNotificationsRead(ctx context.Context) (int64, error) {
	var out protocol.SuccessResponse
	err := a.do(ctx, "mark all read", http.MethodPatch, "/api/notifications/mark-all-read", nil, &out)
	return out.Updated, err
}

// DeleteNotification removes one notification.
func (a *API) DeleteNotification(ctx context.Context, id string) error {
	return a.do(ctx, "delete notification", http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil)
}

func (a *API) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		return &HTTPError{Op: op, Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
