package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/logging"
	"github.com/fenggwsx/StayChat/internal/protocol"
)

var (
	// ErrNotConnected is returned by emits while no live connection exists.
	ErrNotConnected = errors.New("client: not connected")
	// ErrSessionClosed is returned once Close has been called.
	ErrSessionClosed = errors.New("client: session closed")
)

// Status is the transport state reported to OnStatus listeners.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

const (
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// URL is the relay endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// Token is sent as a bearer token on every dial.
	Token        string
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Dialer       *websocket.Dialer
	Logger       zerolog.Logger
}

// Session owns one long-lived relay connection. It reconnects when the
// connection drops and re-announces the user room after every connect.
// Conversation rooms are not restored; callers re-join them.
//
// Listener callbacks run on the session's read goroutine and must not block.
type Session struct {
	opts SessionOptions
	log  zerolog.Logger

	mu      sync.Mutex
	userID  string
	conn    *websocket.Conn
	status  Status
	running bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex

	messages      listeners[protocol.Message]
	typing        listeners[protocol.TypingEvent]
	notifications listeners[protocol.Notification]
	presence      listeners[protocol.UserStatus]
	statuses      listeners[Status]
	failures      listeners[string]
}

// NewSession returns an unconnected session.
func NewSession(opts SessionOptions) *Session {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = defaultReconnectMin
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = defaultReconnectMax
		if opts.ReconnectMax < opts.ReconnectMin {
			opts.ReconnectMax = opts.ReconnectMin
		}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Session{
		opts: opts,
		log:  logging.Component(opts.Logger, "session"),
	}
}

// Connect dials the relay unless a connection is already being maintained,
// in which case the live connection is reused. A non-empty userID is
// remembered and announced with join-user-room on every (re)connect.
func (s *Session) Connect(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	announce := userID != "" && userID != s.userID
	if userID != "" {
		s.userID = userID
	}
	if s.running {
		conn := s.conn
		s.mu.Unlock()
		if announce && conn != nil {
			return s.write(conn, protocol.EventJoinUserRoom, userID)
		}
		return nil
	}
	s.mu.Unlock()

	s.setStatus(StatusConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		s.setStatus(StatusDisconnected)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrSessionClosed
	}
	if s.running {
		// Lost a race with a concurrent Connect.
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.attach(conn)
	go s.run(runCtx, conn)
	return nil
}

// Close stops reconnecting and closes the live connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, done, conn := s.cancel, s.done, s.conn
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	s.setStatus(StatusClosed)
	return nil
}

// Status reports the current transport state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UserID returns the identity announced on connect.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// JoinConversation subscribes the live connection to a conversation room.
func (s *Session) JoinConversation(conversationID string) error {
	return s.emit(protocol.EventJoinConversation, conversationID)
}

// LeaveConversation unsubscribes from a conversation room.
func (s *Session) LeaveConversation(conversationID string) error {
	return s.emit(protocol.EventLeaveConversation, conversationID)
}

// EmitTypingStart tells the other members of the room that the user is typing.
func (s *Session) EmitTypingStart(conversationID, userID, userName string) error {
	return s.emit(protocol.EventTypingStart, protocol.TypingStart{
		ConversationID: conversationID,
		UserID:         userID,
		UserName:       userName,
	})
}

// EmitTypingStop clears the user's typing indicator in the room.
func (s *Session) EmitTypingStop(conversationID, userID string) error {
	return s.emit(protocol.EventTypingStop, protocol.TypingStop{
		ConversationID: conversationID,
		UserID:         userID,
	})
}

// SetPresence broadcasts the user's online/offline status.
func (s *Session) SetPresence(status string) error {
	userID := s.UserID()
	if userID == "" {
		return ErrNotConnected
	}
	event := protocol.EventUserOnline
	if status == protocol.StatusOffline {
		event = protocol.EventUserOffline
	}
	return s.emit(event, userID)
}

// OnNewMessage registers fn for new-message frames.
func (s *Session) OnNewMessage(fn func(protocol.Message)) func() {
	return s.messages.add(fn)
}

// OnTyping registers fn for user-typing frames.
func (s *Session) OnTyping(fn func(protocol.TypingEvent)) func() {
	return s.typing.add(fn)
}

// OnNotification registers fn for new-notification frames.
func (s *Session) OnNotification(fn func(protocol.Notification)) func() {
	return s.notifications.add(fn)
}

// OnUserStatus registers fn for user-status frames.
func (s *Session) OnUserStatus(fn func(protocol.UserStatus)) func() {
	return s.presence.add(fn)
}

// OnStatus registers fn for transport state changes.
func (s *Session) OnStatus(fn func(Status)) func() {
	return s.statuses.add(fn)
}

// OnError registers fn for error frames returned by the relay.
func (s *Session) OnError(fn func(string)) func() {
	return s.failures.add(fn)
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	conn, resp, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: HTTP %d: %w", s.opts.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	return conn, nil
}

// attach publishes conn as the live connection and re-announces identity.
func (s *Session) attach(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	userID := s.userID
	s.mu.Unlock()

	s.setStatus(StatusConnected)
	if userID != "" {
		if err := s.write(conn, protocol.EventJoinUserRoom, userID); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("announce user room failed")
		}
	}
}

func (s *Session) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// run reads from conn until it drops, then redials with exponential
// backoff until the session is closed.
func (s *Session) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	for {
		err := s.readLoop(conn)
		s.detach(conn)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn().Err(err).Msg("relay connection lost")
		s.setStatus(StatusReconnecting)

		backoff := s.opts.ReconnectMin
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			next, err := s.dial(ctx)
			if err == nil {
				conn = next
				break
			}
			if ctx.Err() != nil {
				return
			}
			s.log.Debug().Err(err).Dur("backoff", backoff).Msg("reconnect failed")
			backoff = min(backoff*2, s.opts.ReconnectMax)
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			_ = conn.Close()
			return
		}
		s.log.Info().Msg("relay connection restored")
		s.attach(conn)
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(raw)
	}
}

func (s *Session) dispatch(raw []byte) {
	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("discarding malformed frame")
		return
	}
	switch frame.Event {
	case protocol.EventNewMessage:
		var msg protocol.Message
		if err := frame.Decode(&msg); err == nil {
			s.messages.emit(msg)
			return
		}
	case protocol.EventUserTyping:
		var ev protocol.TypingEvent
		if err := frame.Decode(&ev); err == nil {
			s.typing.emit(ev)
			return
		}
	case protocol.EventNewNotification:
		var n protocol.Notification
		if err := frame.Decode(&n); err == nil {
			s.notifications.emit(n)
			return
		}
	case protocol.EventUserStatus:
		var st protocol.UserStatus
		if err := frame.Decode(&st); err == nil {
			s.presence.emit(st)
			return
		}
	case protocol.EventError:
		var e protocol.ErrorPayload
		if err := frame.Decode(&e); err == nil {
			s.failures.emit(e.Message)
			return
		}
	default:
		s.log.Debug().Str("event", string(frame.Event)).Msg("ignoring frame")
		return
	}
	s.log.Debug().Str("event", string(frame.Event)).Msg("undecodable payload")
}

// emit writes a frame on the live connection without waiting for any
// acknowledgement.
func (s *Session) emit(event protocol.Event, payload interface{}) error {
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return s.write(conn, event, payload)
}

func (s *Session) write(conn *websocket.Conn, event protocol.Event, payload interface{}) error {
	raw, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()
	s.statuses.emit(status)
}
