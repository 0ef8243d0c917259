package server

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/protocol"
)

var (
	// ErrRelayClosed is returned by relay calls after Shutdown.
	ErrRelayClosed = errors.New("relay: closed")
	// ErrIdentityMismatch rejects join-user-room for a user other than the
	// one authenticated on the connection.
	ErrIdentityMismatch = errors.New("relay: user does not match connection identity")
	// ErrInvalidPayload rejects frames missing required fields.
	ErrInvalidPayload = errors.New("relay: invalid payload")
)

// Server routes events between connections. It never interprets message
// content and never blocks on a slow client.
type Server struct {
	cfg      config.RelayConfig
	log      zerolog.Logger
	registry *Registry
	typing   *TypingTracker
	metrics  *Metrics
	closed   atomic.Bool
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Typing      int `json:"typing"`
}

// NewServer constructs a relay. A nil metrics registers collectors on a
// private registry.
func NewServer(cfg config.RelayConfig, log zerolog.Logger, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "relay").Logger(),
		registry: NewRegistry(),
		metrics:  metrics,
	}
	s.typing = NewTypingTracker(cfg.TypingQuietPeriod, s.onTypingExpired)
	return s
}

// Registry exposes room membership for diagnostics and tests.
func (s *Server) Registry() *Registry { return s.registry }

// Typing exposes typing state for diagnostics and tests.
func (s *Server) Typing() *TypingTracker { return s.typing }

// Stats reports live counts.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.registry.ConnCount(),
		Rooms:       s.registry.RoomCount(),
		Typing:      s.typing.Len(),
	}
}

// OnConnect registers a connection with an empty room set. Connections that
// authenticated at upgrade join their own user room straight away.
func (s *Server) OnConnect(c *Conn) error {
	if s.closed.Load() {
		c.Close()
		return ErrRelayClosed
	}
	s.registry.Add(c)
	s.metrics.Connections.Set(float64(s.registry.ConnCount()))
	s.log.Debug().Str("conn_id", c.id).Str("user_id", c.userID).Str("remote", c.remote).Msg("connected")

	if c.userID != "" {
		s.join(c, UserRoom(c.userID))
	}
	return nil
}

// JoinUserRoom subscribes c to the personal room of userID. With strict
// identity only the authenticated user's own room may be joined.
func (s *Server) JoinUserRoom(c *Conn, userID string) error {
	if s.closed.Load() {
		return ErrRelayClosed
	}
	if !trimmed(&userID) {
		return ErrInvalidPayload
	}
	if s.cfg.StrictIdentity && c.userID != userID {
		return ErrIdentityMismatch
	}
	s.join(c, UserRoom(userID))
	return nil
}

// JoinConversation subscribes c to a conversation room. Joining twice is a no-op.
func (s *Server) JoinConversation(c *Conn, conversationID string) error {
	if s.closed.Load() {
		return ErrRelayClosed
	}
	if !trimmed(&conversationID) {
		return ErrInvalidPayload
	}
	s.join(c, ConversationRoom(conversationID))
	return nil
}

// LeaveConversation unsubscribes c. Leaving a room never joined is a no-op.
func (s *Server) LeaveConversation(c *Conn, conversationID string) error {
	if !trimmed(&conversationID) {
		return ErrInvalidPayload
	}
	if s.registry.Leave(ConversationRoom(conversationID), c) {
		s.metrics.Rooms.Set(float64(s.registry.RoomCount()))
		s.log.Debug().Str("conn_id", c.id).Str("conversation_id", conversationID).Msg("left conversation")
	}
	return nil
}

// EmitTypingStart marks the user as typing and tells every other member of
// the conversation. Each start is broadcast, even when already typing.
func (s *Server) EmitTypingStart(origin *Conn, start protocol.TypingStart) error {
	if s.closed.Load() {
		return ErrRelayClosed
	}
	if !trimmed(&start.ConversationID, &start.UserID) {
		return ErrInvalidPayload
	}
	s.typing.Start(start.ConversationID, start.UserID, origin)
	s.metrics.TypingActive.Set(float64(s.typing.Len()))

	s.broadcast(ConversationRoom(start.ConversationID), protocol.EventUserTyping, protocol.TypingEvent{
		UserID:   start.UserID,
		UserName: start.UserName,
		IsTyping: true,
	}, origin)
	return nil
}

// EmitTypingStop clears the indicator immediately and tells every other member.
func (s *Server) EmitTypingStop(origin *Conn, stop protocol.TypingStop) error {
	if s.closed.Load() {
		return ErrRelayClosed
	}
	if !trimmed(&stop.ConversationID, &stop.UserID) {
		return ErrInvalidPayload
	}
	s.typing.Stop(stop.ConversationID, stop.UserID)
	s.metrics.TypingActive.Set(float64(s.typing.Len()))

	s.broadcast(ConversationRoom(stop.ConversationID), protocol.EventUserTyping, protocol.TypingEvent{
		UserID:   stop.UserID,
		IsTyping: false,
	}, origin)
	return nil
}

// SetPresence announces a user's status to every other connection.
func (s *Server) SetPresence(origin *Conn, userID, status string) error {
	if s.closed.Load() {
		return ErrRelayClosed
	}
	if !trimmed(&userID) {
		return ErrInvalidPayload
	}
	frame, err := protocol.Encode(protocol.EventUserStatus, protocol.UserStatus{UserID: userID, Status: status})
	if err != nil {
		return err
	}
	s.deliver(protocol.EventUserStatus, frame, s.registry.All(), origin)
	return nil
}

// OnDisconnect closes c and removes it from every room. A typing indicator
// the user left behind is cleared by its quiet timer, not here.
func (s *Server) OnDisconnect(c *Conn) {
	c.Close()
	rooms := s.registry.Remove(c)
	s.metrics.Connections.Set(float64(s.registry.ConnCount()))
	s.metrics.Rooms.Set(float64(s.registry.RoomCount()))
	s.log.Debug().Str("conn_id", c.id).Strs("rooms", rooms).Msg("disconnected")
}

// RelayNewMessage broadcasts a stored message to its conversation room,
// including every connection of the sender.
func (s *Server) RelayNewMessage(msg protocol.Message, conversationID string) error {
	if s.closed.Load() {
		return ErrRelayClosed
	}
	msg.ConversationID = conversationID
	return s.broadcast(ConversationRoom(conversationID), protocol.EventNewMessage, msg, nil)
}

// RelayNotification pushes a stored notification to the recipient's user room.
func (s *Server) RelayNotification(n protocol.Notification, recipientUserID string) error {
	if s.closed.Load() {
		return ErrRelayClosed
	}
	return s.broadcast(UserRoom(recipientUserID), protocol.EventNewNotification, n, nil)
}

// Shutdown stops accepting work, cancels typing timers and closes every
// connection. It is safe to call more than once.
func (s *Server) Shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.typing.Close()
	conns := s.registry.All()
	for _, c := range conns {
		s.OnDisconnect(c)
	}
	s.metrics.TypingActive.Set(0)
	s.log.Info().Int("connections", len(conns)).Msg("relay shut down")
}

func (s *Server) onTypingExpired(exp TypingExpiry) {
	s.metrics.TypingActive.Set(float64(s.typing.Len()))
	if s.closed.Load() {
		return
	}
	s.log.Debug().Str("conversation_id", exp.ConversationID).Str("user_id", exp.UserID).Msg("typing expired")
	s.broadcast(ConversationRoom(exp.ConversationID), protocol.EventUserTyping, protocol.TypingEvent{
		UserID:   exp.UserID,
		IsTyping: false,
	}, exp.Origin)
}

func (s *Server) join(c *Conn, room string) {
	if s.registry.Join(room, c) {
		s.metrics.Rooms.Set(float64(s.registry.RoomCount()))
		s.log.Debug().Str("conn_id", c.id).Str("room", room).Msg("joined room")
	}
}

func (s *Server) broadcast(room string, event protocol.Event, payload interface{}, except *Conn) error {
	members := s.registry.Members(room)
	if len(members) == 0 {
		return nil
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		s.log.Error().Err(err).Str("room", room).Str("event", string(event)).Msg("encode broadcast")
		return err
	}
	s.deliver(event, frame, members, except)
	return nil
}

func (s *Server) deliver(event protocol.Event, frame []byte, targets []*Conn, except *Conn) {
	queued, dropped := 0, 0
	for _, c := range targets {
		if c == except {
			continue
		}
		if c.enqueue(frame) {
			queued++
			continue
		}
		dropped++
		s.log.Warn().Str("conn_id", c.id).Str("event", string(event)).Msg("send queue full, frame dropped")
	}
	s.metrics.delivered(event, queued, dropped)
}
