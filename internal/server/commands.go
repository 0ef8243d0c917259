package server

import (
	"errors"

	"github.com/fenggwsx/StayChat/internal/protocol"
)

// HandleFrame routes one inbound websocket message from c.
func (s *Server) HandleFrame(c *Conn, raw []byte) {
	frame, err := protocol.DecodeFrame(raw)
	if err != nil {
		s.sendError(c, "", "malformed frame")
		return
	}
	s.metrics.FramesIn.WithLabelValues(string(frame.Event)).Inc()

	switch frame.Event {
	case protocol.EventJoinUserRoom:
		s.handleJoinUserRoom(c, frame)
	case protocol.EventJoinConversation:
		s.handleConversation(c, frame, s.JoinConversation)
	case protocol.EventLeaveConversation:
		s.handleConversation(c, frame, s.LeaveConversation)
	case protocol.EventTypingStart:
		s.handleTypingStart(c, frame)
	case protocol.EventTypingStop:
		s.handleTypingStop(c, frame)
	case protocol.EventUserOnline:
		s.handlePresence(c, frame, protocol.StatusOnline)
	case protocol.EventUserOffline:
		s.handlePresence(c, frame, protocol.StatusOffline)
	default:
		s.log.Debug().Str("conn_id", c.id).Str("event", string(frame.Event)).Msg("unhandled event")
		s.sendError(c, frame.Event, "unsupported event")
	}
}

func (s *Server) handleJoinUserRoom(c *Conn, frame protocol.Frame) {
	userID, err := frame.ID("userId")
	if err != nil {
		s.sendError(c, frame.Event, "userId required")
		return
	}
	if err := s.JoinUserRoom(c, userID); err != nil {
		if errors.Is(err, ErrIdentityMismatch) {
			s.log.Warn().Str("conn_id", c.id).Str("user_id", c.userID).Str("requested", userID).Msg("join-user-room rejected")
			s.sendError(c, frame.Event, "forbidden")
			return
		}
		s.sendError(c, frame.Event, err.Error())
	}
}

func (s *Server) handleConversation(c *Conn, frame protocol.Frame, op func(*Conn, string) error) {
	conversationID, err := frame.ID("conversationId")
	if err != nil {
		s.sendError(c, frame.Event, "conversationId required")
		return
	}
	if err := op(c, conversationID); err != nil {
		s.sendError(c, frame.Event, err.Error())
	}
}

func (s *Server) handleTypingStart(c *Conn, frame protocol.Frame) {
	req, err := decodeTypingStart(frame)
	if err != nil {
		s.sendError(c, frame.Event, "invalid typing payload")
		return
	}
	if err := s.EmitTypingStart(c, req); err != nil {
		s.sendError(c, frame.Event, err.Error())
	}
}

func (s *Server) handleTypingStop(c *Conn, frame protocol.Frame) {
	req, err := decodeTypingStop(frame)
	if err != nil {
		s.sendError(c, frame.Event, "invalid typing payload")
		return
	}
	if err := s.EmitTypingStop(c, req); err != nil {
		s.sendError(c, frame.Event, err.Error())
	}
}

func (s *Server) handlePresence(c *Conn, frame protocol.Frame, status string) {
	userID, err := frame.ID("userId")
	if err != nil {
		s.sendError(c, frame.Event, "userId required")
		return
	}
	if err := s.SetPresence(c, userID, status); err != nil {
		s.sendError(c, frame.Event, err.Error())
	}
}
