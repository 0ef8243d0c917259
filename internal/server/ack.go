package server

import (
	"github.com/fenggwsx/StayChat/internal/protocol"
)

// sendError answers a rejected frame on the originating connection only.
func (s *Server) sendError(c *Conn, event protocol.Event, reason string) {
	s.metrics.Rejected.WithLabelValues(string(event)).Inc()
	frame, err := protocol.Encode(protocol.EventError, protocol.ErrorPayload{Message: reason})
	if err != nil {
		s.log.Error().Err(err).Msg("encode error frame")
		return
	}
	if !c.enqueue(frame) {
		s.log.Warn().Str("conn_id", c.id).Str("event", string(event)).Msg("error frame dropped")
	}
}
