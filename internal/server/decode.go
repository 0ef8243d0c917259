package server

import (
	"github.com/fenggwsx/StayChat/internal/protocol"
)

func decodeTypingStart(frame protocol.Frame) (protocol.TypingStart, error) {
	var req protocol.TypingStart
	if err := frame.Decode(&req); err != nil {
		return req, err
	}
	if !trimmed(&req.ConversationID, &req.UserID) {
		return req, ErrInvalidPayload
	}
	return req, nil
}

func decodeTypingStop(frame protocol.Frame) (protocol.TypingStop, error) {
	var req protocol.TypingStop
	if err := frame.Decode(&req); err != nil {
		return req, err
	}
	if !trimmed(&req.ConversationID, &req.UserID) {
		return req, ErrInvalidPayload
	}
	return req, nil
}
