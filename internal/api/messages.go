package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/protocol"
	"github.com/fenggwsx/StayChat/internal/storage"
)

func (s *Server) handleSendMessage(c echo.Context) error {
	var req dispatch.SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	msg, err := s.dispatch.SendMessage(c.Request().Context(), currentUser(c), req)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, msg)
}

// handleListMessages returns history oldest first. A conversation that does
// not exist, or that the caller is not part of, yields an empty list.
func (s *Server) handleListMessages(c echo.Context) error {
	user := currentUser(c)
	conversationID := strings.TrimSpace(c.QueryParam("conversationId"))
	receiverID := strings.TrimSpace(c.QueryParam("receiverId"))
	if conversationID == "" && receiverID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversationId or receiverId required")
	}

	ctx := c.Request().Context()
	conv, err := s.lookupConversation(ctx, user.ID, conversationID, receiverID)
	if err != nil {
		return s.internalError(err)
	}
	out := []protocol.Message{}
	if conv == nil {
		return c.JSON(http.StatusOK, out)
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return s.internalError(err)
	}
	for _, m := range history {
		out = append(out, protocol.FromMessage(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) lookupConversation(ctx context.Context, userID, conversationID, receiverID string) (*storage.Conversation, error) {
	if conversationID != "" {
		conv, err := s.store.GetConversation(ctx, conversationID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(userID) {
			return nil, nil
		}
		return conv, nil
	}

	candidates, err := s.store.FindConversationsWithParticipants(ctx, userID, receiverID)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if len(candidates[i].ParticipantIDs) == 2 {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func (s *Server) handleListConversations(c echo.Context) error {
	user := currentUser(c)
	ctx := c.Request().Context()

	convs, err := s.store.ListConversationsForUser(ctx, user.ID)
	if err != nil {
		return s.internalError(err)
	}

	out := make([]protocol.Conversation, 0, len(convs))
	for _, conv := range convs {
		view := protocol.Conversation{
			ID:             conv.ID,
			ParticipantIDs: conv.ParticipantIDs,
			ReservationID:  conv.ReservationID,
			LastMessageAt:  conv.LastMessageAt,
			CreatedAt:      conv.CreatedAt,
		}
		if otherID, ok := conv.OtherParticipant(user.ID); ok {
			other, err := s.store.GetUserByID(ctx, otherID)
			switch {
			case err == nil:
				view.OtherParticipant = protocol.FromUser(other)
			case errors.Is(err, storage.ErrNotFound):
				view.OtherParticipant = &protocol.UserSummary{ID: otherID}
			default:
				return s.internalError(err)
			}
		}
		last, err := s.store.LastMessage(ctx, conv.ID)
		switch {
		case err == nil:
			msg := protocol.FromMessage(*last)
			view.LastMessage = &msg
		case !errors.Is(err, storage.ErrNotFound):
			return s.internalError(err)
		}
		out = append(out, view)
	}
	return c.JSON(http.StatusOK, out)
}
