package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/protocol"
	"github.com/fenggwsx/StayChat/internal/storage"
)

func (s *Server) handleListNotifications(c echo.Context) error {
	user := currentUser(c)
	list, err := s.store.ListNotifications(c.Request().Context(), user.ID, notificationPageSize)
	if err != nil {
		return s.internalError(err)
	}
	out := make([]protocol.Notification, 0, len(list))
	for _, n := range list {
		out = append(out, protocol.FromNotification(n))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateNotification(c echo.Context) error {
	var req dispatch.CreateNotificationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	n, err := s.dispatch.CreateNotification(c.Request().Context(), req)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (s *Server) handleUpdateNotification(c echo.Context) error {
	var req protocol.UpdateNotificationRequest
	if err := c.Bind(&req); err != nil || req.Read == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read flag required")
	}
	n, err := s.ownedNotification(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := s.store.SetNotificationRead(ctx, n.ID, *req.Read); err != nil {
		return s.httpError(err)
	}
	n.Read = *req.Read
	return c.JSON(http.StatusOK, protocol.FromNotification(*n))
}

func (s *Server) handleDeleteNotification(c echo.Context) error {
	n, err := s.ownedNotification(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNotification(c.Request().Context(), n.ID); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, protocol.SuccessResponse{Success: true})
}

func (s *Server) handleMarkAllRead(c echo.Context) error {
	user := currentUser(c)
	updated, err := s.store.MarkAllNotificationsRead(c.Request().Context(), user.ID)
	if err != nil {
		return s.internalError(err)
	}
	return c.JSON(http.StatusOK, protocol.SuccessResponse{Success: true, Updated: updated})
}

// ownedNotification loads the :id notification and hides it from anyone
// but its recipient.
func (s *Server) ownedNotification(c echo.Context) (*storage.Notification, error) {
	n, err := s.store.GetNotification(c.Request().Context(), c.Param("id"))
	if err != nil {
		return nil, s.httpError(err)
	}
	if n.UserID != currentUser(c).ID {
		return nil, echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return n, nil
}
