package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/fenggwsx/StayChat/internal/auth"
	"github.com/fenggwsx/StayChat/internal/protocol"
	"github.com/fenggwsx/StayChat/internal/storage"
)

func (s *Server) handleRegister(c echo.Context) error {
	var req protocol.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Password == "" || !strings.Contains(req.Email, "@") {
		return echo.NewHTTPError(http.StatusBadRequest, "name, email and password required")
	}

	hashed, err := auth.HashPassword(req.Password, s.cost)
	if err != nil {
		return s.internalError(err)
	}
	now := time.Now().UTC()
	user := &storage.User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		Image:     strings.TrimSpace(req.Image),
		Password:  hashed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateUser(c.Request().Context(), user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return echo.NewHTTPError(http.StatusConflict, "email already registered")
		}
		return s.internalError(err)
	}
	s.log.Info().Str("user_id", user.ID).Msg("user registered")
	return s.issueToken(c, http.StatusCreated, user)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req protocol.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password required")
	}

	user, err := s.store.GetUserByEmail(c.Request().Context(), email)
	if errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return s.internalError(err)
	}
	if err := auth.ComparePassword(user.Password, req.Password); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	return s.issueToken(c, http.StatusOK, user)
}

func (s *Server) issueToken(c echo.Context, status int, user *storage.User) error {
	token, expiresAt, err := auth.NewToken(s.cfg.JWT, user.ID, user.Name)
	if err != nil {
		return s.internalError(err)
	}
	return c.JSON(status, protocol.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
		User:      *protocol.FromUser(user),
	})
}
