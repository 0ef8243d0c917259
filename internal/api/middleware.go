package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/auth"
	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/storage"
)

const userContextKey = "staychat.user"

func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil {
				event = log.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("path", v.URIPath).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("request completed")
			return nil
		},
	})
}

// requireUser resolves the bearer token to a stored user. Requests without
// a resolvable identity are rejected before any side effect.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := auth.ParseToken(s.cfg.JWT, auth.TokenFromRequest(c.Request()))
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		user, err := s.store.GetUserByID(c.Request().Context(), claims.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		if err != nil {
			return s.internalError(err)
		}
		c.Set(userContextKey, user)
		return next(c)
	}
}

func currentUser(c echo.Context) *storage.User {
	user, _ := c.Get(userContextKey).(*storage.User)
	return user
}

// httpError maps domain errors to status codes. Anything unrecognized is a
// persistence failure.
func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, dispatch.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, dispatch.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	default:
		return s.internalError(err)
	}
}

func (s *Server) internalError(err error) error {
	s.log.Error().Err(err).Msg("request failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
