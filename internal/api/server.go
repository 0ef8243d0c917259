// Package api serves the REST collaborator surface and mounts the relay's
// websocket endpoint on the same Echo router.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/config"
	"github.com/fenggwsx/StayChat/internal/dispatch"
	"github.com/fenggwsx/StayChat/internal/logging"
	"github.com/fenggwsx/StayChat/internal/server"
	"github.com/fenggwsx/StayChat/internal/storage"
)

const notificationPageSize = 50

// Options carries the collaborators of the HTTP server.
type Options struct {
	Config      config.ServerConfig
	Store       storage.Store
	Coordinator *dispatch.Coordinator
	Relay       *server.Server
	Logger      zerolog.Logger
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// PasswordCost overrides the bcrypt cost, mainly for tests.
	PasswordCost int
}

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	cfg      config.ServerConfig
	store    storage.Store
	dispatch *dispatch.Coordinator
	relay    *server.Server
	log      zerolog.Logger
	cost     int
}

// New constructs an Echo app with websocket and REST routes.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      opts.Config,
		store:    opts.Store,
		dispatch: opts.Coordinator,
		relay:    opts.Relay,
		log:      logging.Component(opts.Logger, "api"),
		cost:     opts.PasswordCost,
	}

	e.Use(middleware.Recover())
	e.Use(requestLogger(s.log))
	s.registerRoutes(opts.Gatherer)
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	s.echo.POST("/api/auth/register", s.handleRegister)
	s.echo.POST("/api/auth/login", s.handleLogin)

	api := s.echo.Group("/api", s.requireUser)
	api.POST("/messages", s.handleSendMessage)
	api.GET("/messages", s.handleListMessages)
	api.GET("/conversations", s.handleListConversations)
	api.GET("/notifications", s.handleListNotifications)
	api.POST("/notifications", s.handleCreateNotification)
	api.PATCH("/notifications/mark-all-read", s.handleMarkAllRead)
	api.PATCH("/notifications/:id", s.handleUpdateNotification)
	api.DELETE("/notifications/:id", s.handleDeleteNotification)

	if s.relay != nil {
		server.NewHandler(s.relay, s.cfg.JWT, s.cfg.Relay, s.log).Register(s.echo)
	}
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if s.relay != nil {
			s.relay.Shutdown()
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutCtx); err != nil {
			return err
		}
		return <-errCh
	}
}

type healthResponse struct {
	Status string `json:"status"`
	server.Stats
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := healthResponse{Status: "ok"}
	if s.relay != nil {
		resp.Stats = s.relay.Stats()
	}
	return c.JSON(http.StatusOK, resp)
}
