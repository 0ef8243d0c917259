package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fenggwsx/StayChat/internal/config"
)

// Handler owns the websocket transport of the relay.
type Handler struct {
	server   *Server
	jwt      config.JWTConfig
	cfg      config.RelayConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates a websocket handler bound to server.
func NewHandler(server *Server, jwtCfg config.JWTConfig, cfg config.RelayConfig, log zerolog.Logger) *Handler {
	return &Handler{
		server: server,
		jwt:    jwtCfg,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	userID, err := identify(h.jwt, c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(ws, NewConn(userID, c.RealIP(), h.cfg.SendBuffer))
	return nil
}

func (h *Handler) serveConn(ws *websocket.Conn, conn *Conn) {
	defer ws.Close()

	if err := h.server.OnConnect(conn); err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
			time.Now().Add(time.Second))
		return
	}
	defer h.server.OnDisconnect(conn)

	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	pongWait := h.pongWait()
	if pongWait > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	go h.writeLoop(ws, conn)

	for {
		messageType, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("read")
			}
			return
		}
		if pongWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.server.HandleFrame(conn, raw)
	}
}

// writeLoop is the only writer of ws. It drains the connection queue in
// order and closes the socket when the connection ends.
func (h *Handler) writeLoop(ws *websocket.Conn, conn *Conn) {
	var ping <-chan time.Time
	if h.cfg.PingInterval > 0 {
		ticker := time.NewTicker(h.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer ws.Close()

	for {
		select {
		case frame := <-conn.Outbound():
			h.setWriteDeadline(ws)
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug().Err(err).Str("conn_id", conn.ID()).Msg("write")
				conn.Close()
				return
			}
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout())); err != nil {
				conn.Close()
				return
			}
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.writeTimeout()))
			return
		}
	}
}

func (h *Handler) setWriteDeadline(ws *websocket.Conn) {
	if h.cfg.WriteTimeout > 0 {
		_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	}
}

func (h *Handler) writeTimeout() time.Duration {
	if h.cfg.WriteTimeout > 0 {
		return h.cfg.WriteTimeout
	}
	return 5 * time.Second
}

func (h *Handler) pongWait() time.Duration {
	if h.cfg.PingInterval <= 0 {
		return 0
	}
	return h.cfg.PingInterval*2 + h.writeTimeout()
}
