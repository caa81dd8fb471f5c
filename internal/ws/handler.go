package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/scriptflow/internal/domain/message"
	"github.com/GriffinCanCode/scriptflow/internal/domain/session"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
)

// Config tunes the WebSocket endpoint
type Config struct {
	AllowedOrigins []string // Empty allows every origin
	WriteTimeout   time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	CommandRate    float64 // Commands per second per connection
	CommandBurst   int
}

// DefaultConfig returns the endpoint defaults
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 1 << 20,
		CommandRate:    50,
		CommandBurst:   100,
	}
}

// Handler manages WebSocket connections
type Handler struct {
	manager  *session.Manager
	config   Config
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu     sync.Mutex
	conns  map[*transport]struct{}
	closed bool
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *session.Manager, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaults.PongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.CommandRate <= 0 {
		cfg.CommandRate = defaults.CommandRate
	}
	if cfg.CommandBurst <= 0 {
		cfg.CommandBurst = defaults.CommandBurst
	}

	h := &Handler{
		manager: manager,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		conns:   make(map[*transport]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleConnection upgrades the request, attaches the connection to a
// session and pumps client commands into it until the connection drops.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	t := newTransport(conn, h.config.WriteTimeout, h.metrics)
	if !h.track(t) {
		t.close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.untrack(t)

	sess, resumed, err := h.manager.Connect(c.Query("session"), t)
	if err != nil {
		h.logger.Warn("session connect rejected", zap.Error(err))
		t.close(closeCode(err), err.Error())
		return
	}
	defer h.manager.Disconnect(sess.ID(), t)

	logger := h.logger.With(zap.String("session_id", sess.ID().String()))
	logger.Info("WebSocket connected", zap.Bool("resumed", resumed))

	conn.SetReadLimit(h.config.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(t, done, logger)

	ctx := c.Request.Context()
	limiter := rate.NewLimiter(rate.Limit(h.config.CommandRate), h.config.CommandBurst)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}
		if kind != websocket.TextMessage {
			continue
		}

		cmd, err := message.DecodeBackMsg(data)
		if err != nil {
			h.record("invalid")
			_ = t.sendError(err.Error())
			continue
		}
		h.record(string(cmd.Type))

		if !limiter.Allow() {
			logger.Warn("command rate limit exceeded", zap.String("command", string(cmd.Type)))
			_ = t.sendError("rate limit exceeded")
			continue
		}

		if err := sess.HandleBackMsg(ctx, cmd); err != nil {
			logger.Warn("command failed", zap.String("command", string(cmd.Type)), zap.Error(err))
			_ = t.sendError(err.Error())
		}
	}

	logger.Info("WebSocket disconnected")
}

func (h *Handler) track(t *transport) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[t] = struct{}{}
	return true
}

func (h *Handler) untrack(t *transport) {
	h.mu.Lock()
	delete(h.conns, t)
	h.mu.Unlock()
}

// Shutdown sends a going-away close frame to every open connection and
// refuses new ones. Read loops then exit and detach their sessions.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*transport, 0, len(h.conns))
	for t := range h.conns {
		conns = append(conns, t)
	}
	h.mu.Unlock()

	for _, t := range conns {
		t.close(websocket.CloseGoingAway, "server shutting down")
		t.conn.Close()
	}
}

// keepAlive pings the client so dead connections hit the read deadline
func (h *Handler) keepAlive(t *transport, done <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(h.config.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := t.ping(); err != nil {
				logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) record(msgType string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage("in", msgType)
	}
}

func closeCode(err error) int {
	switch {
	case errors.Is(err, session.ErrTooManySessions):
		return websocket.CloseTryAgainLater
	case errors.Is(err, session.ErrManagerClosed):
		return websocket.CloseGoingAway
	default:
		return websocket.ClosePolicyViolation
	}
}
