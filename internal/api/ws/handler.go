package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/api/middleware"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termbroker/internal/shared/id"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// Broker is the part of the session broker the stream needs.
type Broker interface {
	Spawn(opts terminal.SpawnOptions) (*terminal.SpawnResult, error)
	Dispatch(env terminal.Envelope) bool
	Kill(id terminal.ID) *terminal.Termination
}

// Config configures stream connections.
type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
}

// DefaultConfig returns the stream defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// Handler manages WebSocket stream connections.
type Handler struct {
	broker   Broker
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[id.ConnectionID]*conn
	closed bool
}

// NewHandler creates a stream handler over broker.
func NewHandler(broker Broker, logger *zap.Logger, metrics *monitoring.Metrics, cfg Config) *Handler {
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	h := &Handler{
		broker:  broker,
		logger:  logger,
		metrics: metrics,
		cfg:     cfg,
		conns:   make(map[id.ConnectionID]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 32 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return h
}

// HandleConnection upgrades the request and serves the stream until the
// client disconnects or the handler is closed.
func (h *Handler) HandleConnection(c *gin.Context) {
	if h.isClosed() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Stream upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(h, ws)
	if !h.track(conn) {
		ws.Close()
		return
	}
	h.metrics.IncStreamConnections()
	conn.logger.Info("Stream connected", zap.String("remote_addr", c.ClientIP()))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writeLoop()
	}()

	h.readLoop(conn)

	killed := conn.close()
	<-writerDone
	ws.Close()

	h.untrack(conn)
	h.metrics.DecStreamConnections()
	conn.logger.Info("Stream disconnected", zap.Int("sessions_killed", killed))
}

func (h *Handler) readLoop(c *conn) {
	readTimeout := 3 * h.cfg.PingInterval
	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Stream read failed", zap.Error(err))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType != websocket.TextMessage {
			c.sendError("", "binary frames are not supported")
			continue
		}

		f, err := Decode(data)
		if err != nil {
			c.sendError("", err.Error())
			continue
		}
		h.metrics.RecordStreamMessage("in", string(f.Kind))
		h.handleFrame(c, f)
	}
}

func (h *Handler) handleFrame(c *conn, f Frame) {
	switch f.Kind {
	case terminal.KindSpawn:
		h.spawn(c, f)
	case terminal.KindWrite, terminal.KindResize, terminal.KindKill:
		env, err := f.Envelope()
		if err != nil {
			c.sendError(f.RequestID, err.Error())
			return
		}
		h.broker.Dispatch(env)
	case KindPing:
		c.send(Frame{Kind: KindPong, RequestID: f.RequestID})
	case KindPong:
	default:
		c.sendError(f.RequestID, fmt.Sprintf("unknown message kind %q", f.Kind))
	}
}

func (h *Handler) spawn(c *conn, f Frame) {
	var req SpawnRequest
	if err := f.DecodePayload(&req); err != nil {
		h.respond(c, f.RequestID, SpawnResponse{Error: err.Error()})
		return
	}

	gate := &spawnGate{c: c}
	res, err := h.broker.Spawn(terminal.SpawnOptions{
		Cols:    req.Cols,
		Rows:    req.Rows,
		Cwd:     req.Cwd,
		OnEvent: gate.handle,
	})
	if err != nil {
		c.logger.Warn("Stream spawn failed", zap.Error(err))
		h.respond(c, f.RequestID, SpawnResponse{Error: err.Error()})
		return
	}

	if !c.own(res.ID, res.Subscription) {
		res.Subscription.Close()
		h.broker.Kill(res.ID)
		return
	}
	response, err := NewFrame(terminal.KindSpawn, res.ID, f.RequestID, SpawnResponse{
		ID:          res.ID,
		Cwd:         res.Cwd,
		CwdFallback: res.CwdFallback,
		Cols:        res.Size.Cols,
		Rows:        res.Size.Rows,
		Pid:         res.Pid,
	})
	if err != nil {
		res.Subscription.Close()
		c.disown(res.ID)
		h.broker.Kill(res.ID)
		return
	}
	gate.release(response)
}

func (h *Handler) respond(c *conn, requestID string, resp SpawnResponse) {
	f, err := NewFrame(terminal.KindSpawn, 0, requestID, resp)
	if err != nil {
		return
	}
	c.send(f)
}

func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	return true
}

func (h *Handler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// Connections reports the number of open stream connections.
func (h *Handler) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every connection and rejects new ones. Sessions owned
// by those connections are killed.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
		c.ws.Close()
	}
}
