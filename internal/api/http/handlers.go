package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// Version is reported by the root endpoint.
const Version = "0.1.0"

// maxWait bounds the ?wait parameter of DELETE /sessions/:id.
const maxWait = time.Minute

// Sessions is the broker surface exposed over REST.
type Sessions interface {
	Write(id terminal.ID, data []byte) bool
	Resize(id terminal.ID, cols, rows int) bool
	Kill(id terminal.ID) *terminal.Termination
	TeardownAll() int
	Session(id terminal.ID) (terminal.Info, bool)
	Sessions() []terminal.Info
}

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions Sessions
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(sessions Sessions, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		metrics:  metrics,
		logger:   logger,
	}
}

// InputRequest is the body of POST /sessions/:id/input.
type InputRequest struct {
	Data string `json:"data"`
}

// ResizeRequest is the body of POST /sessions/:id/resize. Both fields must
// be present; out-of-range values, zero included, are clamped by the broker.
type ResizeRequest struct {
	Cols *int `json:"cols" binding:"required"`
	Rows *int `json:"rows" binding:"required"`
}

// ControlResponse answers control endpoints. Delivered is false when the
// session did not exist or the message could not be applied.
type ControlResponse struct {
	Delivered bool `json:"delivered"`
}

// KillResponse answers DELETE /sessions/:id. Terminated is only set when
// the caller asked to wait and the session ended within the wait.
type KillResponse struct {
	Delivered  bool               `json:"delivered"`
	Terminated bool               `json:"terminated"`
	Exit       *terminal.ExitInfo `json:"exit,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// PlatformResponse tells remote adapters how to terminate injected lines.
type PlatformResponse struct {
	Platform       string `json:"platform"`
	LineTerminator string `json:"lineTerminator"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "termbroker",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": len(h.sessions.Sessions()),
		"metrics":  h.metrics.Snapshot(),
	})
}

// Platform reports the host platform
func (h *Handlers) Platform(c *gin.Context) {
	platform := terminal.Platform()
	c.JSON(http.StatusOK, PlatformResponse{
		Platform:       platform,
		LineTerminator: terminal.LineTerminator(platform),
	})
}

// ListSessions lists live sessions in id order
func (h *Handlers) ListSessions(c *gin.Context) {
	sessions := h.sessions.Sessions()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetSession returns one session
func (h *Handlers) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	info, found := h.sessions.Session(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": terminal.ErrUnknownSession.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// SendInput writes bytes to a session
func (h *Handlers) SendInput(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, ControlResponse{
		Delivered: h.sessions.Write(id, []byte(req.Data)),
	})
}

// ResizeSession changes a session's grid size
func (h *Handlers) ResizeSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, ControlResponse{
		Delivered: h.sessions.Resize(id, *req.Cols, *req.Rows),
	})
}

// KillSession signals a session to end, optionally waiting for it
func (h *Handlers) KillSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var wait time.Duration
	if raw := c.Query("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wait must be a non-negative duration"})
			return
		}
		wait = min(d, maxWait)
	}

	term := h.sessions.Kill(id)
	resp := KillResponse{Delivered: true}

	select {
	case <-term.Done():
		// resolved already: unknown id or a session that had ended
		if _, err := term.Wait(context.Background()); errors.Is(err, terminal.ErrUnknownSession) {
			c.JSON(http.StatusAccepted, KillResponse{})
			return
		}
	default:
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()

		info, err := term.Wait(ctx)
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		case err != nil:
			resp.Terminated = true
			resp.Error = err.Error()
		default:
			resp.Terminated = true
			resp.Exit = &info
		}
	}

	c.JSON(http.StatusAccepted, resp)
}

// Teardown kills every session, as when the host window closes
func (h *Handlers) Teardown(c *gin.Context) {
	killed := h.sessions.TeardownAll()
	h.logger.Info("Teardown requested", zap.Int("killed", killed))
	c.JSON(http.StatusAccepted, gin.H{"killed": killed})
}

func sessionID(c *gin.Context) (terminal.ID, bool) {
	id, err := terminal.ParseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return 0, false
	}
	return id, true
}
