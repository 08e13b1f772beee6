package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/shared/id"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// conn is one stream connection. Frames are queued without a bound and
// written by a single writer goroutine, so session output goroutines never
// block on a slow client.
type conn struct {
	id     id.ConnectionID
	ws     *websocket.Conn
	h      *Handler
	logger *zap.Logger

	mu     sync.Mutex
	queue  []Frame
	closed bool
	wake   chan struct{}
	done   chan struct{}

	ownedMu sync.Mutex
	owned   map[terminal.ID]*terminal.Subscription
}

func newConn(h *Handler, ws *websocket.Conn) *conn {
	cid := id.NewConnectionID()
	return &conn{
		id:     cid,
		ws:     ws,
		h:      h,
		logger: h.logger.With(zap.String("conn_id", cid.String())),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		owned:  make(map[terminal.ID]*terminal.Subscription),
	}
}

// send queues a frame. Frames sent after close are discarded.
func (c *conn) send(f Frame) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// sendError queues a protocol error. Protocol errors carry session id 0 so
// they are never mistaken for a session's terminal error event.
func (c *conn) sendError(requestID string, msg string) {
	f, err := NewFrame(terminal.KindError, 0, requestID, ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	c.send(f)
}

// sendEvent queues a session event. A terminal event ends ownership.
func (c *conn) sendEvent(env terminal.Envelope) {
	f, err := EventFrame(env)
	if err != nil {
		c.logger.Warn("Dropping unencodable event", zap.Error(err))
		return
	}
	c.send(f)

	if env.Kind == terminal.KindExit || env.Kind == terminal.KindError {
		c.disown(env.SessionID)
	}
}

func (c *conn) take() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.queue
	c.queue = nil
	return frames
}

func (c *conn) writeLoop() {
	ticker := time.NewTicker(c.h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.wake:
			for _, f := range c.take() {
				if err := c.write(f); err != nil {
					c.logger.Debug("Stream write failed", zap.Error(err))
					c.ws.Close()
					return
				}
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.h.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.ws.Close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(c.h.cfg.WriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

func (c *conn) write(f Frame) error {
	data, err := Encode(f)
	if err != nil {
		c.logger.Warn("Dropping unencodable frame", zap.String("kind", string(f.Kind)), zap.Error(err))
		return nil
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.h.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.h.metrics.RecordStreamMessage("out", string(f.Kind))
	return nil
}

// own records a session spawned on this connection. It reports false once
// the connection has closed; the caller must then kill the session itself.
func (c *conn) own(sid terminal.ID, sub *terminal.Subscription) bool {
	c.ownedMu.Lock()
	defer c.ownedMu.Unlock()
	if c.owned == nil {
		return false
	}
	c.owned[sid] = sub
	return true
}

func (c *conn) disown(sid terminal.ID) {
	c.ownedMu.Lock()
	if c.owned != nil {
		delete(c.owned, sid)
	}
	c.ownedMu.Unlock()
}

// close stops the writer and kills every session this connection spawned
// that is still running. Safe to call more than once.
func (c *conn) close() int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.closed = true
	c.queue = nil
	close(c.done)
	c.mu.Unlock()

	c.ownedMu.Lock()
	owned := c.owned
	c.owned = nil
	c.ownedMu.Unlock()

	for sid, sub := range owned {
		sub.Close()
		c.h.broker.Kill(sid)
	}
	return len(owned)
}

// spawnGate holds a session's events until its spawn response is queued.
type spawnGate struct {
	c    *conn
	mu   sync.Mutex
	open bool
	held []terminal.Envelope
}

func (g *spawnGate) handle(env terminal.Envelope) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.held = append(g.held, env)
		return
	}
	g.c.sendEvent(env)
}

// release queues the spawn response followed by any held events.
func (g *spawnGate) release(response Frame) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.c.send(response)
	for _, env := range g.held {
		g.c.sendEvent(env)
	}
	g.held = nil
	g.open = true
}
