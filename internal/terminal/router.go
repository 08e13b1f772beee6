package terminal

import (
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
)

// Kind names a message in either direction.
type Kind string

const (
	// Inbound control
	KindSpawn  Kind = "spawn"
	KindWrite  Kind = "write"
	KindResize Kind = "resize"
	KindKill   Kind = "kill"

	// Outbound events
	KindData  Kind = "data"
	KindExit  Kind = "exit"
	KindError Kind = "error"
)

// Envelope is the single message shape routed between clients and sessions.
type Envelope struct {
	Kind      Kind
	SessionID ID
	Payload   any
}

type (
	WritePayload  struct{ Data []byte }
	ResizePayload struct{ Cols, Rows int }
	DataPayload   struct{ Data []byte }
	ErrorPayload  struct{ Message string }
)

// Handler receives events for one session. Handlers run on the session's
// output goroutine and must not block.
type Handler func(Envelope)

// Subscription is a disposable handle on an event handler.
type Subscription struct {
	id      ID
	once    sync.Once
	release func()
}

// NewSubscription wraps a release function. Close calls it at most once.
func NewSubscription(id ID, release func()) *Subscription {
	return &Subscription{id: id, release: release}
}

// SessionID is the session the subscription is scoped to.
func (s *Subscription) SessionID() ID { return s.id }

// Close stops delivery. It is idempotent and may be called from a handler.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

type subscriber struct {
	seq     uint64
	handler Handler
}

// Router dispatches inbound control to sessions and fans outbound events
// out to the subscriptions of each session.
type Router struct {
	registry *Registry
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu   sync.RWMutex
	seq  uint64
	subs map[ID][]subscriber
}

// NewRouter creates a router over registry.
func NewRouter(registry *Registry, logger *zap.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger,
		subs:     make(map[ID][]subscriber),
	}
}

// Dispatch applies a control envelope. It returns the target session, or
// false when the message was dropped: unknown session, unknown kind or a
// payload of the wrong type. Drops are logged, never returned as errors.
func (r *Router) Dispatch(env Envelope) (*Session, bool) {
	s, ok := r.registry.Get(env.SessionID)
	if !ok {
		r.logger.Warn("Dropping control message for unknown session",
			zap.String("kind", string(env.Kind)),
			zap.Uint64("session_id", uint64(env.SessionID)),
		)
		r.metrics.RecordDroppedControl(string(env.Kind))
		return nil, false
	}

	var err error
	switch p := env.Payload.(type) {
	case WritePayload:
		if env.Kind != KindWrite {
			return r.malformed(env)
		}
		err = s.write(p.Data)
		if err == nil {
			r.metrics.AddBytes("in", len(p.Data))
		}
	case ResizePayload:
		if env.Kind != KindResize {
			return r.malformed(env)
		}
		err = s.resize(clampSize(p.Cols, p.Rows))
	case nil:
		if env.Kind != KindKill {
			return r.malformed(env)
		}
		err = s.kill()
	default:
		return r.malformed(env)
	}

	if err != nil {
		r.logger.Debug("Control message failed",
			zap.String("kind", string(env.Kind)),
			zap.Uint64("session_id", uint64(env.SessionID)),
			zap.Error(err),
		)
		return s, false
	}
	return s, true
}

func (r *Router) malformed(env Envelope) (*Session, bool) {
	r.logger.Warn("Dropping malformed control message",
		zap.String("kind", string(env.Kind)),
		zap.Uint64("session_id", uint64(env.SessionID)),
	)
	return nil, false
}

// Subscribe registers h for events of session id.
func (r *Router) Subscribe(id ID, h Handler) *Subscription {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.subs[id] = append(r.subs[id], subscriber{seq: seq, handler: h})
	r.mu.Unlock()

	return NewSubscription(id, func() { r.unsubscribe(id, seq) })
}

func (r *Router) unsubscribe(id ID, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[id]
	for i, sub := range subs {
		if sub.seq == seq {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.subs, id)
	} else {
		r.subs[id] = subs
	}
}

// Publish delivers env to every subscription of its session. Handlers are
// called outside the router lock.
func (r *Router) Publish(env Envelope) {
	r.mu.RLock()
	subs := r.subs[env.SessionID]
	r.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(env)
	}
}

// release drops every subscription of a finished session.
func (r *Router) release(id ID) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// Subscribers reports how many handlers are registered for id.
func (r *Router) Subscribers(id ID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[id])
}
