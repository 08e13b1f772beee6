package terminal

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/resilience"
)

// Options configures a Broker.
type Options struct {
	// DrainTimeout bounds the wait for trailing output after exit.
	DrainTimeout time.Duration
	// ReadBufferSize is the size of each session's read buffer.
	ReadBufferSize int
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{
		DrainTimeout:   250 * time.Millisecond,
		ReadBufferSize: 32 * 1024,
	}
}

// SpawnResult describes a newly registered session.
type SpawnResult struct {
	ID          ID
	Cwd         string
	CwdFallback bool
	Size        Size
	Pid         int
	// Subscription is the handle for SpawnOptions.OnEvent, nil without one.
	Subscription *Subscription
}

// Broker owns every session it spawns and is the only entry point for
// controlling them.
type Broker struct {
	spawner  Spawner
	registry *Registry
	router   *Router
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	drainTimeout   time.Duration
	readBufferSize int

	mu     sync.RWMutex
	closed bool
}

// NewBroker creates a broker that starts processes with spawner.
func NewBroker(spawner Spawner, logger *zap.Logger, opts Options) *Broker {
	defaults := DefaultOptions()
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaults.DrainTimeout
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaults.ReadBufferSize
	}

	registry := NewRegistry()
	return &Broker{
		spawner:        spawner,
		registry:       registry,
		router:         NewRouter(registry, logger),
		logger:         logger,
		drainTimeout:   opts.DrainTimeout,
		readBufferSize: opts.ReadBufferSize,
	}
}

// WithMetrics adds metrics tracking to the broker.
func (b *Broker) WithMetrics(m *monitoring.Metrics) *Broker {
	b.metrics = m
	b.router.metrics = m
	return b
}

// Spawn starts a shell and registers it. The id is allocated only after
// the process started, so a failed spawn consumes nothing.
func (b *Broker) Spawn(opts SpawnOptions) (*SpawnResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}

	timer := monitoring.NewTimer(b.metrics)
	launch, err := b.spawner.Spawn(opts)
	if err != nil {
		reason := "os"
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			reason = "circuit_open"
		}
		timer.Stop(reason)
		b.logger.Error("Spawn failed", zap.String("cwd", opts.Cwd), zap.Error(err))
		return nil, err
	}
	timer.Stop("")

	id := b.registry.Allocate()
	s := newSession(id, launch)

	var sub *Subscription
	if opts.OnEvent != nil {
		sub = b.router.Subscribe(id, opts.OnEvent)
	}
	b.registry.Insert(id, s)
	b.metrics.SetSessionsActive(b.registry.Len())

	b.logger.Info("Session spawned",
		zap.Uint64("session_id", uint64(id)),
		zap.String("shell", launch.Shell),
		zap.String("cwd", launch.Cwd),
		zap.Int("cols", launch.Size.Cols),
		zap.Int("rows", launch.Size.Rows),
		zap.Int("pid", launch.Process.Pid()),
	)

	b.start(s)

	return &SpawnResult{
		ID:           id,
		Cwd:          launch.Cwd,
		CwdFallback:  launch.CwdFallback,
		Size:         launch.Size,
		Pid:          launch.Process.Pid(),
		Subscription: sub,
	}, nil
}

// Write sends input bytes to a session. It reports whether they were
// delivered; unknown ids are logged and ignored.
func (b *Broker) Write(id ID, data []byte) bool {
	_, ok := b.router.Dispatch(Envelope{Kind: KindWrite, SessionID: id, Payload: WritePayload{Data: data}})
	return ok
}

// Resize changes a session's grid. Dimensions are clamped to at least 1.
func (b *Broker) Resize(id ID, cols, rows int) bool {
	_, ok := b.router.Dispatch(Envelope{Kind: KindResize, SessionID: id, Payload: ResizePayload{Cols: cols, Rows: rows}})
	return ok
}

// Kill signals the session's process. The session is removed when the
// process actually exits; the returned Termination resolves then. For an
// unknown id it is already resolved with ErrUnknownSession.
func (b *Broker) Kill(id ID) *Termination {
	s, ok := b.router.Dispatch(Envelope{Kind: KindKill, SessionID: id})
	if s == nil {
		return resolvedTermination(ErrUnknownSession)
	}
	if !ok {
		b.logger.Warn("Kill failed", zap.Uint64("session_id", uint64(id)))
	}
	return s.Termination()
}

// Subscribe registers h for events of session id.
func (b *Broker) Subscribe(id ID, h Handler) *Subscription {
	return b.router.Subscribe(id, h)
}

// Dispatch applies a control envelope; see Router.Dispatch.
func (b *Broker) Dispatch(env Envelope) bool {
	_, ok := b.router.Dispatch(env)
	return ok
}

// TeardownAll kills every session and clears the registry at once. Exit
// events still follow as the processes die. It is idempotent and the broker
// stays usable afterwards. It returns the number of sessions killed.
func (b *Broker) TeardownAll() int {
	sessions := b.registry.Drain()
	for _, s := range sessions {
		if err := s.kill(); err != nil {
			b.logger.Warn("Teardown kill failed", zap.Uint64("session_id", uint64(s.id)), zap.Error(err))
		}
	}
	b.metrics.SetSessionsActive(b.registry.Len())

	if len(sessions) > 0 {
		b.logger.Info("Tore down sessions", zap.Int("count", len(sessions)))
	}
	return len(sessions)
}

// Session returns a snapshot of one session.
func (b *Broker) Session(id ID) (Info, bool) {
	s, ok := b.registry.Get(id)
	if !ok {
		return Info{}, false
	}
	return s.Info(), true
}

// Sessions returns snapshots of all sessions in id order.
func (b *Broker) Sessions() []Info {
	ids := b.registry.IDs()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		if s, ok := b.registry.Get(id); ok {
			out = append(out, s.Info())
		}
	}
	return out
}

// Len returns the number of registered sessions.
func (b *Broker) Len() int {
	return b.registry.Len()
}

// Close rejects further spawns and tears everything down. Safe to call
// more than once.
func (b *Broker) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.TeardownAll()
}
