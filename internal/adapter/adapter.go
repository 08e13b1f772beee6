package adapter

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// ErrDisposed is returned by Activate after Deactivate.
var ErrDisposed = errors.New("adapter disposed")

// Broker is the part of the session broker an adapter needs. Both the
// in-process broker and the stream client satisfy it.
type Broker interface {
	Spawn(opts terminal.SpawnOptions) (*terminal.SpawnResult, error)
	Write(id terminal.ID, data []byte) bool
	Resize(id terminal.ID, cols, rows int) bool
	Kill(id terminal.ID) *terminal.Termination
}

// Widget is a terminal emulator surface.
type Widget interface {
	// Size is the current grid size after fitting to the viewport.
	Size() (cols, rows int)
	Render(p []byte)
	Dispose()
}

// Options configures an adapter.
type Options struct {
	Cwd string
	// InitialCommand is typed into the first session once.
	InitialCommand string
	// Platform selects the line terminator for InitialCommand.
	// Defaults to the local platform.
	Platform string
	// OnEnd is called when the bound session exits or fails.
	OnEnd func(info terminal.ExitInfo, err error)
}

// Adapter binds one widget to at most one session at a time.
type Adapter struct {
	broker Broker
	widget Widget
	opts   Options
	logger *zap.Logger

	mu                 sync.Mutex
	bound              bool
	sessionID          terminal.ID
	sub                *terminal.Subscription
	initialCommandSent bool
	disposed           bool
}

// New creates an inactive adapter.
func New(broker Broker, widget Widget, opts Options, logger *zap.Logger) *Adapter {
	if opts.Platform == "" {
		opts.Platform = terminal.Platform()
	}
	return &Adapter{
		broker: broker,
		widget: widget,
		opts:   opts,
		logger: logger,
	}
}

// Activate spawns a session sized to the widget and binds to it. Calling
// it while bound is a no-op.
func (a *Adapter) Activate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.disposed {
		return ErrDisposed
	}
	if a.bound {
		return nil
	}

	cols, rows := a.widget.Size()
	res, err := a.broker.Spawn(terminal.SpawnOptions{
		Cols:    cols,
		Rows:    rows,
		Cwd:     a.opts.Cwd,
		OnEvent: a.handle,
	})
	if err != nil {
		a.widget.Render([]byte(fmt.Sprintf("\r\nError initializing terminal: %v\r\n", err)))
		return err
	}

	a.bound = true
	a.sessionID = res.ID
	a.sub = res.Subscription
	if res.CwdFallback {
		a.logger.Warn("Terminal started outside the requested directory",
			zap.String("requested", a.opts.Cwd),
			zap.String("cwd", res.Cwd),
		)
	}

	if a.opts.InitialCommand != "" && !a.initialCommandSent {
		a.initialCommandSent = true
		line := a.opts.InitialCommand + terminal.LineTerminator(a.opts.Platform)
		a.broker.Write(res.ID, []byte(line))
	}
	return nil
}

// Input forwards keystrokes. It reports false when no session is bound.
func (a *Adapter) Input(p []byte) bool {
	id, ok := a.BoundSession()
	if !ok {
		return false
	}
	return a.broker.Write(id, p)
}

// Resized propagates the widget's current size to the session.
func (a *Adapter) Resized() {
	id, ok := a.BoundSession()
	if !ok {
		return
	}
	cols, rows := a.widget.Size()
	a.broker.Resize(id, cols, rows)
}

// BoundSession returns the session currently bound, if any.
func (a *Adapter) BoundSession() (terminal.ID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID, a.bound
}

// Deactivate releases the subscription, kills a still-running session
// without waiting for it, and disposes the widget. It is idempotent.
func (a *Adapter) Deactivate() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	sub, id, bound := a.sub, a.sessionID, a.bound
	a.unbind()
	a.mu.Unlock()

	sub.Close()
	if bound {
		a.broker.Kill(id)
	}
	a.widget.Dispose()
}

func (a *Adapter) handle(ev terminal.Envelope) {
	a.mu.Lock()
	if a.disposed || !a.bound || ev.SessionID != a.sessionID {
		a.mu.Unlock()
		return
	}

	var (
		end     bool
		exit    terminal.ExitInfo
		failure error
	)
	switch p := ev.Payload.(type) {
	case terminal.DataPayload:
		a.widget.Render(p.Data)
	case terminal.ExitInfo:
		a.widget.Render([]byte(fmt.Sprintf("\r\n\r\n[Process exited with code %d]\r\n", p.ExitCode)))
		end, exit = true, p
	case terminal.ErrorPayload:
		a.widget.Render([]byte(fmt.Sprintf("\r\n[Terminal error: %s]\r\n", p.Message)))
		end, failure = true, errors.New(p.Message)
	}

	var sub *terminal.Subscription
	if end {
		sub = a.sub
		a.unbind()
	}
	a.mu.Unlock()

	if end {
		sub.Close()
		if a.opts.OnEnd != nil {
			a.opts.OnEnd(exit, failure)
		}
	}
}

func (a *Adapter) unbind() {
	a.bound = false
	a.sessionID = 0
	a.sub = nil
}
