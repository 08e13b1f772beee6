// Package testutil provides mocks and fakes shared by package tests.
package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// MockBroker is a mock session broker satisfying adapter.Broker and
// ws.Broker.
type MockBroker struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[terminal.ID]terminal.Handler
}

// Spawn mocks the Spawn method and remembers the event handler of each
// successful spawn so tests can push events with Emit.
func (m *MockBroker) Spawn(opts terminal.SpawnOptions) (*terminal.SpawnResult, error) {
	args := m.Called(opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	res := args.Get(0).(*terminal.SpawnResult)

	if opts.OnEvent != nil {
		m.mu.Lock()
		if m.handlers == nil {
			m.handlers = make(map[terminal.ID]terminal.Handler)
		}
		m.handlers[res.ID] = opts.OnEvent
		m.mu.Unlock()

		id := res.ID
		res = &terminal.SpawnResult{
			ID:          res.ID,
			Cwd:         res.Cwd,
			CwdFallback: res.CwdFallback,
			Size:        res.Size,
			Pid:         res.Pid,
			Subscription: terminal.NewSubscription(id, func() {
				m.mu.Lock()
				delete(m.handlers, id)
				m.mu.Unlock()
			}),
		}
	}
	return res, args.Error(1)
}

// Write mocks the Write method.
func (m *MockBroker) Write(id terminal.ID, data []byte) bool {
	args := m.Called(id, data)
	return args.Bool(0)
}

// Resize mocks the Resize method.
func (m *MockBroker) Resize(id terminal.ID, cols, rows int) bool {
	args := m.Called(id, cols, rows)
	return args.Bool(0)
}

// Kill mocks the Kill method.
func (m *MockBroker) Kill(id terminal.ID) *terminal.Termination {
	args := m.Called(id)
	if t, ok := args.Get(0).(*terminal.Termination); ok {
		return t
	}
	return terminal.NewTermination()
}

// Dispatch mocks the Dispatch method.
func (m *MockBroker) Dispatch(env terminal.Envelope) bool {
	args := m.Called(env)
	return args.Bool(0)
}

// Emit delivers an event to the handler registered for its session. It
// reports false if the subscription is gone.
func (m *MockBroker) Emit(env terminal.Envelope) bool {
	m.mu.Lock()
	h, ok := m.handlers[env.SessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(env)
	return true
}

// Subscribed reports whether a handler is registered for id.
func (m *MockBroker) Subscribed(id terminal.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[id]
	return ok
}

// NewMockBroker creates a mock broker with permissive defaults for the
// control methods.
func NewMockBroker(t *testing.T) *MockBroker {
	t.Helper()
	m := new(MockBroker)

	m.On("Write", mock.Anything, mock.Anything).Return(true).Maybe()
	m.On("Resize", mock.Anything, mock.Anything, mock.Anything).Return(true).Maybe()
	m.On("Kill", mock.Anything).Return(terminal.NewTermination()).Maybe()
	m.On("Dispatch", mock.Anything).Return(true).Maybe()

	return m
}

// Widget is a recording terminal widget.
type Widget struct {
	mu       sync.Mutex
	cols     int
	rows     int
	out      bytes.Buffer
	disposed int
}

// NewWidget creates a widget of the given size.
func NewWidget(cols, rows int) *Widget {
	return &Widget{cols: cols, rows: rows}
}

func (w *Widget) Size() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cols, w.rows
}

// SetSize simulates a layout change.
func (w *Widget) SetSize(cols, rows int) {
	w.mu.Lock()
	w.cols, w.rows = cols, rows
	w.mu.Unlock()
}

func (w *Widget) Render(p []byte) {
	w.mu.Lock()
	w.out.Write(p)
	w.mu.Unlock()
}

func (w *Widget) Dispose() {
	w.mu.Lock()
	w.disposed++
	w.mu.Unlock()
}

// Output returns everything rendered so far.
func (w *Widget) Output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.String()
}

// Disposed returns how many times Dispose was called.
func (w *Widget) Disposed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disposed
}
