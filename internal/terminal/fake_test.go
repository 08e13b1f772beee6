package terminal

import (
	"bytes"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const eventTimeout = 2 * time.Second

// fakeProcess is a scripted Process.
type fakeProcess struct {
	pid int

	out     chan []byte
	readErr chan error
	eof     chan struct{}
	eofOnce sync.Once
	exitCh  chan ExitInfo
	waitErr error
	closed  chan struct{}
	closeMu sync.Once

	mu      sync.Mutex
	written bytes.Buffer
	size    Size

	kills atomic.Int32
}

var nextFakePid atomic.Int32

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		pid:     int(1000 + nextFakePid.Add(1)),
		out:     make(chan []byte, 64),
		readErr: make(chan error, 1),
		eof:     make(chan struct{}),
		exitCh:  make(chan ExitInfo, 1),
		closed:  make(chan struct{}),
	}
}

func (p *fakeProcess) emit(s string) { p.out <- []byte(s) }

// exit ends output and lets Wait return info. Later calls are ignored.
func (p *fakeProcess) exit(info ExitInfo) {
	p.eofOnce.Do(func() {
		close(p.eof)
		p.exitCh <- info
	})
}

func (p *fakeProcess) Read(b []byte) (int, error) {
	select {
	case chunk := <-p.out:
		return copy(b, chunk), nil
	case err := <-p.readErr:
		return 0, err
	case <-p.eof:
		select {
		case chunk := <-p.out:
			return copy(b, chunk), nil
		default:
			return 0, io.EOF
		}
	case <-p.closed:
		return 0, os.ErrClosed
	}
}

func (p *fakeProcess) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, os.ErrClosed
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakeProcess) Resize(size Size) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = size
	return nil
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	sig := 9
	p.exit(ExitInfo{ExitCode: 137, Signal: &sig})
	return nil
}

func (p *fakeProcess) Wait() (ExitInfo, error) {
	info := <-p.exitCh
	return info, p.waitErr
}

func (p *fakeProcess) Close() error {
	p.closeMu.Do(func() { close(p.closed) })
	return nil
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// fakeSpawner hands out fakeProcesses, or fails while err is set.
type fakeSpawner struct {
	mu    sync.Mutex
	err   error
	procs []*fakeProcess
	opts  []SpawnOptions
}

func (s *fakeSpawner) Spawn(opts SpawnOptions) (*Launch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opts = append(s.opts, opts)
	if s.err != nil {
		return nil, &SpawnError{Shell: "bash", Cwd: opts.Cwd, Err: s.err}
	}
	p := newFakeProcess()
	s.procs = append(s.procs, p)
	return &Launch{
		Process: p,
		Shell:   "bash",
		Cwd:     opts.Cwd,
		Size:    NormalizeSize(opts.Cols, opts.Rows),
	}, nil
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func (s *fakeSpawner) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

var errNoFork = errors.New("resource temporarily unavailable")

// recorder collects events delivered to a handler.
type recorder struct {
	mu     sync.Mutex
	events []Envelope
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 256)}
}

func (r *recorder) handle(env Envelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) snapshot() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

func (r *recorder) output() string {
	var buf bytes.Buffer
	for _, ev := range r.snapshot() {
		if p, ok := ev.Payload.(DataPayload); ok {
			buf.Write(p.Data)
		}
	}
	return buf.String()
}

func (r *recorder) terminal() []Envelope {
	var out []Envelope
	for _, ev := range r.snapshot() {
		if ev.Kind == KindExit || ev.Kind == KindError {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) waitTerminal(t *testing.T) Envelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.terminal()) > 0 }, eventTimeout, 5*time.Millisecond)
	return r.terminal()[0]
}

func newTestBroker(t *testing.T) (*Broker, *fakeSpawner, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	spawner := &fakeSpawner{}
	b := NewBroker(spawner, zap.New(core), Options{DrainTimeout: 50 * time.Millisecond})
	t.Cleanup(b.Close)
	return b, spawner, logs
}
