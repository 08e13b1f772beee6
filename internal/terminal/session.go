package terminal

import (
	"context"
	"sync"
	"time"
)

// Session is one running shell.
type Session struct {
	id        ID
	shell     string
	cwd       string
	proc      Process
	startedAt time.Time

	mu     sync.Mutex
	size   Size
	status Status

	// emitMu orders data before the terminal event; ended is set once
	// the terminal event has been claimed.
	emitMu sync.Mutex
	ended  bool

	readerDone chan struct{}
	term       *Termination
}

func newSession(id ID, l *Launch) *Session {
	return &Session{
		id:         id,
		shell:      l.Shell,
		cwd:        l.Cwd,
		proc:       l.Process,
		startedAt:  time.Now(),
		size:       l.Size,
		status:     StatusSpawning,
		readerDone: make(chan struct{}),
		term:       NewTermination(),
	}
}

func (s *Session) ID() ID { return s.id }

// Cwd is the working directory the shell was actually started in.
func (s *Session) Cwd() string { return s.cwd }

func (s *Session) Size() Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Termination resolves when the session's exit or error event is emitted.
func (s *Session) Termination() *Termination { return s.term }

// Info returns a snapshot.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:        s.id,
		Shell:     s.shell,
		Cwd:       s.cwd,
		Cols:      s.size.Cols,
		Rows:      s.size.Rows,
		Pid:       s.proc.Pid(),
		Status:    s.status.String(),
		StartedAt: s.startedAt,
	}
}

// advance moves the status forward; terminal states are final.
func (s *Session) advance(to Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.Terminal() || to <= s.status {
		return false
	}
	s.status = to
	return true
}

func (s *Session) write(data []byte) error {
	_, err := s.proc.Write(data)
	return err
}

func (s *Session) resize(size Size) error {
	if err := s.proc.Resize(size); err != nil {
		return err
	}
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
	return nil
}

func (s *Session) kill() error {
	if s.Status().Terminal() {
		return nil
	}
	return s.proc.Kill()
}

// Termination is a one-shot future for the end of a session.
type Termination struct {
	done chan struct{}
	once sync.Once
	info ExitInfo
	err  error
}

// NewTermination returns an unresolved Termination.
func NewTermination() *Termination {
	return &Termination{done: make(chan struct{})}
}

// Resolve records the outcome. Only the first call has an effect.
func (t *Termination) Resolve(info ExitInfo, err error) {
	t.once.Do(func() {
		t.info = info
		t.err = err
		close(t.done)
	})
}

// Done is closed once the outcome is known.
func (t *Termination) Done() <-chan struct{} { return t.done }

// Wait blocks for the outcome or until ctx is done.
func (t *Termination) Wait(ctx context.Context) (ExitInfo, error) {
	select {
	case <-t.done:
		return t.info, t.err
	case <-ctx.Done():
		return ExitInfo{}, ctx.Err()
	}
}

func resolvedTermination(err error) *Termination {
	t := NewTermination()
	t.Resolve(ExitInfo{}, err)
	return t
}
