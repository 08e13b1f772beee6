package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/api/ws"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termbroker/internal/shared/id"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

var (
	// ErrStreamClosed is returned once the stream connection is gone.
	ErrStreamClosed = errors.New("stream closed")
	// ErrSpawnFailed wraps a spawn rejected by the server.
	ErrSpawnFailed = errors.New("spawn failed")
)

const (
	streamWriteTimeout = 10 * time.Second
	spawnTimeout       = 30 * time.Second
)

// remoteSession tracks a session spawned on this stream.
type remoteSession struct {
	handler terminal.Handler
	term    *terminal.Termination
}

type pendingSpawn struct {
	handler terminal.Handler
	reply   chan ws.Frame
}

// Stream is a WebSocket connection to the server's session stream. It
// implements the adapter's broker contract, so a terminal adapter can run
// against a remote server exactly as against a local broker.
//
// Events are delivered on the stream's read goroutine; handlers must not
// block.
type Stream struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingSpawn
	sessions map[terminal.ID]*remoteSession
	closed   bool

	done chan struct{}
}

// Dial connects to the stream endpoint of the server at baseURL.
func Dial(ctx context.Context, baseURL string, logger *zap.Logger) (*Stream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := streamURL(baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	tracing.InjectTraceContext(ctx, header)
	if header.Get(tracing.TraceHeader) == "" {
		header.Set(tracing.TraceHeader, id.NewTraceID().String())
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	s := &Stream{
		conn:     conn,
		logger:   logger,
		pending:  make(map[string]*pendingSpawn),
		sessions: make(map[terminal.ID]*remoteSession),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func streamURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server url %q: unsupported scheme", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/stream"
	return u.String(), nil
}

// Spawn asks the server for a new session. opts.OnEvent receives the
// session's events; none are missed.
func (s *Stream) Spawn(opts terminal.SpawnOptions) (*terminal.SpawnResult, error) {
	reqID := uuid.NewString()
	p := &pendingSpawn{handler: opts.OnEvent, reply: make(chan ws.Frame, 1)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrStreamClosed
	}
	s.pending[reqID] = p
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, reqID)
		s.mu.Unlock()
	}()

	f, err := ws.NewFrame(terminal.KindSpawn, 0, reqID, ws.SpawnRequest{Cols: opts.Cols, Rows: opts.Rows, Cwd: opts.Cwd})
	if err != nil {
		return nil, err
	}
	if err := s.send(f); err != nil {
		return nil, err
	}

	timer := time.NewTimer(spawnTimeout)
	defer timer.Stop()

	var reply ws.Frame
	select {
	case reply = <-p.reply:
	case <-s.done:
		return nil, ErrStreamClosed
	case <-timer.C:
		return nil, fmt.Errorf("%w: no response within %s", ErrSpawnFailed, spawnTimeout)
	}

	if reply.Kind == terminal.KindError {
		var ep ws.ErrorPayload
		_ = reply.DecodePayload(&ep)
		return nil, fmt.Errorf("%w: %s", ErrSpawnFailed, ep.Message)
	}
	var resp ws.SpawnResponse
	if err := reply.DecodePayload(&resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrSpawnFailed, resp.Error)
	}

	res := &terminal.SpawnResult{
		ID:          resp.ID,
		Cwd:         resp.Cwd,
		CwdFallback: resp.CwdFallback,
		Size:        terminal.Size{Cols: resp.Cols, Rows: resp.Rows},
		Pid:         resp.Pid,
	}
	if opts.OnEvent != nil {
		sid := resp.ID
		res.Subscription = terminal.NewSubscription(sid, func() { s.unsubscribe(sid) })
	}
	return res, nil
}

// Write sends input. It reports whether the frame was sent.
func (s *Stream) Write(sid terminal.ID, data []byte) bool {
	return s.control(terminal.KindWrite, sid, ws.DataPayload{Data: data})
}

// Resize sends a new size. It reports whether the frame was sent.
func (s *Stream) Resize(sid terminal.ID, cols, rows int) bool {
	return s.control(terminal.KindResize, sid, ws.ResizePayload{Cols: cols, Rows: rows})
}

// Kill sends a kill. The returned Termination resolves when the exit
// arrives; it is only observable for sessions spawned on this stream, and
// resolves with terminal.ErrUnknownSession for any other id.
func (s *Stream) Kill(sid terminal.ID) *terminal.Termination {
	s.mu.Lock()
	rs, ok := s.sessions[sid]
	s.mu.Unlock()

	s.control(terminal.KindKill, sid, nil)

	if !ok {
		term := terminal.NewTermination()
		term.Resolve(terminal.ExitInfo{}, terminal.ErrUnknownSession)
		return term
	}
	return rs.term
}

// Done is closed when the connection ends.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close disconnects. The server kills the sessions spawned on this stream.
func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()

	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Stream) control(kind terminal.Kind, sid terminal.ID, payload any) bool {
	f, err := ws.NewFrame(kind, sid, "", payload)
	if err != nil {
		return false
	}
	if err := s.send(f); err != nil {
		s.logger.Debug("Dropping control message", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	return true
}

func (s *Stream) send(f ws.Frame) error {
	data, err := ws.Encode(f)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) unsubscribe(sid terminal.ID) {
	s.mu.Lock()
	if rs, ok := s.sessions[sid]; ok {
		rs.handler = nil
	}
	s.mu.Unlock()
}

func (s *Stream) readLoop() {
	defer s.shutdown()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("Stream read failed", zap.Error(err))
			}
			return
		}

		f, err := ws.Decode(data)
		if err != nil {
			s.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}
		s.handleFrame(f)
	}
}

func (s *Stream) handleFrame(f ws.Frame) {
	switch {
	case f.Kind == terminal.KindSpawn:
		s.resolveSpawn(f)
	case f.Kind == terminal.KindError && f.SessionID == 0:
		if !s.resolveSpawn(f) {
			var ep ws.ErrorPayload
			_ = f.DecodePayload(&ep)
			s.logger.Warn("Server reported a protocol error", zap.String("message", ep.Message))
		}
	case f.Kind == ws.KindPing || f.Kind == ws.KindPong:
	default:
		env, err := f.ToEnvelope()
		if err != nil {
			s.logger.Warn("Dropping unexpected frame", zap.String("kind", string(f.Kind)), zap.Error(err))
			return
		}
		s.deliver(env)
	}
}

// resolveSpawn hands a reply to the waiting Spawn call. A successful reply
// registers the session before any later frame is read, so the first
// event always finds its handler.
func (s *Stream) resolveSpawn(f ws.Frame) bool {
	s.mu.Lock()
	p, ok := s.pending[f.RequestID]
	if ok && f.Kind == terminal.KindSpawn && f.SessionID != 0 {
		s.sessions[f.SessionID] = &remoteSession{handler: p.handler, term: terminal.NewTermination()}
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	p.reply <- f
	return true
}

func (s *Stream) deliver(env terminal.Envelope) {
	terminalEvent := env.Kind == terminal.KindExit || env.Kind == terminal.KindError

	s.mu.Lock()
	rs, ok := s.sessions[env.SessionID]
	if ok && terminalEvent {
		delete(s.sessions, env.SessionID)
	}
	var h terminal.Handler
	if ok {
		h = rs.handler
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	if h != nil {
		h(env)
	}
	if terminalEvent {
		resolve(rs.term, env)
	}
}

func resolve(term *terminal.Termination, env terminal.Envelope) {
	switch p := env.Payload.(type) {
	case terminal.ExitInfo:
		term.Resolve(p, nil)
	case terminal.ErrorPayload:
		term.Resolve(terminal.ExitInfo{}, &terminal.ProcessError{ID: env.SessionID, Op: "remote", Err: errors.New(p.Message)})
	}
}

// shutdown ends every session known to this stream with an error event.
func (s *Stream) shutdown() {
	s.mu.Lock()
	s.closed = true
	sessions := s.sessions
	s.sessions = make(map[terminal.ID]*remoteSession)
	s.mu.Unlock()

	close(s.done)

	for sid, rs := range sessions {
		env := terminal.Envelope{
			Kind:      terminal.KindError,
			SessionID: sid,
			Payload:   terminal.ErrorPayload{Message: ErrStreamClosed.Error()},
		}
		if rs.handler != nil {
			rs.handler(env)
		}
		rs.term.Resolve(terminal.ExitInfo{}, ErrStreamClosed)
	}
}
