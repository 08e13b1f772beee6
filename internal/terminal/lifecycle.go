package terminal

import (
	"time"

	"go.uber.org/zap"
)

// start runs the session's two goroutines: one forwarding output, one
// waiting for the process to end.
func (b *Broker) start(s *Session) {
	s.advance(StatusRunning)
	go b.pump(s)
	go b.await(s)
}

func (b *Broker) pump(s *Session) {
	defer close(s.readerDone)

	buf := make([]byte, b.readBufferSize)
	for {
		n, err := s.proc.Read(buf)
		if n > 0 {
			// buf is reused; each event owns its bytes
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			b.emitData(s, chunk)
		}
		if err != nil {
			if !readEnded(err) {
				b.fail(s, &ProcessError{ID: s.id, Op: "read", Err: err})
			}
			return
		}
	}
}

func (b *Broker) await(s *Session) {
	info, err := s.proc.Wait()
	if err != nil {
		b.fail(s, &ProcessError{ID: s.id, Op: "wait", Err: err})
		b.closeProcess(s)
		return
	}

	// Output written just before exit may still be in flight.
	timer := time.NewTimer(b.drainTimeout)
	select {
	case <-s.readerDone:
	case <-timer.C:
		b.logger.Debug("Output drain timed out", zap.Uint64("session_id", uint64(s.id)))
	}
	timer.Stop()

	b.exit(s, info)
	b.closeProcess(s)
}

func (b *Broker) emitData(s *Session, chunk []byte) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.ended {
		return
	}
	b.metrics.AddBytes("out", len(chunk))
	b.router.Publish(Envelope{Kind: KindData, SessionID: s.id, Payload: DataPayload{Data: chunk}})
}

// claim emits the session's terminal event unless one was already sent.
func (b *Broker) claim(s *Session, status Status, env Envelope) bool {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.ended {
		return false
	}
	s.ended = true
	s.advance(status)
	b.router.Publish(env)
	return true
}

func (b *Broker) exit(s *Session, info ExitInfo) {
	if !b.claim(s, StatusExited, Envelope{Kind: KindExit, SessionID: s.id, Payload: info}) {
		return
	}

	fields := []zap.Field{
		zap.Uint64("session_id", uint64(s.id)),
		zap.Int("exit_code", info.ExitCode),
	}
	if info.Signal != nil {
		fields = append(fields, zap.Int("signal", *info.Signal))
	}
	b.logger.Info("Session exited", fields...)

	b.retire(s, "exit")
	s.term.Resolve(info, nil)
}

func (b *Broker) fail(s *Session, err error) {
	if !b.claim(s, StatusErrored, Envelope{Kind: KindError, SessionID: s.id, Payload: ErrorPayload{Message: err.Error()}}) {
		return
	}

	b.logger.Error("Session failed", zap.Uint64("session_id", uint64(s.id)), zap.Error(err))
	if kerr := s.proc.Kill(); kerr != nil {
		b.logger.Warn("Kill after failure did not succeed", zap.Uint64("session_id", uint64(s.id)), zap.Error(kerr))
	}

	b.retire(s, "error")
	s.term.Resolve(ExitInfo{}, err)
}

// retire removes a finished session. Removal is idempotent, so sessions
// already drained by TeardownAll pass through unchanged.
func (b *Broker) retire(s *Session, outcome string) {
	b.registry.Remove(s.id)
	b.router.release(s.id)
	b.metrics.RecordTermination(outcome)
	b.metrics.SetSessionsActive(b.registry.Len())
}

func (b *Broker) closeProcess(s *Session) {
	if err := s.proc.Close(); err != nil {
		b.logger.Debug("Closing process handle failed", zap.Uint64("session_id", uint64(s.id)), zap.Error(err))
	}
}
