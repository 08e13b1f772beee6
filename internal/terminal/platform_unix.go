//go:build !windows

package terminal

import (
	"errors"
	"io"
	"os"
	"syscall"
)

// DefaultShell is the shell every session runs.
func DefaultShell() string { return "bash" }

func exitInfo(ps *os.ProcessState) ExitInfo {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := int(ws.Signal())
		return ExitInfo{ExitCode: 128 + sig, Signal: &sig}
	}
	return ExitInfo{ExitCode: ps.ExitCode()}
}

// readEnded reports whether err is the normal end of a session's output.
// Linux returns EIO from the PTY master once the slave side is gone.
func readEnded(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}
