//go:build windows

package terminal

import (
	"errors"
	"io"
	"os"
)

// DefaultShell is the shell every session runs.
func DefaultShell() string { return "powershell.exe" }

func exitInfo(ps *os.ProcessState) ExitInfo {
	return ExitInfo{ExitCode: ps.ExitCode()}
}

func readEnded(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed)
}
