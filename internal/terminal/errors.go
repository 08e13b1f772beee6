package terminal

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSession resolves the Termination of a kill aimed at an id
	// that is not registered. Control calls never return it.
	ErrUnknownSession = errors.New("unknown session")
	// ErrBrokerClosed is returned by Spawn after Close.
	ErrBrokerClosed = errors.New("broker closed")
)

// SpawnError reports that the OS refused to start the shell. No session
// exists and no id was consumed.
type SpawnError struct {
	Shell string
	Cwd   string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn shell '%s' in '%s': %v", e.Shell, e.Cwd, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessError is an unexpected failure of a running session's process.
// It is delivered as the session's error event.
type ProcessError struct {
	ID  ID
	Op  string
	Err error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("session %d: %s: %v", e.ID, e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
