package terminal

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ID identifies a session within one broker. IDs start at 1, increase
// strictly and are never reused.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses the decimal form produced by String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid session id %q", s)
	}
	return ID(v), nil
}

const (
	DefaultCols = 80
	DefaultRows = 30

	maxDimension = math.MaxUint16
)

// Size is a terminal grid size in character cells.
type Size struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// NormalizeSize applies spawn-time defaults: a non-positive dimension takes
// the default (80x30) and oversized values are clamped.
func NormalizeSize(cols, rows int) Size {
	if cols <= 0 {
		cols = DefaultCols
	}
	if rows <= 0 {
		rows = DefaultRows
	}
	return clampSize(cols, rows)
}

// clampSize bounds both dimensions to [1, 65535].
func clampSize(cols, rows int) Size {
	return Size{Cols: clamp(cols), Rows: clamp(rows)}
}

func clamp(v int) int {
	switch {
	case v < 1:
		return 1
	case v > maxDimension:
		return maxDimension
	default:
		return v
	}
}

// Status is the session state. Transitions only move forward:
// Spawning -> Running -> Exited | Errored.
type Status int

const (
	StatusSpawning Status = iota
	StatusRunning
	StatusExited
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusSpawning:
		return "spawning"
	case StatusRunning:
		return "running"
	case StatusExited:
		return "exited"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusErrored
}

// ExitInfo describes how a process ended. A process killed by a signal
// reports ExitCode 128+signal and the signal number.
type ExitInfo struct {
	ExitCode int  `json:"exitCode"`
	Signal   *int `json:"signal,omitempty"`
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID        ID        `json:"id"`
	Shell     string    `json:"shell"`
	Cwd       string    `json:"cwd"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	Pid       int       `json:"pid"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}
