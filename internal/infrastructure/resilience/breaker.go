package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker
	Threshold uint32
	// Cooldown is how long the breaker stays open before probing again
	Cooldown time.Duration
	// HalfOpenMax is the number of concurrent probes allowed while half-open
	HalfOpenMax uint32
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to any non-nil error.
	IsFailure func(err error) bool
	// OnStateChange is called whenever the state changes, outside the lock
	OnStateChange func(name string, from State, to State)
	// Now overrides the clock in tests
	Now func() time.Time
}

// Counts holds the statistics for the circuit breaker
type Counts struct {
	Requests            uint32
	TotalSuccesses      uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probes   uint32
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 10 * time.Second
	}
	if settings.HalfOpenMax == 0 {
		settings.HalfOpenMax = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool { return err != nil }
	}
	if settings.Now == nil {
		settings.Now = time.Now
	}

	return &Breaker{
		name:     name,
		settings: settings,
		state:    StateClosed,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.currentState()
	b.mu.Unlock()

	b.notify(change)
	return state
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Do runs fn if the breaker accepts the call and records its outcome.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T

	if err := b.before(); err != nil {
		return zero, err
	}

	done := false
	defer func() {
		if !done {
			b.after(errors.New("panic"))
		}
	}()

	result, err := fn()
	done = true
	b.after(err)
	return result, err
}

type transition struct {
	from, to State
}

func (b *Breaker) before() error {
	b.mu.Lock()
	state, change := b.currentState()

	var err error
	switch state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.settings.HalfOpenMax {
			err = ErrTooManyRequests
		} else {
			b.probes++
		}
	}
	if err == nil {
		b.counts.Requests++
	}
	b.mu.Unlock()

	b.notify(change)
	return err
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	var change *transition

	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}

	if b.settings.IsFailure(err) {
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		if b.state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.Threshold {
			change = b.setState(StateOpen)
		}
	} else {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			change = b.setState(StateClosed)
		}
	}
	b.mu.Unlock()

	b.notify(change)
}

// currentState promotes an expired open state to half-open.
func (b *Breaker) currentState() (State, *transition) {
	if b.state == StateOpen && b.settings.Now().Sub(b.openedAt) >= b.settings.Cooldown {
		return StateHalfOpen, b.setState(StateHalfOpen)
	}
	return b.state, nil
}

func (b *Breaker) setState(state State) *transition {
	if b.state == state {
		return nil
	}

	prev := b.state
	b.state = state
	b.probes = 0

	switch state {
	case StateOpen:
		b.openedAt = b.settings.Now()
	case StateClosed:
		b.counts.ConsecutiveFailures = 0
	}

	return &transition{from: prev, to: state}
}

func (b *Breaker) notify(change *transition) {
	if change != nil && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, change.from, change.to)
	}
}
