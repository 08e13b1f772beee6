// Package id generates the string identifiers used outside the broker's
// numeric session ids: stream connections and request traces.
//
// All ids are ULIDs, optionally prefixed ("conn_01J...") so they read well
// in logs. ULIDs sort by creation time, and ids generated within the same
// millisecond by one Generator still sort in generation order.
package id

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Typed IDs
// ============================================================================

// ConnectionID identifies a stream connection
type ConnectionID string

// TraceID identifies an HTTP request trace
type TraceID string

// SpanID identifies one operation within a trace
type SpanID string

const (
	ConnectionPrefix = "conn"
	TracePrefix      = "trace"
	SpanPrefix       = "span"
)

func (id ConnectionID) String() string { return string(id) }
func (id TraceID) String() string      { return string(id) }
func (id SpanID) String() string       { return string(id) }

// ============================================================================
// Generator
// ============================================================================

// Generator generates ULIDs
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate())
}

// NewConnectionID generates a connection ID
func NewConnectionID() ConnectionID {
	return ConnectionID(Default().GenerateWithPrefix(ConnectionPrefix))
}

// NewTraceID generates a trace ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

// ============================================================================
// Parsing
// ============================================================================

// Parse extracts the ULID from a plain or prefixed id
func Parse(s string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	return ulid.Parse(s)
}

// IsValid checks whether s is a plain or prefixed ULID
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
