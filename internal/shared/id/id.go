// Package id provides ID generation for sessions, connections and requests.
//
// IDs are prefixed ULIDs:
//   - Lexicographic sortability: newer sessions sort after older ones
//   - Prefixed types: sess_*, conn_*, req_*, span_* are readable in logs
//   - Type safety: separate types prevent passing a connection ID as a session ID
package id

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrInvalidID is returned when parsing a malformed ID
var ErrInvalidID = errors.New("invalid id")

// SessionID identifies a client session; it survives reconnects
type SessionID string

// ConnectionID identifies one transport connection
type ConnectionID string

// RequestID identifies an HTTP request or trace
type RequestID string

// SpanID identifies a tracing span
type SpanID string

const (
	SessionPrefix    = "sess"
	ConnectionPrefix = "conn"
	RequestPrefix    = "req"
	SpanPrefix       = "span"
)

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewConnectionID generates a new connection ID
func NewConnectionID() ConnectionID {
	return ConnectionID(Default().GenerateWithPrefix(ConnectionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSpanID generates a new span ID
func NewSpanID() SpanID {
	return SpanID(Default().GenerateWithPrefix(SpanPrefix))
}

func (id SessionID) String() string    { return string(id) }
func (id ConnectionID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }
func (id SpanID) String() string       { return string(id) }

// ParseSessionID validates a client-supplied session ID
func ParseSessionID(s string) (SessionID, error) {
	if err := parsePrefixed(s, SessionPrefix); err != nil {
		return "", err
	}
	return SessionID(s), nil
}

// Timestamp extracts the creation time of a prefixed ID
func Timestamp(s string) (time.Time, error) {
	_, raw, ok := strings.Cut(s, "_")
	if !ok {
		raw = s
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return ulid.Time(parsed.Time()), nil
}

// IsValid checks if s is a bare ULID
func IsValid(s string) bool {
	_, err := ulid.Parse(s)
	return err == nil
}

func parsePrefixed(s, prefix string) error {
	p, raw, ok := strings.Cut(s, "_")
	if !ok || p != prefix {
		return fmt.Errorf("%w: %q lacks %s_ prefix", ErrInvalidID, s, prefix)
	}
	if !IsValid(raw) {
		return fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return nil
}
