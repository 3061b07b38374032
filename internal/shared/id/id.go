// Package id provides identifier generation for the collaboration server.
//
// Three identifier families exist:
//   - Member IDs: uuid v4, one per websocket connection, opaque to clients
//   - Session codes: short upper-case base36 codes meant to be typed by humans
//   - Execution and trace IDs: prefixed ULIDs, lexicographically sortable so
//     logs for one execution sort together
//
// Session codes are only unique among live sessions; the session registry
// checks them for collisions. ULIDs and uuids are globally unique.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// MemberID identifies one connected participant
type MemberID string

// SessionID identifies a live collaboration session
type SessionID string

// ExecutionID identifies one execution request
type ExecutionID string

// TraceID identifies a request trace
type TraceID string

const (
	ExecutionPrefix = "exec"
	TracePrefix     = "trace"
	SpanPrefix      = "span"
)

func (id MemberID) String() string    { return string(id) }
func (id SessionID) String() string   { return string(id) }
func (id ExecutionID) String() string { return string(id) }
func (id TraceID) String() string     { return string(id) }

// ============================================================================
// ULID Generator
// ============================================================================

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

// NewGenerator creates a ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for deterministic tests.
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

// NewExecutionID generates an execution ID
func NewExecutionID() ExecutionID {
	return ExecutionID(Default().GenerateWithPrefix(ExecutionPrefix))
}

// NewTraceID generates a trace ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewSpanID generates a span ID
func NewSpanID() string {
	return Default().GenerateWithPrefix(SpanPrefix)
}

// Timestamp extracts the creation time from a prefixed or bare ULID
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// ============================================================================
// Member IDs
// ============================================================================

// NewMemberID generates a connection-scoped member ID
func NewMemberID() MemberID {
	return MemberID(uuid.NewString())
}

// ============================================================================
// Session Codes
// ============================================================================

// CodeAlphabet is the character set of session codes
const CodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DefaultCodeLength is the length of generated session codes
const DefaultCodeLength = 6

// CodeFunc produces candidate session codes
type CodeFunc func() (SessionID, error)

// RandomCode returns a CodeFunc producing random codes of the given length
func RandomCode(length int) CodeFunc {
	if length <= 0 {
		length = DefaultCodeLength
	}
	max := big.NewInt(int64(len(CodeAlphabet)))

	return func() (SessionID, error) {
		var b strings.Builder
		b.Grow(length)
		for i := 0; i < length; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to read entropy: %w", err)
			}
			b.WriteByte(CodeAlphabet[n.Int64()])
		}
		return SessionID(b.String()), nil
	}
}

// NormalizeCode upper-cases and trims a user-supplied session code
func NormalizeCode(code string) SessionID {
	return SessionID(strings.ToUpper(strings.TrimSpace(code)))
}

// IsValidCode reports whether code is a well-formed session code of any length
func IsValidCode(code string) bool {
	if code == "" || len(code) > 32 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(CodeAlphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
