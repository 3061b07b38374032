package execution

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/SAISURYACHARAN89/codesync/internal/shared/id"
)

// Status is the terminal state of one execution
type Status string

const (
	StatusSuccess      Status = "success"
	StatusCompileError Status = "compile-error"
	StatusRuntimeError Status = "runtime-error"
	StatusTimeout      Status = "timeout"
	StatusInfraError   Status = "infra-error"
	StatusCancelled    Status = "cancelled"
)

// Request is one piece of code to run
type Request struct {
	Language  string       `json:"language"`
	Source    string       `json:"source"`
	Stdin     string       `json:"stdin,omitempty"`
	SessionID id.SessionID `json:"sessionId,omitempty"`
	MemberID  id.MemberID  `json:"memberId,omitempty"`
}

// Result is produced exactly once per accepted request
type Result struct {
	ID         id.ExecutionID `json:"id"`
	Language   string         `json:"language"`
	Backend    string         `json:"backend"`
	Status     Status         `json:"status"`
	Stdout     string         `json:"stdout"`
	Stderr     string         `json:"stderr"`
	Output     string         `json:"output"`
	ExitCode   int            `json:"exitCode"`
	Duration   time.Duration  `json:"-"`
	DurationMs int64          `json:"durationMs"`
	Truncated  bool           `json:"truncated"`
	SessionID  id.SessionID   `json:"sessionId,omitempty"`
}

// Outcome is what an environment reports after a run that was not interrupted
type Outcome struct {
	ExitCode      int
	CompileFailed bool
}

// Environment is one isolated place to run one program. It is owned by a
// single request and never reused.
type Environment interface {
	// Run compiles (if needed) and runs the program. It must return promptly
	// once ctx is done. A non-nil error means the environment itself failed.
	Run(ctx context.Context, stdout, stderr io.Writer) (Outcome, error)
	// Reclaim releases every resource held by the environment.
	Reclaim(ctx context.Context) error
}

// Backend creates environments
type Backend interface {
	Name() string
	Provision(ctx context.Context, profile Profile, req Request) (Environment, error)
}

// provisionError marks backend failures as worth retrying or not
type provisionError struct {
	err       error
	transient bool
}

func (e *provisionError) Error() string   { return e.err.Error() }
func (e *provisionError) Unwrap() error   { return e.err }
func (e *provisionError) Transient() bool { return e.transient }

// Transient wraps err as a failure that may succeed on retry
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &provisionError{err: err, transient: true}
}

// Permanent wraps err as a failure that will not go away on retry
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &provisionError{err: err}
}

// IsTransient reports whether any error in err's chain says it is transient
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	return errors.As(err, &t) && t.Transient()
}
