package rawwriter

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed             = errors.New("raw writer is closed")
	ErrInvalidConfig      = errors.New("invalid writer config")
	ErrPipelineFull       = errors.New("async pipeline is full")
	ErrCompletionMismatch = errors.New("completion count does not match outstanding writes")
	ErrMisaligned         = errors.New("write is not block aligned")
	ErrAIOUnsupported     = errors.New("kernel AIO is not supported on this platform")
	ErrInvalidHeader      = errors.New("invalid raw data header")
)

// Kind classifies an I/O failure by the stage it happened in.
type Kind int

const (
	// KindSetup covers open, aligned allocation and async facility setup.
	KindSetup Kind = iota
	// KindSubmit means the async facility rejected a write request.
	KindSubmit
	// KindCompletion covers missing, failed or short completions.
	KindCompletion
	// KindShutdown covers the final write, truncate and sync.
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindSubmit:
		return "submit"
	case KindCompletion:
		return "completion"
	case KindShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IOError represents an unrecoverable writer failure. Callers in the
// acquisition pipeline treat it as fatal.
type IOError struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("raw writer %s error: operation=%s path=%s: %v", e.Kind, e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func newIOError(kind Kind, op, path string, err error) *IOError {
	return &IOError{Kind: kind, Op: op, Path: path, Err: err}
}

// IsKind reports whether err is an IOError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return ioErr.Kind == kind
	}
	return false
}
