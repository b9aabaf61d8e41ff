package terminal

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStartup matches any *StartupError via errors.Is.
	ErrStartup = errors.New("failed to start")
	// ErrClosed is returned by operations on a handle whose process has
	// exited or whose controlling side has been closed.
	ErrClosed = errors.New("terminal closed")
	// ErrIO wraps a failure writing to a still-open descriptor.
	ErrIO = errors.New("terminal i/o error")
	// ErrWriteTimeout is returned when the input queue stays full for
	// longer than the handle's write timeout.
	ErrWriteTimeout = errors.New("terminal write timed out")
	// ErrInvalidSize is returned for non-positive dimensions.
	ErrInvalidSize = errors.New("invalid terminal size")
)

// StartupError reports a command that could not be executed at all, or that
// exited with a non-zero status inside the startup window.
type StartupError struct {
	Command  []string
	ExitCode int    // -1 when the process never ran
	Output   []byte // output captured before an early exit
	Err      error  // underlying exec error, nil for an early exit
}

func (e *StartupError) Error() string {
	cmd := strings.Join(e.Command, " ")
	if e.Err != nil {
		return fmt.Sprintf("failed to start %q: %v", cmd, e.Err)
	}
	return fmt.Sprintf("failed to start %q: exited immediately with status %d", cmd, e.ExitCode)
}

func (e *StartupError) Unwrap() error { return e.Err }

func (e *StartupError) Is(target error) bool { return target == ErrStartup }
