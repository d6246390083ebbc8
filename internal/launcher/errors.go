package launcher

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCommand is returned when Launch receives no argv.
	ErrEmptyCommand = errors.New("launcher: command must not be empty")
	// ErrExecutableNotFound is returned when argv[0] does not exist at launch time.
	ErrExecutableNotFound = errors.New("executable not found")
	// ErrClosed is returned by Launch once the group has been killed.
	ErrClosed = errors.New("launcher: group already killed")
	// ErrGroupEnded is returned by Await when the group resolved (a child exited
	// or the group was terminated) before the awaited condition was met.
	ErrGroupEnded = errors.New("launcher: process group ended")
)

// FailedFastError reports a child that exited within the launch grace window.
// Drivers are expected to treat it as an unrecoverable setup failure and exit
// the program with ExitCode.
type FailedFastError struct {
	Label  string
	Code   int
	Output []string
}

func (e *FailedFastError) Error() string {
	return fmt.Sprintf("%s failed to launch (exit %d)", e.Label, e.Code)
}

// ExitCode returns the status the driver should exit with: the child's own
// exit code, or 1 when the child exited successfully.
func (e *FailedFastError) ExitCode() int {
	if e.Code == 0 {
		return 1
	}
	return e.Code
}
