package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

// ExitCodeError carries a non-zero aggregate return code out of a command.
// It is not an error in the diagnostic sense and is never printed.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// exitStatus maps a command result to a process exit status. Codes of
// children killed by a signal are negative and map to 128+signal, as a
// shell reports them.
func exitStatus(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return shellStatus(exitErr.Code)
	}
	fmt.Fprintln(stderr, err)
	var failed *launcher.FailedFastError
	if errors.As(err, &failed) {
		return shellStatus(failed.ExitCode())
	}
	return 1
}

func shellStatus(code int) int {
	switch {
	case code < 0:
		return 128 - code
	case code > 255:
		return 1
	default:
		return code
	}
}
