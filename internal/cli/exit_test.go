package cli

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    int
		printed bool
	}{
		{name: "nil", err: nil, want: 0},
		{name: "child code", err: &ExitCodeError{Code: 3}, want: 3},
		{name: "signalled child", err: &ExitCodeError{Code: -9}, want: 137},
		{name: "wrapped code", err: fmt.Errorf("run: %w", &ExitCodeError{Code: 2}), want: 2},
		{name: "fail fast", err: &launcher.FailedFastError{Label: "sim", Code: 5}, want: 5, printed: true},
		{name: "fail fast by signal", err: &launcher.FailedFastError{Label: "sim", Code: -15}, want: 143, printed: true},
		{name: "setup error", err: errors.New("open launch file: no such file"), want: 1, printed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr strings.Builder
			if got := exitStatus(tt.err, &stderr); got != tt.want {
				t.Fatalf("exitStatus = %d, want %d", got, tt.want)
			}
			if printed := stderr.Len() > 0; printed != tt.printed {
				t.Fatalf("printed = %t (%q), want %t", printed, stderr.String(), tt.printed)
			}
		})
	}
}

func TestShellStatusClampsLargeCodes(t *testing.T) {
	if got := shellStatus(300); got != 1 {
		t.Fatalf("shellStatus(300) = %d, want 1", got)
	}
}
