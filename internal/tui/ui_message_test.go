package tui

import "testing"

func TestFormatExit(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{code: 0, want: "exited cleanly"},
		{code: 3, want: "exited with code 3"},
		{code: -15, want: "killed by signal 15"},
	}
	for _, tt := range tests {
		if got := formatExit(tt.code); got != tt.want {
			t.Fatalf("formatExit(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
