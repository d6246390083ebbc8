// Package api defines the control surface a running launch group exposes to
// the HTTP control server.
package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	ErrUnknownChild  = errors.New("unknown child")
	ErrGroupResolved = errors.New("launch group already resolved")
)

// ChildReport describes the runtime state of a single child.
type ChildReport struct {
	Label       string    `json:"label"`
	PID         int       `json:"pid"`
	Args        []string  `json:"args"`
	TTY         bool      `json:"tty"`
	Running     bool      `json:"running"`
	ExitCode    *int      `json:"exit_code,omitempty"`
	Ready       string    `json:"ready"`
	Started     time.Time `json:"started"`
	Exited      *time.Time `json:"exited,omitempty"`
	WallSeconds float64   `json:"wall_seconds"`
	CPUSeconds  float64   `json:"cpu_seconds"`
	PeakRSS     uint64    `json:"peak_rss_bytes"`
}

// StatusReport aggregates launch-wide status information.
type StatusReport struct {
	Launch      string        `json:"launch"`
	GeneratedAt time.Time     `json:"generated_at"`
	Resolved    bool          `json:"resolved"`
	ReturnCode  *int          `json:"return_code,omitempty"`
	Children    []ChildReport `json:"children"`
}

// TerminateResult captures the outcome of a terminate request.
type TerminateResult struct {
	Launch      string    `json:"launch"`
	RequestedAt time.Time `json:"requested_at"`
	ReturnCode  int       `json:"return_code"`
}

// Controller exposes launch group operations required by control servers.
type Controller interface {
	Status(stdcontext.Context) (*StatusReport, error)
	Child(stdcontext.Context, string) (*ChildReport, error)
	Terminate(stdcontext.Context) (*TerminateResult, error)
}
