package cli

import (
	stdcontext "context"
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/simlaunch/internal/api"
	"github.com/Paintersrp/simlaunch/internal/launcher"
	"github.com/Paintersrp/simlaunch/internal/procstats"
)

const (
	readyNone    = "-"
	readyPending = "pending"
	readyYes     = "yes"
	readyNo      = "no"
)

// groupController exposes a running launch group to the control server.
type groupController struct {
	name     string
	launcher *launcher.Launcher
	sampler  *procstats.Sampler

	mu    sync.Mutex
	ready map[string]string
}

func newGroupController(l *launcher.Launcher, sampler *procstats.Sampler) *groupController {
	return &groupController{
		name:     l.Name(),
		launcher: l,
		sampler:  sampler,
		ready:    make(map[string]string),
	}
}

func (c *groupController) setReady(label, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready[label] = state
}

func (c *groupController) readyState(label string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.ready[label]; ok {
		return state
	}
	return readyNone
}

// Status returns a snapshot of every child launched so far.
func (c *groupController) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	stats := c.statsByLabel()
	children := c.launcher.Children()
	report := &api.StatusReport{
		Launch:      c.name,
		GeneratedAt: now,
		Children:    make([]api.ChildReport, 0, len(children)),
	}
	if code, ok := c.launcher.ReturnCode(); ok {
		report.Resolved = true
		report.ReturnCode = &code
	}
	for _, info := range children {
		report.Children = append(report.Children, c.childReport(info, stats[info.Label], now))
	}
	return report, nil
}

// Child returns the report of a single child.
func (c *groupController) Child(ctx stdcontext.Context, label string) (*api.ChildReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	for _, info := range c.launcher.Children() {
		if info.Label != label {
			continue
		}
		report := c.childReport(info, c.statsByLabel()[label], now)
		return &report, nil
	}
	return nil, fmt.Errorf("%w: %s", api.ErrUnknownChild, label)
}

// Terminate ends the group with return code 0 and kills every child.
func (c *groupController) Terminate(ctx stdcontext.Context) (*api.TerminateResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if code, ok := c.launcher.ReturnCode(); ok {
		return nil, fmt.Errorf("%w with code %d", api.ErrGroupResolved, code)
	}
	requested := time.Now()
	c.launcher.Terminate()
	code, _ := c.launcher.ReturnCode()
	return &api.TerminateResult{Launch: c.name, RequestedAt: requested, ReturnCode: code}, nil
}

func (c *groupController) statsByLabel() map[string]procstats.ChildStats {
	if c.sampler == nil {
		return nil
	}
	snapshot := c.sampler.Snapshot()
	out := make(map[string]procstats.ChildStats, len(snapshot))
	for _, st := range snapshot {
		out[st.Label] = st
	}
	return out
}

func (c *groupController) childReport(info launcher.ChildInfo, st procstats.ChildStats, now time.Time) api.ChildReport {
	report := api.ChildReport{
		Label:   info.Label,
		PID:     info.PID,
		Args:    info.Args,
		TTY:     info.TTY,
		Running: info.Running,
		Ready:   c.readyState(info.Label),
		Started: info.Started,
		PeakRSS: st.PeakRSS,
	}
	end := now
	if !info.Running {
		code := info.ExitCode
		exited := info.Exited
		report.ExitCode = &code
		report.Exited = &exited
		end = exited
	}
	if !info.Started.IsZero() {
		report.WallSeconds = end.Sub(info.Started).Seconds()
	}
	cpu := st.CPUTime
	if rusage := info.UserCPU + info.SysCPU; rusage > cpu {
		cpu = rusage
	}
	report.CPUSeconds = cpu.Seconds()
	return report
}

var _ api.Controller = (*groupController)(nil)
