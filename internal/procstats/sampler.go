// Package procstats samples resource usage of launched children and renders
// the end-of-run summary.
package procstats

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

// DefaultInterval spaces samples of the same child.
const DefaultInterval = time.Second

const maxTreeDepth = 8

// ChildStats accumulates what is known about one child.
type ChildStats struct {
	Label    string
	PID      int
	Args     []string
	Started  time.Time
	Exited   time.Time
	Running  bool
	ExitCode int
	PeakRSS  uint64
	LastRSS  uint64
	CPUTime  time.Duration
	Samples  int
}

// Wall returns how long the child ran, or has been running as of now.
func (c ChildStats) Wall(now time.Time) time.Duration {
	if c.Started.IsZero() {
		return 0
	}
	end := now
	if !c.Running && !c.Exited.IsZero() {
		end = c.Exited
	}
	return end.Sub(c.Started)
}

// SampleFunc measures the resident memory and consumed CPU time of the
// process tree rooted at pid.
type SampleFunc func(pid int32) (rss uint64, cpu time.Duration, err error)

// Option configures a Sampler.
type Option func(*Sampler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSampleFunc replaces the gopsutil based measurement.
func WithSampleFunc(fn SampleFunc) Option {
	return func(s *Sampler) {
		if fn != nil {
			s.sample = fn
		}
	}
}

// WithRSSHook is called with every fresh RSS measurement.
func WithRSSHook(fn func(label string, rss uint64)) Option {
	return func(s *Sampler) {
		s.onRSS = fn
	}
}

// Sampler tracks every child of a launcher. Tick is meant to be registered
// with launcher.WithTick; it is rate limited to one sample per interval.
type Sampler struct {
	interval time.Duration
	sample   SampleFunc
	onRSS    func(string, uint64)
	now      func() time.Time

	mu    sync.Mutex
	last  time.Time
	stats map[string]*ChildStats
	order []string
}

// New returns a sampler using gopsutil.
func New(opts ...Option) *Sampler {
	s := &Sampler{
		interval: DefaultInterval,
		sample:   sampleTree,
		now:      time.Now,
		stats:    make(map[string]*ChildStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick refreshes lifecycle data from l and samples running children when the
// interval has elapsed.
func (s *Sampler) Tick(l *launcher.Launcher) {
	now := s.now()
	s.mu.Lock()
	due := s.last.IsZero() || now.Sub(s.last) >= s.interval
	if due {
		s.last = now
	}
	s.mu.Unlock()
	s.Observe(l.Children(), due)
}

// Observe merges child snapshots. When sample is true running children are
// measured as well.
func (s *Sampler) Observe(children []launcher.ChildInfo, sample bool) {
	for _, info := range children {
		var rss uint64
		var cpu time.Duration
		var measured bool
		if sample && info.Running && info.PID > 0 {
			var err error
			rss, cpu, err = s.sample(int32(info.PID))
			measured = err == nil
		}

		s.mu.Lock()
		st := s.entry(info.Label)
		st.PID = info.PID
		st.Args = info.Args
		st.Started = info.Started
		st.Running = info.Running
		if !info.Running {
			st.ExitCode = info.ExitCode
			st.Exited = info.Exited
			if final := info.UserCPU + info.SysCPU; final > st.CPUTime {
				st.CPUTime = final
			}
		}
		if measured {
			st.Samples++
			st.LastRSS = rss
			if rss > st.PeakRSS {
				st.PeakRSS = rss
			}
			if cpu > st.CPUTime {
				st.CPUTime = cpu
			}
		}
		s.mu.Unlock()

		if measured && s.onRSS != nil {
			s.onRSS(info.Label, rss)
		}
	}
}

// Snapshot returns the accumulated stats in launch order.
func (s *Sampler) Snapshot() []ChildStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChildStats, 0, len(s.order))
	for _, label := range s.order {
		st := *s.stats[label]
		st.Args = append([]string(nil), st.Args...)
		out = append(out, st)
	}
	return out
}

func (s *Sampler) entry(label string) *ChildStats {
	st, ok := s.stats[label]
	if !ok {
		st = &ChildStats{Label: label}
		s.stats[label] = st
		s.order = append(s.order, label)
	}
	return st
}

// sampleTree sums RSS and CPU time over pid and its descendants.
func sampleTree(pid int32) (uint64, time.Duration, error) {
	root, err := process.NewProcess(pid)
	if err != nil {
		return 0, 0, err
	}
	var rss uint64
	var cpu time.Duration
	var visit func(p *process.Process, depth int)
	visit = func(p *process.Process, depth int) {
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			rss += mem.RSS
		}
		if times, err := p.Times(); err == nil && times != nil {
			cpu += time.Duration((times.User + times.System) * float64(time.Second))
		}
		if depth >= maxTreeDepth {
			return
		}
		children, err := p.Children()
		if err != nil {
			return
		}
		for _, child := range children {
			visit(child, depth+1)
		}
	}
	visit(root, 0)
	return rss, cpu, nil
}
