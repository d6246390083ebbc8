package probe

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/Paintersrp/simlaunch/internal/config"
	"github.com/Paintersrp/simlaunch/internal/launcher"
)

// LogEntry is a single output line of a child.
type LogEntry struct {
	Label   string
	Message string
}

// LogObserver consumes child output to drive log-based readiness.
type LogObserver interface {
	ObserveLog(LogEntry)
}

type logProber struct {
	pattern *regexp.Regexp

	matched atomic.Bool
	notify  chan struct{}
	once    sync.Once
}

func newLogProber(spec *config.LogProbeSpec) (*logProber, error) {
	pattern, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return nil, err
	}
	return &logProber{
		pattern: pattern,
		notify:  make(chan struct{}),
	}, nil
}

// Probe blocks until a matching line has been observed.
func (p *logProber) Probe(ctx context.Context) error {
	if p.matched.Load() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.notify:
		return nil
	}
}

func (p *logProber) ObserveLog(entry LogEntry) {
	if p.matched.Load() {
		return
	}
	if !p.pattern.MatchString(entry.Message) {
		return
	}
	if p.matched.CompareAndSwap(false, true) {
		p.once.Do(func() { close(p.notify) })
	}
}

// Feed fans child output out to the log observers subscribed for a label.
// Register it on the launcher with launcher.WithObserver before any gate is
// created.
type Feed struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]LogObserver
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[int]LogObserver)}
}

// Subscribe delivers every line printed by label to obs until the returned
// cancel function is called.
func (f *Feed) Subscribe(label string, obs LogObserver) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	if f.subs[label] == nil {
		f.subs[label] = make(map[int]LogObserver)
	}
	f.subs[label][id] = obs
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs[label], id)
		if len(f.subs[label]) == 0 {
			delete(f.subs, label)
		}
	}
}

func (f *Feed) ChildStarted(launcher.ChildInfo) {}

func (f *Feed) ChildOutput(label, line string) {
	f.mu.Lock()
	observers := make([]LogObserver, 0, len(f.subs[label]))
	for _, obs := range f.subs[label] {
		observers = append(observers, obs)
	}
	f.mu.Unlock()

	entry := LogEntry{Label: label, Message: line}
	for _, obs := range observers {
		obs.ObserveLog(entry)
	}
}

func (f *Feed) ChildExited(string, int) {}

var (
	_ Prober            = (*logProber)(nil)
	_ LogObserver       = (*logProber)(nil)
	_ launcher.Observer = (*Feed)(nil)
)
