// Package probe implements readiness gates: a set of probes that must all
// succeed before the launch sequence moves on to the next child.
package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Paintersrp/simlaunch/internal/config"
)

// ErrNotReady is wrapped by the error a gate returns when its timeout expires
// before every probe succeeded.
var ErrNotReady = errors.New("not ready")

// Prober performs a single readiness attempt. Implementations may block until
// ready or ctx ends.
type Prober interface {
	Probe(ctx context.Context) error
}

type check struct {
	name  string
	probe Prober
}

// Gate waits for every configured probe of one child.
type Gate struct {
	label    string
	interval time.Duration
	timeout  time.Duration
	checks   []check

	unsubscribe []func()
	closeOnce   sync.Once
}

// New builds the gate for the child labelled label. dir is the child's working
// directory, used by command probes. Log probes subscribe to feed, which may
// be nil when no log probe is configured.
func New(label, dir string, spec *config.ReadySpec, feed *Feed) (*Gate, error) {
	if spec == nil {
		return nil, errors.New("probe: missing configuration")
	}
	g := &Gate{
		label:    label,
		interval: spec.Interval.Duration,
		timeout:  spec.Timeout.Duration,
	}
	if g.interval <= 0 {
		g.interval = config.DefaultReadyInterval
	}
	if g.timeout <= 0 {
		g.timeout = config.DefaultReadyTimeout
	}

	if spec.TCP != nil {
		g.checks = append(g.checks, check{name: "tcp", probe: newTCPProber(spec.TCP)})
	}
	if spec.HTTP != nil {
		g.checks = append(g.checks, check{name: "http", probe: newHTTPProber(spec.HTTP)})
	}
	if spec.Command != nil {
		prober, err := newCommandProber(spec.Command, dir)
		if err != nil {
			return nil, err
		}
		g.checks = append(g.checks, check{name: "command", probe: prober})
	}
	if spec.Log != nil {
		if feed == nil {
			return nil, errors.New("probe: log probe requires an output feed")
		}
		prober, err := newLogProber(spec.Log)
		if err != nil {
			return nil, fmt.Errorf("probe: %w", err)
		}
		g.unsubscribe = append(g.unsubscribe, feed.Subscribe(label, prober))
		g.checks = append(g.checks, check{name: "log", probe: prober})
	}
	if spec.File != nil {
		g.checks = append(g.checks, check{name: "file", probe: newFileProber(spec.File)})
	}

	if len(g.checks) == 0 {
		g.Close()
		return nil, errors.New("probe: missing configuration")
	}
	return g, nil
}

// Label returns the label of the gated child.
func (g *Gate) Label() string {
	return g.label
}

// Timeout returns how long Wait polls before giving up.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Wait polls every probe concurrently until all have succeeded. It returns an
// error wrapping ErrNotReady when the gate timeout expires first, or ctx.Err()
// when ctx is cancelled. The gate is closed on return.
func (g *Gate) Wait(ctx context.Context) error {
	defer g.Close()

	timeoutCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	group, groupCtx := errgroup.WithContext(timeoutCtx)
	for _, c := range g.checks {
		c := c
		group.Go(func() error {
			return g.poll(groupCtx, c)
		})
	}
	err := group.Wait()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Start runs Wait in the background. The result is delivered on the returned
// channel, which suits launcher.Launcher.Await.
func (g *Gate) Start(ctx context.Context) <-chan error {
	ready := make(chan error, 1)
	go func() {
		ready <- g.Wait(ctx)
	}()
	return ready
}

// Close releases the gate's log subscriptions. It is idempotent.
func (g *Gate) Close() {
	g.closeOnce.Do(func() {
		for _, unsubscribe := range g.unsubscribe {
			unsubscribe()
		}
	})
}

func (g *Gate) poll(ctx context.Context, c check) error {
	var last error
	for {
		err := c.probe.Probe(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil {
			last = err
		}

		timer := time.NewTimer(g.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			reason := "timed out"
			if last != nil {
				reason = last.Error()
			}
			return fmt.Errorf("%s %s probe after %s: %w: %s", g.label, c.name, g.timeout, ErrNotReady, reason)
		case <-timer.C:
		}
	}
}
