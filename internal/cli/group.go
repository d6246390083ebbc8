package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/Paintersrp/simlaunch/internal/api/http"
	"github.com/Paintersrp/simlaunch/internal/cliutil"
	"github.com/Paintersrp/simlaunch/internal/config"
	"github.com/Paintersrp/simlaunch/internal/launcher"
	"github.com/Paintersrp/simlaunch/internal/logsink"
	"github.com/Paintersrp/simlaunch/internal/metrics"
	"github.com/Paintersrp/simlaunch/internal/probe"
	"github.com/Paintersrp/simlaunch/internal/procstats"
	"github.com/Paintersrp/simlaunch/internal/tui"
)

type groupOptions struct {
	name     string
	duration time.Duration
	tui      bool
	stats    bool
}

// launchStep is one child of the group with what has to happen before the
// next child may start.
type launchStep struct {
	command launcher.Command
	ready   *config.ReadySpec
	settle  time.Duration
}

func stepsFromChildren(children []*config.ChildSpec) []launchStep {
	steps := make([]launchStep, 0, len(children))
	for _, child := range children {
		steps = append(steps, launchStep{
			command: launcher.Command{
				Args:  child.Command,
				Label: child.Label,
				Dir:   child.ResolvedDir,
				Env:   child.Env,
				TTY:   child.TTY,
			},
			ready:  child.Ready,
			settle: child.Settle.Duration,
		})
	}
	return steps
}

// runGroup launches steps in order and supervises the group until it
// resolves. It returns the aggregate return code, or an error for setup
// failures (missing executable, fail-fast exit, readiness timeout). Every
// child is killed before it returns.
func (c *context) runGroup(cmd *cobra.Command, opts groupOptions, steps []launchStep) (int, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	cfg := c.settings
	log := c.logger.With(zap.String("launch", opts.name))
	defer func() { _ = log.Sync() }()

	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	if opts.tui && !cliutil.IsTerminal(stdout) {
		return 0, errors.New("--tui requires an interactive terminal")
	}

	prefixer := cliutil.NewPrefixer(stdout, opts.name, !opts.tui && cliutil.ColorEnabled(cfg.Color, stdout))
	feed := probe.NewFeed()
	lopts := []launcher.Option{
		launcher.WithLogger(log),
		launcher.WithPrefixer(prefixer.Label),
		launcher.WithPollInterval(cfg.PollInterval),
		launcher.WithLaunchGrace(cfg.LaunchGrace),
		launcher.WithKillTimeout(cfg.KillTimeout),
		launcher.WithObserver(metrics.Observer{}),
		launcher.WithObserver(feed),
	}

	if cfg.LogDir != "" {
		sink, err := logsink.New(
			logsink.WithDirectory(cfg.LogDir),
			logsink.WithLaunchName(opts.name),
			logsink.WithMaxFileSize(cfg.MaxFileSizeBytes()),
			logsink.WithMaxTotalSize(cfg.MaxTotalSizeBytes()),
			logsink.WithMaxFileAge(cfg.LogMaxFileAge),
			logsink.WithMaxFileCount(cfg.LogMaxFiles),
			logsink.WithLogger(log),
		)
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				log.Warn("close log sink", zap.Error(err))
			}
		}()
		lopts = append(lopts, launcher.WithObserver(sink))
		log.Debug("persisting child output", zap.String("dir", sink.Dir()))
	}

	var sampler *procstats.Sampler
	if opts.stats || cfg.ControlAddr != "" {
		sampler = procstats.New(
			procstats.WithInterval(cfg.StatsInterval),
			procstats.WithRSSHook(metrics.SetResidentMemory),
		)
		lopts = append(lopts, launcher.WithTick(sampler.Tick))
	}

	var (
		l    *launcher.Launcher
		ui   *tui.UI
		diag bytes.Buffer
	)
	if opts.tui {
		ui = tui.New(tui.WithTitle(opts.name), tui.WithQuit(func() { l.Terminate() }))
		lopts = append(lopts,
			launcher.WithOutput(io.Discard),
			launcher.WithDiagnostics(&diag),
			launcher.WithObserver(ui),
		)
	} else {
		lopts = append(lopts, launcher.WithOutput(stdout), launcher.WithDiagnostics(stderr))
	}

	l = launcher.New(opts.name, lopts...)
	defer l.Kill()

	ctrl := newGroupController(l, sampler)
	if cfg.ControlAddr != "" {
		server, err := httpapi.NewServer(httpapi.Config{Addr: cfg.ControlAddr, Controller: ctrl, Logger: log})
		if err != nil {
			return 0, err
		}
		if err := server.Listen(); err != nil {
			return 0, err
		}
		srvCtx, cancel := stdcontext.WithCancel(stdcontext.WithoutCancel(ctx))
		srvDone := make(chan error, 1)
		go func() { srvDone <- server.Run(srvCtx) }()
		defer func() {
			cancel()
			if err := <-srvDone; err != nil {
				log.Warn("control server", zap.Error(err))
			}
		}()
		log.Info("control server listening", zap.String("addr", server.Addr()))
	}

	stopUI := func() {}
	if ui != nil {
		uiDone := make(chan error, 1)
		go func() { uiDone <- ui.Run(ctx) }()
		stopped := false
		stopUI = func() {
			if stopped {
				return
			}
			stopped = true
			ui.Stop()
			if err := <-uiDone; err != nil {
				log.Warn("tui", zap.Error(err))
			}
			if diag.Len() > 0 {
				_, _ = diag.WriteTo(stderr)
			}
		}
		defer stopUI()
	}

launch:
	for _, step := range steps {
		info, err := l.Launch(ctx, step.command)
		if err != nil {
			if groupStopped(ctx, err) {
				break launch
			}
			return 0, err
		}
		log.Info("child launched", zap.String("label", info.Label), zap.Int("pid", info.PID))

		if step.ready != nil {
			ctrl.setReady(info.Label, readyPending)
			err := awaitReady(ctx, l, feed, info.Label, step)
			switch {
			case err == nil:
				ctrl.setReady(info.Label, readyYes)
				if ui != nil {
					ui.ReadyChanged(info.Label, true, "")
				}
				log.Info("child ready", zap.String("label", info.Label))
			case groupStopped(ctx, err):
				break launch
			default:
				ctrl.setReady(info.Label, readyNo)
				if ui != nil {
					ui.ReadyChanged(info.Label, false, err.Error())
				}
				return 0, fmt.Errorf("readiness gate: %w", err)
			}
		}

		if err := l.Settle(ctx, step.settle); err != nil {
			if groupStopped(ctx, err) {
				break launch
			}
			return 0, err
		}
	}

	code := l.Wait(ctx, opts.duration)
	l.Kill()
	stopUI()
	log.Info("group resolved", zap.Int("code", code))

	if opts.stats {
		sampler.Observe(l.Children(), false)
		if err := procstats.WriteSummary(stdout, opts.name, sampler.Snapshot(), time.Now(), prefixer.Enabled()); err != nil {
			log.Warn("write stats summary", zap.Error(err))
		}
	}
	return code, nil
}

// awaitReady blocks on the readiness gate of step while the group keeps
// draining output.
func awaitReady(ctx stdcontext.Context, l *launcher.Launcher, feed *probe.Feed, label string, step launchStep) error {
	gate, err := probe.New(label, step.command.Dir, step.ready, feed)
	if err != nil {
		return err
	}
	defer gate.Close()

	gateCtx, cancel := stdcontext.WithCancel(ctx)
	defer cancel()

	started := time.Now()
	err = l.Await(ctx, gate.Start(gateCtx))
	metrics.ObserveReadyGate(label, time.Since(started), err == nil)
	return err
}

// groupStopped reports whether err means the group resolved or was
// interrupted while children were still being launched. The wait loop then
// reports the outcome.
func groupStopped(ctx stdcontext.Context, err error) bool {
	if errors.Is(err, launcher.ErrGroupEnded) || errors.Is(err, launcher.ErrClosed) {
		return true
	}
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
