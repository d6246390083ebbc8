//go:build !windows

package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPollInterval bounds how long the wait loop blocks on output
	// readiness, and therefore the latency of duration, interrupt and
	// terminate handling.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultLaunchGrace is the pause after each spawn before the fail-fast
	// liveness check. Long enough to catch missing shared libraries or bad
	// arguments.
	DefaultLaunchGrace = 50 * time.Millisecond

	defaultKillTimeout = 5 * time.Second
	readChunkSize      = 64 << 10
)

// Command describes one process to launch.
type Command struct {
	// Args is the argv vector; Args[0] is the executable.
	Args []string
	// Label prefixes the child's output. Defaults to the base name of Args[0].
	Label string
	// Dir is the working directory. Empty inherits the launcher's.
	Dir string
	// Env overlays the launcher's environment.
	Env map[string]string
	// TTY runs the child on a pseudo-terminal instead of a pipe.
	TTY bool
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithOutput sets where child output and status lines are written.
func WithOutput(w io.Writer) Option {
	return func(l *Launcher) {
		if w != nil {
			l.out = w
		}
	}
}

// WithDiagnostics sets where the missing-executable directory listing goes.
func WithDiagnostics(w io.Writer) Option {
	return func(l *Launcher) {
		if w != nil {
			l.diag = w
		}
	}
}

// WithLogger attaches a structured logger for internal diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Launcher) {
		if logger != nil {
			l.log = logger
		}
	}
}

// WithObserver registers an observer for child lifecycle and output events.
func WithObserver(obs Observer) Option {
	return func(l *Launcher) {
		if obs != nil {
			l.observers = append(l.observers, obs)
		}
	}
}

// WithTick registers a hook invoked once per wait-loop cycle. The launcher is
// passed in explicitly so hooks do not need to capture it.
func WithTick(fn func(*Launcher)) Option {
	return func(l *Launcher) {
		if fn != nil {
			l.ticks = append(l.ticks, fn)
		}
	}
}

// WithPrefixer decorates labels before they are printed, e.g. with colour.
func WithPrefixer(fn func(label string) string) Option {
	return func(l *Launcher) {
		if fn != nil {
			l.prefix = fn
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(l *Launcher) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithLaunchGrace overrides DefaultLaunchGrace.
func WithLaunchGrace(d time.Duration) Option {
	return func(l *Launcher) {
		if d > 0 {
			l.launchGrace = d
		}
	}
}

// WithKillTimeout bounds how long Kill waits for each child to be reaped.
func WithKillTimeout(d time.Duration) Option {
	return func(l *Launcher) {
		if d > 0 {
			l.killTimeout = d
		}
	}
}

// Launcher owns a group of child processes. If one exits, the group is over:
// Wait returns and the driver kills the rest. The aggregate return code is
// that of the first event to resolve the group.
//
// Launch, Wait and Await must be called from a single driver goroutine.
// Terminate, Kill, ReturnCode and Children are safe from any goroutine.
type Launcher struct {
	name         string
	out          io.Writer
	diag         io.Writer
	log          *zap.Logger
	observers    []Observer
	ticks        []func(*Launcher)
	prefix       func(string) string
	pollInterval time.Duration
	launchGrace  time.Duration
	killTimeout  time.Duration

	mu         sync.Mutex
	children   []*child
	code       int
	codeSet    bool
	terminated bool
	looping    bool
	closed     bool
	devnull    *os.File

	outMu       sync.Mutex
	releaseOnce sync.Once
}

// New constructs a launcher. name prefixes the launcher's own status lines.
func New(name string, opts ...Option) *Launcher {
	l := &Launcher{
		name:         name,
		out:          os.Stdout,
		diag:         os.Stderr,
		log:          zap.NewNop(),
		prefix:       func(label string) string { return label },
		pollInterval: DefaultPollInterval,
		launchGrace:  DefaultLaunchGrace,
		killTimeout:  defaultKillTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the label used for the launcher's own status lines.
func (l *Launcher) Name() string {
	return l.name
}

// ReturnCode returns the aggregate return code and whether it has been fixed.
func (l *Launcher) ReturnCode() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.code, l.codeSet
}

// Children returns snapshots of every tracked child in launch order.
func (l *Launcher) Children() []ChildInfo {
	children := l.snapshot()
	infos := make([]ChildInfo, 0, len(children))
	for _, c := range children {
		infos = append(infos, c.info())
	}
	return infos
}

// Launch spawns command as a member of the group and runs the fail-fast check:
// after a short grace period every child is polled once, and if any has
// already exited Launch returns a *FailedFastError.
func (l *Launcher) Launch(ctx context.Context, command Command) (ChildInfo, error) {
	if len(command.Args) == 0 || command.Args[0] == "" {
		return ChildInfo{}, ErrEmptyCommand
	}

	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ChildInfo{}, ErrClosed
	}

	label := command.Label
	if label == "" {
		label = filepath.Base(command.Args[0])
	}

	path, err := resolveExecutable(command.Args[0], command.Dir)
	if err != nil {
		l.printf("[%s] Missing file %s; available files are:\n", l.prefix(l.name), command.Args[0])
		l.dumpWorkingTree()
		return ChildInfo{}, fmt.Errorf("%s: %w", command.Args[0], ErrExecutableNotFound)
	}

	stdin, err := l.nullInput()
	if err != nil {
		return ChildInfo{}, err
	}

	c, err := startChild(command, path, label, stdin, childEnv(command.Env))
	if err != nil {
		return ChildInfo{}, err
	}

	l.mu.Lock()
	l.children = append(l.children, c)
	l.mu.Unlock()

	info := c.info()
	l.log.Debug("child started",
		zap.String("label", label),
		zap.Int("pid", c.pid),
		zap.Strings("args", command.Args),
		zap.String("dir", command.Dir),
		zap.Bool("tty", command.TTY),
	)
	for _, obs := range l.observers {
		obs.ChildStarted(info)
	}

	timer := time.NewTimer(l.launchGrace)
	select {
	case <-ctx.Done():
		timer.Stop()
		return info, ctx.Err()
	case <-timer.C:
	}

	exited := l.pollExits()
	if len(exited) == 0 {
		return info, nil
	}
	failed := exited[0]
	output := l.drain(failed)
	l.printf("[%s] %s failed to launch\n", l.prefix(l.name), failed.label)
	l.log.Warn("child failed fast", zap.String("label", failed.label), zap.Int("code", failed.exitCode))
	return info, &FailedFastError{Label: failed.label, Code: failed.exitCode, Output: output}
}

// Wait blocks until a child exits, duration elapses (duration <= 0 waits
// forever), ctx is cancelled or the group is terminated, echoing child output
// meanwhile. It returns the aggregate return code, which is always fixed on
// return.
func (l *Launcher) Wait(ctx context.Context, duration time.Duration) int {
	if code, ok := l.ReturnCode(); ok {
		return code
	}
	var deadline time.Time
	if duration > 0 {
		deadline = time.Now().Add(duration)
	}

	reason, _ := l.loop(ctx, deadline, nil)
	switch reason {
	case stopElapsed:
		l.printf("[%s] %s exited via duration elapsed\n", l.prefix(l.name), l.name)
		l.resolve(0)
	case stopInterrupted:
		l.printf("[%s] %s exited via interrupt\n", l.prefix(l.name), l.name)
		l.resolve(0)
	case stopTerminated:
		l.resolve(0)
		l.awaitReaped(l.snapshot())
	}

	code, _ := l.ReturnCode()
	return code
}

// Await runs the wait loop until ready yields. It returns the value received
// from ready, ErrGroupEnded if the group resolved first, or ctx.Err() when
// ctx is cancelled. Output keeps flowing while the driver waits.
func (l *Launcher) Await(ctx context.Context, ready <-chan error) error {
	if _, ok := l.ReturnCode(); ok {
		return ErrGroupEnded
	}
	reason, err := l.loop(ctx, time.Time{}, ready)
	switch reason {
	case stopReady:
		return err
	case stopInterrupted:
		return ctx.Err()
	default:
		return ErrGroupEnded
	}
}

// Settle keeps the loop running for d, e.g. to give a freshly launched
// companion time to come up before launching its dependants.
func (l *Launcher) Settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ready := make(chan error, 1)
	timer := time.AfterFunc(d, func() { ready <- nil })
	defer timer.Stop()
	return l.Await(ctx, ready)
}

// Kill forcibly terminates every child still running and waits for each to be
// reaped. It is idempotent and safe on an empty group. Launch fails with
// ErrClosed afterwards.
func (l *Launcher) Kill() {
	l.mu.Lock()
	l.closed = true
	children := append([]*child(nil), l.children...)
	looping := l.looping
	l.mu.Unlock()

	for _, c := range children {
		if _, ok := c.exited(); ok {
			continue
		}
		if err := c.kill(); err != nil {
			l.log.Warn("kill child", zap.String("label", c.label), zap.Error(err))
			continue
		}
		l.log.Debug("child killed", zap.String("label", c.label), zap.Int("pid", c.pid))
	}

	l.awaitReaped(children)

	if !looping {
		l.release()
	}
}

func (l *Launcher) awaitReaped(children []*child) {
	for _, c := range children {
		timer := time.NewTimer(l.killTimeout)
		select {
		case <-c.done:
		case <-timer.C:
			l.log.Warn("child not reaped after kill", zap.String("label", c.label), zap.Int("pid", c.pid))
		}
		timer.Stop()
	}
}

func (l *Launcher) snapshot() []*child {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*child(nil), l.children...)
}

// Terminate ends the group voluntarily: the return code is fixed to 0 unless
// already set, any running wait loop returns without reporting the exits it
// causes, and all children are killed.
func (l *Launcher) Terminate() {
	l.mu.Lock()
	if !l.codeSet {
		l.code = 0
		l.codeSet = true
	}
	l.terminated = true
	l.mu.Unlock()
	l.Kill()
}

type stopReason int

const (
	stopExited stopReason = iota
	stopElapsed
	stopInterrupted
	stopTerminated
	stopReady
)

func (l *Launcher) loop(ctx context.Context, deadline time.Time, ready <-chan error) (stopReason, error) {
	if !l.enterLoop() {
		return stopTerminated, nil
	}
	defer l.leaveLoop()

	buf := make([]byte, readChunkSize)
	for {
		if l.isTerminated() {
			return stopTerminated, nil
		}

		open := l.openStreams()
		readable, err := pollStreams(open, l.pollInterval)
		if err != nil {
			l.log.Warn("poll child output", zap.Error(err))
		}
		for _, c := range readable {
			l.echo(c, buf)
		}

		if exited := l.pollExits(); len(exited) > 0 {
			for _, c := range exited {
				l.echo(c, buf)
			}
			return stopExited, nil
		}
		if l.isTerminated() {
			return stopTerminated, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return stopElapsed, nil
		}
		select {
		case <-ctx.Done():
			return stopInterrupted, nil
		case err := <-ready:
			return stopReady, err
		default:
		}

		for _, tick := range l.ticks {
			tick(l)
		}
	}
}

func (l *Launcher) enterLoop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.terminated || l.closed {
		return false
	}
	l.looping = true
	return true
}

func (l *Launcher) leaveLoop() {
	l.mu.Lock()
	l.looping = false
	closed := l.closed
	l.mu.Unlock()
	if closed {
		l.release()
	}
}

func (l *Launcher) isTerminated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminated
}

func (l *Launcher) openStreams() []*child {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := make([]*child, 0, len(l.children))
	for _, c := range l.children {
		if c.stream != nil && !c.eof {
			open = append(open, c)
		}
	}
	return open
}

// pollExits reports every child that exited since the previous poll and fixes
// the return code to the first of them. Nothing is reported once the group
// has been terminated.
func (l *Launcher) pollExits() []*child {
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		return nil
	}
	var exited []*child
	for _, c := range l.children {
		if c.reported {
			continue
		}
		code, ok := c.exited()
		if !ok {
			continue
		}
		c.reported = true
		exited = append(exited, c)
		if !l.codeSet {
			l.code = code
			l.codeSet = true
		}
	}
	l.mu.Unlock()

	for _, c := range exited {
		l.printf("[%s] %s exited %d\n", l.prefix(l.name), c.label, c.exitCode)
		l.log.Debug("child exited", zap.String("label", c.label), zap.Int("code", c.exitCode))
		for _, obs := range l.observers {
			obs.ChildExited(c.label, c.exitCode)
		}
	}
	return exited
}

func (l *Launcher) resolve(code int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.codeSet {
		l.code = code
		l.codeSet = true
	}
}

// echo reads what is available from c and prints it label-prefixed.
func (l *Launcher) echo(c *child, buf []byte) []string {
	lines, err := c.read(buf)
	if err != nil {
		l.log.Debug("read child output", zap.String("label", c.label), zap.Error(err))
	}
	l.emit(c.label, lines)
	return lines
}

// drain reads the remaining output of an exited child.
func (l *Launcher) drain(c *child) []string {
	return l.echo(c, make([]byte, readChunkSize))
}

func (l *Launcher) emit(label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	prefix := l.prefix(label)
	l.outMu.Lock()
	for _, line := range lines {
		fmt.Fprintf(l.out, "[%s] %s\n", prefix, line)
	}
	l.outMu.Unlock()
	for _, line := range lines {
		for _, obs := range l.observers {
			obs.ChildOutput(label, line)
		}
	}
}

func (l *Launcher) printf(format string, args ...any) {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	fmt.Fprintf(l.out, format, args...)
}

func (l *Launcher) dumpWorkingTree() {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	if err := listTree(l.diag, ".", maxListingEntries); err != nil {
		l.log.Debug("list working tree", zap.Error(err))
	}
}

func (l *Launcher) nullInput() (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.devnull != nil {
		return l.devnull, nil
	}
	f, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	l.devnull = f
	return f, nil
}

// release flushes partial lines and closes every stream and the shared null
// input. It runs once, after Kill, when no wait loop is using the streams.
func (l *Launcher) release() {
	l.releaseOnce.Do(func() {
		children := l.snapshot()
		l.mu.Lock()
		devnull := l.devnull
		l.devnull = nil
		l.mu.Unlock()

		buf := make([]byte, readChunkSize)
		for _, c := range children {
			l.echo(c, buf)
			l.emit(c.label, c.lines.Flush())
			c.closeStream()
		}
		if devnull != nil {
			_ = devnull.Close()
		}
	})
}
