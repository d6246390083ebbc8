//go:build !windows

package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// child is a tracked process: its label, the exclusively owned command and the
// read end of its merged output stream.
type child struct {
	label   string
	args    []string
	cmd     *exec.Cmd
	pid     int
	tty     bool
	started time.Time

	// Stream state is only touched by the goroutine running the wait loop, or
	// by release once no loop is running.
	stream *os.File
	fd     int
	eof    bool
	lines  lineBuffer

	// Written by reap before done is closed.
	done     chan struct{}
	exitCode int
	exitedAt time.Time
	state    *os.ProcessState

	reported bool
}

// ChildInfo is a point-in-time snapshot of a tracked child.
type ChildInfo struct {
	Label    string
	Args     []string
	PID      int
	TTY      bool
	Started  time.Time
	Running  bool
	ExitCode int
	Exited   time.Time
	UserCPU  time.Duration
	SysCPU   time.Duration
}

func startChild(command Command, path, label string, stdin *os.File, env []string) (*child, error) {
	cmd := exec.Command(path, command.Args[1:]...)
	cmd.Args[0] = command.Args[0]
	cmd.Dir = command.Dir
	cmd.Env = env
	cmd.Stdin = stdin

	var read, write *os.File
	var err error
	if command.TTY {
		read, write, err = pty.Open()
		if err != nil {
			return nil, fmt.Errorf("open pty for %s: %w", label, err)
		}
		// Own session with the pty as controlling terminal; the session leader
		// also leads a process group with pgid == pid.
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true, Ctty: 1}
	} else {
		read, write, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("create output pipe for %s: %w", label, err)
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}
	cmd.Stdout = write
	cmd.Stderr = write

	if err := cmd.Start(); err != nil {
		_ = read.Close()
		_ = write.Close()
		return nil, fmt.Errorf("start %s: %w", label, err)
	}
	_ = write.Close()

	c := &child{
		label:   label,
		args:    append([]string(nil), command.Args...),
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		tty:     command.TTY,
		started: time.Now(),
		stream:  read,
		done:    make(chan struct{}),
	}
	go c.reap()

	c.fd = int(read.Fd())
	if err := unix.SetNonblock(c.fd, true); err != nil {
		_ = c.kill()
		<-c.done
		_ = read.Close()
		return nil, fmt.Errorf("set %s output non-blocking: %w", label, err)
	}
	return c, nil
}

func (c *child) reap() {
	_ = c.cmd.Wait()
	c.state = c.cmd.ProcessState
	c.exitCode = exitCode(c.state)
	c.exitedAt = time.Now()
	close(c.done)
}

// exitCode mirrors the shell view of a wait status: the exit status for a
// normal exit, the negated signal number when the child was killed.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// exited polls the child without blocking.
func (c *child) exited() (int, bool) {
	select {
	case <-c.done:
		return c.exitCode, true
	default:
		return 0, false
	}
}

func (c *child) info() ChildInfo {
	info := ChildInfo{
		Label:   c.label,
		Args:    append([]string(nil), c.args...),
		PID:     c.pid,
		TTY:     c.tty,
		Started: c.started,
		Running: true,
	}
	if code, ok := c.exited(); ok {
		info.Running = false
		info.ExitCode = code
		info.Exited = c.exitedAt
		if c.state != nil {
			info.UserCPU = c.state.UserTime()
			info.SysCPU = c.state.SystemTime()
		}
	}
	return info
}

// read drains whatever is available on the stream and returns the complete
// lines. EAGAIN ends the drain; EOF and EIO (pty master after the slave side
// closed) mark the stream finished.
func (c *child) read(buf []byte) ([]string, error) {
	if c.stream == nil {
		return nil, nil
	}
	var lines []string
	for !c.eof {
		n, err := unix.Read(c.fd, buf)
		switch {
		case err == nil && n > 0:
			lines = append(lines, c.lines.Write(buf[:n])...)
			continue
		case err == nil:
			c.eof = true
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return lines, nil
		case errors.Is(err, unix.EIO):
			c.eof = true
		default:
			return lines, err
		}
	}
	return append(lines, c.lines.Flush()...), nil
}

func (c *child) kill() error {
	if c.pid <= 0 {
		return nil
	}
	err := unix.Kill(-c.pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	if perr := c.cmd.Process.Kill(); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
		return fmt.Errorf("kill %s (pid %d): %w", c.label, c.pid, perr)
	}
	return nil
}

func (c *child) closeStream() {
	if c.stream == nil {
		return
	}
	_ = c.stream.Close()
	c.stream = nil
	c.eof = true
}

// resolveExecutable checks that argv[0] exists. Names with a path separator
// are checked on disk (relative to dir when set, matching how the child is
// executed); bare names are looked up in PATH.
func resolveExecutable(name, dir string) (string, error) {
	if !strings.ContainsRune(name, os.PathSeparator) {
		return exec.LookPath(name)
	}
	candidate := name
	if dir != "" && !filepath.IsAbs(name) {
		candidate = filepath.Join(dir, name)
	}
	if _, err := os.Stat(candidate); err != nil {
		return "", err
	}
	return name, nil
}
