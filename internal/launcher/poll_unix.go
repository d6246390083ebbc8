//go:build !windows

package launcher

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// pollStreams waits up to timeout for any of the children's streams to become
// readable and returns the ready ones in launch order. Hang-ups count as ready
// so the following read observes end-of-stream. Interrupted polls report no
// readiness.
func pollStreams(children []*child, timeout time.Duration) ([]*child, error) {
	if len(children) == 0 {
		time.Sleep(timeout)
		return nil, nil
	}
	fds := make([]unix.PollFd, len(children))
	for i, c := range children {
		fds[i] = unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN}
	}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	ready := make([]*child, 0, n)
	for i, fd := range fds {
		if fd.Revents == 0 {
			continue
		}
		if fd.Revents&unix.POLLNVAL != 0 {
			children[i].eof = true
			continue
		}
		ready = append(ready, children[i])
	}
	return ready, nil
}
