//go:build darwin || linux

package nettools

import (
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	ctors[ModePoll] = func() (Poller, error) { return &pollPoller{}, nil }
}

// pollPoller multiplexes readiness with a plain unix.Poll call per Wait,
// the same syscall the teacher package used to find a single writable
// connection; here it's generalized to many fds, each with independent
// read/write interest.
type pollPoller struct{}

func (*pollPoller) Wait(interests []Interest, timeout time.Duration) ([]Ready, error) {
	fds := make([]unix.PollFd, 0, len(interests))
	for _, in := range interests {
		if in.FD < 0 {
			continue
		}
		var events int16
		if in.Read {
			events |= unix.POLLIN
		}
		if in.Write {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(in.FD), Events: events})
	}
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, ms)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]Ready, 0, n)
	for _, pf := range fds {
		if pf.Revents == 0 {
			continue
		}
		out = append(out, Ready{
			FD:    int(pf.Fd),
			Read:  pf.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			Write: pf.Revents&(unix.POLLOUT|unix.POLLERR) != 0,
		})
	}
	return out, nil
}

func (*pollPoller) Close() error { return nil }
