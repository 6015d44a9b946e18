//go:build linux

package nettools

import (
	"time"

	"golang.org/x/sys/unix"
)

func init() {
	ctors[ModeEpoll] = newEpollPoller
}

// epollPoller is the preferred mechanism on Linux: O(ready) instead of
// O(registered) per Wait call, which matters once a Session holds hundreds
// of pooled channels.
type epollPoller struct {
	fd int
}

func newEpollPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func (p *epollPoller) Wait(interests []Interest, timeout time.Duration) ([]Ready, error) {
	// Re-synchronize the interest list every tick; the reactor's
	// participant set (and each participant's wanted events) changes
	// tick to tick, and re-registering unconditionally is simpler and
	// cheap enough than diffing against the previous tick's set.
	for _, in := range interests {
		if in.FD < 0 {
			continue
		}
		var events uint32
		if in.Read {
			events |= unix.EPOLLIN
		}
		if in.Write {
			events |= unix.EPOLLOUT
		}
		ev := unix.EpollEvent{Events: events, Fd: int32(in.FD)}
		if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, in.FD, &ev); err != nil {
			_ = unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, in.FD, &ev)
		}
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	events := make([]unix.EpollEvent, len(interests)+1)
	n, err := unix.EpollWait(p.fd, events, ms)
	if err != nil && err != unix.EINTR {
		return nil, err
	}
	out := make([]Ready, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Ready{
			FD:    int(events[i].Fd),
			Read:  events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			Write: events[i].Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0,
		})
	}
	return out, nil
}

func (p *epollPoller) Close() error { return unix.Close(p.fd) }
