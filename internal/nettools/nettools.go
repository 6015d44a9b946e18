// Package nettools supplies the readiness-multiplexing primitive the
// reactor polls on: given a set of file descriptors and, for each, whether
// the caller wants read and/or write readiness, block until at least one
// is ready or a timeout elapses. It picks the best mechanism the platform
// offers (epoll, then poll, then select) the same way the teacher package
// this was adapted from picked a write-readiness mechanism, by racing
// init-time registrations and keeping the first that compiled for the
// current GOOS.
package nettools

import (
	"net"
	"syscall"
	"time"
)

// Mode identifies a readiness-multiplexing mechanism.
type Mode int

const (
	ModeEpoll Mode = iota
	ModePoll
	ModeSelect
)

// Interest records which readiness events are wanted for one descriptor.
type Interest struct {
	FD    int
	Read  bool
	Write bool
}

// Ready records which readiness events fired for one descriptor.
type Ready struct {
	FD            int
	Read, Write   bool
	Err           error
}

// Poller multiplexes readiness across a dynamic set of descriptors.
type Poller interface {
	// Wait blocks until one of the interests is ready or timeout elapses
	// (timeout < 0 means block indefinitely). It returns the subset that
	// fired.
	Wait(interests []Interest, timeout time.Duration) ([]Ready, error)
	Close() error
}

var ctors = map[Mode]func() (Poller, error){}

// New picks the best available Poller for the current platform.
func New() (Poller, error) {
	for _, mode := range []Mode{ModeEpoll, ModePoll, ModeSelect} {
		if ctor, ok := ctors[mode]; ok {
			if p, err := ctor(); err == nil {
				return p, nil
			}
		}
	}
	return newBusyPoller(), nil
}

// busyPoller is the zero-dependency fallback: it reports every descriptor
// as ready so callers fall back to non-blocking syscalls directly and spin.
// Only used if the platform offers none of epoll/poll/select, which in
// practice never happens on darwin/linux/bsd.
type busyPoller struct{}

func newBusyPoller() Poller { return busyPoller{} }

func (busyPoller) Wait(interests []Interest, timeout time.Duration) ([]Ready, error) {
	if timeout > 0 {
		time.Sleep(timeout)
	}
	out := make([]Ready, 0, len(interests))
	for _, in := range interests {
		out = append(out, Ready{FD: in.FD, Read: in.Read, Write: in.Write})
	}
	return out, nil
}

func (busyPoller) Close() error { return nil }

// FD extracts the raw file descriptor backing a net.Conn, unwrapping TLS
// and other decorators that expose NetConn(). Returns -1 if none is found
// (e.g. an in-memory pipe used in tests).
func FD(c net.Conn) int {
	type netConner interface{ NetConn() net.Conn }
	for {
		if nc, ok := c.(netConner); ok {
			c = nc.NetConn()
			continue
		}
		break
	}
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(p uintptr) { fd = int(p) })
	return fd
}
