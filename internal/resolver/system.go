package resolver

import (
	"context"
	"net"
	"time"
)

// System delegates to the OS resolver but keeps the reactor non-blocking
// by running each lookup in its own goroutine (spec §4.G: "synchronous
// host lookup delegated to the OS, but scheduled off-reactor"). It never
// registers reactor I/O interest; WantRead/WantWrite are always false and
// Call is a no-op.
type System struct {
	resolver *net.Resolver
}

func NewSystem() *System {
	return &System{resolver: net.DefaultResolver}
}

func (s *System) Lookup(ctx context.Context, host string) Waiter {
	w := make(Waiter, 1)
	go func() {
		addrs, err := s.resolver.LookupIP(ctx, "ip", host)
		w <- Result{Addrs: addrs, Err: err}
	}()
	return w
}

func (s *System) FD() int              { return -1 }
func (s *System) WantRead() bool       { return false }
func (s *System) WantWrite() bool      { return false }
func (s *System) Timeout() time.Duration { return -1 }
func (s *System) Call() error          { return nil }
func (s *System) Close() error         { return nil }
