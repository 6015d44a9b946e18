package reactor

import (
	"context"
	"time"

	"github.com/nonblock/reacthttp/internal/resolver"
)

// resolverParticipant adapts resolver.Resolver to Participant. System and
// HTTPS resolvers report FD()==-1 and Timeout()==-1, so RunOnce never
// calls them directly — their goroutines post straight to each lookup's
// Waiter. The native resolver is driven the same as any Channel.
type resolverParticipant struct {
	r resolver.Resolver
}

// RegisterResolver wires a native resolver into the reactor so its UDP
// socket gets polled and its retry timers fire (spec §4.G/§4.I).
func (rt *Reactor) RegisterResolver(r resolver.Resolver) {
	rt.Register(&resolverParticipant{r: r})
}

func (p *resolverParticipant) FD() int                { return p.r.FD() }
func (p *resolverParticipant) WantRead() bool         { return p.r.WantRead() }
func (p *resolverParticipant) WantWrite() bool        { return p.r.WantWrite() }
func (p *resolverParticipant) Timeout() time.Duration { return p.r.Timeout() }
func (p *resolverParticipant) Closed() bool           { return false }
func (p *resolverParticipant) Call(ctx context.Context) error {
	_ = ctx
	return p.r.Call()
}
