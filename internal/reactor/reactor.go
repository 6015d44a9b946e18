// Package reactor implements spec §4.I: the single-threaded cooperative
// multiplexer that drives every Channel and the native Resolver. Nothing
// in this package blocks except the one call into the Poller — every
// participant's Call()/Channel.Call() must return promptly.
package reactor

import (
	"context"
	"log"
	"time"

	"github.com/nonblock/reacthttp/internal/channel"
	"github.com/nonblock/reacthttp/internal/nettools"
)

// Participant is anything the reactor can poll and dispatch to. Channel
// and the native resolver both satisfy a shape compatible with this after
// a thin adapter (channelParticipant/resolverParticipant below).
type Participant interface {
	FD() int
	WantRead() bool
	WantWrite() bool
	Timeout() time.Duration
	Call(ctx context.Context) error
	Closed() bool
}

// Reactor owns one Poller and a dynamic set of Participants, matching the
// teacher's utils/nettools consumer loop generalized from "wait for one
// writable connection" to "dispatch readiness across many".
type Reactor struct {
	poller       nettools.Poller
	participants map[int]Participant // keyed by a synthetic slot id, not fd (fd can be reused across reconnects)
	nextID       int
	idByFD       map[int]int

	logger *log.Logger
	stop   chan struct{}
	done   chan struct{}
}

func New(logger *log.Logger) (*Reactor, error) {
	p, err := nettools.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "reactor: ", log.LstdFlags)
	}
	return &Reactor{
		poller:       p,
		participants: make(map[int]Participant),
		idByFD:       make(map[int]int),
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Register adds a Participant; it will be polled on the next Run
// iteration once it reports a valid FD (negative FDs are skipped, the
// way resolver.System/HTTPS do, letting goroutine-backed participants
// coexist with truly reactor-driven ones).
func (r *Reactor) Register(p Participant) {
	id := r.nextID
	r.nextID++
	r.participants[id] = p
}

// RegisterChannel wraps a *channel.Channel as a Participant (spec §4.C's
// Call returning a Signal, adapted to the plain-error Call this package's
// loop expects; NeedsReconnect/Closed never themselves count as errors).
func (r *Reactor) RegisterChannel(ch *channel.Channel) {
	r.Register(&channelParticipant{ch: ch})
}

// RunOnce drives one readiness-wait-and-dispatch pass. Run loops on
// RunOnce until Stop is observed (spec §4.I: "the event loop itself is just
// `while running: reactor.run_once()`").
func (r *Reactor) RunOnce(ctx context.Context) error {
	interests := make([]nettools.Interest, 0, len(r.participants))
	r.idByFD = make(map[int]int)
	minTimeout := time.Duration(-1)
	// needsDial holds participants with no FD yet but that want one — an
	// idle Channel about to (re)connect, or a native resolver that hasn't
	// opened its UDP socket. Nothing external ever makes these readable,
	// so the reactor has to drive them itself instead of waiting for a
	// readiness event that will never come (spec §4.C: "idle -> write,
	// to trigger connect").
	needsDial := make(map[int]bool)

	for id, p := range r.participants {
		if p.Closed() {
			delete(r.participants, id)
			continue
		}
		fd := p.FD()
		if fd >= 0 {
			interests = append(interests, nettools.Interest{FD: fd, Read: p.WantRead(), Write: p.WantWrite()})
			r.idByFD[fd] = id
		} else if p.WantRead() || p.WantWrite() {
			needsDial[id] = true
		}
		if t := p.Timeout(); t >= 0 && (minTimeout < 0 || t < minTimeout) {
			minTimeout = t
		}
	}

	waitFor := minTimeout
	if waitFor < 0 {
		waitFor = 200 * time.Millisecond // fd-less participants (timers, goroutine resolvers) still need a tick
	}
	if len(needsDial) > 0 {
		waitFor = 0 // don't block while something is waiting to dial
	}
	ready, err := r.poller.Wait(interests, waitFor)
	if err != nil {
		return err
	}

	fired := make(map[int]bool, len(ready))
	for _, rd := range ready {
		if id, ok := r.idByFD[rd.FD]; ok {
			fired[id] = true
		}
	}
	for id, p := range r.participants {
		if fired[id] || needsDial[id] || (p.Timeout() >= 0 && p.Timeout() <= 0) {
			if err := p.Call(ctx); err != nil {
				r.logger.Printf("participant %d: %v", id, err)
			}
		}
	}
	return nil
}

// Run loops RunOnce until ctx is cancelled or Stop is called.
func (r *Reactor) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Printf("run_once: %v", err)
		}
	}
}

func (r *Reactor) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reactor) Close() error {
	return r.poller.Close()
}

// channelParticipant adapts *channel.Channel's Interest()/Call() (which
// returns a Signal, not an error) to the Participant shape.
type channelParticipant struct {
	ch     *channel.Channel
	closed bool
}

func (c *channelParticipant) FD() int { return c.ch.FD() }
func (c *channelParticipant) WantRead() bool {
	read, _ := c.ch.Interest()
	return read
}
func (c *channelParticipant) WantWrite() bool {
	_, write := c.ch.Interest()
	return write
}
func (c *channelParticipant) Timeout() time.Duration { return -1 }
func (c *channelParticipant) Closed() bool           { return c.closed }

func (c *channelParticipant) Call(ctx context.Context) error {
	switch c.ch.Call(ctx) {
	case channel.SignalClosed:
		c.closed = true
	case channel.SignalNeedsReconnect:
		// stays registered; FD()/Interest() now reflect the fresh,
		// not-yet-connected transport and will redrive open()
	}
	return nil
}
