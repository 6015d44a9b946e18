// Package channel implements spec §4.C/§4.F: a Channel couples one
// Transport to one protocol Engine, owns the read/write Buffers, computes
// reactor interest, and implements the close/recycle discipline that makes
// peer-initiated connection loss non-fatal for idempotent requests.
package channel

import (
	"context"
	"sync"

	"github.com/nonblock/reacthttp/internal/buffer"
	reacterrors "github.com/nonblock/reacthttp/internal/errors"
	"github.com/nonblock/reacthttp/internal/model"
	"github.com/nonblock/reacthttp/internal/transport"

	pkgerrors "github.com/pkg/errors"
)

// State is a Channel's connection lifecycle (spec §3).
type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosed
)

// Signal is the structured return value call() bubbles up, replacing the
// throw/catch close signalling the teacher's framing layer used
// (REDESIGN FLAGS §9).
type Signal int

const (
	SignalContinue Signal = iota
	SignalClosed
	SignalNeedsReconnect
)

// Engine is the capability set both the HTTP/1.1 and HTTP/2 engines
// implement; the Channel never knows which one it's driving (REDESIGN
// FLAGS §9: explicit adapter, no open method routing).
type Engine interface {
	// Consume hands newly-read bytes to the engine's parser; it returns
	// the number of bytes it consumed from p (the Channel drops them
	// from read_buf) and any protocol error.
	Consume(p []byte) (int, error)
	// Drain asks the engine to write as much as it can into w; it
	// respects w's back-pressure (spec §4.E: saves undrained chunks and
	// yields when full).
	Drain(w *buffer.Buffer) error
	// Enqueue binds a request to the engine (HTTP/1.1: the pipeline
	// queue; HTTP/2: a freshly allocated stream once under the
	// concurrency cap).
	Enqueue(req *model.PreparedRequest) error
	// Pending reports whether the engine still holds requests that
	// haven't completed — the Channel's close discipline consults this.
	Pending() bool
	// OnPeerClose tells the engine the transport is gone; it should fail
	// in-flight requests it cannot recover and report the rest via
	// Pending/Drain of a recycle path.
	OnPeerClose(err error)
	// Reset reinitializes engine state for a fresh Transport after
	// reconnect (spec §4.F: "reset engine via reenqueue!").
	Reset()
	// Outstanding returns the requests the engine could not finish, to
	// be replayed on a fresh Channel.
	Outstanding() []*model.PreparedRequest
}

// Channel couples one Transport to one Engine (spec §3/§4.C).
//
// Send is called from whichever goroutine issued the request
// (session.roundTrip), while Call is invoked by the reactor's own
// goroutine (reactor.Run) on every poll tick — both touch state,
// pending, Transport and Engine, so mu serializes them. mu also guards
// the read-only accessors (State/Protocol/FD) the Pool calls from the
// caller's goroutine while a Checkout races an in-progress Call.
type Channel struct {
	Transport transport.Transport
	Engine    Engine

	ReadBuf, WriteBuf *buffer.Buffer
	pending           []*model.PreparedRequest

	mu    sync.Mutex
	state State
	err   error

	dial       func(ctx context.Context) (transport.Transport, error)
	pickEngine func(protocol string) Engine
}

const defaultBufSize = 64 << 10

// New creates an idle Channel bound to a fixed Engine (HTTP/1.1 over
// plain TCP, where the protocol is known before any byte is sent).
func New(engine Engine, dial func(ctx context.Context) (transport.Transport, error)) *Channel {
	return &Channel{
		Engine:   engine,
		ReadBuf:  buffer.New(defaultBufSize),
		WriteBuf: buffer.New(defaultBufSize),
		dial:     dial,
		state:    StateIdle,
	}
}

// NewNegotiated creates an idle Channel whose Engine is chosen only once
// the Transport reports which protocol ALPN settled on (spec §4.F/§9.1:
// "coalescing ... only after the certificate is verified to cover the
// target host" happens at the same moment a TLS Transport's protocol
// becomes known). pickEngine receives "h2" or "http/1.1".
func NewNegotiated(pickEngine func(protocol string) Engine, dial func(ctx context.Context) (transport.Transport, error)) *Channel {
	return &Channel{
		ReadBuf:    buffer.New(defaultBufSize),
		WriteBuf:   buffer.New(defaultBufSize),
		dial:       dial,
		pickEngine: pickEngine,
		state:      StateIdle,
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interest computes reactor readiness interest per spec §4.C's algorithm.
// Only the reactor goroutine calls this, but it reads state, which Send
// also mutates, so it still takes mu.
func (c *Channel) Interest() (read, write bool) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	switch {
	case state == StateIdle:
		return false, true // want to trigger connect
	case c.ReadBuf.Full():
		return false, true
	case c.WriteBuf.Empty():
		return true, false
	default:
		return true, true
	}
}

func (c *Channel) FD() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Transport == nil {
		return -1
	}
	return c.Transport.FD()
}

// Send enqueues req onto the engine immediately if connected and not
// back-pressured; otherwise it queues in pending, drained FIFO once the
// engine becomes available (spec §4.C send contract). It holds mu for
// its whole body, including a first-time open(), because it runs on the
// caller's goroutine concurrently with the reactor goroutine's Call on
// the same Channel (spec §4.I's single-threaded guarantee covers the
// engine/transport state machine, not this handoff).
func (c *Channel) Send(ctx context.Context, req *model.PreparedRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return pkgerrors.New("channel: send on closed channel")
	}
	if c.state == StateIdle {
		if err := c.openLocked(ctx); err != nil {
			return err
		}
	}
	if c.state == StateOpen && !c.WriteBuf.Full() {
		if err := c.Engine.Enqueue(req); err == nil {
			return nil
		}
	}
	c.pending = append(c.pending, req)
	return nil
}

// openLocked requires mu to already be held by the caller (Send or Call).
func (c *Channel) openLocked(ctx context.Context) error {
	if c.Transport == nil {
		t, err := c.dial(ctx)
		if err != nil {
			return reacterrors.Wrap(reacterrors.KindConnect, err, "channel: dial")
		}
		c.Transport = t
	}
	if err := c.Transport.Connect(ctx); err != nil {
		return reacterrors.Wrap(reacterrors.KindConnect, err, "channel: connect")
	}
	if c.Transport.State() == transport.StateNegotiated {
		if c.Engine == nil && c.pickEngine != nil {
			c.Engine = c.pickEngine(c.Transport.Protocol())
		}
		c.state = StateOpen
		for _, req := range c.pending {
			_ = c.Engine.Enqueue(req)
		}
		c.pending = c.pending[:0]
	}
	return nil
}

// Protocol reports the negotiated wire protocol once known, empty string
// before that (spec §4.G: the Pool's HTTP/2 coalescing check consults
// this before routing another host's request onto this Channel).
func (c *Channel) Protocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Transport == nil {
		return ""
	}
	return c.Transport.Protocol()
}

// CanCoalesce reports whether host can be routed onto this Channel
// instead of opening a new one (spec §4.H/§9.1: HTTP/2 only, and only
// once the peer's certificate is confirmed to cover host). isH2Candidate
// and coversHost are injected by the Pool (which knows about
// *http2.Engine and TLS certificates; this package doesn't) so the
// Engine/Transport read happens under the same lock Call/Send use to
// mutate them, instead of the Pool reading c.Engine/c.Transport directly
// and racing a reconnect.
func (c *Channel) CanCoalesce(isH2Candidate func(Engine) bool, coversHost func(transport.Transport, string) bool, host string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Transport == nil || c.Engine == nil {
		return false
	}
	return isH2Candidate(c.Engine) && coversHost(c.Transport, host)
}

// Call is the reactor callback (spec §4.C): read as much as possible,
// hand bytes to the engine, then drain the write buffer onto the
// transport. A failure on either side triggers the close discipline. It
// holds mu for its whole body so Send from another goroutine never
// observes or mutates state, pending, Transport or Engine mid-Call.
func (c *Channel) Call(ctx context.Context) Signal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateIdle {
		if err := c.openLocked(ctx); err != nil {
			return c.failLocked(err)
		}
		return SignalContinue
	}

	buf := make([]byte, 16<<10)
	for !c.ReadBuf.Full() {
		n, err := c.Transport.Read(buf)
		if n > 0 {
			if appendErr := c.ReadBuf.Append(buf[:n]); appendErr != nil {
				break
			}
		}
		if err != nil {
			return c.failLocked(err)
		}
		if n == 0 {
			break
		}
	}

	if c.ReadBuf.Len() > 0 {
		n, err := c.Engine.Consume(c.ReadBuf.View())
		if n > 0 {
			c.ReadBuf.Consume(n)
		}
		if err != nil {
			return c.failLocked(err)
		}
	}

	for len(c.pending) > 0 {
		if err := c.Engine.Enqueue(c.pending[0]); err != nil {
			break // engine busy: keep the rest, in order, for a later Call
		}
		c.pending = c.pending[1:]
	}

	if err := c.Engine.Drain(c.WriteBuf); err != nil {
		return c.failLocked(err)
	}
	if !c.WriteBuf.Empty() {
		n, err := c.Transport.Write(c.WriteBuf.View())
		if n > 0 {
			c.WriteBuf.Consume(n)
		}
		if err != nil {
			return c.failLocked(err)
		}
	}
	return SignalContinue
}

// failLocked requires mu to already be held by the caller (Call, fail).
func (c *Channel) failLocked(err error) Signal {
	c.Engine.OnPeerClose(err)
	return c.closeLocked()
}

// fail is exposed for tests exercising the close discipline directly,
// without going through a full Call.
func (c *Channel) fail(err error) Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failLocked(err)
}

// Close asks the engine whether it still holds requests (spec §4.F). If
// not, it tears the transport down for good. If it does, it drops the
// transport, resets the engine, returns the Channel to idle and appends
// every outstanding request to pending; the next Call or Send dials a
// fresh transport and
// enqueues them again, making peer-initiated loss non-fatal for
// idempotent requests.
func (c *Channel) Close() Signal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// closeLocked requires mu to already be held by the caller (Close, fail).
func (c *Channel) closeLocked() Signal {
	if c.Transport != nil {
		_ = c.Transport.Close()
		c.Transport = nil
	}
	if !c.Engine.Pending() {
		c.state = StateClosed
		c.ReadBuf.Clear()
		c.WriteBuf.Clear()
		return SignalClosed
	}

	outstanding := c.Engine.Outstanding()
	c.Engine.Reset()
	c.state = StateIdle
	c.ReadBuf.Clear()
	c.WriteBuf.Clear()
	c.pending = append(c.pending, outstanding...)
	return SignalNeedsReconnect
}
