package resolver

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	pkgerrors "github.com/pkg/errors"
)

// Native is the from-scratch UDP DNS client of spec §4.G. It is itself a
// reactor participant: Lookup never blocks, it either serves the cache
// immediately or queues the host and lets the reactor drive socket I/O
// through Call.
type Native struct {
	state int // idle|open|closed, mirrors spec §3's Channel-like lifecycle

	nameservers []string
	nsIndex     int
	packetSize  int
	timeouts    []time.Duration
	recordTypes []string

	mu    sync.Mutex
	cache map[string]cacheEntry

	conn    net.PacketConn
	pending []*Query          // hosts queued before the socket exists
	inflight map[string]*hostState // created on first query for host, removed on resolve/error
	nextID  uint16

	// clock is read via Timeout()/tick() instead of a manually decremented
	// countdown, so a query's deadline reflects real elapsed wall-clock
	// time even between reactor Call() invocations (fixes the resolver
	// never being driven past its first idle tick); benbjohnson/clock lets
	// tests substitute a clock.Mock and advance it deterministically
	// instead of sleeping (spec §8 testable property 5).
	clock clock.Clock
}

// hostState is one host's in-progress resolution: the remaining record
// types to try, the retry deadline for the current attempt, and every
// Query waiting on the answer (CNAME chases re-key into a fresh hostState
// for the alias, which may immediately hit the cache).
type hostState struct {
	host        string
	recordTypes []string
	deadline    time.Time // when the current attempt's timeout expires
	attempt     int
	id          uint16
	waiters     []*Query
}

const nativeStateIdle = 0
const nativeStateOpen = 1
const nativeStateClosed = 2

func NewNative(nameservers []string, packetSize int, timeouts []time.Duration, recordTypes []string) *Native {
	return newNativeWithClock(nameservers, packetSize, timeouts, recordTypes, clock.New())
}

// newNativeWithClock is what tests use to substitute a clock.Mock; the
// exported constructor above always uses the real wall clock.
func newNativeWithClock(nameservers []string, packetSize int, timeouts []time.Duration, recordTypes []string, c clock.Clock) *Native {
	if packetSize <= 0 {
		packetSize = 512
	}
	if len(timeouts) == 0 {
		timeouts = []time.Duration{5 * time.Second}
	}
	if len(recordTypes) == 0 {
		recordTypes = []string{"A", "AAAA"}
	}
	return &Native{
		nameservers: nameservers,
		packetSize:  packetSize,
		timeouts:    timeouts,
		recordTypes: recordTypes,
		cache:       map[string]cacheEntry{},
		inflight:    map[string]*hostState{},
		clock:       c,
	}
}

func (n *Native) Lookup(ctx context.Context, host string) Waiter {
	w := make(Waiter, 1)
	n.mu.Lock()
	if e, ok := n.cache[host]; ok && e.valid(time.Now()) {
		n.mu.Unlock()
		w <- Result{Addrs: e.addrs}
		return w
	}
	q := &Query{Host: host, RecordTypes: append([]string(nil), n.recordTypes...), Waiter: w}
	if hs, ok := n.inflight[host]; ok {
		hs.waiters = append(hs.waiters, q)
		n.mu.Unlock()
		return w
	}
	n.inflight[host] = &hostState{
		host:        host,
		recordTypes: q.RecordTypes,
		deadline:    n.clock.Now().Add(n.timeouts[0]),
		waiters:     []*Query{q},
	}
	n.mu.Unlock()
	n.pending = append(n.pending, q)
	return w
}

// FD/WantRead/WantWrite mirror the Channel interest computation of spec
// §4.C: write-only while idle (to trigger the socket dial), otherwise
// read (and write if something is queued to send).
func (n *Native) FD() int {
	if n.conn == nil {
		return -1
	}
	sc, ok := n.conn.(syscall.Conn)
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

func (n *Native) WantRead() bool  { return n.state == nativeStateOpen }
func (n *Native) WantWrite() bool { return n.state == nativeStateIdle || len(n.pending) > 0 }

// Timeout reports how long until the soonest in-flight host's deadline
// expires, computed live against n.clock rather than a value decremented
// only inside Call — so the reactor can tell a timeout has already
// elapsed (a zero duration) even on a tick where this
// resolver's FD was never ready, and drive a retry (spec §4.G/§4.I).
func (n *Native) Timeout() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.inflight) == 0 {
		return -1
	}
	now := n.clock.Now()
	min := time.Duration(-1)
	for _, hs := range n.inflight {
		d := hs.deadline.Sub(now)
		if d < 0 {
			d = 0 // already overdue; the reactor must call us this tick
		}
		if min < 0 || d < min {
			min = d
		}
	}
	return min
}

// Call is the reactor callback: dial the socket if idle, flush pending
// queries, read any answers, and age every in-flight host's timeout.
func (n *Native) Call() error {
	if n.state == nativeStateClosed {
		return pkgerrors.New("resolver: call on closed resolver")
	}
	if n.state == nativeStateIdle {
		if len(n.nameservers) == 0 {
			n.failAll(ErrNoNameserver)
			return nil
		}
		conn, err := net.ListenPacket("udp", ":0")
		if err != nil {
			n.failAll(err)
			return err
		}
		n.conn = conn
		n.state = nativeStateOpen
	}

	for _, q := range n.pending {
		n.send(q.Host)
	}
	n.pending = n.pending[:0]

	// A past deadline turns ReadFrom into a non-blocking drain: a
	// datagram already queued by the kernel still gets read, but once
	// nothing is left, ReadFrom returns immediately instead of parking
	// this goroutine — Call must never block (spec §4.I/§5).
	_ = n.conn.SetReadDeadline(n.clock.Now())
	buf := make([]byte, n.packetSize)
	for {
		nr, _, err := n.conn.ReadFrom(buf)
		if err != nil {
			if isTimeoutOrWouldBlock(err) {
				break
			}
			if isHostUnreachable(err) {
				n.advanceNameserver()
				break
			}
			break
		}
		n.handleReply(buf[:nr])
	}

	n.tick()
	return nil
}

var ErrNoNameserver = pkgerrors.New("resolver: no nameserver configured")

func (n *Native) send(host string) {
	n.mu.Lock()
	hs := n.inflight[host]
	n.mu.Unlock()
	if hs == nil || len(n.nameservers) == 0 {
		return
	}
	qtype := recordType(hs.recordTypes[0])
	n.nextID++
	hs.id = n.nextID
	msg := encodeQuery(hs.id, host, qtype)
	ns := n.nameservers[n.nsIndex%len(n.nameservers)]
	addr, err := net.ResolveUDPAddr("udp", ns)
	if err != nil {
		return
	}
	_ = n.conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
	_, _ = n.conn.WriteTo(msg, addr)
	hs.attempt++
}

func (n *Native) handleReply(buf []byte) {
	msg, err := decodeMessage(buf)
	if err != nil {
		return
	}
	n.mu.Lock()
	var target *hostState
	for _, hs := range n.inflight {
		if hs.id == msg.id {
			target = hs
			break
		}
	}
	n.mu.Unlock()
	if target == nil {
		return
	}

	addrs, cname := addrsFromAnswers(msg.answers)
	switch {
	case cname != "":
		n.chase(target, cname)
	case len(addrs) > 0:
		n.resolve(target, addrs)
	default:
		n.popRecordType(target)
	}
}

// chase re-issues resolution for a CNAME alias; a cache hit on the alias
// answers immediately (spec §4.G).
func (n *Native) chase(target *hostState, alias string) {
	n.mu.Lock()
	delete(n.inflight, target.host)
	if e, ok := n.cache[alias]; ok && e.valid(time.Now()) {
		waiters := target.waiters
		n.mu.Unlock()
		for _, w := range waiters {
			w.Waiter <- Result{Addrs: e.addrs}
		}
		return
	}
	if hs, ok := n.inflight[alias]; ok {
		hs.waiters = append(hs.waiters, target.waiters...)
		n.mu.Unlock()
		return
	}
	n.inflight[alias] = &hostState{
		host:        alias,
		recordTypes: target.recordTypes,
		deadline:    n.clock.Now().Add(n.timeouts[0]),
		waiters:     target.waiters,
	}
	n.mu.Unlock()
	n.pending = append(n.pending, &Query{Host: alias})
}

func (n *Native) popRecordType(target *hostState) {
	target.recordTypes = target.recordTypes[1:]
	if len(target.recordTypes) == 0 {
		n.fail(target, ErrResolveExhausted)
		return
	}
	target.attempt = 0
	target.deadline = n.clock.Now().Add(n.timeouts[0])
	n.pending = append(n.pending, &Query{Host: target.host})
}

var ErrResolveExhausted = pkgerrors.New("resolver: exhausted record types")

func (n *Native) resolve(target *hostState, addrs []net.IP) {
	n.mu.Lock()
	n.cache[target.host] = cacheEntry{addrs: addrs, expires: time.Now().Add(30 * time.Second)}
	delete(n.inflight, target.host)
	waiters := target.waiters
	n.mu.Unlock()
	for _, w := range waiters {
		w.Waiter <- Result{Addrs: addrs}
	}
}

func (n *Native) fail(target *hostState, err error) {
	n.mu.Lock()
	delete(n.inflight, target.host)
	waiters := target.waiters
	n.mu.Unlock()
	for _, w := range waiters {
		w.Waiter <- Result{Err: err}
	}
}

func (n *Native) failAll(err error) {
	n.mu.Lock()
	all := n.inflight
	n.inflight = map[string]*hostState{}
	n.mu.Unlock()
	for _, hs := range all {
		for _, w := range hs.waiters {
			w.Waiter <- Result{Err: err}
		}
	}
}

// tick checks each in-flight host's deadline against n.clock; once it has
// passed (spec §4.G retry rule), it either schedules a retry with the next
// timeout in the schedule or gives up.
func (n *Native) tick() {
	n.mu.Lock()
	now := n.clock.Now()
	hosts := make([]*hostState, 0, len(n.inflight))
	for _, hs := range n.inflight {
		hosts = append(hosts, hs)
	}
	n.mu.Unlock()

	for _, hs := range hosts {
		if hs.deadline.After(now) {
			continue
		}
		if hs.attempt < len(n.timeoutsForHost(hs)) {
			hs.deadline = now.Add(n.timeoutsForHost(hs)[hs.attempt])
			n.pending = append(n.pending, &Query{Host: hs.host})
			continue
		}
		n.fail(hs, ErrResolveTimeout)
	}
}

func (n *Native) timeoutsForHost(*hostState) []time.Duration { return n.timeouts }

var ErrResolveTimeout = pkgerrors.New("resolver: timed out after retries")

func (n *Native) advanceNameserver() {
	n.nsIndex++
	if n.nsIndex >= len(n.nameservers) {
		n.failAll(ErrNoNameserver)
	}
}

func (n *Native) Close() error {
	n.state = nativeStateClosed
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

func isTimeoutOrWouldBlock(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return err == syscall.EAGAIN || err == syscall.EWOULDBLOCK
}

func isHostUnreachable(err error) bool {
	return pkgerrors.Cause(err) == syscall.EHOSTUNREACH
}

var _ = rand.Int // reserved for future nameserver shuffling
