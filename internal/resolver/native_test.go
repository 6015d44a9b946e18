package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestCacheHitAnswersWithoutQueuingAQuery(t *testing.T) {
	// spec §8 testable property 6: two sequential lookups for a cached
	// host produce no wire traffic — here, no entry in n.pending/n.inflight.
	n := NewNative([]string{"127.0.0.1:1"}, 512, []time.Duration{5 * time.Second}, nil)
	n.cache["example.test"] = cacheEntry{
		addrs:   []net.IP{net.ParseIP("203.0.113.5")},
		expires: time.Now().Add(time.Minute),
	}

	w := n.Lookup(context.Background(), "example.test")
	select {
	case res := <-w:
		require.NoError(t, res.Err)
		require.Equal(t, []net.IP{net.ParseIP("203.0.113.5")}, res.Addrs)
	default:
		t.Fatal("cache hit must answer synchronously on a buffered Waiter")
	}
	require.Empty(t, n.pending, "a cache hit must not enqueue a wire query")
	require.Empty(t, n.inflight)
}

func TestCacheMissQueuesOneInflightQueryForConcurrentLookups(t *testing.T) {
	n := NewNative([]string{"127.0.0.1:1"}, 512, []time.Duration{5 * time.Second}, nil)

	w1 := n.Lookup(context.Background(), "example.test")
	w2 := n.Lookup(context.Background(), "example.test")

	require.Len(t, n.pending, 1, "only the first lookup enqueues a wire query")
	require.Len(t, n.inflight, 1)
	require.Len(t, n.inflight["example.test"].waiters, 2, "the second lookup piggybacks on the first")

	select {
	case <-w1:
		t.Fatal("waiter must not fire before the resolver is driven")
	default:
	}
	select {
	case <-w2:
		t.Fatal("waiter must not fire before the resolver is driven")
	default:
	}
}

func TestDefaultRecordTypesAndTimeouts(t *testing.T) {
	n := NewNative([]string{"127.0.0.1:1"}, 0, nil, nil)
	require.Equal(t, 512, n.packetSize)
	require.Equal(t, []time.Duration{5 * time.Second}, n.timeouts)
	require.Equal(t, []string{"A", "AAAA"}, n.recordTypes)
}

// TestRetriesTwiceThenFailsOnBlackHoledNameserver covers spec §8 testable
// property 5: with timeouts [0.1s, 0.1s] and a nameserver that never
// answers, the query fails with a timeout error after exactly 2 send
// attempts. A clock.Mock drives the retry schedule deterministically
// instead of sleeping in real time.
func TestRetriesTwiceThenFailsOnBlackHoledNameserver(t *testing.T) {
	mc := clock.NewMock()
	timeouts := []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}
	n := newNativeWithClock([]string{"127.0.0.1:1"}, 512, timeouts, nil, mc)
	defer n.Close()

	w := n.Lookup(context.Background(), "example.test")

	require.NoError(t, n.Call()) // opens the socket, sends attempt #1
	require.Equal(t, 1, n.inflight["example.test"].attempt)

	mc.Add(150 * time.Millisecond)
	require.NoError(t, n.Call()) // notices the first timeout, queues a retry
	require.NoError(t, n.Call()) // sends attempt #2
	require.Equal(t, 2, n.inflight["example.test"].attempt)

	select {
	case <-w:
		t.Fatal("must not resolve before the retry schedule is exhausted")
	default:
	}

	mc.Add(150 * time.Millisecond)
	require.NoError(t, n.Call()) // notices the second timeout; no attempts left

	select {
	case res := <-w:
		require.Equal(t, ErrResolveTimeout, res.Err)
	default:
		t.Fatal("expected the waiter to receive a timeout error after exhausting retries")
	}
	require.Empty(t, n.inflight)
}

// TestTimeoutReflectsElapsedTimeWithoutACall guards the bug where
// Timeout() reported a value only tick() (inside Call) ever decremented,
// so the reactor never learned a deadline had passed on a tick where this
// resolver's fd wasn't already ready.
func TestTimeoutReflectsElapsedTimeWithoutACall(t *testing.T) {
	mc := clock.NewMock()
	n := newNativeWithClock([]string{"127.0.0.1:1"}, 512, []time.Duration{100 * time.Millisecond}, nil, mc)
	defer n.Close()

	n.Lookup(context.Background(), "example.test")
	require.Equal(t, 100*time.Millisecond, n.Timeout())

	mc.Add(150 * time.Millisecond)
	require.Zero(t, n.Timeout(), "an overdue deadline must clamp to zero, not report negative")
}
