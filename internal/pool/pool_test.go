package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nonblock/reacthttp/internal/channel"
	"github.com/nonblock/reacthttp/internal/model"
	"github.com/nonblock/reacthttp/internal/resolver"
)

type noopResolver struct{ calls int }

func (r *noopResolver) Lookup(ctx context.Context, host string) resolver.Waiter {
	r.calls++
	w := make(resolver.Waiter, 1)
	w <- resolver.Result{Err: nil}
	return w
}
func (r *noopResolver) FD() int                    { return -1 }
func (r *noopResolver) WantRead() bool             { return false }
func (r *noopResolver) WantWrite() bool            { return false }
func (r *noopResolver) Timeout() time.Duration     { return 0 }
func (r *noopResolver) Call() error                { return nil }
func (r *noopResolver) Close() error               { return nil }

func preparedFor(t *testing.T, uri string) *model.PreparedRequest {
	t.Helper()
	req := &model.Request{Verb: model.VerbGet, URI: uri, Header: map[string][]string{}}
	pr, err := req.Prepare()
	require.NoError(t, err)
	return pr
}

func TestCheckoutReusesChannelForSameKey(t *testing.T) {
	var registered []*channel.Channel
	p := New(&noopResolver{}, nil, true, 1<<16, func(ch *channel.Channel) {
		registered = append(registered, ch)
	})

	req := preparedFor(t, "http://198.51.100.1:8080/a")
	ch1, err := p.Checkout(context.Background(), req, Callbacks{})
	require.NoError(t, err)
	ch2, err := p.Checkout(context.Background(), req, Callbacks{})
	require.NoError(t, err)

	require.Same(t, ch1, ch2, "same (scheme,host,port) must reuse the Channel")
	require.Len(t, registered, 1, "the second Checkout must not register a new channel")
}

func TestCheckoutDistinguishesPortAndScheme(t *testing.T) {
	p := New(&noopResolver{}, nil, true, 1<<16, nil)

	httpReq := preparedFor(t, "http://198.51.100.1/a")
	httpsReq := preparedFor(t, "https://198.51.100.1/a")
	otherPortReq := preparedFor(t, "http://198.51.100.1:9000/a")

	chHTTP, err := p.Checkout(context.Background(), httpReq, Callbacks{})
	require.NoError(t, err)
	chHTTPS, err := p.Checkout(context.Background(), httpsReq, Callbacks{})
	require.NoError(t, err)
	chPort, err := p.Checkout(context.Background(), otherPortReq, Callbacks{})
	require.NoError(t, err)

	require.NotSame(t, chHTTP, chHTTPS)
	require.NotSame(t, chHTTP, chPort)
}

func TestRemoveEvictsPinnedAddressAndKey(t *testing.T) {
	p := New(&noopResolver{}, nil, true, 1<<16, nil)
	req := preparedFor(t, "http://example.test:80/a")

	ch, err := p.Checkout(context.Background(), req, Callbacks{})
	require.NoError(t, err)

	p.mu.Lock()
	_, hasKey := p.byKey[key{Scheme: "http", Host: "example.test", Port: "80"}]
	p.mu.Unlock()
	require.True(t, hasKey)

	p.Remove(ch)

	p.mu.Lock()
	_, stillHasKey := p.byKey[key{Scheme: "http", Host: "example.test", Port: "80"}]
	p.mu.Unlock()
	require.False(t, stillHasKey, "Remove must drop the pool's key entry")

	// a fresh Checkout after Remove must allocate a new Channel, not reuse
	// the evicted one.
	ch2, err := p.Checkout(context.Background(), req, Callbacks{})
	require.NoError(t, err)
	require.NotSame(t, ch, ch2)
}

func TestPinStoresAndEvictsPerKey(t *testing.T) {
	// Exercises the reconnect-without-reresolving bookkeeping (DESIGN.md
	// "Architecture decisions") without driving a real dial: Channel.Call
	// running on the reactor goroutine must never block on DNS, so a
	// resolved address is pinned once and reused across reconnects.
	p := New(&noopResolver{}, nil, true, 1<<16, nil)

	require.Empty(t, p.pinned("http", "example.test", "80"))
	p.pin("http", "example.test", "80", "203.0.113.1:80")
	require.Equal(t, "203.0.113.1:80", p.pinned("http", "example.test", "80"))

	req := preparedFor(t, "http://example.test:80/a")
	ch, err := p.Checkout(context.Background(), req, Callbacks{})
	require.NoError(t, err)
	p.Remove(ch)
	require.Empty(t, p.pinned("http", "example.test", "80"), "Remove must evict the pinned address with the channel")
}
