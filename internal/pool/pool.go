// Package pool implements spec §4.H: deduplicating Channels per
// (scheme, host-or-ip, port) and coalescing additional hostnames onto an
// existing HTTP/2 Channel when the peer's certificate covers them.
package pool

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/nonblock/reacthttp/internal/channel"
	reacterrors "github.com/nonblock/reacthttp/internal/errors"
	"github.com/nonblock/reacthttp/internal/engine/http1"
	"github.com/nonblock/reacthttp/internal/engine/http2"
	"github.com/nonblock/reacthttp/internal/model"
	"github.com/nonblock/reacthttp/internal/resolver"
	"github.com/nonblock/reacthttp/internal/transport"
)

// key identifies a connection target per spec §3 ("key = (scheme,
// ip-or-host, port)"); Host is the request URL's hostname, never the
// resolved IP, so two hostnames that resolve to the same IP get separate
// entries unless findCoalesceCandidate maps the second one onto the
// first one's Channel.
type key struct {
	Scheme string
	Host   string
	Port   string
}

// Pool maps connection targets to Channels and, for HTTP/2, coalesces a
// distinct hostname with the same scheme and port onto an existing
// Channel once the peer certificate is confirmed to cover it (spec §4.H,
// open question §9.1 resolved: SAN coverage is mandatory before
// coalescing). The resolved IP addresses of the two hostnames are not
// compared.
type Pool struct {
	mu         sync.Mutex
	byKey      map[key]*channel.Channel
	byHost     map[key][]string // coalesced hostnames sharing a channel's key
	pinnedAddr map[key]string   // resolved address pinned for a channel's lifetime
	resolver   resolver.Resolver
	tlsConfig  *tls.Config

	pipelineHTTP1 bool
	bodyThreshold int64

	register func(ch *channel.Channel) // wires a new Channel into the reactor
}

func New(res resolver.Resolver, tlsConfig *tls.Config, pipelineHTTP1 bool, bodyThreshold int64, register func(*channel.Channel)) *Pool {
	return &Pool{
		byKey:         make(map[key]*channel.Channel),
		byHost:        make(map[key][]string),
		pinnedAddr:    make(map[key]string),
		resolver:      res,
		tlsConfig:     tlsConfig,
		pipelineHTTP1: pipelineHTTP1,
		bodyThreshold: bodyThreshold,
		register:      register,
	}
}

// Checkout returns a live Channel for req's target, creating and
// registering one with the reactor if none exists yet, and coalescing
// onto an existing HTTP/2 channel when the SAN check allows it.
func (p *Pool) Checkout(ctx context.Context, req *model.PreparedRequest, cb Callbacks) (*channel.Channel, error) {
	scheme := req.URL.Scheme
	host := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	k := key{Scheme: scheme, Host: host, Port: port}

	p.mu.Lock()
	if ch, ok := p.byKey[k]; ok {
		if ch.State() != channel.StateClosed {
			p.mu.Unlock()
			return ch, nil
		}
		// The peer closed for good (no outstanding requests to recycle,
		// spec §4.F) and nothing evicted the entry yet; a closed channel
		// is replaced on next checkout per spec §4.H.
		delete(p.byKey, k)
		delete(p.byHost, k)
		delete(p.pinnedAddr, k)
	}
	if scheme == "https" {
		if ch := p.findCoalesceCandidate(k, host); ch != nil {
			p.byKey[k] = ch
			p.byHost[k] = append(p.byHost[k], host)
			p.mu.Unlock()
			return ch, nil
		}
	}
	p.mu.Unlock()

	ch := p.newChannel(scheme, host, port, cb)

	p.mu.Lock()
	p.byKey[k] = ch
	p.mu.Unlock()

	if p.register != nil {
		p.register(ch)
	}
	return ch, nil
}

// findCoalesceCandidate looks for an existing HTTP/2 channel whose
// certificate covers host (spec §4.H/§9.1). It never creates a Channel
// itself — callers fall back to a fresh one when this returns nil.
func (p *Pool) findCoalesceCandidate(k key, host string) *channel.Channel {
	for existingKey, ch := range p.byKey {
		if existingKey.Scheme != k.Scheme || existingKey.Port != k.Port {
			continue
		}
		if ch.Protocol() != "h2" {
			continue
		}
		if ch.CanCoalesce(isH2CoalescingCandidate, transport.CertificateCoversHost, host) {
			return ch
		}
	}
	return nil
}

func isH2CoalescingCandidate(eng channel.Engine) bool {
	h2, ok := eng.(*http2.Engine)
	return ok && h2.CoalescingCandidate()
}

// Callbacks is threaded down into the protocol engine chosen for a new
// Channel so completed responses/errors surface to whatever created the
// Pool (the Session).
type Callbacks struct {
	OnResponse func(*model.PreparedRequest, *model.Response)
	OnError    func(*model.PreparedRequest, error)
}

func (p *Pool) newChannel(scheme, host, port string, cb Callbacks) *channel.Channel {
	dial := func(ctx context.Context) (transport.Transport, error) {
		// Reconnect (spec §4.F) drives this closure from the reactor's own
		// goroutine via Channel.Call, which must never block. Resolution
		// itself is safely non-blocking only on a cache hit, so a resolved
		// address is pinned to the channel's lifetime on first dial and
		// reused on every reconnect instead of resolving again.
		resolved := p.pinned(scheme, host, port)
		if resolved == "" {
			addr, err := p.resolveAddr(ctx, host, port)
			if err != nil {
				return nil, reacterrors.Wrap(reacterrors.KindResolve, err, "pool: resolve")
			}
			resolved = addr
			p.pin(scheme, host, port, addr)
		}
		if scheme == "https" {
			return transport.NewTLS(resolved, host, p.tlsConfig), nil
		}
		return transport.NewTCP(resolved), nil
	}

	if scheme != "https" {
		eng := http1.New(http1.Callbacks{OnResponse: cb.OnResponse, OnError: cb.OnError}, p.pipelineHTTP1, p.bodyThreshold)
		return channel.New(eng, dial)
	}

	return channel.NewNegotiated(func(protocol string) channel.Engine {
		if protocol == "h2" {
			return http2.New(http2.Callbacks{OnResponse: cb.OnResponse, OnError: cb.OnError}, p.bodyThreshold)
		}
		return http1.New(http1.Callbacks{OnResponse: cb.OnResponse, OnError: cb.OnError}, p.pipelineHTTP1, p.bodyThreshold)
	}, dial)
}

func (p *Pool) pinned(scheme, host, port string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pinnedAddr[key{Scheme: scheme, Host: host, Port: port}]
}

func (p *Pool) pin(scheme, host, port, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pinnedAddr[key{Scheme: scheme, Host: host, Port: port}] = addr
}

func (p *Pool) resolveAddr(ctx context.Context, host, port string) (string, error) {
	if net.ParseIP(host) != nil {
		return net.JoinHostPort(host, port), nil
	}
	w := p.resolver.Lookup(ctx, host)
	select {
	case res := <-w:
		if res.Err != nil {
			return "", res.Err
		}
		if len(res.Addrs) == 0 {
			return "", reacterrors.New(reacterrors.KindResolve, "pool: no addresses")
		}
		return net.JoinHostPort(res.Addrs[0].String(), port), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Remove drops ch, its coalesced hostnames and its pinned address from
// the pool. Checkout already evicts a StateClosed entry on its own;
// Remove is for a caller that learns of a closure some other way, and
// neither the reactor nor the session calls it.
func (p *Pool) Remove(ch *channel.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, v := range p.byKey {
		if v == ch {
			delete(p.byKey, k)
			delete(p.byHost, k)
			delete(p.pinnedAddr, k)
		}
	}
}
