package model

import (
	"crypto/tls"
	"time"
)

// ResolverKind selects which of the three DNS resolver variants (spec
// §4.G) a Session should use for a request.
type ResolverKind string

const (
	ResolverNative ResolverKind = "native"
	ResolverSystem ResolverKind = "system"
	ResolverHTTPS  ResolverKind = "https"
)

// ResolverOptions configures the resolver (spec §6 resolver_options).
type ResolverOptions struct {
	Nameservers []string
	PacketSize  int
	Timeouts    []time.Duration // per-host retry schedule, default [5s]
	RecordTypes []string        // default ["A","AAAA"]

	// HTTPSEndpoint is the literal IP:port of the DoH resolver; resolving
	// a hostname for this value is a caller configuration error (open
	// question §9.3 in SPEC_FULL.md).
	HTTPSEndpoint string
}

// FollowPolicy controls automatic redirect handling. It exists only as a
// plug-in hook per spec §1 non-goals: the core never inspects a redirect's
// target, it only calls PreRedirect when a caller installed one.
type FollowPolicy struct {
	Enabled bool
	MaxHops int
}

// ProxyOptions configures an HTTP(S) proxy, adapted from the teacher's
// dialer.ProxyConfig.
type ProxyOptions struct {
	URL            string
	TLSConfig      *tls.Config
	ResolveLocally bool
}

// Options is the immutable per-request snapshot produced by the builder
// (REDESIGN FLAGS §9: "session-global options merging" -> builder
// snapshot, eliminating read-modify-write hazards).
type Options struct {
	Headers map[string][]string
	Params  map[string][]string

	Form []byte
	JSON []byte
	Raw  Body

	Follow FollowPolicy
	TLS    *tls.Config
	Proxy  *ProxyOptions

	KeepAliveTimeout time.Duration

	TimeoutClass   string
	TimeoutOptions map[string]interface{}

	Cookies []*Cookie

	ResolverKind    ResolverKind
	ResolverOptions *ResolverOptions

	MaxConcurrentRequests uint32
	HTTP2Settings         map[uint16]uint32

	MaxRetries int

	BodyThresholdSize int64
}

// Cookie is kept minimal; the jar (external collaborator) is responsible
// for matching/merging.
type Cookie struct {
	Name, Value, Domain, Path string
	Expires                   time.Time
}

// Builder accumulates Option calls and produces an immutable Options
// snapshot before the request is handed to the reactor.
type Builder struct {
	o Options
}

// Option mutates a Builder. Every row of spec §6's options table has a
// matching Option constructor in package session; Builder just applies
// them.
type Option func(*Builder)

func NewBuilder(defaults Options) *Builder {
	b := &Builder{o: defaults}
	if b.o.Headers == nil {
		b.o.Headers = map[string][]string{}
	}
	if b.o.Params == nil {
		b.o.Params = map[string][]string{}
	}
	if b.o.HTTP2Settings == nil {
		b.o.HTTP2Settings = map[uint16]uint32{}
	}
	return b
}

func (b *Builder) Apply(opts ...Option) *Builder {
	for _, o := range opts {
		o(b)
	}
	return b
}

// The accessors below exist so package session's Option constructors
// (spec §6's per-request knobs) can mutate a Builder without this
// package exposing its field layout directly.

func (b *Builder) Headers() map[string][]string        { return b.o.Headers }
func (b *Builder) Params() map[string][]string          { return b.o.Params }
func (b *Builder) HTTP2Settings() map[uint16]uint32      { return b.o.HTTP2Settings }
func (b *Builder) SetJSON(v []byte)                      { b.o.JSON = v }
func (b *Builder) SetForm(v []byte)                      { b.o.Form = v }
func (b *Builder) SetRaw(v Body)                         { b.o.Raw = v }
func (b *Builder) SetFollow(f FollowPolicy)               { b.o.Follow = f }
func (b *Builder) SetTLS(cfg *tls.Config)                 { b.o.TLS = cfg }
func (b *Builder) SetProxy(p *ProxyOptions)               { b.o.Proxy = p }
func (b *Builder) SetKeepAlive(d time.Duration)           { b.o.KeepAliveTimeout = d }
func (b *Builder) SetTimeoutClass(name string, opts map[string]interface{}) {
	b.o.TimeoutClass = name
	b.o.TimeoutOptions = opts
}
func (b *Builder) AddCookie(c *Cookie)    { b.o.Cookies = append(b.o.Cookies, c) }
func (b *Builder) SetMaxConcurrency(n uint32) { b.o.MaxConcurrentRequests = n }
func (b *Builder) SetMaxRetries(n int)        { b.o.MaxRetries = n }
func (b *Builder) SetBodyThreshold(n int64)   { b.o.BodyThresholdSize = n }

// Snapshot returns an immutable copy safe to share between the Session's
// caller-facing goroutine and the reactor.
func (b *Builder) Snapshot() *Options {
	snap := b.o
	snap.Headers = cloneMap(b.o.Headers)
	snap.Params = cloneMap(b.o.Params)
	snap.HTTP2Settings = make(map[uint16]uint32, len(b.o.HTTP2Settings))
	for k, v := range b.o.HTTP2Settings {
		snap.HTTP2Settings[k] = v
	}
	snap.Cookies = append([]*Cookie(nil), b.o.Cookies...)
	return &snap
}

func cloneMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Clone returns a snapshot suitable for a single request's Builder to
// start from, so per-request Option calls never mutate the Session's
// shared defaults (REDESIGN FLAGS §9).
func (o *Options) Clone() *Options {
	return NewBuilder(*o).Snapshot()
}

// Default returns the baseline Options every Session starts from.
func Default() Options {
	return Options{
		KeepAliveTimeout:      5 * time.Second,
		MaxConcurrentRequests: 100,
		MaxRetries:            2,
		BodyThresholdSize:     1 << 20, // 1MiB before response body spills to disk
		ResolverKind:          ResolverSystem,
		ResolverOptions: &ResolverOptions{
			PacketSize:  512,
			Timeouts:    []time.Duration{5 * time.Second},
			RecordTypes: []string{"A", "AAAA"},
		},
	}
}
