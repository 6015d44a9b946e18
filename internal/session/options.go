package session

import (
	"crypto/tls"
	"time"

	"github.com/nonblock/reacthttp/internal/model"
)

// SessionOption configures a Session at construction (spec §6's
// session-level knobs: resolver choice, TLS config, default Options).
type SessionOption func(*Session)

func WithDefaultOptions(o model.Options) SessionOption {
	return func(s *Session) { s.defaults = o }
}

func WithHooks(h Hooks) SessionOption {
	return func(s *Session) { s.hooks = h }
}

func WithTLSConfig(cfg *tls.Config) SessionOption {
	return func(s *Session) { s.defaults.TLS = cfg }
}

func WithResolver(kind model.ResolverKind, opts model.ResolverOptions) SessionOption {
	return func(s *Session) {
		s.defaults.ResolverKind = kind
		s.defaults.ResolverOptions = &opts
	}
}

// The following are per-request Options, applied via Builder the way
// SPEC_FULL.md's §6 table lists them; each has a one-to-one Go name.

func WithHeader(key, value string) model.Option {
	return func(b *model.Builder) { b.Headers()[key] = append(b.Headers()[key], value) }
}

func WithParam(key, value string) model.Option {
	return func(b *model.Builder) { b.Params()[key] = append(b.Params()[key], value) }
}

func WithJSON(body []byte) model.Option {
	return func(b *model.Builder) { b.SetJSON(body) }
}

func WithForm(body []byte) model.Option {
	return func(b *model.Builder) { b.SetForm(body) }
}

func WithRaw(body model.Body) model.Option {
	return func(b *model.Builder) { b.SetRaw(body) }
}

func WithFollow(enabled bool, maxHops int) model.Option {
	return func(b *model.Builder) { b.SetFollow(model.FollowPolicy{Enabled: enabled, MaxHops: maxHops}) }
}

func WithRequestTLSConfig(cfg *tls.Config) model.Option {
	return func(b *model.Builder) { b.SetTLS(cfg) }
}

func WithProxy(p model.ProxyOptions) model.Option {
	return func(b *model.Builder) { b.SetProxy(&p) }
}

func WithKeepAlive(d time.Duration) model.Option {
	return func(b *model.Builder) { b.SetKeepAlive(d) }
}

func WithTimeoutClass(name string, opts map[string]interface{}) model.Option {
	return func(b *model.Builder) { b.SetTimeoutClass(name, opts) }
}

func WithCookie(c *model.Cookie) model.Option {
	return func(b *model.Builder) { b.AddCookie(c) }
}

func WithMaxConcurrency(n uint32) model.Option {
	return func(b *model.Builder) { b.SetMaxConcurrency(n) }
}

func WithHTTP2Setting(id uint16, val uint32) model.Option {
	return func(b *model.Builder) { b.HTTP2Settings()[id] = val }
}

func WithMaxRetries(n int) model.Option {
	return func(b *model.Builder) { b.SetMaxRetries(n) }
}

func WithBodyThreshold(n int64) model.Option {
	return func(b *model.Builder) { b.SetBodyThreshold(n) }
}
