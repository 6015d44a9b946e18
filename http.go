// Package reacthttp is the public facade over the reactor-driven HTTP
// client: a Session multiplexes every request it's given across pooled,
// non-blocking HTTP/1.1 and HTTP/2 connections.
package reacthttp

import (
	"net/http"

	"github.com/nonblock/reacthttp/internal/model"
	"github.com/nonblock/reacthttp/internal/session"
)

type (
	Header          = http.Header
	Session         = session.Session
	SessionOption   = session.SessionOption
	Hooks           = session.Hooks
	Request         = model.Request
	PreparedRequest = model.PreparedRequest
	Response        = model.Response
	Option          = model.Option
	Cookie          = model.Cookie
	Body            = model.Body
)

// NewSession constructs a live Session; it starts polling immediately.
func NewSession(opts ...SessionOption) *Session { return session.New(opts...) }

var (
	WithHeader          = session.WithHeader
	WithParam           = session.WithParam
	WithJSON            = session.WithJSON
	WithForm            = session.WithForm
	WithRaw             = session.WithRaw
	WithFollow          = session.WithFollow
	WithRequestTLS      = session.WithRequestTLSConfig
	WithProxy           = session.WithProxy
	WithKeepAlive       = session.WithKeepAlive
	WithTimeoutClass    = session.WithTimeoutClass
	WithCookie          = session.WithCookie
	WithMaxConcurrency  = session.WithMaxConcurrency
	WithHTTP2Setting    = session.WithHTTP2Setting
	WithMaxRetries      = session.WithMaxRetries
	WithBodyThreshold   = session.WithBodyThreshold

	WithDefaultOptions = session.WithDefaultOptions
	WithHooks          = session.WithHooks
	WithSessionTLS     = session.WithTLSConfig
	WithResolver       = session.WithResolver
)
