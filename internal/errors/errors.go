// Package errors defines the error-kind taxonomy surfaced to callers as an
// ErrorResponse (spec §7), and wraps github.com/pkg/errors so every
// component boundary crossing (resolver -> channel, engine -> channel,
// channel -> pool) keeps a stack the caller can unwind with errors.Cause.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind enumerates the error categories spec §7 requires callers to be able
// to switch on.
type Kind int

const (
	KindNone Kind = iota
	KindResolve
	KindConnect
	KindProtocol
	KindTimeout
	KindHTTP
	KindPeerClosed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindResolve:
		return "resolve"
	case KindConnect:
		return "connect"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindPeerClosed:
		return "peer-closed"
	case KindCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// Response is the error carried back to the caller in place of a Response
// when a request cannot complete. Retries records how many connection-level
// attempts were already made; it stays zero unless set through
// WithRetries.
type Response struct {
	Kind    Kind
	Retries int
	cause   error
}

func New(kind Kind, msg string) *Response {
	return &Response{Kind: kind, cause: pkgerrors.New(msg)}
}

func Wrap(kind Kind, cause error, msg string) *Response {
	return &Response{Kind: kind, cause: pkgerrors.Wrap(cause, msg)}
}

func (e *Response) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Response) Unwrap() error { return e.cause }

// WithRetries returns a copy of e with Retries set. The channel's recycle
// path does not call it: replayed requests are not counted, and
// Options.MaxRetries puts no limit on how often they are replayed.
func (e *Response) WithRetries(n int) *Response {
	c := *e
	c.Retries = n
	return &c
}

// Retriable reports whether the kind is one the pool/channel may
// transparently retry on a fresh connection (spec §7: PeerClosedError is
// retriable up to max_retries; ProtocolError is not).
func (e *Response) Retriable() bool {
	switch e.Kind {
	case KindPeerClosed, KindConnect, KindResolve:
		return true
	default:
		return false
	}
}
