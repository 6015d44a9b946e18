// Package timeoutpolicy implements the external collaborator behind
// Options.TimeoutClass/TimeoutOptions: a named deadline policy that turns
// into a context.Context deadline before a request enters the reactor.
package timeoutpolicy

import (
	"context"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Policy computes a deadline for one request attempt from its options.
type Policy interface {
	Deadline(attempt int, opts map[string]interface{}) (time.Duration, error)
}

// fixed applies the same timeout to every attempt.
type fixed struct{}

func (fixed) Deadline(_ int, opts map[string]interface{}) (time.Duration, error) {
	d, err := durationOpt(opts, "timeout", 30*time.Second)
	return d, err
}

// backoff grows the timeout per attempt, grounded on the resolver's own
// retry-schedule shape (spec §4.G's per-host timeout list) generalized to
// any request.
type backoff struct{}

func (backoff) Deadline(attempt int, opts map[string]interface{}) (time.Duration, error) {
	base, err := durationOpt(opts, "base", 2*time.Second)
	if err != nil {
		return 0, err
	}
	max, err := durationOpt(opts, "max", 30*time.Second)
	if err != nil {
		return 0, err
	}
	d := base * time.Duration(1<<uint(attempt))
	if d > max {
		d = max
	}
	return d, nil
}

var registry = map[string]Policy{
	"fixed":   fixed{},
	"backoff": backoff{},
}

// Register installs a caller-supplied policy under name, letting Options
// reference policies this package doesn't ship (spec's "timeout policy
// objects" are explicitly named as an external collaborator, not core).
func Register(name string, p Policy) { registry[name] = p }

// WithDeadline resolves class/opts against the registry (defaulting to
// "fixed") and wraps ctx with the resulting deadline.
func WithDeadline(ctx context.Context, class string, opts map[string]interface{}, attempt int) (context.Context, context.CancelFunc, error) {
	if class == "" {
		class = "fixed"
	}
	p, ok := registry[class]
	if !ok {
		return nil, nil, pkgerrors.Errorf("timeoutpolicy: unknown class %q", class)
	}
	d, err := p.Deadline(attempt, opts)
	if err != nil {
		return nil, nil, err
	}
	c, cancel := context.WithTimeout(ctx, d)
	return c, cancel, nil
}

func durationOpt(opts map[string]interface{}, key string, def time.Duration) (time.Duration, error) {
	v, ok := opts[key]
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case string:
		return time.ParseDuration(t)
	default:
		return 0, pkgerrors.Errorf("timeoutpolicy: option %q has unsupported type %T", key, v)
	}
}
