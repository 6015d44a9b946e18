// Package session implements spec §4.I's facade: the single entry point
// callers use (Do and its sugar methods), hiding the Pool/Reactor/Channel
// machinery behind an ordinary blocking Go API — the reactor's cooperative,
// non-blocking scheduling is an implementation detail of how the request
// makes progress, not something Do's caller needs to participate in.
package session

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/nonblock/reacthttp/internal/cookiejar"
	reacterrors "github.com/nonblock/reacthttp/internal/errors"
	"github.com/nonblock/reacthttp/internal/model"
	"github.com/nonblock/reacthttp/internal/pool"
	"github.com/nonblock/reacthttp/internal/reactor"
	"github.com/nonblock/reacthttp/internal/resolver"
	"github.com/nonblock/reacthttp/internal/timeoutpolicy"
)

// Hooks are the plug-in points spec §1's non-goals push features out
// through instead of the core growing them itself (redirect-follow,
// 100-continue, request/response interception).
type Hooks struct {
	PreSend     func(*model.Request) error
	OnResponse  func(*model.Request, *model.Response)
	PreRedirect func(*model.Request, *model.Response) (*model.Request, bool)
	Expect100   func(*model.Request) bool
}

// Session is the facade: it owns the Pool, the Reactor, and the default
// Options every request builds on (spec §3: "Session: facade; owns
// default Options, Pool, plug-in hooks").
type Session struct {
	defaults model.Options
	pool     *pool.Pool
	reactor  *reactor.Reactor
	resolver resolver.Resolver
	jar      *cookiejar.Jar
	hooks    Hooks
	logger   *log.Logger

	cancel context.CancelFunc
}

// New builds a Session and starts its reactor goroutine immediately — a
// Session is live and polling from construction, matching spec §3's
// "Session ... owns Pool" ownership (there's no separate Start call).
func New(opts ...SessionOption) *Session {
	s := &Session{
		defaults: model.Default(),
		jar:      cookiejar.New(),
		logger:   log.New(log.Writer(), "session: ", log.LstdFlags),
	}
	for _, o := range opts {
		o(s)
	}

	s.resolver = newResolver(s.defaults.ResolverKind, s.defaults.ResolverOptions)

	rt, err := reactor.New(s.logger)
	if err != nil {
		// nettools.New always succeeds via its busyPoller fallback; this
		// path exists only for a future Poller that can fail outright.
		panic(err)
	}
	s.reactor = rt
	rt.RegisterResolver(s.resolver)

	s.pool = pool.New(s.resolver, s.defaults.TLS, true, s.defaults.BodyThresholdSize, s.reactor.RegisterChannel)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go rt.Run(ctx)
	return s
}

// Close stops the reactor and releases the Poller. Requests still waiting
// in Do are not notified; each returns once its own ctx is done.
func (s *Session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.reactor.Stop()
	return s.reactor.Close()
}

// Do sends req (built via the sugar methods or directly) and blocks until
// a Response, a terminal error, or ctx's deadline (spec §6: Do is the one
// operation every sugar method funnels into).
func (s *Session) Do(ctx context.Context, req *model.Request, opts ...model.Option) (*model.Response, error) {
	req.Options = model.NewBuilder(s.defaults).Apply(opts...).Snapshot()
	if s.hooks.PreSend != nil {
		if err := s.hooks.PreSend(req); err != nil {
			return nil, err
		}
	}
	s.jar.Apply(req)
	s.applyExpect100(req)

	resp, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusExpectationFailed && req.Header.Get("Expect") != "" {
		// spec §8's literal scenario: a 417 to a request carrying
		// Expect: 100-continue strips the header and replays the request
		// exactly once, never looping back through Expect100 again.
		req.Header.Del("Expect")
		req.State = model.StateIdle
		resp, err = s.roundTrip(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	s.jar.Store(req, resp)
	if s.hooks.OnResponse != nil {
		s.hooks.OnResponse(req, resp)
	}
	if redirected, ok := s.maybeFollow(ctx, req, resp); ok {
		return redirected, nil
	}
	return resp, nil
}

// applyExpect100 lets the Expect100 hook opt a request into the
// Expect: 100-continue handshake (spec §1's non-goal push-out: the core
// only carries the header and state, the policy of when to send it lives
// in caller-supplied hooks).
func (s *Session) applyExpect100(req *model.Request) {
	if s.hooks.Expect100 == nil || !s.hooks.Expect100(req) {
		return
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Expect", "100-continue")
	req.State = model.StateExpects
}

// roundTrip prepares req, checks out a Channel, and blocks for one
// Notify/ctx.Done race — the single-attempt primitive Do's 100-continue
// replay and initial send both funnel through.
func (s *Session) roundTrip(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req.Options.TimeoutClass != "" {
		dctx, cancel, err := timeoutpolicy.WithDeadline(ctx, req.Options.TimeoutClass, req.Options.TimeoutOptions, 0)
		if err != nil {
			return nil, err
		}
		defer cancel()
		ctx = dctx
	}

	pr, err := req.Prepare()
	if err != nil {
		return nil, reacterrors.Wrap(reacterrors.KindProtocol, err, "session: prepare request")
	}
	pr.Notify = make(chan model.Outcome, 1)

	ch, err := s.pool.Checkout(ctx, pr, pool.Callbacks{
		OnResponse: func(r *model.PreparedRequest, resp *model.Response) {
			r.Notify <- model.Outcome{Response: resp}
		},
		OnError: func(r *model.PreparedRequest, err error) {
			r.Notify <- model.Outcome{Err: err}
		},
	})
	if err != nil {
		return nil, err
	}
	if err := ch.Send(ctx, pr); err != nil {
		return nil, reacterrors.Wrap(reacterrors.KindProtocol, err, "session: send")
	}

	select {
	case out := <-pr.Notify:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Response, nil
	case <-ctx.Done():
		return nil, reacterrors.New(reacterrors.KindCancelled, "session: context done")
	}
}

func (s *Session) maybeFollow(ctx context.Context, req *model.Request, resp *model.Response) (*model.Response, bool) {
	if s.hooks.PreRedirect == nil || !req.Options.Follow.Enabled {
		return nil, false
	}
	if resp.Status < 300 || resp.Status >= 400 {
		return nil, false
	}
	next, ok := s.hooks.PreRedirect(req, resp)
	if !ok || next == nil {
		return nil, false
	}
	redirected, err := s.Do(ctx, next)
	if err != nil {
		return nil, false
	}
	return redirected, true
}

// DoAll issues every request concurrently and waits for all of them
// (spec §6: "DoAll batch form"), preserving input order in the result
// slice regardless of completion order.
func (s *Session) DoAll(ctx context.Context, reqs []*model.Request) ([]*model.Response, []error) {
	resps := make([]*model.Response, len(reqs))
	errs := make([]error, len(reqs))
	done := make(chan int, len(reqs))
	for i, r := range reqs {
		i, r := i, r
		go func() {
			resps[i], errs[i] = s.Do(ctx, r)
			done <- i
		}()
	}
	for range reqs {
		<-done
	}
	return resps, errs
}

func newResolver(kind model.ResolverKind, opts *model.ResolverOptions) resolver.Resolver {
	switch kind {
	case model.ResolverNative:
		ns := opts.Nameservers
		if len(ns) == 0 {
			ns = []string{"8.8.8.8:53"}
		}
		timeouts := opts.Timeouts
		if len(timeouts) == 0 {
			timeouts = []time.Duration{5 * time.Second}
		}
		packetSize := opts.PacketSize
		if packetSize <= 0 {
			packetSize = 512
		}
		return resolver.NewNative(ns, packetSize, timeouts, opts.RecordTypes)
	case model.ResolverHTTPS:
		h, err := resolver.NewHTTPS(opts.HTTPSEndpoint)
		if err != nil {
			return resolver.NewSystem()
		}
		return h
	default:
		return resolver.NewSystem()
	}
}
