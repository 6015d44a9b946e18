package session

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nonblock/reacthttp/internal/model"
)

// TestCloseStopsReactorGoroutine guards the one goroutine New starts
// (the reactor's Run loop): Close must join it before returning, or every
// Session a caller opens and closes leaks a goroutine parked in the
// poller.
func TestCloseStopsReactorGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := New()
	require.NoError(t, s.Close())
}

// TestApplyExpect100SetsHeaderAndState covers the Expect100 hook opting a
// request into the 100-continue handshake (spec §8's end-to-end scenario
// starts from this header being present).
func TestApplyExpect100SetsHeaderAndState(t *testing.T) {
	s := &Session{hooks: Hooks{Expect100: func(*model.Request) bool { return true }}}
	req := &model.Request{}

	s.applyExpect100(req)

	require.Equal(t, "100-continue", req.Header.Get("Expect"))
	require.Equal(t, model.StateExpects, req.State)
}

func TestApplyExpect100NoopWithoutHook(t *testing.T) {
	s := &Session{}
	req := &model.Request{}

	s.applyExpect100(req)

	require.Empty(t, req.Header)
	require.Equal(t, model.StateIdle, req.State)
}

func TestApplyExpect100NoopWhenHookDeclines(t *testing.T) {
	s := &Session{hooks: Hooks{Expect100: func(*model.Request) bool { return false }}}
	req := &model.Request{Header: http.Header{}}

	s.applyExpect100(req)

	require.Empty(t, req.Header.Get("Expect"))
}

// TestExpectationFailedStripsHeaderOnce checks the header step of Do's
// single replay on a 417 (spec §8: "417 response to a request carrying
// Expect: 100-continue -> header is stripped and request is re-sent
// once"): once Expect is deleted the request carries none, which is what
// keeps Do's 417 check from replaying a second time. It does not run Do
// itself.
func TestExpectationFailedStripsHeaderOnce(t *testing.T) {
	req := &model.Request{Header: http.Header{"Expect": []string{"100-continue"}}}
	require.NotEmpty(t, req.Header.Get("Expect"))

	req.Header.Del("Expect")
	require.Empty(t, req.Header.Get("Expect"))
}
