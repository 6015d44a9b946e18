package reactor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nonblock/reacthttp/internal/channel"
	"github.com/nonblock/reacthttp/internal/engine/http1"
	"github.com/nonblock/reacthttp/internal/transport"
)

// fakeParticipant lets tests drive RunOnce's dispatch logic without a real
// fd or poller round trip.
type fakeParticipant struct {
	fd            int
	wantR, wantW  bool
	timeout       time.Duration
	closed        bool
	calls         int
	callErr       error
}

func (f *fakeParticipant) FD() int                { return f.fd }
func (f *fakeParticipant) WantRead() bool         { return f.wantR }
func (f *fakeParticipant) WantWrite() bool        { return f.wantW }
func (f *fakeParticipant) Timeout() time.Duration { return f.timeout }
func (f *fakeParticipant) Closed() bool           { return f.closed }
func (f *fakeParticipant) Call(ctx context.Context) error {
	f.calls++
	return f.callErr
}

func TestRunOnceDispatchesFDLessParticipantOnZeroTimeout(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Close()

	p := &fakeParticipant{fd: -1, timeout: 0}
	r.Register(p)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, 1, p.calls, "a zero timeout fires every pass regardless of fd")
}

func TestRunOnceDropsClosedParticipants(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Close()

	p := &fakeParticipant{fd: -1, timeout: 0, closed: true}
	r.Register(p)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Zero(t, p.calls, "a closed participant is reaped before it's ever called")
	require.Empty(t, r.participants)
}

func TestRunOnceDialsParticipantWithNoFDYet(t *testing.T) {
	// An idle Channel or a native resolver before its socket exists
	// reports fd == -1 but wants to be driven (spec §4.C: "idle -> write,
	// to trigger connect"). Nothing external ever makes a nonexistent fd
	// readable, so RunOnce must call it directly instead of waiting on a
	// readiness event that will never arrive.
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Close()

	p := &fakeParticipant{fd: -1, wantW: true, timeout: -1}
	r.Register(p)

	require.NoError(t, r.RunOnce(context.Background()))
	require.Equal(t, 1, p.calls)
}

func TestRunOnceLogsParticipantErrorsButContinues(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	defer r.Close()

	p := &fakeParticipant{fd: -1, timeout: 0, callErr: errors.New("boom")}
	r.Register(p)

	require.NoError(t, r.RunOnce(context.Background()), "a participant error must not abort the pass")
	require.Equal(t, 1, p.calls)
}

// fakePeerCloseTransport negotiates immediately on Connect, then reports
// the peer gone on the first Read so channelParticipant.Call can be
// exercised without a poller round trip.
type fakePeerCloseTransport struct{}

func (fakePeerCloseTransport) Connect(ctx context.Context) error { return nil }
func (fakePeerCloseTransport) Read(p []byte) (int, error)        { return 0, io.EOF }
func (fakePeerCloseTransport) Write(p []byte) (int, error)       { return len(p), nil }
func (fakePeerCloseTransport) Close() error                      { return nil }
func (fakePeerCloseTransport) Protocol() string                  { return "http/1.1" }
func (fakePeerCloseTransport) State() transport.State             { return transport.StateNegotiated }
func (fakePeerCloseTransport) FD() int                            { return -1 }

func TestChannelParticipantAdaptsSignalClosed(t *testing.T) {
	// spec §4.I: the reactor loop translates a Channel's structured Signal
	// into removal from the participant set, never a second error path.
	eng := http1.New(http1.Callbacks{}, false, 1<<16)
	ch := channel.New(eng, func(ctx context.Context) (transport.Transport, error) {
		return fakePeerCloseTransport{}, nil
	})
	cp := &channelParticipant{ch: ch}
	// the first Call opens the idle channel; no request is ever sent
	require.NoError(t, cp.Call(context.Background()))
	require.NoError(t, cp.Call(context.Background()))
	require.True(t, cp.closed, "a peer close with no pending requests closes the channel")
}
