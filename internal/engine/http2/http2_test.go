package http2

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/nonblock/reacthttp/internal/buffer"
	"github.com/nonblock/reacthttp/internal/model"
)

func prepared(t *testing.T, verb model.Verb, uri string) *model.PreparedRequest {
	t.Helper()
	req := &model.Request{Verb: verb, URI: uri, Header: map[string][]string{}}
	pr, err := req.Prepare()
	require.NoError(t, err)
	return pr
}

// encodeStatusHeaders hpack-encodes a minimal :status response header
// block, standing in for what a peer's HEADERS frame payload looks like.
func encodeStatusHeaders(t *testing.T, status string) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	require.NoError(t, enc.WriteField(hpack.HeaderField{Name: ":status", Value: status}))
	return buf.Bytes()
}

// writeServerHeaders appends a HEADERS frame for streamID to dst, as a
// peer would send it.
func writeServerHeaders(t *testing.T, dst *bytes.Buffer, streamID uint32, status string, endStream bool) {
	t.Helper()
	fr := http2.NewFramer(dst, nil)
	require.NoError(t, fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: encodeStatusHeaders(t, status),
		EndStream:     endStream,
		EndHeaders:    true,
	}))
}

func writeServerData(t *testing.T, dst *bytes.Buffer, streamID uint32, data []byte, endStream bool) {
	t.Helper()
	fr := http2.NewFramer(dst, nil)
	require.NoError(t, fr.WriteData(streamID, endStream, data))
}

// drainFrames parses every frame written to w, skipping the leading client
// preface that Drain always writes on the first call.
func drainFrames(t *testing.T, w *buffer.Buffer) []http2.Frame {
	t.Helper()
	raw := w.View()
	raw = bytes.TrimPrefix(raw, []byte(http2.ClientPreface))
	fr := http2.NewFramer(io.Discard, bytes.NewReader(raw))
	fr.AllowIllegalReads = true
	var frames []http2.Frame
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			break
		}
		frames = append(frames, f)
	}
	return frames
}

func windowUpdateFrames(frames []http2.Frame) []*http2.WindowUpdateFrame {
	var out []*http2.WindowUpdateFrame
	for _, f := range frames {
		if wu, ok := f.(*http2.WindowUpdateFrame); ok {
			out = append(out, wu)
		}
	}
	return out
}

// TestMultiplexingMatchesResponsesRegardlessOfOrder covers spec §8 testable
// property 3: two in-flight requests on one HTTP/2 channel, each response
// associated with the right request even when the second-sent stream's
// response arrives first.
func TestMultiplexingMatchesResponsesRegardlessOfOrder(t *testing.T) {
	got := map[*model.PreparedRequest]*model.Response{}
	e := New(Callbacks{
		OnResponse: func(req *model.PreparedRequest, resp *model.Response) { got[req] = resp },
	}, 1<<20)

	first := prepared(t, model.VerbGet, "http://example.test/a")
	second := prepared(t, model.VerbGet, "http://example.test/b")
	require.NoError(t, e.Enqueue(first))
	require.NoError(t, e.Enqueue(second))

	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))
	frames := drainFrames(t, w)

	var streamIDs []uint32
	for _, f := range frames {
		if h, ok := f.(*http2.HeadersFrame); ok {
			streamIDs = append(streamIDs, h.StreamID)
		}
	}
	require.Len(t, streamIDs, 2, "both requests got their own stream")
	firstID, secondID := streamIDs[0], streamIDs[1]

	// The peer answers the second stream first.
	var wire bytes.Buffer
	writeServerHeaders(t, &wire, secondID, "201", true)
	writeServerHeaders(t, &wire, firstID, "200", true)

	n, err := e.Consume(wire.Bytes())
	require.NoError(t, err)
	require.Equal(t, wire.Len(), n)

	require.Equal(t, 201, got[second].Status)
	require.Equal(t, 200, got[first].Status)
}

// TestWindowUpdateEmittedPastThreshold covers the flow-control half of
// spec §4.E: once accumulated DATA consumption crosses
// inflowRefreshThreshold, the engine must return the window to the peer,
// or a body larger than the local window would stall forever.
func TestWindowUpdateEmittedPastThreshold(t *testing.T) {
	e := New(Callbacks{OnResponse: func(*model.PreparedRequest, *model.Response) {}}, 1<<20)
	pr := prepared(t, model.VerbGet, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))

	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w)) // preface + SETTINGS + HEADERS
	frames := drainFrames(t, w)
	var streamID uint32
	for _, f := range frames {
		if h, ok := f.(*http2.HeadersFrame); ok {
			streamID = h.StreamID
		}
	}
	require.NotZero(t, streamID)
	w.Clear()

	var wire bytes.Buffer
	writeServerHeaders(t, &wire, streamID, "200", false)
	payload := bytes.Repeat([]byte("x"), inflowRefreshThreshold+1)
	writeServerData(t, &wire, streamID, payload, false)

	n, err := e.Consume(wire.Bytes())
	require.NoError(t, err)
	require.Equal(t, wire.Len(), n)

	require.NoError(t, e.Drain(w))
	updates := windowUpdateFrames(drainFrames(t, w))
	require.NotEmpty(t, updates, "consuming past inflowRefreshThreshold must emit a WINDOW_UPDATE")

	var sawConn, sawStream bool
	for _, u := range updates {
		if u.StreamID == 0 {
			sawConn = true
			require.GreaterOrEqual(t, u.Increment, uint32(inflowRefreshThreshold))
		}
		if u.StreamID == streamID {
			sawStream = true
		}
	}
	require.True(t, sawConn, "connection-level window must be replenished")
	require.True(t, sawStream, "per-stream window must be replenished")
}

// TestWindowUpdateNotEmittedBelowThreshold guards against sending a
// WINDOW_UPDATE for every byte, matching the teacher's inflowMinRefresh
// batching.
func TestWindowUpdateNotEmittedBelowThreshold(t *testing.T) {
	e := New(Callbacks{OnResponse: func(*model.PreparedRequest, *model.Response) {}}, 1<<20)
	pr := prepared(t, model.VerbGet, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))

	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))
	frames := drainFrames(t, w)
	var streamID uint32
	for _, f := range frames {
		if h, ok := f.(*http2.HeadersFrame); ok {
			streamID = h.StreamID
		}
	}
	w.Clear()

	var wire bytes.Buffer
	writeServerHeaders(t, &wire, streamID, "200", false)
	writeServerData(t, &wire, streamID, []byte("small"), false)
	_, err := e.Consume(wire.Bytes())
	require.NoError(t, err)

	require.NoError(t, e.Drain(w))
	require.Empty(t, windowUpdateFrames(drainFrames(t, w)))
}
