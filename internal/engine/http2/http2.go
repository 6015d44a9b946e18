// Package http2 implements spec §4.E: the HTTP/2 engine. It multiplexes
// many requests over one Transport using golang.org/x/net/http2's frame
// types and hpack codec, adapted from the teacher's h2c package (which
// drove framing from a blocking goroutine) into the Channel's Consume/Drain
// contract: frames are decoded only once they're fully present in the read
// buffer, and writes go through the Channel's bounded write buffer instead
// of directly to the socket.
package http2

import (
	"github.com/nonblock/reacthttp/internal/bodycodec"
	"github.com/nonblock/reacthttp/internal/model"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	pkgerrors "github.com/pkg/errors"
)

// handshakeState tracks the connection preface exchange (spec §4.E:
// "negotiated" happens after ALPN; the HTTP/2 connection preface is a
// second, protocol-level handshake on top of that).
type handshakeState int

const (
	handshakeNotStarted handshakeState = iota
	handshakePrefaceSent
	handshakeDone
)

type streamState int

const (
	streamIdle streamState = iota
	streamHeaderSent
	streamBodySent
	streamHalfClosedLocal
	streamDone
)

// stream is one request/response exchange multiplexed over the shared
// Transport (spec §3: "HTTP/2 Engine ... per-stream flow control").
type stream struct {
	id    uint32
	req   *model.PreparedRequest
	body  model.Body

	state streamState

	headerFrag []byte // accumulates HEADERS + CONTINUATION fragments
	resp       *model.Response
	sink       *bodycodec.Sink

	inflow  int64 // bytes we've granted the peer and not yet refreshed
	outflow int64 // bytes the peer has granted us to send DATA

	pendingWindowUpdate int64 // consumed bytes not yet returned via WINDOW_UPDATE
}

// Callbacks mirrors http1.Callbacks; both engines report completed work
// the same way so the Pool/Session layer doesn't need to know which
// protocol served a request.
type Callbacks struct {
	OnResponse func(*model.PreparedRequest, *model.Response)
	OnError    func(*model.PreparedRequest, error)
}

// Engine is the per-connection HTTP/2 multiplexer.
type Engine struct {
	cb Callbacks

	handshake handshakeState
	goAway    bool
	lastPeerStreamID uint32

	nextStreamID uint32 // client streams are odd, starting at 1
	streams      map[uint32]*stream
	pendingNew   []*stream // enqueued, stream ID not yet allocated

	connOutflow int64
	connInflow  int64

	connPendingWindowUpdate int64 // consumed bytes not yet returned to the peer

	peerSettings  peerSettings
	selfSettings  selfSettings

	hpackEnc *hpack.Encoder
	hpackEncBuf hpackBuffer
	hpackDec *hpack.Decoder

	bodyThreshold int64
}

func New(cb Callbacks, bodyThreshold int64) *Engine {
	e := &Engine{
		cb:            cb,
		nextStreamID:  1,
		streams:       make(map[uint32]*stream),
		bodyThreshold: bodyThreshold,
		peerSettings:  defaultPeerSettings(),
		selfSettings:  defaultSelfSettings(),
	}
	e.connOutflow = int64(e.peerSettings.initialWindowSize)
	e.connInflow = int64(e.selfSettings.initialWindowSize)
	e.hpackEncBuf = hpackBuffer{}
	e.hpackEnc = hpack.NewEncoder(&e.hpackEncBuf)
	e.hpackDec = hpack.NewDecoder(e.selfSettings.headerTableSize, nil)
	return e
}

func (e *Engine) Enqueue(req *model.PreparedRequest) error {
	if e.goAway {
		return pkgerrors.New("http2: connection going away")
	}
	if e.activeStreamCount() >= int(e.peerSettings.maxConcurrentStreams) {
		return pkgerrors.New("http2: at concurrency cap")
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	e.pendingNew = append(e.pendingNew, &stream{req: req, body: body, state: streamIdle})
	return nil
}

func (e *Engine) activeStreamCount() int {
	return len(e.streams) + len(e.pendingNew)
}

func (e *Engine) Pending() bool {
	return len(e.streams) > 0 || len(e.pendingNew) > 0
}

func (e *Engine) Outstanding() []*model.PreparedRequest {
	out := make([]*model.PreparedRequest, 0, len(e.streams)+len(e.pendingNew))
	for _, s := range e.streams {
		if s.state != streamDone {
			out = append(out, s.req)
		}
	}
	for _, s := range e.pendingNew {
		out = append(out, s.req)
	}
	return out
}

func (e *Engine) Reset() {
	e.handshake = handshakeNotStarted
	e.goAway = false
	e.nextStreamID = 1
	e.streams = make(map[uint32]*stream)
	e.pendingNew = nil
	e.peerSettings = defaultPeerSettings()
	e.selfSettings = defaultSelfSettings()
	e.connOutflow = int64(e.peerSettings.initialWindowSize)
	e.connInflow = int64(e.selfSettings.initialWindowSize)
	e.connPendingWindowUpdate = 0
	e.hpackEncBuf = hpackBuffer{}
	e.hpackEnc = hpack.NewEncoder(&e.hpackEncBuf)
	e.hpackDec = hpack.NewDecoder(e.selfSettings.headerTableSize, nil)
}

func (e *Engine) OnPeerClose(err error) {
	for _, s := range e.streams {
		if s.state != streamDone && e.cb.OnError != nil {
			e.cb.OnError(s.req, err)
		}
	}
}

// CoalescingCandidate reports whether this engine can accept additional
// requests for a different host under the same connection (spec §4.E/§4.G:
// HTTP/2 connection coalescing), gated by the caller's SAN check.
func (e *Engine) CoalescingCandidate() bool {
	return e.handshake == handshakeDone && !e.goAway &&
		e.activeStreamCount() < int(e.peerSettings.maxConcurrentStreams)
}

type hpackBuffer struct{ b []byte }

func (h *hpackBuffer) Write(p []byte) (int, error) {
	h.b = append(h.b, p...)
	return len(p), nil
}
func (h *hpackBuffer) Reset()        { h.b = h.b[:0] }
func (h *hpackBuffer) Bytes() []byte { return h.b }

var _ = http2.ClientPreface
