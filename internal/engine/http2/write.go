package http2

import (
	"io"

	"github.com/nonblock/reacthttp/internal/buffer"
	reacterrors "github.com/nonblock/reacthttp/internal/errors"
	"github.com/nonblock/reacthttp/internal/model"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// bufferWriter adapts *buffer.Buffer to io.Writer for http2.Framer, which
// always issues one Write call per frame (it assembles the frame in an
// internal scratch buffer first) — so a failed Append here never leaves a
// half-written frame behind.
type bufferWriter struct{ b *buffer.Buffer }

func (w bufferWriter) Write(p []byte) (int, error) {
	if err := w.b.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Drain writes the connection preface/SETTINGS (once), then as much of
// each stream's headers and body as w has room for, respecting both the
// connection-level and per-stream outflow windows (spec §4.E, adapted
// from the teacher's stream.WriteRequestBody without its condvar wait —
// here a starved stream just yields and is retried on the next Drain).
func (e *Engine) Drain(w *buffer.Buffer) error {
	bw := bufferWriter{w}
	framer := http2.NewFramer(bw, nil)
	framer.AllowIllegalWrites = true

	if e.handshake == handshakeNotStarted {
		if err := w.Append([]byte(http2.ClientPreface)); err != nil {
			return nil
		}
		if err := framer.WriteSettings(e.outboundSettings()...); err != nil {
			return nil
		}
		e.handshake = handshakePrefaceSent
	}

	if err := e.writeWindowUpdates(framer); err != nil {
		return err
	}

	for len(e.pendingNew) > 0 {
		if e.goAway || e.activeStreamCount() > int(e.peerSettings.maxConcurrentStreams) {
			break
		}
		s := e.pendingNew[0]
		s.id = e.nextStreamID
		e.nextStreamID += 2
		s.outflow = int64(e.peerSettings.initialWindowSize)
		s.inflow = int64(e.selfSettings.initialWindowSize)
		e.streams[s.id] = s
		e.pendingNew = e.pendingNew[1:]

		if err := e.writeHeaders(framer, s); err != nil {
			return err
		}
	}

	for _, s := range e.streams {
		if s.state == streamHeaderSent || s.state == streamBodySent {
			if err := e.writeBody(framer, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeWindowUpdates returns consumed inflow to the peer once it's
// accumulated past inflowRefreshThreshold, at both the connection level and
// per stream (spec §4.E: "emits WINDOW_UPDATE when local buffer is drained
// by the application"), so a body larger than the initial window never
// stalls waiting for a refresh that never comes.
func (e *Engine) writeWindowUpdates(framer *http2.Framer) error {
	if e.connPendingWindowUpdate >= inflowRefreshThreshold {
		if err := framer.WriteWindowUpdate(0, uint32(e.connPendingWindowUpdate)); err != nil {
			return err
		}
		e.connInflow += e.connPendingWindowUpdate
		e.connPendingWindowUpdate = 0
	}
	for _, s := range e.streams {
		if s.pendingWindowUpdate >= inflowRefreshThreshold {
			if err := framer.WriteWindowUpdate(s.id, uint32(s.pendingWindowUpdate)); err != nil {
				return err
			}
			s.inflow += s.pendingWindowUpdate
			s.pendingWindowUpdate = 0
		}
	}
	return nil
}

func (e *Engine) writeHeaders(framer *http2.Framer, s *stream) error {
	frag, err := e.encodeHeaders(s.req)
	if err != nil {
		return reacterrors.Wrap(reacterrors.KindProtocol, err, "http2: encode headers")
	}
	hasBody := s.req.Verb.HasBody() && s.body != nil
	endStream := !hasBody

	maxFrame := int(e.peerSettings.maxFrameSize)
	first := true
	for len(frag) > 0 || first {
		var chunk []byte
		endHeaders := len(frag) <= maxFrame
		if !endHeaders {
			chunk, frag = frag[:maxFrame], frag[maxFrame:]
		} else {
			chunk, frag = frag, nil
		}
		if first {
			if err := framer.WriteHeaders(http2.HeadersFrameParam{
				StreamID:      s.id,
				BlockFragment: chunk,
				EndStream:     endStream,
				EndHeaders:    endHeaders,
			}); err != nil {
				return err
			}
			first = false
		} else {
			if err := framer.WriteContinuation(s.id, endHeaders, chunk); err != nil {
				return err
			}
		}
		if endHeaders {
			break
		}
	}
	if endStream {
		s.state = streamHalfClosedLocal
	} else {
		s.state = streamHeaderSent
	}
	return nil
}

// encodeHeaders mirrors the teacher's hpackMixin.EncodeHeaders, pushing
// pseudo-headers first as HTTP/2 requires (RFC 7540 §8.1.2.1).
func (e *Engine) encodeHeaders(req *model.PreparedRequest) ([]byte, error) {
	e.hpackEncBuf.Reset()
	write := func(name, value string) error {
		return e.hpackEnc.WriteField(hpack.HeaderField{Name: name, Value: value})
	}
	if err := write(":method", req.Verb.Wire()); err != nil {
		return nil, err
	}
	if err := write(":scheme", req.URL.Scheme); err != nil {
		return nil, err
	}
	if err := write(":authority", req.Host); err != nil {
		return nil, err
	}
	if err := write(":path", req.URL.RequestURI()); err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			if err := write(lowerHeader(k), v); err != nil {
				return nil, err
			}
		}
	}
	out := make([]byte, len(e.hpackEncBuf.Bytes()))
	copy(out, e.hpackEncBuf.Bytes())
	return out, nil
}

func lowerHeader(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// writeBody drains s.body into DATA frames as far as outflow and frame
// size allow, yielding (not blocking) when the stream or connection
// window is exhausted (spec §4.E: adapted from the teacher's
// takeOutflow/WriteRequestBody pair, dropping its condvar wait).
func (e *Engine) writeBody(framer *http2.Framer, s *stream) error {
	if s.body == nil {
		return nil
	}
	maxFrame := int(e.peerSettings.maxFrameSize)
	buf := make([]byte, maxFrame)
	for {
		want := int64(maxFrame)
		if s.outflow < want {
			want = s.outflow
		}
		if e.connOutflow < want {
			want = e.connOutflow
		}
		if want <= 0 {
			return nil // starved; retry next Drain once a WINDOW_UPDATE arrives
		}
		n, rerr := s.body.Read(buf[:want])
		if n > 0 {
			endStream := rerr == io.EOF
			if err := framer.WriteData(s.id, endStream, buf[:n]); err != nil {
				return err
			}
			s.outflow -= int64(n)
			e.connOutflow -= int64(n)
		}
		if rerr != nil {
			s.body.Close()
			s.state = streamHalfClosedLocal
			if rerr != io.EOF {
				return reacterrors.Wrap(reacterrors.KindProtocol, rerr, "http2: read request body")
			}
			if n == 0 {
				if err := framer.WriteData(s.id, true, nil); err != nil {
					return err
				}
			}
			return nil
		}
	}
}
