package http2

import (
	"bytes"
	"encoding/binary"
	"io"
	"net/http"
	"strconv"

	"github.com/nonblock/reacthttp/internal/bodycodec"
	reacterrors "github.com/nonblock/reacthttp/internal/errors"
	"github.com/nonblock/reacthttp/internal/model"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	pkgerrors "github.com/pkg/errors"
)

const frameHeaderLen = 9

// inflowRefreshThreshold mirrors the teacher's controller/flow.go
// inflowMinRefresh: we don't send a WINDOW_UPDATE for every byte consumed,
// only once enough has accumulated.
const inflowRefreshThreshold = 4 << 10

// Consume decodes as many complete HTTP/2 frames as are present in p. A
// frame that's only partially buffered is left alone; Consume returns the
// number of bytes it fully accounted for and the Channel will call again
// once more bytes arrive, exactly like the teacher's framer.ReadFrame but
// without ever blocking on the socket.
func (e *Engine) Consume(p []byte) (int, error) {
	total := 0
	for {
		rest := p[total:]
		if len(rest) < frameHeaderLen {
			return total, nil
		}
		length := int(rest[0])<<16 | int(rest[1])<<8 | int(rest[2])
		frameLen := frameHeaderLen + length
		if len(rest) < frameLen {
			return total, nil
		}
		frameBytes := rest[:frameLen]
		if err := e.consumeOneFrame(frameBytes); err != nil {
			return total, err
		}
		total += frameLen
	}
}

func (e *Engine) consumeOneFrame(raw []byte) error {
	flags := http2.Flags(raw[4])
	streamID := binary.BigEndian.Uint32(raw[5:9]) & 0x7fffffff
	payload := raw[frameHeaderLen:]

	fr := http2.NewFramer(io.Discard, bytes.NewReader(raw))
	f, err := fr.ReadFrame()
	if err != nil {
		return reacterrors.Wrap(reacterrors.KindProtocol, err, "http2: decode frame")
	}

	switch frame := f.(type) {
	case *http2.SettingsFrame:
		return e.handleSettings(frame)
	case *http2.WindowUpdateFrame:
		return e.handleWindowUpdate(frame)
	case *http2.HeadersFrame:
		return e.handleHeaders(streamID, frame.HeaderBlockFragment(), flags&http2.FlagHeadersEndHeaders != 0, flags&http2.FlagHeadersEndStream != 0)
	case *http2.ContinuationFrame:
		return e.handleHeaders(streamID, frame.HeaderBlockFragment(), flags&http2.FlagContinuationEndHeaders != 0, false)
	case *http2.DataFrame:
		return e.handleData(streamID, frame.Data(), flags&http2.FlagDataEndStream != 0, len(payload))
	case *http2.RSTStreamFrame:
		return e.handleRST(streamID, frame.ErrCode)
	case *http2.GoAwayFrame:
		e.goAway = true
		e.lastPeerStreamID = frame.LastStreamID
		return nil
	case *http2.PingFrame:
		return nil // ignored: no PING ACK is ever written back
	default:
		return nil // PRIORITY, PUSH_PROMISE (disabled by our SETTINGS), etc.
	}
}

func (e *Engine) handleSettings(f *http2.SettingsFrame) error {
	if f.IsAck() {
		// the peer acknowledged the SETTINGS sent with our preface, so
		// the preface exchange is complete
		if e.handshake == handshakePrefaceSent {
			e.handshake = handshakeDone
		}
		return nil
	}
	delta, err := e.applyPeerSettings(f)
	if err != nil {
		return err
	}
	if delta != 0 {
		for _, s := range e.streams {
			s.outflow += delta
		}
	}
	return nil
}

func (e *Engine) handleWindowUpdate(f *http2.WindowUpdateFrame) error {
	if f.StreamID == 0 {
		e.connOutflow += int64(f.Increment)
		return nil
	}
	if s, ok := e.streams[f.StreamID]; ok {
		s.outflow += int64(f.Increment)
	}
	return nil
}

func (e *Engine) handleHeaders(streamID uint32, frag []byte, endHeaders, endStream bool) error {
	s, ok := e.streams[streamID]
	if !ok {
		return nil // stream already completed/reset; ignore trailing frames
	}
	s.headerFrag = append(s.headerFrag, frag...)
	if !endHeaders {
		return nil
	}
	header := http.Header{}
	status := 0
	decoder := hpack.NewDecoder(e.selfSettings.headerTableSize, func(f hpack.HeaderField) {
		if f.Name == ":status" {
			status, _ = strconv.Atoi(f.Value)
			return
		}
		header.Add(f.Name, f.Value)
	})
	if _, err := decoder.Write(s.headerFrag); err != nil {
		return reacterrors.Wrap(reacterrors.KindProtocol, err, "http2: hpack decode")
	}
	s.headerFrag = nil

	s.sink = bodycodec.NewSink(e.bodyThreshold)
	resp := &model.Response{Status: status, Proto: "HTTP/2.0", Header: header, Body: s.sink.AsReadCloser()}
	s.resp = resp
	if endStream {
		s.sink.MarkComplete()
		resp.MarkComplete()
		s.state = streamDone
		e.emit(s)
	}
	return nil
}

func (e *Engine) handleData(streamID uint32, data []byte, endStream bool, frameLen int) error {
	s, ok := e.streams[streamID]
	if !ok {
		return nil
	}
	if s.sink != nil && len(data) > 0 {
		if _, err := s.sink.Write(data); err != nil {
			return err
		}
	}
	e.grantInflow(s, frameLen)
	if endStream {
		if s.sink != nil {
			s.sink.MarkComplete()
		}
		if s.resp != nil {
			s.resp.MarkComplete()
		}
		s.state = streamDone
		e.emit(s)
	}
	return nil
}

// grantInflow mirrors the teacher's inflow.grant: once enough bytes have
// been consumed, return the window to the peer via WINDOW_UPDATE (written
// lazily, during the next Drain call, once accumulated consumption passes
// inflowRefreshThreshold).
func (e *Engine) grantInflow(s *stream, n int) {
	e.connInflow -= int64(n)
	e.connPendingWindowUpdate += int64(n)
	if s != nil {
		s.inflow -= int64(n)
		s.pendingWindowUpdate += int64(n)
	}
}

func (e *Engine) handleRST(streamID uint32, code http2.ErrCode) error {
	s, ok := e.streams[streamID]
	if !ok {
		return nil
	}
	s.state = streamDone
	if e.cb.OnError != nil {
		e.cb.OnError(s.req, pkgerrors.Errorf("http2: stream reset by peer, code %v", code))
	}
	delete(e.streams, streamID)
	return nil
}

func (e *Engine) emit(s *stream) {
	if e.cb.OnResponse != nil {
		e.cb.OnResponse(s.req, s.resp)
	}
	delete(e.streams, s.id)
}
