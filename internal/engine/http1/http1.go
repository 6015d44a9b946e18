// Package http1 implements spec §4.D: the HTTP/1.1 engine. It serializes
// requests onto a Channel's write buffer, incrementally parses responses
// out of the read buffer, and optionally pipelines a second request while
// the first is still being read.
package http1

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nonblock/reacthttp/internal/bodycodec"
	"github.com/nonblock/reacthttp/internal/buffer"
	reacterrors "github.com/nonblock/reacthttp/internal/errors"
	"github.com/nonblock/reacthttp/internal/model"

	pkgerrors "github.com/pkg/errors"
)

// inflight tracks one request from enqueue to response completion.
type inflight struct {
	req  *model.PreparedRequest
	body model.Body

	headerWritten bool
	bodyDrained   bool
	chunkedWrite  bool
}

// Callbacks is how the engine reports finished work back to the Channel's
// owner (spec §4.E's "emit response event", generalized to both engines).
type Callbacks struct {
	OnResponse func(*model.PreparedRequest, *model.Response)
	OnError    func(*model.PreparedRequest, error)
}

// Engine is the per-connection HTTP/1.1 state machine (spec §4.D).
type Engine struct {
	cb Callbacks

	pipeliningEnabled  bool
	pipeliningDisabled bool // permanently, per SPEC_FULL.md decision on open question §9.2

	writeQueue []*inflight // written in order, FIFO
	readQueue  []*inflight // awaiting responses, in send order (spec §5 ordering)

	bodyThreshold int64

	parser   *responseParser
	recycle  bool // Connection: close seen, channel should not be reused
}

func New(cb Callbacks, pipeline bool, bodyThreshold int64) *Engine {
	return &Engine{cb: cb, pipeliningEnabled: pipeline, bodyThreshold: bodyThreshold}
}

func (e *Engine) Enqueue(req *model.PreparedRequest) error {
	if len(e.readQueue) > 0 && (!e.pipeliningEnabled || e.pipeliningDisabled) {
		// default: one request at a time per channel (spec §4.D)
		return pkgerrors.New("http1: channel busy")
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	fl := &inflight{req: req, body: body}
	e.writeQueue = append(e.writeQueue, fl)
	return nil
}

func (e *Engine) Pending() bool {
	return len(e.writeQueue) > 0 || len(e.readQueue) > 0
}

func (e *Engine) Outstanding() []*model.PreparedRequest {
	out := make([]*model.PreparedRequest, 0, len(e.writeQueue)+len(e.readQueue))
	for _, fl := range e.readQueue {
		out = append(out, fl.req)
	}
	for _, fl := range e.writeQueue {
		out = append(out, fl.req)
	}
	return out
}

func (e *Engine) Reset() {
	e.writeQueue = nil
	e.readQueue = nil
	e.parser = nil
	e.recycle = false
}

func (e *Engine) OnPeerClose(err error) {
	if e.parser != nil && e.parser.state == parseBody && e.parser.remain < 0 && e.parser.resp != nil {
		// spec §4.D "(c)": a body framed only by connection close is
		// complete now that the peer is gone.
		e.parser.sink.MarkComplete()
		e.parser.resp.MarkComplete()
		fl := e.readQueue[0]
		e.readQueue = e.readQueue[1:]
		resp := e.parser.resp
		e.parser = nil
		e.cb.OnResponse(fl.req, resp)
	}
	if len(e.readQueue) > 1 {
		// a pipelined batch didn't finish before the peer dropped the
		// connection (spec §4.D / open question §9.2): don't pipeline
		// again once this channel's outstanding requests are replayed.
		e.pipeliningDisabled = true
	}
	_ = err
}

// Drain writes as much of the write queue as w.Append will accept,
// respecting back-pressure (spec §4.C: "no further frames are enqueued
// until it drains").
func (e *Engine) Drain(w *buffer.Buffer) error {
	for len(e.writeQueue) > 0 {
		fl := e.writeQueue[0]
		if !fl.headerWritten {
			hdr := renderHeader(fl)
			if err := w.Append(hdr); err != nil {
				return nil // buffer full; try again next tick
			}
			fl.headerWritten = true
		}
		if !fl.bodyDrained {
			if fl.body == nil {
				fl.bodyDrained = true
			} else {
				done, err := drainBody(w, fl)
				if err != nil {
					return err
				}
				if !done {
					return nil // back-pressured; resume next tick
				}
				fl.bodyDrained = true
			}
		}
		e.writeQueue = e.writeQueue[1:]
		e.readQueue = append(e.readQueue, fl)
		if !e.pipeliningEnabled || e.pipeliningDisabled {
			return nil // one at a time: don't start the next until this reads back
		}
	}
	return nil
}

func renderHeader(fl *inflight) []byte {
	req := fl.req
	var b bytes.Buffer
	b.WriteString(req.Verb.Wire())
	b.WriteByte(' ')
	b.WriteString(req.URL.RequestURI())
	b.WriteString(" HTTP/1.1\r\n")
	b.WriteString("Host: ")
	b.WriteString(req.Host)
	b.WriteString("\r\n")
	if req.Header.Get("User-Agent") == "" {
		b.WriteString("User-Agent: reacthttp\r\n")
	}

	hasBody := req.Verb.HasBody() && fl.body != nil
	if hasBody {
		if n, ok := fl.body.Len(); ok {
			b.WriteString("Content-Length: ")
			b.WriteString(strconv.FormatInt(n, 10))
			b.WriteString("\r\n")
		} else {
			b.WriteString("Transfer-Encoding: chunked\r\n")
			fl.chunkedWrite = true
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// drainBody progressively moves body bytes into w, yielding when w is
// full (spec glossary "Drain").
func drainBody(w *buffer.Buffer, fl *inflight) (done bool, err error) {
	buf := make([]byte, 8<<10)
	for {
		room := w.Room()
		if room <= 0 {
			return false, nil
		}
		if room > len(buf) {
			room = len(buf)
		}
		n, rerr := fl.body.Read(buf[:room])
		if n > 0 {
			chunk := buf[:n]
			if fl.chunkedWrite {
				head := []byte(fmt.Sprintf("%x\r\n", n))
				if appendErr := w.Append(head); appendErr != nil {
					return false, nil
				}
				if appendErr := w.Append(chunk); appendErr != nil {
					return false, nil
				}
				if appendErr := w.Append([]byte("\r\n")); appendErr != nil {
					return false, nil
				}
			} else if appendErr := w.Append(chunk); appendErr != nil {
				return false, nil
			}
		}
		if rerr != nil {
			fl.body.Close()
			if fl.chunkedWrite {
				_ = w.Append([]byte("0\r\n\r\n"))
			}
			return true, nil
		}
	}
}

// Consume feeds newly-arrived bytes to the incremental response parser.
func (e *Engine) Consume(p []byte) (int, error) {
	total := 0
	for len(e.readQueue) > 0 {
		if e.parser == nil {
			e.parser = newResponseParser(e.readQueue[0].req, e.bodyThreshold)
		}
		n, resp, err := e.parser.feed(p[total:])
		total += n
		if err != nil {
			return total, reacterrors.Wrap(reacterrors.KindProtocol, err, "http1: parse response")
		}
		if resp == nil {
			break // need more bytes
		}
		fl := e.readQueue[0]
		e.readQueue = e.readQueue[1:]
		e.parser = nil
		if resp.Header.Get("Connection") == "close" || (resp.Proto == "HTTP/1.0" && resp.Header.Get("Connection") != "keep-alive") {
			e.recycle = true
		}
		e.cb.OnResponse(fl.req, resp)
	}
	return total, nil
}

var _ = strings.TrimSpace
var _ = http.StatusContinue
var _ = bodycodec.NewSink
