package http1

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/nonblock/reacthttp/internal/bodycodec"
	"github.com/nonblock/reacthttp/internal/model"

	pkgerrors "github.com/pkg/errors"
)

type parseState int

const (
	parseStatusLine parseState = iota
	parseHeaders
	parseBody
	parseChunked
	parseDone
)

// responseParser incrementally decodes one HTTP/1.1 response out of
// whatever byte slices the Channel hands it. Unlike the teacher's
// bufio.Reader-based http1.go, it never blocks: feed returns (0, nil, nil)
// whenever it needs more bytes than are currently available, and the
// Channel simply calls it again once more bytes arrive.
type responseParser struct {
	req     *model.PreparedRequest
	state   parseState
	raw     bytes.Buffer // accumulates header bytes until the double CRLF
	resp    *model.Response
	sink    *bodycodec.Sink
	remain  int64 // bytes left for Content-Length bodies
	chunkSz int64
	inChunk bool
	threshold int64
}

func newResponseParser(req *model.PreparedRequest, threshold int64) *responseParser {
	return &responseParser{req: req, threshold: threshold}
}

// feed consumes as much of p as it can, returning the response once
// complete. It returns (n, nil, nil) with resp==nil when it needs more
// data.
func (rp *responseParser) feed(p []byte) (n int, resp *model.Response, err error) {
	switch rp.state {
	case parseStatusLine, parseHeaders:
		return rp.feedHeaders(p)
	case parseBody:
		return rp.feedFixedBody(p)
	case parseChunked:
		return rp.feedChunkedBody(p)
	}
	return 0, nil, pkgerrors.New("http1: feed on done parser")
}

func (rp *responseParser) feedHeaders(p []byte) (int, *model.Response, error) {
	idx := bytes.Index(p, []byte("\r\n\r\n"))
	if idx < 0 {
		// keep accumulating; cap header size defensively
		rp.raw.Write(p)
		if rp.raw.Len() > 1<<20 {
			return len(p), nil, pkgerrors.New("http1: response headers too large")
		}
		return len(p), nil, nil
	}
	rp.raw.Write(p[:idx+4])
	consumed := idx + 4

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(rp.raw.Bytes())))
	line, err := tp.ReadLine()
	if err != nil {
		return consumed, nil, pkgerrors.Wrap(err, "http1: read status line")
	}
	proto, status, ok := parseStatusLine2(line)
	if !ok {
		return consumed, nil, pkgerrors.Errorf("http1: malformed status line %q", line)
	}
	mimeHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return consumed, nil, pkgerrors.Wrap(err, "http1: read headers")
	}
	header := http.Header(mimeHeader)

	resp := &model.Response{Status: status, Proto: proto, Header: header}
	rp.resp = resp
	rp.raw.Reset()

	if !rp.req.Verb.HasBody() && rp.req.Verb.Wire() == "HEAD" {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		resp.MarkComplete()
		rp.state = parseDone
		return consumed, resp, nil
	}
	if status == 100 {
		// Interim continue: this is not the response this request is
		// waiting for, so don't hand it back as one — reset to await the
		// real status line using the same parser/readQueue head, and keep
		// consuming whatever of p is left in the same feed call.
		rp.state = parseStatusLine
		n, doneResp, err := rp.feed(p[consumed:])
		return consumed + n, doneResp, err
	}
	if noBodyStatus(status) {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		resp.MarkComplete()
		rp.state = parseDone
		return consumed, resp, nil
	}

	rp.sink = bodycodec.NewSink(rp.threshold)
	resp.Body = rp.sink.AsReadCloser()
	if te := header.Get("Transfer-Encoding"); te == "chunked" {
		rp.state = parseChunked
		rp.inChunk = false
		n, doneResp, err := rp.feedChunkedBody(p[consumed:])
		if err != nil {
			return consumed + n, nil, err
		}
		return consumed + n, doneResp, nil
	}
	if cl := header.Get("Content-Length"); cl != "" {
		n, perr := strconv.ParseInt(cl, 10, 64)
		if perr != nil {
			return consumed, nil, pkgerrors.Wrap(perr, "http1: bad content-length")
		}
		rp.remain = n
		if n == 0 {
			rp.sink.MarkComplete()
			resp.MarkComplete()
			rp.state = parseDone
			return consumed, resp, nil
		}
		rp.state = parseBody
		bn, doneResp, err := rp.feedFixedBody(p[consumed:])
		if err != nil {
			return consumed + bn, nil, err
		}
		return consumed + bn, doneResp, nil
	}
	// no Content-Length, no chunked: body runs until peer close (spec
	// §4.D "(c)"). feed never completes this response on its own; the
	// engine's OnPeerClose path finalizes it once the transport closes.
	rp.state = parseBody
	rp.remain = -1
	n, _ := rp.sink.Write(p[consumed:])
	return consumed + n, nil, nil
}

func (rp *responseParser) feedFixedBody(p []byte) (int, *model.Response, error) {
	if rp.remain < 0 { // unbounded, runs to peer close
		n, _ := rp.sink.Write(p)
		return n, nil, nil
	}
	take := int64(len(p))
	if take > rp.remain {
		take = rp.remain
	}
	n, err := rp.sink.Write(p[:take])
	if err != nil {
		return n, nil, err
	}
	rp.remain -= int64(n)
	if rp.remain == 0 {
		rp.sink.MarkComplete()
		rp.resp.MarkComplete()
		rp.state = parseDone
		return n, rp.resp, nil
	}
	return n, nil, nil
}

func (rp *responseParser) feedChunkedBody(p []byte) (int, *model.Response, error) {
	total := 0
	for total < len(p) {
		rest := p[total:]
		if !rp.inChunk {
			idx := bytes.Index(rest, []byte("\r\n"))
			if idx < 0 {
				return total, nil, nil
			}
			sizeLine := rest[:idx]
			if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
				sizeLine = sizeLine[:semi]
			}
			sz, err := strconv.ParseInt(string(bytes.TrimSpace(sizeLine)), 16, 64)
			if err != nil {
				return total, nil, pkgerrors.Wrap(err, "http1: bad chunk size")
			}
			total += idx + 2
			rp.chunkSz = sz
			rp.inChunk = true
			if sz == 0 {
				// trailer section: consume until blank line. The search
				// starts at the size line's own CRLF so an empty trailer
				// ("0\r\n\r\n") is found too.
				trailerIdx := bytes.Index(p[total-2:], []byte("\r\n\r\n"))
				if trailerIdx < 0 {
					// leave the size line unconsumed and re-parse it once
					// the rest of the trailer has arrived
					rp.inChunk = false
					return total - idx - 2, nil, nil
				}
				total += trailerIdx + 2
				rp.sink.MarkComplete()
				rp.resp.MarkComplete()
				rp.state = parseDone
				return total, rp.resp, nil
			}
			continue
		}
		avail := p[total:]
		take := rp.chunkSz
		if int64(len(avail)) < take+2 {
			// not enough for the whole chunk plus trailing CRLF yet
			if int64(len(avail)) <= take {
				n, err := rp.sink.Write(avail)
				rp.chunkSz -= int64(n)
				total += n
				return total, nil, err
			}
			n, err := rp.sink.Write(avail[:take])
			if err != nil {
				return total, nil, err
			}
			total += n
			rp.chunkSz = 0
			return total, nil, nil
		}
		n, err := rp.sink.Write(avail[:take])
		if err != nil {
			return total, nil, err
		}
		total += n + 2 // skip the chunk's trailing CRLF
		rp.chunkSz = 0
		rp.inChunk = false
	}
	return total, nil, nil
}

func parseStatusLine2(line string) (proto string, status int, ok bool) {
	parts := splitN3(line)
	if len(parts) < 2 {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}

func splitN3(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s) && len(out) < 2; i++ {
		if s[i] == ' ' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func noBodyStatus(status int) bool {
	return status == 204 || status == 304 || (status >= 100 && status < 200)
}

