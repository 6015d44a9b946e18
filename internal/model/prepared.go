package model

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
)

// bytesBody is a model.Body over an in-memory byte slice; it reports its
// length up front, satisfying the Content-Length framing rule (spec
// §4.D).
type bytesBody struct {
	r    *bytes.Reader
	size int64
}

func newBytesBody(b []byte) *bytesBody { return &bytesBody{r: bytes.NewReader(b), size: int64(len(b))} }
func (b *bytesBody) Len() (int64, bool)    { return b.size, true }
func (b *bytesBody) Read(p []byte) (int, error) { return b.r.Read(p) }
func (b *bytesBody) Close() error          { return nil }

// streamBody wraps a caller-supplied io.ReadCloser whose length isn't known
// up front, forcing chunked framing on HTTP/1.1 (spec §4.D). GetBody on the
// owning PreparedRequest can only be called once for a streamBody: a
// transparent retry/replay of a streaming body isn't possible, matching
// net/http's http.ErrBodyReadAfterClose behavior the teacher followed.
type streamBody struct {
	rc   io.ReadCloser
	used atomic.Bool
}

func (b *streamBody) Len() (int64, bool)        { return -1, false }
func (b *streamBody) Read(p []byte) (int, error) { return b.rc.Read(p) }
func (b *streamBody) Close() error              { return b.rc.Close() }

// Prepare merges Options into a Request's headers/params, extracts Host
// and Content-Length, and wraps the body, producing the immutable snapshot
// that enters the reactor (spec §3, REDESIGN FLAGS §9).
func (r *Request) Prepare() (*PreparedRequest, error) {
	u, err := url.Parse(r.URI)
	if err != nil {
		return nil, err
	}
	if r.Options != nil {
		q := u.Query()
		for k, vs := range r.Options.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	headers := r.Header.Clone()
	if headers == nil {
		headers = map[string][]string{}
	}
	if r.Options != nil {
		for k, vs := range r.Options.Headers {
			for _, v := range vs {
				headers.Add(k, v)
			}
		}
	}

	host := u.Host
	cl := int64(-1)
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "host":
			if len(v) != 0 {
				host = v[0]
			}
			delete(headers, k)
		case "content-length":
			if len(v) != 0 {
				if n, err := strconv.ParseInt(v[0], 10, 64); err == nil {
					cl = n
				}
			}
			delete(headers, k)
		}
	}
	if host == "" {
		return nil, fmt.Errorf("model: empty host in %q", r.URI)
	}

	rc := *r
	rc.Header = headers
	pr := &PreparedRequest{
		Request:    &rc,
		URL:        u,
		Host:       host,
		ContentLen: cl,
	}
	if err := pr.bindBody(); err != nil {
		return nil, err
	}
	return pr, nil
}

func (r *PreparedRequest) bindBody() error {
	if r.Options != nil {
		switch {
		case r.Options.JSON != nil:
			r.Header.Set("Content-Type", "application/json")
			r.Request.Body = newBytesBody(r.Options.JSON)
		case r.Options.Form != nil:
			r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			r.Request.Body = newBytesBody(r.Options.Form)
		case r.Options.Raw != nil:
			r.Request.Body = r.Options.Raw
		}
	}

	if r.Request.Body == nil {
		r.getBody = func() (Body, error) { return nil, nil }
		return nil
	}
	if n, ok := r.Request.Body.Len(); ok {
		r.ContentLen = n
	}
	once := r.Request.Body
	r.getBody = func() (Body, error) {
		switch b := once.(type) {
		case *bytesBody:
			if _, err := b.r.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
		case *streamBody:
			if b.used.Swap(true) {
				return nil, fmt.Errorf("model: stream body cannot be replayed")
			}
		}
		return once, nil
	}
	return nil
}

// NewBytesBody exposes bytesBody construction for callers supplying a raw
// []byte/string body through Options.Raw.
func NewBytesBody(b []byte) Body { return newBytesBody(b) }

// NewStreamBody exposes streamBody construction for callers supplying an
// io.ReadCloser whose size isn't known up front.
func NewStreamBody(rc io.ReadCloser) Body { return &streamBody{rc: rc} }
