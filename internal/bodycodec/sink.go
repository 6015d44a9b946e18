// Package bodycodec implements the external collaborators spec §1 scopes
// out of the core: a response body sink that spills to a temp file past a
// configurable threshold, and JSON/form request body encoding.
package bodycodec

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"os"

	pkgerrors "github.com/pkg/errors"
)

// Sink accepts response body bytes as they arrive from the engine and
// spills to a temp file once the in-memory portion exceeds threshold
// (spec §3: "may spill to a temp file when over a configurable
// threshold", tested in spec §8.8).
type Sink struct {
	threshold int64
	buf       bytes.Buffer
	file      *os.File
	written   int64
	complete  bool

	reader io.Reader
}

func NewSink(threshold int64) *Sink {
	if threshold <= 0 {
		threshold = 1 << 20
	}
	return &Sink{threshold: threshold}
}

func (s *Sink) Write(p []byte) (int, error) {
	if s.file != nil {
		n, err := s.file.Write(p)
		s.written += int64(n)
		return n, err
	}
	if int64(s.buf.Len()+len(p)) <= s.threshold {
		n, err := s.buf.Write(p)
		s.written += int64(n)
		return n, err
	}
	f, err := os.CreateTemp("", "reacthttp-body-*")
	if err != nil {
		return 0, pkgerrors.Wrap(err, "bodycodec: spill to disk")
	}
	if _, err := f.Write(s.buf.Bytes()); err != nil {
		f.Close()
		return 0, err
	}
	s.buf.Reset()
	s.file = f
	n, err := f.Write(p)
	s.written += int64(n)
	return n, err
}

// MarkComplete signals no more bytes will arrive; CopyTo/Read become
// valid only afterward.
func (s *Sink) MarkComplete() { s.complete = true }

// CopyTo writes the sink's full contents to w, rewinding a spilled file
// first (spec §8.8: "copy_to(sink) produces identical bytes").
func (s *Sink) CopyTo(w io.Writer) error {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := io.Copy(w, s.file)
		return err
	}
	_, err := w.Write(s.buf.Bytes())
	return err
}

// Reader returns an io.ReadCloser over the sink's contents for callers
// that want a standard streaming interface instead of CopyTo. The
// underlying reader is created once and reused across calls, so
// successive Read calls advance rather than restarting at offset 0.
func (s *Sink) Reader() (io.ReadCloser, error) {
	if s.reader == nil {
		if s.file != nil {
			if _, err := s.file.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			s.reader = s.file
		} else {
			s.reader = bytes.NewReader(s.buf.Bytes())
		}
	}
	return io.NopCloser(s.reader), nil
}

func (s *Sink) Close() error {
	if s.file != nil {
		name := s.file.Name()
		err := s.file.Close()
		os.Remove(name)
		return err
	}
	return nil
}

// AsReadCloser adapts the sink itself to io.ReadCloser for callers that
// want to hand it straight to model.Response.Body. A Read before
// MarkComplete has been called fails instead of returning partial
// contents (spec §8.8: copy_to/read only ever observe a finished sink).
func (s *Sink) AsReadCloser() io.ReadCloser { return lazySinkReader{s} }

type lazySinkReader struct{ s *Sink }

func (l lazySinkReader) Read(p []byte) (int, error) {
	if !l.s.complete {
		return 0, pkgerrors.New("bodycodec: read before body is complete")
	}
	r, err := l.s.Reader()
	if err != nil {
		return 0, err
	}
	return r.Read(p)
}
func (l lazySinkReader) Close() error { return l.s.Close() }

// EncodeJSON marshals v for Options.JSON.
func EncodeJSON(v interface{}) ([]byte, error) { return json.Marshal(v) }

// EncodeForm url-encodes a flat map for Options.Form.
func EncodeForm(fields map[string][]string) []byte {
	v := url.Values(fields)
	return []byte(v.Encode())
}
