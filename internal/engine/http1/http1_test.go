package http1

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

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

func TestDrainRendersRequestLineAndHeaders(t *testing.T) {
	e := New(Callbacks{}, false, 1<<16)
	pr := prepared(t, model.VerbGet, "http://example.test/path?a=b")
	require.NoError(t, e.Enqueue(pr))

	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	out := string(w.View())
	require.True(t, strings.HasPrefix(out, "GET /path?a=b HTTP/1.1\r\n"))
	require.Contains(t, out, "Host: example.test\r\n")
	require.Contains(t, out, "\r\n\r\n")
	require.NotContains(t, out, "Content-Length", "GET with no body omits both framing headers")
}

func TestRoundTripSimpleResponse(t *testing.T) {
	var gotResp *model.Response
	var gotErr error
	e := New(Callbacks{
		OnResponse: func(_ *model.PreparedRequest, r *model.Response) { gotResp = r },
		OnError:    func(_ *model.PreparedRequest, err error) { gotErr = err },
	}, false, 1<<16)

	pr := prepared(t, model.VerbGet, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))

	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	wire := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	n, err := e.Consume([]byte(wire))
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.NoError(t, gotErr)
	require.NotNil(t, gotResp)
	require.Equal(t, 200, gotResp.Status)
	require.True(t, gotResp.Complete())

	body, err := io.ReadAll(gotResp.Body)
	require.NoError(t, err)
	require.Equal(t, "hi", string(body))
}

func TestHeadResponseHasNoBody(t *testing.T) {
	var gotResp *model.Response
	e := New(Callbacks{OnResponse: func(_ *model.PreparedRequest, r *model.Response) { gotResp = r }}, false, 1<<16)

	pr := prepared(t, model.VerbHead, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))
	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	wire := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\n"
	_, err := e.Consume([]byte(wire))
	require.NoError(t, err)
	require.NotNil(t, gotResp)
	require.Equal(t, 200, gotResp.Status)
	require.True(t, gotResp.Complete())
}

func TestConnectionCloseMarksRecycle(t *testing.T) {
	e := New(Callbacks{OnResponse: func(*model.PreparedRequest, *model.Response) {}}, false, 1<<16)
	pr := prepared(t, model.VerbGet, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))
	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	wire := "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 0\r\n\r\n"
	_, err := e.Consume([]byte(wire))
	require.NoError(t, err)
	require.True(t, e.recycle)
}

func TestPipeliningDisabledByDefault(t *testing.T) {
	e := New(Callbacks{}, false, 1<<16)
	first := prepared(t, model.VerbGet, "http://example.test/a")
	require.NoError(t, e.Enqueue(first))
	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	second := prepared(t, model.VerbGet, "http://example.test/b")
	err := e.Enqueue(second)
	require.Error(t, err, "without pipelining, a busy channel refuses a second request")
}

func Test100ContinueIsDiscarded(t *testing.T) {
	var calls int
	var gotResp *model.Response
	e := New(Callbacks{OnResponse: func(_ *model.PreparedRequest, r *model.Response) { calls++; gotResp = r }}, false, 1<<16)
	pr := prepared(t, model.VerbPost, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))
	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	wire := "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"
	n, err := e.Consume([]byte(wire))
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.Equal(t, 1, calls, "the interim 100 must not produce a second OnResponse call")
	require.Equal(t, 200, gotResp.Status)
}

func TestUnboundedBodyCompletesOnPeerClose(t *testing.T) {
	var gotResp *model.Response
	e := New(Callbacks{OnResponse: func(_ *model.PreparedRequest, r *model.Response) { gotResp = r }}, false, 1<<16)
	pr := prepared(t, model.VerbGet, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))
	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	wire := "HTTP/1.0 200 OK\r\n\r\nno-content-length-body"
	_, err := e.Consume([]byte(wire))
	require.NoError(t, err)
	require.Nil(t, gotResp, "unbounded body must not complete before the peer closes")

	e.OnPeerClose(io.EOF)
	require.NotNil(t, gotResp)
	require.True(t, gotResp.Complete())
	body, rerr := io.ReadAll(gotResp.Body)
	require.NoError(t, rerr)
	require.Equal(t, "no-content-length-body", string(body))
}

func TestChunkedResponseDecodes(t *testing.T) {
	var gotResp *model.Response
	e := New(Callbacks{OnResponse: func(_ *model.PreparedRequest, r *model.Response) { gotResp = r }}, false, 1<<16)
	pr := prepared(t, model.VerbGet, "http://example.test/")
	require.NoError(t, e.Enqueue(pr))
	w := buffer.New(1 << 16)
	require.NoError(t, e.Drain(w))

	wire := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	_, err := e.Consume([]byte(wire))
	require.NoError(t, err)
	require.NotNil(t, gotResp)
	require.True(t, gotResp.Complete())
}
