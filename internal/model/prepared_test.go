package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrepareExtractsHostAndStripsHopHeaders(t *testing.T) {
	req := &Request{
		Verb:   VerbGet,
		URI:    "http://example.test/path",
		Header: map[string][]string{"Host": {"override.test"}, "X-Custom": {"1"}},
	}
	pr, err := req.Prepare()
	require.NoError(t, err)
	require.Equal(t, "override.test", pr.Host)
	require.Empty(t, pr.Header.Get("Host"), "Host is extracted, not left in the header map")
	require.Equal(t, "1", pr.Header.Get("X-Custom"))
}

func TestPrepareMergesOptionParams(t *testing.T) {
	req := &Request{
		Verb:    VerbGet,
		URI:     "http://example.test/e?x=1",
		Header:  map[string][]string{},
		Options: &Options{Params: map[string][]string{"a": {"b"}}},
	}
	pr, err := req.Prepare()
	require.NoError(t, err)
	require.Equal(t, "1", pr.URL.Query().Get("x"))
	require.Equal(t, "b", pr.URL.Query().Get("a"))
}

func TestPrepareJSONSetsContentTypeAndBody(t *testing.T) {
	req := &Request{
		Verb:    VerbPost,
		URI:     "http://example.test/e",
		Header:  map[string][]string{},
		Options: &Options{JSON: []byte(`{"a":"b"}`)},
	}
	pr, err := req.Prepare()
	require.NoError(t, err)
	require.Equal(t, "application/json", pr.Header.Get("Content-Type"))
	require.Equal(t, int64(len(`{"a":"b"}`)), pr.ContentLen)

	body, err := pr.GetBody()
	require.NoError(t, err)
	n, ok := body.Len()
	require.True(t, ok)
	require.Equal(t, int64(len(`{"a":"b"}`)), n)
}

func TestPrepareContentLengthHeaderIsExtractedNotDuplicated(t *testing.T) {
	req := &Request{
		Verb:   VerbPost,
		URI:    "http://example.test/e",
		Header: map[string][]string{"Content-Length": {"42"}},
	}
	pr, err := req.Prepare()
	require.NoError(t, err)
	require.Equal(t, int64(42), pr.ContentLen)
	require.Empty(t, pr.Header.Get("Content-Length"))
}

func TestPrepareRejectsEmptyHost(t *testing.T) {
	req := &Request{Verb: VerbGet, URI: "/no-host", Header: map[string][]string{}}
	_, err := req.Prepare()
	require.Error(t, err)
}

func TestVerbWireUppercases(t *testing.T) {
	require.Equal(t, "GET", VerbGet.Wire())
	require.Equal(t, "POST", VerbPost.Wire())
	require.Equal(t, "GET", Verb("").Wire())
}

func TestHasBody(t *testing.T) {
	require.False(t, VerbHead.HasBody())
	require.True(t, VerbGet.HasBody())
	require.True(t, VerbPost.HasBody())
}
