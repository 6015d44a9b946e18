package resolver

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// HTTPS implements DNS-over-HTTPS (RFC 8484, wire format over GET). Its
// own bootstrap is circular (resolving the DoH server's name would need a
// resolver), so SPEC_FULL.md's open question §9.3 requires Endpoint to be
// a literal "ip:port" — never a hostname.
//
// It is built on a plain net/http.Client rather than this module's own
// Session to avoid an import cycle (session depends on resolver); that
// client only ever dials the one literal endpoint, so none of the
// reactor/engine machinery it would otherwise need applies.
type HTTPS struct {
	endpoint string
	client   *http.Client
}

func NewHTTPS(endpoint string) (*HTTPS, error) {
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		return nil, pkgerrors.Wrap(err, "resolver: https endpoint must be literal ip:port")
	}
	if ip := hostOf(endpoint); net.ParseIP(ip) == nil {
		return nil, pkgerrors.New("resolver: https endpoint must be a literal IP, not a hostname")
	}
	return &HTTPS{endpoint: endpoint, client: &http.Client{Timeout: 10 * time.Second}}, nil
}

func hostOf(hostport string) string {
	h, _, _ := net.SplitHostPort(hostport)
	return h
}

func (h *HTTPS) Lookup(ctx context.Context, host string) Waiter {
	w := make(Waiter, 1)
	go func() {
		addrs, err := h.query(ctx, host)
		w <- Result{Addrs: addrs, Err: err}
	}()
	return w
}

func (h *HTTPS) query(ctx context.Context, host string) ([]net.IP, error) {
	var all []net.IP
	for _, t := range []string{"A", "AAAA"} {
		msg := encodeQuery(1, host, recordType(t))
		url := "https://" + h.endpoint + "/dns-query?dns=" + base64.RawURLEncoding.EncodeToString(msg)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/dns-message")
		resp, err := h.client.Do(req)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "resolver: doh request")
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		decoded, err := decodeMessage(body)
		if err != nil {
			continue
		}
		addrs, _ := addrsFromAnswers(decoded.answers)
		all = append(all, addrs...)
	}
	if len(all) == 0 {
		return nil, ErrResolveExhausted
	}
	return all, nil
}

func (h *HTTPS) FD() int                { return -1 }
func (h *HTTPS) WantRead() bool         { return false }
func (h *HTTPS) WantWrite() bool        { return false }
func (h *HTTPS) Timeout() time.Duration { return -1 }
func (h *HTTPS) Call() error            { return nil }
func (h *HTTPS) Close() error           { return nil }
