// Package transport implements the non-blocking TCP and TLS variants of
// spec §4.B. Both expose Connect/Read/Write with the "0, nil means would
// block; io.EOF means peer closed" convention the Channel relies on, plus
// Protocol() for ALPN-driven engine selection and a raw fd for the
// reactor's readiness registration.
package transport

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/nonblock/reacthttp/internal/nettools"

	pkgerrors "github.com/pkg/errors"
)

// State is a Transport's connect state machine (spec §4.B).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected  // TCP handshake done
	StateNegotiated // TLS handshake (and ALPN) done; no-op for plain TCP
	StateFailed
	StateClosed
)

// Transport is the non-blocking byte-stream abstraction a Channel drives.
type Transport interface {
	// Connect is idempotent: once the state machine reaches
	// StateNegotiated further calls return nil, and after StateFailed they
	// return an error. The TCP dial and the TLS handshake each block the
	// calling goroutine until they finish, fail or ctx ends.
	Connect(ctx context.Context) error
	// Read returns (n>0, nil) for bytes read, (0, nil) for "would block",
	// and (0, io.EOF) or a non-nil error for peer-closed/fatal.
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Protocol returns the ALPN-selected protocol after negotiation
	// ("h2" or "http/1.1"); plain TCP always returns "http/1.1".
	Protocol() string
	State() State
	FD() int
	Close() error
}

var ErrWouldBlock = pkgerrors.New("transport: would block")

// NewTCP creates a plain-TCP Transport for addr (host:port).
func NewTCP(addr string) Transport {
	return &tcpTransport{addr: addr}
}

type tcpTransport struct {
	addr  string
	conn  net.Conn
	state State
}

func (t *tcpTransport) Connect(ctx context.Context) error {
	switch t.state {
	case StateConnected, StateNegotiated:
		return nil
	case StateFailed, StateClosed:
		return pkgerrors.New("transport: connect on dead transport")
	}
	t.state = StateConnecting
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		t.state = StateFailed
		return pkgerrors.Wrap(err, "transport: tcp connect")
	}
	if err := setNonblocking(conn); err != nil {
		conn.Close()
		t.state = StateFailed
		return pkgerrors.Wrap(err, "transport: set nonblocking")
	}
	t.conn = conn
	t.state = StateNegotiated // plain TCP has no further negotiation step
	return nil
}

func (t *tcpTransport) Read(p []byte) (int, error)  { return nonblockingRead(t.conn, p) }
func (t *tcpTransport) Write(p []byte) (int, error) { return nonblockingWrite(t.conn, p) }
func (t *tcpTransport) Protocol() string            { return "http/1.1" }
func (t *tcpTransport) State() State                { return t.state }
func (t *tcpTransport) FD() int {
	if t.conn == nil {
		return -1
	}
	return nettools.FD(t.conn)
}
func (t *tcpTransport) Close() error {
	t.state = StateClosed
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// NewTLS wraps a TCP connection in TLS, negotiating ALPN over ["h2",
// "http/1.1"] (spec §4.B fixed offer list).
func NewTLS(addr, serverName string, cfg *tls.Config) Transport {
	return &tlsTransport{tcp: &tcpTransport{addr: addr}, serverName: serverName, cfg: cfg}
}

type tlsTransport struct {
	tcp        *tcpTransport
	serverName string
	cfg        *tls.Config

	conn  *tls.Conn
	state State
}

func (t *tlsTransport) Connect(ctx context.Context) error {
	switch t.state {
	case StateNegotiated:
		return nil
	case StateFailed, StateClosed:
		return pkgerrors.New("transport: connect on dead transport")
	}
	if t.tcp.State() != StateNegotiated {
		if err := t.tcp.Connect(ctx); err != nil {
			t.state = StateFailed
			return err
		}
		if t.tcp.State() != StateNegotiated {
			t.state = StateConnecting
			return nil // TCP handshake still pending; caller polls again
		}
	}
	if t.conn == nil {
		cfg := t.cfg
		if cfg == nil {
			cfg = &tls.Config{}
		}
		cfg = cfg.Clone()
		cfg.ServerName = t.serverName
		cfg.NextProtos = []string{"h2", "http/1.1"}
		t.conn = tls.Client(t.tcp.conn, cfg)
		t.state = StateConnecting
	}
	if err := t.conn.HandshakeContext(ctx); err != nil {
		if isTemporary(err) {
			return nil // would block; retry on next readiness tick
		}
		t.state = StateFailed
		return pkgerrors.Wrap(err, "transport: tls handshake")
	}
	if t.cfg == nil || !t.cfg.InsecureSkipVerify {
		if err := t.conn.VerifyHostname(t.serverName); err != nil {
			t.state = StateFailed
			return pkgerrors.Wrap(err, "transport: certificate does not match hostname")
		}
	}
	t.state = StateNegotiated
	return nil
}

func (t *tlsTransport) Read(p []byte) (int, error)  { return nonblockingRead(t.conn, p) }
func (t *tlsTransport) Write(p []byte) (int, error) { return nonblockingWrite(t.conn, p) }
func (t *tlsTransport) Protocol() string {
	if t.conn == nil {
		return "http/1.1"
	}
	switch t.conn.ConnectionState().NegotiatedProtocol {
	case "h2":
		return "h2"
	default:
		return "http/1.1"
	}
}
func (t *tlsTransport) State() State { return t.state }
func (t *tlsTransport) FD() int      { return t.tcp.FD() }
func (t *tlsTransport) Close() error {
	t.state = StateClosed
	if t.conn != nil {
		return t.conn.Close()
	}
	return t.tcp.Close()
}

// CertificateCoversHost is the SAN check required before HTTP/2 channel
// coalescing reuses a connection for a new hostname (open question §9.1).
func CertificateCoversHost(t Transport, host string) bool {
	tt, ok := t.(*tlsTransport)
	if !ok || tt.conn == nil {
		return false
	}
	return tt.conn.VerifyHostname(host) == nil
}
