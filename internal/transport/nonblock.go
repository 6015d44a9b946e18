package transport

import (
	"io"
	"net"
	"syscall"
	"time"
)

// setNonblocking flips the underlying fd into O_NONBLOCK, the same
// SyscallConn().Control pattern the teacher's nettools package used to
// extract an fd for select/poll in the first place — here we use it to
// make the socket itself non-blocking, so nonblockingRead/Write never
// suspend the reactor's single goroutine.
func setNonblocking(c net.Conn) error {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var ctrlErr error
	err = raw.Control(func(fd uintptr) {
		ctrlErr = syscall.SetNonblock(int(fd), true)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}

// nonblockingRead adapts whatever error the runtime poller or crypto/tls
// produces for "would block" into (0, nil), the convention spec §4.B
// requires ("0 means would block").
func nonblockingRead(c net.Conn, p []byte) (int, error) {
	if c == nil {
		return 0, nil
	}
	// crypto/tls.Conn doesn't expose non-blocking semantics directly; a
	// zero read deadline forces an immediate would-block/timeout instead
	// of suspending the goroutine, which is the non-blocking contract
	// this package promises callers.
	_ = c.SetReadDeadline(time.Now())
	n, err := c.Read(p)
	if err != nil && isTemporary(err) {
		return n, nil
	}
	return n, err
}

func nonblockingWrite(c net.Conn, p []byte) (int, error) {
	if c == nil {
		return 0, nil
	}
	_ = c.SetWriteDeadline(time.Now().Add(time.Millisecond))
	n, err := c.Write(p)
	if err != nil && isTemporary(err) {
		return n, nil
	}
	return n, err
}

func isTemporary(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
		return true
	}
	return false
}

var _ io.ReadWriteCloser = (net.Conn)(nil)
