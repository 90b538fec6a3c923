package session

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"
)

// Conn is the stream transport behind a session. Write may return a
// timeout error to signal that the kernel buffer is full.
type Conn interface {
	io.Writer
	io.Closer
}

// DatagramWriter sends UDP datagrams to linked sessions.
type DatagramWriter interface {
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
}

type streamConn struct {
	net.Conn
	timeout time.Duration
}

// NewStreamConn wraps c so every Write is bounded by a short deadline,
// which the transport treats as would-block.
func NewStreamConn(c net.Conn, timeout time.Duration) Conn {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &streamConn{Conn: c, timeout: timeout}
}

func (c *streamConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

// wouldBlock reports whether err means "try again later".
func wouldBlock(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
