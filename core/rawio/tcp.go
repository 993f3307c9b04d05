package rawio

import (
	"context"
	"net"

	"github.com/remoteops/distant/core/errs"
)

// TCP is a raw transport over a TCP connection, addressed by host:port.
type TCP struct {
	*streamRaw
	addr string
}

// DialTCP connects to addr ("host:port"), yielding a client-side, and
// therefore reconnectable, TCP raw transport.
func DialTCP(ctx context.Context, addr string) (*TCP, error) {
	conn, err := dialTCP(ctx, addr)
	if err != nil {
		return nil, err
	}
	t := &TCP{addr: addr}
	t.streamRaw = newStreamRaw(conn, func(ctx context.Context) (deadlineConn, error) {
		return dialTCP(ctx, addr)
	})
	return t, nil
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "tcp dial failed", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// AcceptedTCP wraps a server-accepted TCP connection. Reconnect is
// unsupported on it.
func AcceptedTCP(conn net.Conn) *TCP {
	t := &TCP{}
	t.streamRaw = newStreamRaw(conn, nil)
	return t
}
