//go:build windows

package rawio

import (
	"context"
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/remoteops/distant/core/errs"
)

// Pipe is a raw transport over a Windows named pipe, addressed by
// `\\.\pipe\{name}`.
type Pipe struct {
	*streamRaw
	name string
}

// DialPipe connects to the named pipe at name.
func DialPipe(ctx context.Context, name string) (*Pipe, error) {
	conn, err := dialPipe(ctx, name)
	if err != nil {
		return nil, err
	}
	p := &Pipe{name: name}
	p.streamRaw = newStreamRaw(conn, func(ctx context.Context) (deadlineConn, error) {
		return dialPipe(ctx, name)
	})
	return p, nil
}

func dialPipe(ctx context.Context, name string) (net.Conn, error) {
	conn, err := winio.DialPipeContext(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "named pipe dial failed", err)
	}
	return conn, nil
}

// AcceptedPipe wraps a server-accepted named pipe connection. Reconnect is
// unsupported on it.
func AcceptedPipe(conn net.Conn) *Pipe {
	p := &Pipe{}
	p.streamRaw = newStreamRaw(conn, nil)
	return p
}

// ListenPipe listens on a Windows named pipe at name.
func ListenPipe(name string) (net.Listener, error) {
	l, err := winio.ListenPipe(name, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Other, "named pipe listen failed", err)
	}
	return l, nil
}
