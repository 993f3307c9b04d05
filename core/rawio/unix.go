//go:build !windows

package rawio

import (
	"context"
	"net"
	"os"

	"github.com/remoteops/distant/core/errs"
)

// removeStaleSocket unlinks a leftover socket file if nothing is listening
// on it, mirroring the cleanup a fresh manager start performs before bind.
func removeStaleSocket(path string) error {
	conn, err := net.Dial("unix", path)
	if err == nil {
		_ = conn.Close()
		return nil // something is actually listening; leave it alone
	}
	return os.Remove(path)
}

// Unix is a raw transport over a Unix domain socket, addressed by
// filesystem path.
type Unix struct {
	*streamRaw
	path string
}

// DialUnix connects to the socket at path.
func DialUnix(ctx context.Context, path string) (*Unix, error) {
	conn, err := dialUnix(ctx, path)
	if err != nil {
		return nil, err
	}
	u := &Unix{path: path}
	u.streamRaw = newStreamRaw(conn, func(ctx context.Context) (deadlineConn, error) {
		return dialUnix(ctx, path)
	})
	return u, nil
}

func dialUnix(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errs.Wrap(errs.ConnectionRefused, "unix socket dial failed", err)
	}
	return conn, nil
}

// AcceptedUnix wraps a server-accepted Unix socket connection. Reconnect
// is unsupported on it.
func AcceptedUnix(conn net.Conn) *Unix {
	u := &Unix{}
	u.streamRaw = newStreamRaw(conn, nil)
	return u
}

// ListenUnix listens on a Unix domain socket at path, removing any stale
// socket file left over from an unclean shutdown first.
func ListenUnix(path string) (net.Listener, error) {
	_ = removeStaleSocket(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errs.Wrap(errs.Other, "unix socket listen failed", err)
	}
	return l, nil
}
