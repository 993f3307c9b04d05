//go:build !windows

package rawio

import (
	"context"
	"net"

	"github.com/remoteops/distant/core/errs"
)

// Pipe is the non-Windows stand-in: named pipes are a Windows-only
// transport kind, so every operation reports unsupported.
type Pipe struct{}

var errPipeUnsupported = errs.New(errs.Unsupported, "windows named pipes are not available on this platform")

func (p *Pipe) TryRead(buf []byte) (int, error)  { return 0, errPipeUnsupported }
func (p *Pipe) TryWrite(buf []byte) (int, error) { return 0, errPipeUnsupported }
func (p *Pipe) Ready(ctx context.Context, interest Interest) (Interest, error) {
	return 0, errPipeUnsupported
}
func (p *Pipe) Reconnect(ctx context.Context) error { return errPipeUnsupported }
func (p *Pipe) Close() error                        { return nil }

func DialPipe(ctx context.Context, name string) (*Pipe, error) {
	return nil, errs.New(errs.Unsupported, "windows named pipes are not available on this platform")
}

func AcceptedPipe(conn net.Conn) *Pipe { return &Pipe{} }

func ListenPipe(name string) (net.Listener, error) {
	return nil, errs.New(errs.Unsupported, "windows named pipes are not available on this platform")
}
