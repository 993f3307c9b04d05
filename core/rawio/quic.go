package rawio

import (
	"context"
	"crypto/tls"

	"github.com/quic-go/quic-go"

	"github.com/remoteops/distant/core/errs"
)

// Quic is a raw transport over a single stream of a QUIC connection,
// addressed the same way as TCP (host:port). Each Quic raw transport owns
// exactly one quic.Connection and its first stream; the handshake and
// framed protocol run over that stream exactly as they would over TCP.
type Quic struct {
	*streamRaw
	addr string
	qc   quic.Connection
}

// quicTLSConfig is intentionally permissive about the server's certificate
// chain: authentication of the remote party happens above this layer, in
// the handshake and auth state machines, not in the transport's TLS config.
func quicTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"distant-quic"},
	}
}

// DialQUIC opens a new QUIC connection to addr and returns a raw transport
// bound to its first stream.
func DialQUIC(ctx context.Context, addr string) (*Quic, error) {
	qc, stream, err := dialQUIC(ctx, addr)
	if err != nil {
		return nil, err
	}
	q := &Quic{addr: addr, qc: qc}
	q.streamRaw = newStreamRaw(stream, func(ctx context.Context) (deadlineConn, error) {
		newQC, newStream, err := dialQUIC(ctx, addr)
		if err != nil {
			return nil, err
		}
		q.qc = newQC
		return newStream, nil
	})
	return q, nil
}

func dialQUIC(ctx context.Context, addr string) (quic.Connection, quic.Stream, error) {
	qc, err := quic.DialAddr(ctx, addr, quicTLSConfig(), nil)
	if err != nil {
		return nil, nil, errs.Wrap(errs.ConnectionRefused, "quic dial failed", err)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "stream open failed")
		return nil, nil, errs.Wrap(errs.ConnectionRefused, "quic stream open failed", err)
	}
	return qc, stream, nil
}

// AcceptedQUIC wraps a server-accepted QUIC stream. Reconnect is
// unsupported on it, per the same rule as AcceptedTCP/AcceptedUnix.
func AcceptedQUIC(qc quic.Connection, stream quic.Stream) *Quic {
	q := &Quic{qc: qc}
	q.streamRaw = newStreamRaw(stream, nil)
	return q
}

// ListenQUIC listens for incoming QUIC connections on addr, accepting one
// stream per connection and handing it back through accept.
func ListenQUIC(ctx context.Context, addr string, accept func(*Quic)) error {
	l, err := quic.ListenAddr(addr, quicTLSConfig(), nil)
	if err != nil {
		return errs.Wrap(errs.Other, "quic listen failed", err)
	}
	go func() {
		defer l.Close()
		for {
			qc, err := l.Accept(ctx)
			if err != nil {
				return
			}
			go func() {
				stream, err := qc.AcceptStream(ctx)
				if err != nil {
					_ = qc.CloseWithError(0, "stream accept failed")
					return
				}
				accept(AcceptedQUIC(qc, stream))
			}()
		}
	}()
	return nil
}
