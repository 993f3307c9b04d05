package rawio

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/remoteops/distant/core/errs"
)

// deadlineConn is the subset of net.Conn that both real net.Conn
// implementations and a quic.Stream satisfy, letting streamRaw host either.
type deadlineConn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// streamRaw adapts any stream-oriented connection (TCP, Unix domain socket,
// QUIC stream) to the Raw contract. Reads are peeked through a bufio.Reader
// so TryRead never blocks past pollDeadline without consuming bytes it
// can't yet deliver.
type streamRaw struct {
	mu   sync.Mutex
	conn deadlineConn
	br   *bufio.Reader

	// dial re-establishes the connection for Reconnect. nil on
	// server-accepted instances, which makes Reconnect unsupported.
	dial func(ctx context.Context) (deadlineConn, error)
}

func newStreamRaw(conn deadlineConn, dial func(ctx context.Context) (deadlineConn, error)) *streamRaw {
	return &streamRaw{conn: conn, br: bufio.NewReader(conn), dial: dial}
}

func (s *streamRaw) TryRead(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetReadDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, errs.Wrap(errs.Other, "set read deadline failed", err)
	}
	n, err := s.br.Read(buf)
	_ = s.conn.SetReadDeadline(time.Time{})
	if err != nil {
		if isTimeout(err) {
			return 0, ErrWouldBlock
		}
		return n, classifyNetErr(err)
	}
	return n, nil
}

func (s *streamRaw) TryWrite(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(pollDeadline)); err != nil {
		return 0, errs.Wrap(errs.Other, "set write deadline failed", err)
	}
	n, err := s.conn.Write(buf)
	_ = s.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		if isTimeout(err) {
			return n, ErrWouldBlock
		}
		return n, classifyNetErr(err)
	}
	return n, nil
}

func (s *streamRaw) Ready(ctx context.Context, interest Interest) (Interest, error) {
	// Stream sockets are essentially always writable at this abstraction
	// level (the kernel send buffer rarely fills for our frame sizes), so
	// only readability is worth probing for.
	if !interest.Has(Readable) {
		return interest, nil
	}
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		s.mu.Lock()
		_ = s.conn.SetReadDeadline(time.Now().Add(pollDeadline))
		_, err := s.br.Peek(1)
		_ = s.conn.SetReadDeadline(time.Time{})
		s.mu.Unlock()
		if err == nil {
			return interest, nil
		}
		if isTimeout(err) {
			continue
		}
		// EOF or hard error: surface readiness anyway so the caller's
		// TryRead/read_frame observes the terminal condition.
		return Readable, nil
	}
}

func (s *streamRaw) Reconnect(ctx context.Context) error {
	if s.dial == nil {
		return errs.New(errs.Unsupported, "reconnect is not supported on a server-accepted connection")
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return errs.Wrap(errs.ConnectionRefused, "reconnect dial failed", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
	s.conn = conn
	s.br = bufio.NewReader(conn)
	return nil
}

func (s *streamRaw) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

func classifyNetErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return errs.Wrap(errs.UnexpectedEOF, "connection closed", err)
	}
	return errs.Wrap(errs.ConnectionReset, "raw transport error", err)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
