package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/remoteops/distant/core/conn"
	"github.com/remoteops/distant/core/version"
)

type pipeFrameIO struct {
	out    chan []byte
	in     chan []byte
	closed bool
	mu     sync.Mutex
}

func newPipePair() (*pipeFrameIO, *pipeFrameIO) {
	a := make(chan []byte, 32)
	b := make(chan []byte, 32)
	return &pipeFrameIO{out: a, in: b}, &pipeFrameIO{out: b, in: a}
}

func (p *pipeFrameIO) WriteFrame(ctx context.Context, b []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return context.Canceled
	}
	p.out <- append([]byte(nil), b...)
	return nil
}

func (p *pipeFrameIO) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-p.in:
		if !ok {
			return nil, nil
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeFrameIO) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func newConnPair(t *testing.T) (*conn.Connection, *conn.Connection) {
	t.Helper()
	aIO, bIO := newPipePair()
	ctx := context.Background()

	var a, b *conn.Connection
	var aErr, bErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a, aErr = conn.New(ctx, aIO, version.New(0, 1, 0))
	}()
	go func() {
		defer wg.Done()
		b, bErr = conn.New(ctx, bIO, version.New(0, 1, 0))
	}()
	wg.Wait()
	require.NoError(t, aErr)
	require.NoError(t, bErr)
	return a, b
}

func TestClientServerRequestResponse(t *testing.T) {
	clientConn, serverConn := newConnPair(t)
	ctx := context.Background()

	server := NewServer(serverConn, func(ctx context.Context, req *conn.Request, reply *Reply) {
		require.Equal(t, `"ping"`, string(req.Payload))
		require.NoError(t, reply.Send(ctx, []byte(`"pong"`)))
	})
	defer server.Shutdown()

	client := NewClient(clientConn)
	defer client.Shutdown()

	replyCh, err := client.Send(ctx, conn.Request{ID: "req-1", Payload: []byte(`"ping"`)})
	require.NoError(t, err)

	select {
	case resp := <-replyCh:
		require.Equal(t, "req-1", resp.OriginID)
		require.Equal(t, `"pong"`, string(resp.Payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestClientShutdownIsIdempotent(t *testing.T) {
	clientConn, serverConn := newConnPair(t)
	server := NewServer(serverConn, func(ctx context.Context, req *conn.Request, reply *Reply) {})
	defer server.Shutdown()

	client := NewClient(clientConn)
	require.NoError(t, client.Shutdown())
	err := client.Shutdown()
	require.Error(t, err)
}

func TestUnmatchedResponseGoesToUnsolicited(t *testing.T) {
	clientConn, serverConn := newConnPair(t)
	ctx := context.Background()

	client := NewClient(clientConn)
	defer client.Shutdown()

	// Server sends a Response with no corresponding pending request.
	require.NoError(t, serverConn.SendResponse(ctx, conn.Response{ID: "r1", OriginID: "never-asked", Payload: []byte("x")}))

	select {
	case msg := <-client.Unsolicited():
		resp, ok := msg.(*conn.Response)
		require.True(t, ok)
		require.Equal(t, "never-asked", resp.OriginID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unsolicited response")
	}
}
