package conn

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/remoteops/distant/core/version"
)

type pipeFrameIO struct {
	out    chan []byte
	in     chan []byte
	closed bool
}

func newPipePair() (*pipeFrameIO, *pipeFrameIO) {
	a := make(chan []byte, 8)
	b := make(chan []byte, 8)
	return &pipeFrameIO{out: a, in: b}, &pipeFrameIO{out: b, in: a}
}

func (p *pipeFrameIO) WriteFrame(ctx context.Context, b []byte) error {
	p.out <- append([]byte(nil), b...)
	return nil
}

func (p *pipeFrameIO) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeFrameIO) Close() error {
	p.closed = true
	return nil
}

func TestVersionCheckSucceedsWithinWindow(t *testing.T) {
	aIO, bIO := newPipePair()
	ctx := context.Background()

	var wg sync.WaitGroup
	var a, b *Connection
	var aErr, bErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		a, aErr = New(ctx, aIO, version.New(0, 5, 2))
	}()
	go func() {
		defer wg.Done()
		b, bErr = New(ctx, bIO, version.New(0, 5, 9))
	}()
	wg.Wait()

	require.NoError(t, aErr)
	require.NoError(t, bErr)
	require.Equal(t, version.New(0, 5, 9), a.Peer)
	require.Equal(t, version.New(0, 5, 2), b.Peer)
}

func TestVersionCheckFailsAcrossMinorBump(t *testing.T) {
	aIO, bIO := newPipePair()
	ctx := context.Background()

	var wg sync.WaitGroup
	var aErr, bErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, aErr = New(ctx, aIO, version.New(0, 5, 0))
	}()
	go func() {
		defer wg.Done()
		_, bErr = New(ctx, bIO, version.New(0, 6, 0))
	}()
	wg.Wait()

	require.Error(t, aErr)
	require.Error(t, bErr)
	require.True(t, aIO.closed)
	require.True(t, bIO.closed)
}

func TestRequestResponseRoundTrip(t *testing.T) {
	aIO, bIO := newPipePair()
	ctx := context.Background()

	var wg sync.WaitGroup
	var a, b *Connection
	wg.Add(2)
	go func() {
		defer wg.Done()
		a, _ = New(ctx, aIO, version.New(0, 1, 0))
	}()
	go func() {
		defer wg.Done()
		b, _ = New(ctx, bIO, version.New(0, 1, 0))
	}()
	wg.Wait()
	require.NotNil(t, a)
	require.NotNil(t, b)

	require.NoError(t, a.SendRequest(ctx, Request{ID: "req-1", Payload: []byte(`"ping"`)}))
	msg, err := b.Recv(ctx)
	require.NoError(t, err)
	req, ok := msg.(*Request)
	require.True(t, ok)
	require.Equal(t, "req-1", req.ID)

	require.NoError(t, b.SendResponse(ctx, Response{ID: "resp-1", OriginID: req.ID, Payload: []byte(`"pong"`)}))
	msg, err = a.Recv(ctx)
	require.NoError(t, err)
	resp, ok := msg.(*Response)
	require.True(t, ok)
	require.Equal(t, "req-1", resp.OriginID)
}
