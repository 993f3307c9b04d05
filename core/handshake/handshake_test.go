package handshake

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/remoteops/distant/core/codec"
	"github.com/remoteops/distant/core/frame"
)

// pipeFrameIO connects two in-process handshake participants through a
// pair of buffered channels, standing in for a framed transport's plain
// read/write during the handshake phase.
type pipeFrameIO struct {
	out chan []byte
	in  chan []byte
}

func newPipePair() (*pipeFrameIO, *pipeFrameIO) {
	a := make(chan []byte, 4)
	b := make(chan []byte, 4)
	return &pipeFrameIO{out: a, in: b}, &pipeFrameIO{out: b, in: a}
}

func (p *pipeFrameIO) WriteFrame(ctx context.Context, b []byte) error {
	cp := append([]byte(nil), b...)
	p.out <- cp
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

func TestNegotiateDerivesMatchingCodecs(t *testing.T) {
	clientIO, serverIO := newPipePair()
	ctx := context.Background()

	var wg sync.WaitGroup
	var clientCodec, serverCodec codec.Codec
	var clientErr, serverErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		clientCodec, clientErr = Negotiate(ctx, RoleClient, clientIO, Prefs{
			PreferredCompression: codec.Gzip,
			PreferredLevel:       6,
			PreferredEncryption:  true,
		})
	}()
	go func() {
		defer wg.Done()
		serverCodec, serverErr = Negotiate(ctx, RoleServer, serverIO, Prefs{
			AvailableCompression: []codec.CompressionType{codec.Zlib, codec.Gzip, codec.Deflate},
			AvailableEncryption:  true,
		})
	}()
	wg.Wait()

	require.NoError(t, clientErr)
	require.NoError(t, serverErr)
	require.NotNil(t, clientCodec)
	require.NotNil(t, serverCodec)

	plaintext := []byte("hello handshake")
	encoded, err := clientCodec.Encode(frame.New(plaintext))
	require.NoError(t, err)

	decoded, err := serverCodec.Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, plaintext, []byte(decoded))
}

func TestNegotiateFallsBackToServerOrderWhenClientHasNoPreference(t *testing.T) {
	clientIO, serverIO := newPipePair()
	ctx := context.Background()

	var wg sync.WaitGroup
	var clientChosen Chosen
	wg.Add(2)
	go func() {
		defer wg.Done()
		c, err := Negotiate(ctx, RoleClient, clientIO, Prefs{})
		require.NoError(t, err)
		require.NotNil(t, c)
	}()
	go func() {
		defer wg.Done()
		chosen, err := negotiateServer(ctx, serverIO, Prefs{
			AvailableCompression: []codec.CompressionType{codec.Zlib, codec.Gzip},
		})
		require.NoError(t, err)
		clientChosen = chosen
		_, err = exchangeKeys(ctx, RoleServer, serverIO)
		require.NoError(t, err)
	}()
	wg.Wait()

	require.Equal(t, codec.Zlib, clientChosen.Compression)
}
