// Package conn implements the version check and Request/Response conduit:
// the first application-level exchange on a framed transport, followed by
// a transparent bidirectional message stream.
package conn

import (
	"context"

	"github.com/fxamacker/cbor/v2"

	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/version"
)

// Request carries a unique id and an opaque payload, chosen by the layer
// above. Fire-and-forget messages are Requests nobody waits on a
// Response for.
type Request struct {
	ID      string          `cbor:"id"`
	Payload cbor.RawMessage `cbor:"payload"`
}

// Response answers the Request whose ID equals OriginID.
type Response struct {
	ID       string          `cbor:"id"`
	OriginID string          `cbor:"origin_id"`
	Payload  cbor.RawMessage `cbor:"payload"`
}

type envelope struct {
	IsResponse bool            `cbor:"is_response"`
	Payload    cbor.RawMessage `cbor:"payload"`
}

// FrameIO is the minimal contract conn needs from the framed transport
// beneath it.
type FrameIO interface {
	WriteFrame(ctx context.Context, b []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

// Connection is a transparent conduit for Request/Response traffic, after
// a successful version compatibility check.
type Connection struct {
	io      FrameIO
	Peer    version.Version
	Local   version.Version
}

// New performs the version check as the first application message
// exchange: both sides send their Version and receive the peer's. If the
// peer's version is not compatible, the connection is closed and
// invalid_data is returned.
func New(ctx context.Context, io FrameIO, local version.Version) (*Connection, error) {
	localBytes, err := local.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.Other, "encode local version failed", err)
	}
	if err := io.WriteFrame(ctx, localBytes); err != nil {
		return nil, err
	}

	peerBytes, err := io.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	if peerBytes == nil {
		return nil, errs.New(errs.UnexpectedEOF, "connection closed during version check")
	}

	var peer version.Version
	if err := peer.UnmarshalBinary(peerBytes); err != nil {
		_ = io.Close()
		return nil, errs.Wrap(errs.InvalidData, "malformed peer version", err)
	}
	if !local.IsCompatibleWith(peer) {
		_ = io.Close()
		return nil, errs.Newf(errs.InvalidData, "incompatible peer version %s (local %s)", peer, local)
	}

	return &Connection{io: io, Peer: peer, Local: local}, nil
}

// SendRequest writes req as a Request frame.
func (c *Connection) SendRequest(ctx context.Context, req Request) error {
	return c.send(ctx, envelope{IsResponse: false}, req)
}

// SendResponse writes resp as a Response frame.
func (c *Connection) SendResponse(ctx context.Context, resp Response) error {
	return c.send(ctx, envelope{IsResponse: true}, resp)
}

func (c *Connection) send(ctx context.Context, env envelope, msg interface{}) error {
	payload, err := cbor.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.Other, "encode message failed", err)
	}
	env.Payload = payload
	b, err := cbor.Marshal(env)
	if err != nil {
		return errs.Wrap(errs.Other, "encode envelope failed", err)
	}
	return c.io.WriteFrame(ctx, b)
}

// Recv reads the next frame and returns either a *Request or a *Response.
// Returns (nil, nil) on clean EOF.
func (c *Connection) Recv(ctx context.Context) (interface{}, error) {
	b, err := c.io.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return nil, errs.Wrap(errs.InvalidData, "decode envelope failed", err)
	}
	if env.IsResponse {
		var resp Response
		if err := cbor.Unmarshal(env.Payload, &resp); err != nil {
			return nil, errs.Wrap(errs.InvalidData, "decode response failed", err)
		}
		return &resp, nil
	}
	var req Request
	if err := cbor.Unmarshal(env.Payload, &req); err != nil {
		return nil, errs.Wrap(errs.InvalidData, "decode request failed", err)
	}
	return &req, nil
}

// Close closes the underlying framed transport.
func (c *Connection) Close() error { return c.io.Close() }
