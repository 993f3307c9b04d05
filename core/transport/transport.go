// Package transport implements the framed transport: it composes the raw
// transport, frame codec, backup log, and handshake into
// read_frame/write_frame with transparent reconnect and resync.
package transport

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/remoteops/distant/core/backup"
	"github.com/remoteops/distant/core/codec"
	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/frame"
	"github.com/remoteops/distant/core/handshake"
	"github.com/remoteops/distant/core/rawio"
)

// State is a framed transport's position in the handshaking → ready →
// {ready, reconnecting} → closed state machine.
type State int

const (
	Handshaking State = iota
	Ready
	Reconnecting
	Closed
)

// Transport is a bidirectional, reconnectable, length-prefixed message
// channel with a negotiated codec and a replay backup. The zero value is
// not usable; construct with New.
type Transport struct {
	mu sync.Mutex

	raw    rawio.Raw
	backup *backup.Backup
	codec  codec.Codec
	state  State

	role  handshake.Role
	prefs handshake.Prefs

	readBuf []byte
}

// New wraps raw and runs the initial handshake, producing a Transport in
// the Ready state. role/prefs are this side's handshake parameters.
func New(ctx context.Context, raw rawio.Raw, role handshake.Role, prefs handshake.Prefs) (*Transport, error) {
	t := &Transport{
		raw:    raw,
		backup: backup.New(),
		codec:  codec.Plain{},
		state:  Handshaking,
		role:   role,
		prefs:  prefs,
	}
	c, err := handshake.Negotiate(ctx, role, &plainFrameIO{t: t}, prefs)
	if err != nil {
		t.state = Closed
		return nil, err
	}
	t.mu.Lock()
	t.codec = c
	t.state = Ready
	t.mu.Unlock()
	return t, nil
}

// State reports the transport's current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Backup exposes the replay log, e.g. for metrics/introspection.
func (t *Transport) Backup() *backup.Backup { return t.backup }

// WriteFrame encodes b through the current codec, writes it, and
// increments sent. If the backup is not frozen the plaintext frame is
// also appended to it.
func (t *Transport) WriteFrame(ctx context.Context, b []byte) error {
	t.mu.Lock()
	c := t.codec
	t.mu.Unlock()

	encoded, err := c.Encode(frame.New(b))
	if err != nil {
		return errs.Wrap(errs.Other, "frame encode failed", err)
	}
	if err := writeRawFrame(ctx, t.raw, encoded); err != nil {
		// Leave the backup intact: a subsequent reconnect can replay.
		return err
	}
	t.backup.Push(frame.New(b))
	t.backup.IncrementSent()
	return nil
}

// ReadFrame pulls bytes from the raw transport, decodes a frame through
// the current codec, and on success increments received. Returns
// (nil, nil) on clean EOF.
func (t *Transport) ReadFrame(ctx context.Context) ([]byte, error) {
	raw, err := t.readRawFrame(ctx)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	t.mu.Lock()
	c := t.codec
	t.mu.Unlock()

	decoded, err := c.Decode(frame.New(raw))
	if err != nil {
		// Non-fatal: the caller sees the error, the transport stays up.
		return nil, err
	}
	t.backup.IncrementReceived()
	return decoded, nil
}

// Flush blocks until the OS-level write buffer is drained. Go's net.Conn
// has no distinct flush step; writes are already unbuffered syscalls, so
// this is a no-op kept for interface parity with the contract.
func (t *Transport) Flush(ctx context.Context) error { return nil }

// Reconnect freezes the backup, re-establishes the raw connection, re-runs
// the handshake, exchanges received counters, and replays unacknowledged
// frames. Only valid on the client-originated side (the raw transport
// must support Reconnect).
func (t *Transport) Reconnect(ctx context.Context) error {
	t.mu.Lock()
	t.state = Reconnecting
	t.mu.Unlock()

	t.backup.Freeze()
	defer t.backup.Unfreeze()

	if err := t.raw.Reconnect(ctx); err != nil {
		t.mu.Lock()
		t.state = Closed
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.readBuf = nil
	t.mu.Unlock()

	c, err := handshake.Negotiate(ctx, t.role, &plainFrameIO{t: t}, t.prefs)
	if err != nil {
		t.mu.Lock()
		t.state = Closed
		t.mu.Unlock()
		return err
	}
	t.mu.Lock()
	t.codec = c
	t.mu.Unlock()

	if err := t.resync(ctx); err != nil {
		t.mu.Lock()
		t.state = Closed
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.state = Ready
	t.mu.Unlock()
	return nil
}

// AcceptResync is the server-side mirror of Reconnect: invoked by a
// listener/manager when it accepts a new raw connection that continues an
// existing framed transport's backup (the client reconnected). It swaps
// in newRaw, re-runs the handshake as this side's role, and performs the
// same counter exchange and replay steps as Reconnect, but without ever
// calling raw.Reconnect (the new raw endpoint was already dialed/accepted
// by the caller).
func (t *Transport) AcceptResync(ctx context.Context, newRaw rawio.Raw) error {
	t.mu.Lock()
	t.state = Reconnecting
	t.mu.Unlock()

	t.backup.Freeze()
	defer t.backup.Unfreeze()

	t.mu.Lock()
	_ = t.raw.Close()
	t.raw = newRaw
	t.readBuf = nil
	t.mu.Unlock()

	c, err := handshake.Negotiate(ctx, t.role, &plainFrameIO{t: t}, t.prefs)
	if err != nil {
		t.mu.Lock()
		t.state = Closed
		t.mu.Unlock()
		return err
	}
	t.mu.Lock()
	t.codec = c
	t.mu.Unlock()

	if err := t.resync(ctx); err != nil {
		t.mu.Lock()
		t.state = Closed
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.state = Ready
	t.mu.Unlock()
	return nil
}

// resync implements the reconnect handshake's final steps: exchange
// received counters, drop acknowledged backup frames, and replay the rest
// without re-appending them to the backup (which is frozen throughout).
func (t *Transport) resync(ctx context.Context) error {
	localReceived := t.backup.Received()
	if err := t.writeCounter(ctx, localReceived); err != nil {
		return err
	}
	peerReceived, err := t.readCounter(ctx)
	if err != nil {
		return err
	}

	sent := t.backup.Sent()
	keep := 0
	if sent > peerReceived {
		keep = int(sent - peerReceived)
	}
	// TruncateFront is a no-op while frozen, so the freeze is lifted just
	// for the drop; the replay below still runs frozen.
	t.backup.Unfreeze()
	t.backup.TruncateFront(keep)
	t.backup.Freeze()

	for _, f := range t.backup.Frames() {
		t.mu.Lock()
		c := t.codec
		t.mu.Unlock()
		encoded, err := c.Encode(f)
		if err != nil {
			return errs.Wrap(errs.Other, "resync replay encode failed", err)
		}
		if err := writeRawFrame(ctx, t.raw, encoded); err != nil {
			return errs.Wrap(errs.ConnectionReset, "resync replay write failed", err)
		}
	}
	return nil
}

func (t *Transport) writeCounter(ctx context.Context, n uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	t.mu.Lock()
	c := t.codec
	t.mu.Unlock()
	encoded, err := c.Encode(frame.New(b[:]))
	if err != nil {
		return errs.Wrap(errs.Other, "resync counter encode failed", err)
	}
	return writeRawFrame(ctx, t.raw, encoded)
}

func (t *Transport) readCounter(ctx context.Context) (uint64, error) {
	raw, err := t.readRawFrame(ctx)
	if err != nil {
		return 0, err
	}
	if raw == nil || len(raw) != 8 {
		return 0, errs.New(errs.InvalidData, "resync counter frame malformed")
	}
	t.mu.Lock()
	c := t.codec
	t.mu.Unlock()
	decoded, err := c.Decode(frame.New(raw))
	if err != nil {
		return 0, errs.Wrap(errs.InvalidData, "resync counter decode failed", err)
	}
	if len(decoded) != 8 {
		return 0, errs.New(errs.InvalidData, "resync counter payload wrong size")
	}
	return binary.BigEndian.Uint64(decoded), nil
}

// Close closes the underlying raw transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.state = Closed
	t.mu.Unlock()
	return t.raw.Close()
}

// readRawFrame pulls raw wire bytes (still codec-encoded) into t.readBuf
// and decodes one length-prefixed frame, polling the raw transport's
// readiness as needed. Returns (nil, nil) on clean EOF.
func (t *Transport) readRawFrame(ctx context.Context) ([]byte, error) {
	for {
		t.mu.Lock()
		f, consumed, ok, err := frame.Decode(t.readBuf)
		if consumed > 0 {
			t.readBuf = append([]byte(nil), t.readBuf[consumed:]...)
		}
		t.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if ok {
			return []byte(f), nil
		}

		chunk := make([]byte, 64*1024)
		n, err := t.raw.TryRead(chunk)
		if err == rawio.ErrWouldBlock {
			if _, werr := t.raw.Ready(ctx, rawio.Readable); werr != nil {
				return nil, werr
			}
			continue
		}
		if err != nil {
			if errs.KindOf(err) == errs.UnexpectedEOF && n == 0 {
				return nil, nil
			}
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		t.mu.Lock()
		t.readBuf = append(t.readBuf, chunk[:n]...)
		t.mu.Unlock()
	}
}

// writeRawFrame encodes f with length-prefix framing and writes it to raw
// in full, retrying on would_block until Ready reports writable.
func writeRawFrame(ctx context.Context, raw rawio.Raw, f frame.Frame) error {
	buf := f.Encode(nil)
	for len(buf) > 0 {
		n, err := raw.TryWrite(buf)
		if err == rawio.ErrWouldBlock {
			if _, werr := raw.Ready(ctx, rawio.Writable); werr != nil {
				return werr
			}
			continue
		}
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// plainFrameIO adapts a Transport's raw transport to handshake.FrameIO
// using unencoded length-prefixed frames, for use before any codec is
// installed.
type plainFrameIO struct {
	t *Transport
}

func (p *plainFrameIO) WriteFrame(ctx context.Context, b []byte) error {
	return writeRawFrame(ctx, p.t.raw, frame.New(b))
}

func (p *plainFrameIO) ReadFrame(ctx context.Context) ([]byte, error) {
	b, err := p.t.readRawFrame(ctx)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errs.New(errs.UnexpectedEOF, "connection closed during handshake")
	}
	return b, nil
}
