// Package codec implements composable frame transforms: Plain, Compression,
// Encryption, Chain, and Predicate.
package codec

import "github.com/remoteops/distant/core/frame"

// Codec transforms a Frame on its way to the wire (Encode) and back
// (Decode). decode(encode(f)) == f must hold for every Frame the codec
// accepts.
type Codec interface {
	Encode(f frame.Frame) (frame.Frame, error)
	Decode(f frame.Frame) (frame.Frame, error)
}

// Plain is the identity codec.
type Plain struct{}

func (Plain) Encode(f frame.Frame) (frame.Frame, error) { return f, nil }
func (Plain) Decode(f frame.Frame) (frame.Frame, error) { return f, nil }

// Chain composes two codecs: encode runs Left then Right; decode runs
// Right then Left (the mirror order).
type Chain struct {
	Left, Right Codec
}

func NewChain(left, right Codec) Chain { return Chain{Left: left, Right: right} }

func (c Chain) Encode(f frame.Frame) (frame.Frame, error) {
	out, err := c.Left.Encode(f)
	if err != nil {
		return nil, err
	}
	return c.Right.Encode(out)
}

func (c Chain) Decode(f frame.Frame) (frame.Frame, error) {
	out, err := c.Right.Decode(f)
	if err != nil {
		return nil, err
	}
	return c.Left.Decode(out)
}

// Predicate dispatches per-frame between two codecs by a pure predicate.
// The predicate must agree on both sides of a connection: it decides which
// branch produced/consumes a given frame.
type Predicate struct {
	Left, Right Codec
	Is          func(f frame.Frame) bool
}

func NewPredicate(left, right Codec, is func(frame.Frame) bool) Predicate {
	return Predicate{Left: left, Right: right, Is: is}
}

func (p Predicate) Encode(f frame.Frame) (frame.Frame, error) {
	if p.Is(f) {
		return p.Left.Encode(f)
	}
	return p.Right.Encode(f)
}

func (p Predicate) Decode(f frame.Frame) (frame.Frame, error) {
	if p.Is(f) {
		return p.Left.Decode(f)
	}
	return p.Right.Decode(f)
}
