// Package handshake implements the key-exchange and codec-negotiation
// protocol: ephemeral P-256 ECDH, compression/encryption negotiation, and
// a deterministic KDF over the shared secret.
package handshake

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	"crypto/sha256"

	"github.com/remoteops/distant/core/codec"
	"github.com/remoteops/distant/core/errs"
)

// Role identifies which side of the handshake a participant plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// saltSize is the size in bytes of the initiator-chosen KDF salt.
const saltSize = 16

// kdfInfo is the fixed HKDF info string binding derived keys to this
// protocol, so a key derived here can never be confused with a key derived
// by some unrelated HKDF consumer sharing the same shared secret.
const kdfInfo = "remoteops-distant session key v1"

// Prefs is one side's compression/encryption preferences, offered to the
// other side of the handshake.
type Prefs struct {
	// Preferred is tried first by the server when choosing a codec.
	// Zero values mean "no preference": the peer is free to choose.
	PreferredCompression codec.CompressionType
	PreferredLevel       int
	PreferredEncryption  bool // XChaCha20-Poly1305 is the only encryption type; this just turns it on/off.

	// Available lists every type this side can decode, in preference
	// order. Only meaningful on the server.
	AvailableCompression []codec.CompressionType
	AvailableEncryption  bool
}

// Chosen is the negotiated outcome, echoed by the server to the client.
type Chosen struct {
	Compression codec.CompressionType `cbor:"compression"`
	Level       int                   `cbor:"level"`
	Encryption  bool                  `cbor:"encryption"`
}

// FrameIO is the minimal read/write contract the handshake needs from the
// framed transport: plain, unencoded frame bytes, exchanged before any
// codec is installed.
type FrameIO interface {
	WriteFrame(ctx context.Context, b []byte) error
	ReadFrame(ctx context.Context) ([]byte, error)
}

type offerMsg struct {
	PreferredCompression codec.CompressionType `cbor:"preferred_compression"`
	PreferredLevel       int                   `cbor:"preferred_level"`
	PreferredEncryption  bool                  `cbor:"preferred_encryption"`
}

type keyMsg struct {
	PublicKey []byte `cbor:"public_key"`
	Salt      []byte `cbor:"salt,omitempty"`
}

// Negotiate runs the full handshake over rw and returns the codec both
// sides must now use for every subsequent frame. It is symmetric: callers
// on both ends call Negotiate with their own Role and Prefs.
func Negotiate(ctx context.Context, role Role, rw FrameIO, prefs Prefs) (codec.Codec, error) {
	var chosen Chosen
	switch role {
	case RoleClient:
		c, err := negotiateClient(ctx, rw, prefs)
		if err != nil {
			return nil, err
		}
		chosen = c
	case RoleServer:
		c, err := negotiateServer(ctx, rw, prefs)
		if err != nil {
			return nil, err
		}
		chosen = c
	default:
		return nil, errs.Newf(errs.InvalidInput, "unknown handshake role %d", role)
	}

	key, err := exchangeKeys(ctx, role, rw)
	if err != nil {
		return nil, err
	}

	return buildCodec(chosen, key)
}

func negotiateClient(ctx context.Context, rw FrameIO, prefs Prefs) (Chosen, error) {
	offer := offerMsg{
		PreferredCompression: prefs.PreferredCompression,
		PreferredLevel:       prefs.PreferredLevel,
		PreferredEncryption:  prefs.PreferredEncryption,
	}
	b, err := cbor.Marshal(offer)
	if err != nil {
		return Chosen{}, errs.Wrap(errs.Other, "encode handshake offer failed", err)
	}
	if err := rw.WriteFrame(ctx, b); err != nil {
		return Chosen{}, err
	}

	resp, err := rw.ReadFrame(ctx)
	if err != nil {
		return Chosen{}, err
	}
	var chosen Chosen
	if err := cbor.Unmarshal(resp, &chosen); err != nil {
		return Chosen{}, errs.Wrap(errs.InvalidData, "decode chosen codec failed", err)
	}
	return chosen, nil
}

// negotiateServer receives the client's offer, computes the intersection
// against this side's available sets preferring the client's choice when
// it is in fact available, and ties break by the order of the server's
// own advertised list.
func negotiateServer(ctx context.Context, rw FrameIO, prefs Prefs) (Chosen, error) {
	req, err := rw.ReadFrame(ctx)
	if err != nil {
		return Chosen{}, err
	}
	var offer offerMsg
	if err := cbor.Unmarshal(req, &offer); err != nil {
		return Chosen{}, errs.Wrap(errs.InvalidData, "decode handshake offer failed", err)
	}

	chosen := Chosen{
		Compression: chooseCompression(offer.PreferredCompression, prefs.AvailableCompression),
		Level:       offer.PreferredLevel,
		Encryption:  offer.PreferredEncryption && prefs.AvailableEncryption,
	}
	b, err := cbor.Marshal(chosen)
	if err != nil {
		return Chosen{}, errs.Wrap(errs.Other, "encode chosen codec failed", err)
	}
	if err := rw.WriteFrame(ctx, b); err != nil {
		return Chosen{}, err
	}
	return chosen, nil
}

func chooseCompression(preferred codec.CompressionType, available []codec.CompressionType) codec.CompressionType {
	if preferred == "" {
		if len(available) == 0 {
			return ""
		}
		return available[0]
	}
	for _, t := range available {
		if t == preferred {
			return preferred
		}
	}
	if len(available) == 0 {
		return ""
	}
	return available[0]
}

// exchangeKeys runs the ephemeral P-256 ECDH exchange and derives the
// 32-byte session key. The client is the initiator: it picks the salt.
func exchangeKeys(ctx context.Context, role Role, rw FrameIO) ([]byte, error) {
	curve := ecdh.P256()
	priv, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errs.Wrap(errs.Other, "ephemeral key generation failed", err)
	}

	switch role {
	case RoleClient:
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, errs.Wrap(errs.Other, "salt generation failed", err)
		}
		if err := sendKey(ctx, rw, priv, salt); err != nil {
			return nil, err
		}
		peerPub, _, err := recvKey(ctx, rw, curve)
		if err != nil {
			return nil, err
		}
		return deriveKey(priv, peerPub, salt)

	case RoleServer:
		peerPub, salt, err := recvKey(ctx, rw, curve)
		if err != nil {
			return nil, err
		}
		if len(salt) != saltSize {
			return nil, errs.Newf(errs.InvalidData, "handshake salt must be %d bytes, got %d", saltSize, len(salt))
		}
		if err := sendKey(ctx, rw, priv, nil); err != nil {
			return nil, err
		}
		return deriveKey(priv, peerPub, salt)

	default:
		return nil, errs.Newf(errs.InvalidInput, "unknown handshake role %d", role)
	}
}

func sendKey(ctx context.Context, rw FrameIO, priv *ecdh.PrivateKey, salt []byte) error {
	msg := keyMsg{PublicKey: priv.PublicKey().Bytes(), Salt: salt}
	b, err := cbor.Marshal(msg)
	if err != nil {
		return errs.Wrap(errs.Other, "encode public key failed", err)
	}
	return rw.WriteFrame(ctx, b)
}

func recvKey(ctx context.Context, rw FrameIO, curve ecdh.Curve) (*ecdh.PublicKey, []byte, error) {
	b, err := rw.ReadFrame(ctx)
	if err != nil {
		return nil, nil, err
	}
	var msg keyMsg
	if err := cbor.Unmarshal(b, &msg); err != nil {
		return nil, nil, errs.Wrap(errs.InvalidData, "decode public key failed", err)
	}
	pub, err := curve.NewPublicKey(msg.PublicKey)
	if err != nil {
		return nil, nil, errs.Wrap(errs.InvalidData, "malformed peer public key", err)
	}
	return pub, msg.Salt, nil
}

func deriveKey(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey, salt []byte) ([]byte, error) {
	shared, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, "ECDH computation failed", err)
	}
	kdf := hkdf.New(sha256.New, shared, salt, []byte(kdfInfo))
	key := make([]byte, codec.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errs.Wrap(errs.Other, "session key derivation failed", err)
	}
	return key, nil
}

// buildCodec installs Chain(Compression, Encryption) per the chosen
// parameters. A chosen compression of "" means no compression stage, and
// the same for encryption.
func buildCodec(chosen Chosen, key []byte) (codec.Codec, error) {
	var c codec.Codec = codec.Plain{}
	if chosen.Compression != "" {
		c = codec.NewChain(c, codec.NewCompression(chosen.Compression, chosen.Level))
	}
	if chosen.Encryption {
		enc, err := codec.NewEncryption(key)
		if err != nil {
			return nil, err
		}
		c = codec.NewChain(c, enc)
	}
	return c, nil
}
