package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"io"

	"github.com/awnumar/memguard"
	"github.com/katzenpost/chacha20poly1305"

	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/frame"
)

// KeySize is the size in bytes of the AEAD key (256 bits).
const KeySize = 32

// NonceSize is the size in bytes of the per-frame random nonce (192 bits).
const NonceSize = 24

// Encryption is the XChaCha20-Poly1305 AEAD codec. The key is held in a
// memguard.LockedBuffer so it cannot be paged to swap or appear in a core
// dump for the lifetime of the codec.
type Encryption struct {
	key *memguard.LockedBuffer
}

// NewEncryption copies key into locked memory. The caller's slice is wiped
// after the copy.
func NewEncryption(key []byte) (*Encryption, error) {
	if len(key) != KeySize {
		return nil, errs.Newf(errs.InvalidInput, "encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	locked := memguard.NewBufferFromBytes(key)
	return &Encryption{key: locked}, nil
}

// Destroy wipes the key from memory. Call when the codec is no longer
// needed (e.g. after a handshake swap or on transport close).
func (e *Encryption) Destroy() {
	e.key.Destroy()
}

func (e *Encryption) aead() (cipher.AEAD, error) {
	return chacha20poly1305.NewX(e.key.Bytes())
}

func (e *Encryption) Encode(f frame.Frame) (frame.Frame, error) {
	aead, err := e.aead()
	if err != nil {
		return nil, errs.Wrap(errs.Other, "failed to init AEAD", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.Other, "failed to generate nonce", err)
	}
	sealed := aead.Seal(nil, nonce, f, nil)
	out := make([]byte, 0, NonceSize+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return frame.New(out), nil
}

func (e *Encryption) Decode(f frame.Frame) (frame.Frame, error) {
	if len(f) < NonceSize {
		return nil, errs.New(errs.InvalidData, "ciphertext frame shorter than nonce")
	}
	aead, err := e.aead()
	if err != nil {
		return nil, errs.Wrap(errs.Other, "failed to init AEAD", err)
	}
	nonce, ciphertext := f[:NonceSize], f[NonceSize:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, "AEAD authentication failed", err)
	}
	return frame.New(plain), nil
}
