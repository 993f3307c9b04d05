package manager

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/katzenpost/chacha20poly1305"

	"github.com/remoteops/distant/core/errs"
)

// Keychain persists reauthentication credentials issued on a successful
// static_key/none authentication, so a later reconnect from the same peer
// can offer one transparently instead of prompting again. It follows
// disk.go's StateWriter: an encrypted blob on disk kept current by a
// single background goroutine draining update requests off a channel,
// rather than writing synchronously on every credential change.
type Keychain struct {
	path string
	key  *memguard.LockedBuffer

	mu    sync.Mutex
	creds map[string][]byte // connection id (or peer label) -> credential

	updateCh chan struct{}
	shutdown chan struct{}
	once     sync.Once
	done     chan struct{}
}

// OpenKeychain loads path (if it exists) decrypting it with key, or starts
// empty if path does not exist yet. key must be 32 bytes; the caller
// derives or provisions it out of band (e.g. from an operator-supplied
// master secret), mirroring how StaticKeyMethod's secret is provisioned.
func OpenKeychain(path string, key []byte) (*Keychain, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errs.Newf(errs.InvalidInput, "keychain key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	k := &Keychain{
		path:     path,
		key:      memguard.NewBufferFromBytes(key),
		creds:    make(map[string][]byte),
		updateCh: make(chan struct{}, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if buf, err := os.ReadFile(path); err == nil {
		creds, err := k.decrypt(buf)
		if err != nil {
			return nil, err
		}
		k.creds = creds
	} else if !os.IsNotExist(err) {
		return nil, errs.Wrap(errs.Other, "keychain: read state file failed", err)
	}

	go k.worker()
	return k, nil
}

// Put stores (or replaces) the credential for id and schedules a flush.
func (k *Keychain) Put(id string, credential []byte) {
	k.mu.Lock()
	k.creds[id] = append([]byte(nil), credential...)
	k.mu.Unlock()
	k.scheduleFlush()
}

// Get returns the credential stored for id, if any.
func (k *Keychain) Get(id string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	c, ok := k.creds[id]
	return c, ok
}

// Delete removes any credential stored for id and schedules a flush.
func (k *Keychain) Delete(id string) {
	k.mu.Lock()
	delete(k.creds, id)
	k.mu.Unlock()
	k.scheduleFlush()
}

// NewCredential generates a fresh random id/secret pair, stores the
// secret under id, and returns both for the caller to hand to a peer.
func (k *Keychain) NewCredential() (id string, secret []byte) {
	id = randomID()
	secret = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		panic(err) // crypto/rand failing is unrecoverable
	}
	k.Put(id, secret)
	return id, secret
}

// FindAndConsume reports whether secret matches any credential currently
// held, deleting the matching entry so it cannot be presented twice. This
// mirrors the original keychain's remove_if_has_key: a reauthentication
// key is single-use.
func (k *Keychain) FindAndConsume(secret []byte) (id string, ok bool) {
	k.mu.Lock()
	for candidateID, candidate := range k.creds {
		if subtle.ConstantTimeCompare(candidate, secret) == 1 {
			delete(k.creds, candidateID)
			id = candidateID
			ok = true
			break
		}
	}
	k.mu.Unlock()
	if ok {
		k.scheduleFlush()
	}
	return id, ok
}

func (k *Keychain) scheduleFlush() {
	select {
	case k.updateCh <- struct{}{}:
	default:
		// a flush is already pending; it will pick up this change too
	}
}

func (k *Keychain) worker() {
	defer close(k.done)
	for {
		select {
		case <-k.shutdown:
			_ = k.flush()
			return
		case <-k.updateCh:
			if err := k.flush(); err != nil {
				// Best-effort: the in-memory copy is still authoritative
				// for this process; the next update retries the write.
				continue
			}
		}
	}
}

func (k *Keychain) flush() error {
	k.mu.Lock()
	buf, err := k.encrypt(k.creds)
	k.mu.Unlock()
	if err != nil {
		return err
	}
	return os.WriteFile(k.path, buf, 0o600)
}

func (k *Keychain) encrypt(creds map[string][]byte) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, errs.Wrap(errs.Other, "keychain: encode failed", err)
	}
	aead, err := chacha20poly1305.NewX(k.key.Bytes())
	if err != nil {
		return nil, errs.Wrap(errs.Other, "keychain: init AEAD failed", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.Other, "keychain: generate nonce failed", err)
	}
	sealed := aead.Seal(nil, nonce, plain, nil)
	return append(nonce, sealed...), nil
}

func (k *Keychain) decrypt(buf []byte) (map[string][]byte, error) {
	if len(buf) < chacha20poly1305.NonceSizeX {
		return nil, errs.New(errs.InvalidData, "keychain: state file shorter than nonce")
	}
	aead, err := chacha20poly1305.NewX(k.key.Bytes())
	if err != nil {
		return nil, errs.Wrap(errs.Other, "keychain: init AEAD failed", err)
	}
	nonce, ciphertext := buf[:chacha20poly1305.NonceSizeX], buf[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidData, "keychain: decrypt failed", err)
	}
	var creds map[string][]byte
	if err := json.Unmarshal(plain, &creds); err != nil {
		return nil, errs.Wrap(errs.InvalidData, "keychain: decode failed", err)
	}
	return creds, nil
}

// Close flushes any pending update and stops the worker goroutine.
func (k *Keychain) Close(ctx context.Context) error {
	k.once.Do(func() { close(k.shutdown) })
	select {
	case <-k.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
