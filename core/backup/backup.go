// Package backup implements the bounded FIFO replay log: a byte-budgeted
// queue of previously-sent frames retained so a reconnect can resync an
// out-of-sync peer.
package backup

import (
	"io"
	"sync"

	"github.com/remoteops/distant/core/errs"
	"github.com/remoteops/distant/core/frame"
)

// DefaultMaxSize is the default byte budget (256 MiB).
const DefaultMaxSize = 256 * 1024 * 1024

// Backup is a bounded FIFO of owned frames plus sent/received counters. All
// methods are safe for concurrent use; mutators are no-ops while frozen.
type Backup struct {
	mu sync.Mutex

	maxSize int64
	size    int64
	frames  []frame.Frame

	frozen   bool
	sent     uint64
	received uint64
}

// New creates a Backup with the default byte budget.
func New() *Backup {
	return &Backup{maxSize: DefaultMaxSize}
}

// SetMaxSize changes the byte budget. A no-op while frozen.
func (b *Backup) SetMaxSize(n int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.maxSize = n
	b.evictLocked()
}

// Push appends f to the back of the queue, evicting from the front until
// the byte budget is satisfied. A no-op while frozen.
func (b *Backup) Push(f frame.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.frames = append(b.frames, f)
	b.size += int64(f.Len())
	b.evictLocked()
}

func (b *Backup) evictLocked() {
	for b.size > b.maxSize && len(b.frames) > 0 {
		b.size -= int64(b.frames[0].Len())
		b.frames = b.frames[1:]
	}
}

// Clear empties the queue and resets counters. A no-op while frozen.
func (b *Backup) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.frames = nil
	b.size = 0
	b.sent = 0
	b.received = 0
}

// Freeze makes every mutator a no-op until Unfreeze is called. Used during
// reconnect so the replaying frames aren't re-appended to the queue they
// were read from.
func (b *Backup) Freeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen = true
}

// Unfreeze resumes normal mutation.
func (b *Backup) Unfreeze() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen = false
}

// Frozen reports whether the backup is currently frozen.
func (b *Backup) Frozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// TruncateFront drops frames from the front until at most n remain,
// preserving FIFO order of the survivors. A no-op while frozen.
func (b *Backup) TruncateFront(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	if n < 0 {
		n = 0
	}
	for len(b.frames) > n {
		b.size -= int64(b.frames[0].Len())
		b.frames = b.frames[1:]
	}
}

// FrameCount returns the number of frames currently queued.
func (b *Backup) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Frames returns a snapshot copy of the queued frames in FIFO order.
func (b *Backup) Frames() []frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]frame.Frame, len(b.frames))
	copy(out, b.frames)
	return out
}

// WriteAll serializes the queued frames in FIFO order using plain framing.
func (b *Backup) WriteAll(dst io.Writer) error {
	b.mu.Lock()
	frames := make([]frame.Frame, len(b.frames))
	copy(frames, b.frames)
	b.mu.Unlock()

	for _, f := range frames {
		buf := f.Encode(nil)
		if _, err := dst.Write(buf); err != nil {
			return errs.Wrap(errs.Other, "backup write_all failed", err)
		}
	}
	return nil
}

// IncrementSent bumps the sent counter. A no-op while frozen.
func (b *Backup) IncrementSent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.sent++
}

// IncrementReceived bumps the received counter. A no-op while frozen.
func (b *Backup) IncrementReceived() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.received++
}

// SetReceived sets the received counter directly, used when adopting the
// peer's reported count during reconnect resync. A no-op while frozen.
func (b *Backup) SetReceived(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return
	}
	b.received = n
}

// Sent returns the current sent counter.
func (b *Backup) Sent() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// Received returns the current received counter.
func (b *Backup) Received() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received
}
