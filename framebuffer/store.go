// Package framebuffer implements the in-memory progressive image store.
//
// A Store holds one FrameBuffer per render session, a FrameBuffer holds one
// RenderBuffer per frame and a RenderBuffer holds one AOVBuffer per AOV.
// All access goes through Store.View (shared) or Store.Update (exclusive).
package framebuffer

import (
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/aton-render/atonstream/utils"
)

var (
	ErrReadOnly        = errors.New("write in read-only transaction")
	ErrSessionNotFound = errors.New("session not found")
)

// Store is the collection of all FrameBuffers, guarded by a single
// reader-writer lock.
type Store struct {
	mu           utils.MonitoredRWMutex
	framebuffers []*FrameBuffer
}

// New returns an empty Store. Write locks held longer than lockWarn are
// logged.
func New(l logrus.FieldLogger, lockWarn time.Duration) *Store {
	s := &Store{}
	s.mu.Logger = l
	s.mu.Name = "framebuffer.Store"
	s.mu.Limit = lockWarn
	return s
}

// View calls fn with a read-only transaction under the read lock
func (s *Store) View(fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Tx{s: s})
}

// Update calls fn with a writable transaction under the write lock
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s, writable: true})
}

// Tx gives access to the FrameBuffers while a lock is held. It must not be
// used after the View or Update function returns.
type Tx struct {
	s        *Store
	writable bool
}

// Writable reports if this transaction was started by Update
func (tx *Tx) Writable() bool { return tx.writable }

// Len returns the number of FrameBuffers
func (tx *Tx) Len() int { return len(tx.s.framebuffers) }

// FrameBuffers returns the FrameBuffers in insertion order
func (tx *Tx) FrameBuffers() []*FrameBuffer {
	return append([]*FrameBuffer(nil), tx.s.framebuffers...)
}

// At returns the FrameBuffer at index i, or nil
func (tx *Tx) At(i int) *FrameBuffer {
	if i < 0 || i >= len(tx.s.framebuffers) {
		return nil
	}
	return tx.s.framebuffers[i]
}

// Last returns the most recently added FrameBuffer, or nil
func (tx *Tx) Last() *FrameBuffer {
	return tx.At(len(tx.s.framebuffers) - 1)
}

// Lookup returns the FrameBuffer for session and its index, or nil and -1.
func (tx *Tx) Lookup(session int64) (*FrameBuffer, int) {
	fb, i, ok := lo.FindIndexOf(tx.s.framebuffers, func(fb *FrameBuffer) bool {
		return fb.session == session
	})
	if !ok {
		return nil, -1
	}
	return fb, i
}

// Resolve returns the FrameBuffer for session. When there is no exact
// match and multiFrame is set, the most recently added FrameBuffer is
// used instead, because a renderer iterating over frames is expected to
// keep its session. It returns nil if nothing matches.
func (tx *Tx) Resolve(session int64, multiFrame bool) *FrameBuffer {
	if fb, _ := tx.Lookup(session); fb != nil {
		return fb
	}
	if multiFrame {
		return tx.Last()
	}
	return nil
}

// Add appends a FrameBuffer
func (tx *Tx) Add(fb *FrameBuffer) error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.s.framebuffers = append(tx.s.framebuffers, fb)
	return nil
}

// Remove removes the FrameBuffer of a session
func (tx *Tx) Remove(session int64) error {
	if !tx.writable {
		return ErrReadOnly
	}
	_, i := tx.Lookup(session)
	if i < 0 {
		return errors.Wrapf(ErrSessionNotFound, "session %d", session)
	}
	tx.s.framebuffers = append(tx.s.framebuffers[:i], tx.s.framebuffers[i+1:]...)
	return nil
}

// Move swaps the FrameBuffer of a session with its neighbour. If up is set,
// it moves towards the end of the list (more recent), otherwise towards the
// start. It returns false if the FrameBuffer is already at that edge.
func (tx *Tx) Move(session int64, up bool) (bool, error) {
	if !tx.writable {
		return false, ErrReadOnly
	}
	_, i := tx.Lookup(session)
	if i < 0 {
		return false, errors.Wrapf(ErrSessionNotFound, "session %d", session)
	}
	j := i - 1
	if up {
		j = i + 1
	}
	if j < 0 || j >= len(tx.s.framebuffers) {
		return false, nil
	}
	fbs := tx.s.framebuffers
	fbs[i], fbs[j] = fbs[j], fbs[i]
	return true, nil
}

// Rename sets the output name of a session
func (tx *Tx) Rename(session int64, name string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	fb, _ := tx.Lookup(session)
	if fb == nil {
		return errors.Wrapf(ErrSessionNotFound, "session %d", session)
	}
	fb.SetOutputName(name)
	return nil
}

// Clear removes all FrameBuffers
func (tx *Tx) Clear() error {
	if !tx.writable {
		return ErrReadOnly
	}
	tx.s.framebuffers = nil
	return nil
}
