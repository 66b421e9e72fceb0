// Package spinlock implements a reentrant, reader-preferring (within the
// writing goroutine) read/write spin lock with a single int32 state word,
// suitable for embedding inside a shared-memory region: it uses no
// OS-level blocking primitive, only relaxed loads and CAS on the state
// word, so it works identically whether the two contending threads are in
// the same process or two processes mapping the same region.
package spinlock

import (
	"math/rand"
	"sync/atomic"

	"github.com/fmstephe/structstore/errs"
)

// Tag is a per-goroutine identity, stamped into a Mutex by whichever
// goroutine holds the write lock so that nested write acquisitions (and
// read-while-write-held detection) can recognise "the same logical thread"
// without depending on any unexported runtime goroutine id. Every goroutine
// that touches a Mutex must carry its own *Tag and pass it into every
// lock/unlock call.
type Tag struct {
	id uint32
}

// NewTag returns a fresh, randomly assigned identity. Call once per
// goroutine/logical-thread that will take locks (e.g. store it in a
// worker's state), then pass the same *Tag into every lock call made by
// that goroutine.
func NewTag() *Tag {
	return &Tag{id: rand.Uint32() | 1} // never zero, zero means "no writer"
}

// Mutex is a reentrant RW spin lock. The zero value is unlocked and ready
// to use. Mutex must not be copied after first use.
type Mutex struct {
	// level > 0: that many concurrent readers. level == 0: unlocked.
	// level < 0: write-locked, with -level nested write acquisitions.
	level int32
	// writerTag is the identity of the goroutine currently holding the
	// write lock, or 0 if unlocked.
	writerTag uint32
}

// ReadLock acquires a shared lock. Fails with errs.ErrLockRecursion if the
// calling tag already holds the write lock on this Mutex (readers cannot
// nest under their own write lock; use nested write acquisition instead).
func (m *Mutex) ReadLock(tag *Tag) error {
	for {
		if atomic.LoadUint32(&m.writerTag) == tag.id {
			return errs.ErrLockRecursion
		}
		level := atomic.LoadInt32(&m.level)
		if level < 0 {
			// Write-locked by someone else: spin.
			continue
		}
		if atomic.CompareAndSwapInt32(&m.level, level, level+1) {
			return nil
		}
	}
}

// ReadUnlock releases one shared lock acquired by ReadLock.
func (m *Mutex) ReadUnlock() {
	atomic.AddInt32(&m.level, -1)
}

// WriteLock acquires an exclusive lock. If tag already holds the write
// lock, this is a nested acquisition: it succeeds immediately and must be
// matched with an additional WriteUnlock.
func (m *Mutex) WriteLock(tag *Tag) {
	if atomic.LoadUint32(&m.writerTag) == tag.id {
		// Nested write acquisition from the same logical thread.
		atomic.AddInt32(&m.level, -1)
		return
	}
	for {
		if atomic.CompareAndSwapInt32(&m.level, 0, -1) {
			atomic.StoreUint32(&m.writerTag, tag.id)
			return
		}
		// Spin: either readers are active or another writer holds it.
	}
}

// WriteUnlock releases one write acquisition. When the nested write count
// reaches zero the lock becomes available to readers and other writers.
func (m *Mutex) WriteUnlock() {
	level := atomic.AddInt32(&m.level, 1)
	if level == 0 {
		atomic.StoreUint32(&m.writerTag, 0)
	}
}

// ReadGuard is a scoped shared-lock guard.
type ReadGuard struct {
	mutex *Mutex
	held  bool
}

// Read acquires a scoped shared lock.
func Read(m *Mutex, tag *Tag) (*ReadGuard, error) {
	if err := m.ReadLock(tag); err != nil {
		return nil, err
	}
	return &ReadGuard{mutex: m, held: true}, nil
}

// Unlock releases the guard. Calling Unlock more than once, or after the
// guard has already been released via defer, is a no-op.
func (g *ReadGuard) Unlock() {
	if g == nil || !g.held {
		return
	}
	g.held = false
	g.mutex.ReadUnlock()
}

// WriteGuard is a scoped exclusive-lock guard.
type WriteGuard struct {
	mutex *Mutex
	held  bool
}

// Write acquires a scoped exclusive lock.
func Write(m *Mutex, tag *Tag) *WriteGuard {
	m.WriteLock(tag)
	return &WriteGuard{mutex: m, held: true}
}

// Unlock releases the guard. Calling Unlock more than once is a no-op.
func (g *WriteGuard) Unlock() {
	if g == nil || !g.held {
		return
	}
	g.held = false
	g.mutex.WriteUnlock()
}
