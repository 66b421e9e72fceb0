// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package shared wires internal/shm, sharedalloc and structstore together
// into the named, multi-process region every attacher finds by path: create
// or attach, publish readiness, track usage, revalidate after a creator's
// segment is replaced, and tear down according to a CleanupMode.
//
// A single path serves both backing modes: internal/shm opens path with a
// plain unix.Open, so a path under /dev/shm behaves like POSIX shared
// memory and any other path behaves like a file-backed region, with no
// separate flag needed to choose between them.
package shared

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/shm"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/structstore"
)

// CleanupMode selects what Close does to the backing segment.
type CleanupMode int

const (
	// CleanupNever leaves the segment in place no matter how many
	// attachers have closed.
	CleanupNever CleanupMode = iota
	// CleanupIfLast unlinks the segment when the attacher that closes it
	// was the last one still holding it open.
	CleanupIfLast
	// CleanupAlways unlinks the segment on the first Close, regardless of
	// how many other attachers still hold it mapped; their mappings stay
	// readable until they unmap, but the name can never be found again.
	CleanupAlways
)

// revalidatePoll is how long Revalidate sleeps between busy-wait attempts
// in blocking mode.
const revalidatePoll = time.Millisecond

// Options configures Open.
type Options struct {
	// BufSize is the size in bytes of the heap handed to sharedalloc,
	// used only when this call creates the segment.
	BufSize int64
	// Reinit discards and recreates an existing segment found at path,
	// rather than attaching to it.
	Reinit bool
	// Cleanup selects Close's teardown behaviour.
	Cleanup CleanupMode
}

// sharedData is the fixed-size header placed at the front of every region:
// the bytes immediately following it are the heap sharedalloc.SharedAlloc
// manages, out of which the root StructStore itself is allocated.
type sharedData struct {
	size        int64
	usageCount  int32
	invalidated atomic.Bool
	alloc       sharedalloc.SharedAlloc
	store       offsetptr.Ptr[structstore.StructStore]
}

const sharedDataSize = int64(unsafe.Sizeof(sharedData{}))

// Region is a live attachment to a named, shared StructStore. Each Region
// must only be used by goroutines carrying the Tag it was opened or created
// for; attaching again from another goroutine (or process) returns its own
// independent Region over the same segment.
type Region struct {
	path    string
	seg     *shm.Segment
	data    *sharedData
	cleanup CleanupMode
	tag     *spinlock.Tag
}

// Open attaches to the region named path, creating and publishing it if no
// segment exists there yet. If opts.Reinit is set and a segment is already
// present, that segment is invalidated, unlinked and replaced.
func Open(path string, opts Options) (*Region, error) {
	tag := spinlock.NewTag()
	res, err := shm.Create(path)
	if err != nil {
		return nil, err
	}
	seg := res.Seg
	created := res.Created

	if opts.Reinit && !created {
		size, err := seg.Size()
		if err != nil {
			seg.Close()
			return nil, err
		}
		if size != 0 {
			if err := discardExisting(path, seg, size); err != nil {
				return nil, err
			}
			// The name is now unlinked; recreate it fresh.
			seg.Close()
			res, err = shm.Create(path)
			if err != nil {
				return nil, err
			}
			seg = res.Seg
			created = res.Created
		}
	}

	if !created {
		ready, err := seg.Ready()
		if err != nil {
			seg.Close()
			return nil, err
		}
		if !ready {
			seg.Close()
			return nil, fmt.Errorf("%w: %s", errs.ErrNotReady, path)
		}
		return attachExisting(path, seg, opts.Cleanup, tag)
	}

	bufSize := opts.BufSize
	if bufSize <= 0 {
		bufSize = 4096
	}
	return createFresh(path, seg, bufSize, opts.Cleanup, tag)
}

// FromFD attaches using an already-open file descriptor, e.g. one inherited
// across a fork/exec or passed over a unix socket, rather than looking a
// name up. If init is true a fresh region is created in the (assumed
// already sized) file; otherwise an existing, ready region is attached to.
func FromFD(fd int, init bool, opts Options) (*Region, error) {
	tag := spinlock.NewTag()
	seg := shm.FromFD(fd)
	if init {
		bufSize := opts.BufSize
		if bufSize <= 0 {
			bufSize = 4096
		}
		return createFresh("", seg, bufSize, opts.Cleanup, tag)
	}
	return attachExisting("", seg, opts.Cleanup, tag)
}

// Attach opens an already-published region by name without ever creating
// one: a missing or not-yet-ready segment is an error rather than an empty
// store. This is what a read-only inspector should use instead of Open,
// which will happily create the segment if it is absent.
func Attach(path string, cleanup CleanupMode) (*Region, error) {
	tag := spinlock.NewTag()
	seg, err := shm.OpenExisting(path)
	if err != nil {
		return nil, err
	}
	ready, err := seg.Ready()
	if err != nil {
		seg.Close()
		return nil, err
	}
	if !ready {
		seg.Close()
		return nil, fmt.Errorf("%w: %s", errs.ErrNotReady, path)
	}
	return attachExisting(path, seg, cleanup, tag)
}

func discardExisting(path string, seg *shm.Segment, size int64) error {
	region, err := seg.Map(int(size))
	if err != nil {
		return err
	}
	data := (*sharedData)(unsafe.Pointer(&region[0]))
	data.invalidated.Store(true)
	atomic.AddInt32(&data.usageCount, -1)
	if err := seg.Unmap(); err != nil {
		return err
	}
	return shm.Unlink(path)
}

func createFresh(path string, seg *shm.Segment, bufSize int64, cleanup CleanupMode, tag *spinlock.Tag) (*Region, error) {
	total := sharedDataSize + bufSize
	if err := seg.Truncate(total); err != nil {
		seg.Close()
		return nil, err
	}
	region, err := seg.Map(int(total))
	if err != nil {
		seg.Close()
		return nil, err
	}

	data := (*sharedData)(unsafe.Pointer(&region[0]))
	data.size = total
	data.usageCount = 1

	heap := region[sharedDataSize:]
	if err := data.alloc.Init(heap); err != nil {
		return nil, err
	}
	if err := data.alloc.Strings().Init(tag, &data.alloc); err != nil {
		return nil, err
	}
	store, err := sharedalloc.AllocateTyped[structstore.StructStore](&data.alloc, tag)
	if err != nil {
		return nil, err
	}
	store.Init(&data.alloc, true)
	data.store.Set(store)

	if err := seg.MarkReady(); err != nil {
		return nil, err
	}

	return &Region{path: path, seg: seg, data: data, cleanup: cleanup, tag: tag}, nil
}

func attachExisting(path string, seg *shm.Segment, cleanup CleanupMode, tag *spinlock.Tag) (*Region, error) {
	size, err := seg.Size()
	if err != nil {
		seg.Close()
		return nil, err
	}
	region, err := seg.Map(int(size))
	if err != nil {
		seg.Close()
		return nil, err
	}
	data := (*sharedData)(unsafe.Pointer(&region[0]))
	atomic.AddInt32(&data.usageCount, 1)
	return &Region{path: path, seg: seg, data: data, cleanup: cleanup, tag: tag}, nil
}

// Valid reports whether this Region still refers to a live, non-invalidated
// segment. A Region returned by Open or FromFD is always valid until some
// other attacher invalidates it (see Revalidate).
func (r *Region) Valid() bool {
	return r.data != nil && !r.data.invalidated.Load()
}

// Store returns the root StructStore this region holds, or nil if the
// region has been invalidated. Callers must re-fetch Store after a
// successful Revalidate, since the old pointer refers to a mapping that has
// been unmapped.
func (r *Region) Store() *structstore.StructStore {
	if !r.Valid() {
		return nil
	}
	return r.data.store.Get()
}

// Tag returns the lock identity this Region was opened with, for passing
// into StructStore/List/Matrix methods.
func (r *Region) Tag() *spinlock.Tag {
	return r.tag
}

// Alloc returns the region's allocator, for the field methods (String.Set,
// Matrix.From, List.PushBack's field.Construct) that take an allocator
// explicitly rather than reaching for one through a parent store.
func (r *Region) Alloc() *sharedalloc.SharedAlloc {
	if r.data == nil {
		return nil
	}
	return &r.data.alloc
}

// Revalidate re-attaches to path after this Region has been invalidated by
// another attacher (typically one that opened with Reinit). If block is
// true it busy-waits until a freshly published segment appears; otherwise
// it makes one attempt and returns false if the name is not yet ready.
func (r *Region) Revalidate(block bool) (bool, error) {
	if r.Valid() {
		return true, nil
	}
	if r.path == "" {
		return false, fmt.Errorf("structstore: region opened from a bare file descriptor cannot be revalidated by name")
	}

	for {
		newSeg, err := shm.OpenExisting(r.path)
		if err == nil {
			ready, rerr := newSeg.Ready()
			if rerr == nil && ready {
				size, serr := newSeg.Size()
				if serr == nil {
					// The old mapping stays valid until this instant, so a
					// caller still reading through a pointer obtained from
					// the previous Store() does not fault mid-operation.
					_ = r.seg.Unmap()
					_ = r.seg.Close()

					region, merr := newSeg.Map(int(size))
					if merr == nil {
						r.seg = newSeg
						r.data = (*sharedData)(unsafe.Pointer(&region[0]))
						atomic.AddInt32(&r.data.usageCount, 1)
						return true, nil
					}
				}
			}
			newSeg.Close()
		}
		if !block {
			return false, nil
		}
		time.Sleep(revalidatePoll)
	}
}

// Close decrements the region's usage count and, depending on the
// CleanupMode this Region was opened with, unlinks the backing segment. The
// mapping is always unmapped; Close is safe to call more than once.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}

	newCount := atomic.AddInt32(&r.data.usageCount, -1)
	if (newCount == 0 && r.cleanup == CleanupIfLast) || r.cleanup == CleanupAlways {
		if r.data.invalidated.CompareAndSwap(false, true) {
			store := r.data.store.Get()
			if store != nil {
				_ = store.Clear(r.tag)
				sharedalloc.DeallocateTyped(&r.data.alloc, r.tag, store)
			}
			if r.path != "" {
				_ = shm.Unlink(r.path)
			}
		}
	}

	err := r.seg.Unmap()
	r.data = nil
	if cerr := r.seg.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Addr returns the base address of the mapped region, for diagnostics.
func (r *Region) Addr() unsafe.Pointer {
	return unsafe.Pointer(r.data)
}

// Size returns the total size in bytes of the mapped region, header
// included.
func (r *Region) Size() int64 {
	if r.data == nil {
		return 0
	}
	return r.data.size
}

// UsageCount reports the number of attachers currently holding the region
// open, a snapshot taken with a single atomic load.
func (r *Region) UsageCount() int32 {
	if r.data == nil {
		return 0
	}
	return atomic.LoadInt32(&r.data.usageCount)
}

// ToBuffer copies the whole region, header included, into buf. buf must be
// at least Size() bytes.
func (r *Region) ToBuffer(buf []byte) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %s", errs.ErrSegmentInvalidated, r.path)
	}
	size := int(r.data.size)
	if len(buf) < size {
		return fmt.Errorf("structstore: target buffer too small: need %d, have %d", size, len(buf))
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(r.data)), size)
	copy(buf, src)
	return nil
}

// FromBuffer overwrites this region, header included, with the contents of
// buf, which must have come from a prior ToBuffer call against a region of
// the same size.
func (r *Region) FromBuffer(buf []byte) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %s", errs.ErrSegmentInvalidated, r.path)
	}
	size := int(r.data.size)
	if len(buf) < size {
		return fmt.Errorf("structstore: source buffer too small: need %d, have %d", size, len(buf))
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(r.data)), size)
	copy(dst, buf[:size])
	return nil
}

// RegionsEqual reports whether a and b hold equal StructStore contents.
// Either region being invalidated is errs.ErrSegmentInvalidated.
func RegionsEqual(a, b *Region) (bool, error) {
	if !a.Valid() {
		return false, fmt.Errorf("%w: %s", errs.ErrSegmentInvalidated, a.path)
	}
	if !b.Valid() {
		return false, fmt.Errorf("%w: %s", errs.ErrSegmentInvalidated, b.path)
	}
	return structstore.StoresEqual(a.Store(), b.Store(), a.tag, b.tag)
}

// Check audits the region's root StructStore and every field reachable
// from it. An invalidated (or closed) region is errs.ErrSegmentInvalidated:
// its mapping may already describe a segment some other attacher has
// replaced, so there is nothing meaningful to audit until Revalidate
// succeeds.
func (r *Region) Check() error {
	if !r.Valid() {
		return fmt.Errorf("%w: %s", errs.ErrSegmentInvalidated, r.path)
	}
	return r.Store().Check(r.tag, nil)
}
