// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package sharedalloc is the region-facing allocation API: it combines
// internal/minimalloc (the size-classed free list), internal/spinlock (the
// reentrant RW lock protecting it) and StringStorage (a region-resident
// interning table) into the single object every other package allocates
// through.
package sharedalloc

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/internal/minimalloc"
	"github.com/fmstephe/structstore/internal/spinlock"
)

// SharedAlloc is the header placed at a fixed location inside a region; the
// byte range immediately following it is the heap minimalloc.MiniMalloc
// manages. Every field here must remain valid after the enclosing region is
// mapped into another process at a different base address, so SharedAlloc
// carries no raw Go pointers of its own: the heap it wraps is handed to
// Init once and recorded by minimalloc.MiniMalloc as self-relative offsets
// rather than stored as a Go slice header.
type SharedAlloc struct {
	lock    spinlock.Mutex
	alloc   minimalloc.MiniMalloc
	strings StringStorage
}

// HeaderSize is the number of bytes SharedAlloc itself occupies at the front
// of a region, before the managed heap begins.
const HeaderSize = int(unsafe.Sizeof(SharedAlloc{}))

// Init prepares heap (the bytes immediately following this SharedAlloc
// header inside the region) as a single free block. Must be called exactly
// once, by whichever process creates the region. The embedded string table
// (see Strings) is initialised separately, since it itself allocates out of
// this heap and so cannot run until the heap is ready.
func (a *SharedAlloc) Init(heap []byte) error {
	return a.alloc.Init(heap)
}

// Strings returns the region-resident string interning table every field
// and type name is interned through. Whichever process creates the region
// must call Strings().Init once, after Init, before any other package reads
// or writes through this SharedAlloc.
func (a *SharedAlloc) Strings() *StringStorage {
	return &a.strings
}

// Allocate reserves at least size bytes and returns a pointer into the
// region. Safe for concurrent use by multiple goroutines/processes holding
// distinct tags.
func (a *SharedAlloc) Allocate(tag *spinlock.Tag, size uint64) (unsafe.Pointer, error) {
	g := spinlock.Write(&a.lock, tag)
	defer g.Unlock()
	return a.alloc.Allocate(size)
}

// Deallocate releases a block previously returned by Allocate.
func (a *SharedAlloc) Deallocate(tag *spinlock.Tag, ptr unsafe.Pointer) {
	g := spinlock.Write(&a.lock, tag)
	defer g.Unlock()
	a.alloc.Deallocate(ptr)
}

// Stats reports a snapshot of allocator bookkeeping, taken under a read
// lock so it never observes a torn split/coalesce.
func (a *SharedAlloc) Stats(tag *spinlock.Tag) (minimalloc.Stats, error) {
	g, err := spinlock.Read(&a.lock, tag)
	if err != nil {
		return minimalloc.Stats{}, err
	}
	defer g.Unlock()
	return a.alloc.Stats(), nil
}

// CheckLeaks reports every block still marked allocated. A non-empty result
// during region teardown is errs.ErrLeakedBlocksOnShutdown.
func (a *SharedAlloc) CheckLeaks(tag *spinlock.Tag) []minimalloc.LeakedBlock {
	g := spinlock.Write(&a.lock, tag)
	defer g.Unlock()
	return a.alloc.CheckLeaks()
}

// IsOwned reports whether ptr lies within the heap this SharedAlloc manages.
func (a *SharedAlloc) IsOwned(ptr unsafe.Pointer) bool {
	return a.alloc.IsOwned(ptr)
}

// AllocateTyped allocates room for one T and returns it uninitialised. The
// caller is responsible for running any in-place constructor logic the type
// needs (see typeregistry.TypeInfo.Construct).
func AllocateTyped[T any](a *SharedAlloc, tag *spinlock.Tag) (*T, error) {
	var zero T
	size := unsafe.Sizeof(zero)
	ptr, err := a.Allocate(tag, uint64(size))
	if err != nil {
		return nil, fmt.Errorf("%w: allocating %T", err, zero)
	}
	return (*T)(ptr), nil
}

// DeallocateTyped releases a block obtained from AllocateTyped[T].
func DeallocateTyped[T any](a *SharedAlloc, tag *spinlock.Tag, ptr *T) {
	a.Deallocate(tag, unsafe.Pointer(ptr))
}
