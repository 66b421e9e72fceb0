// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package offsetptr implements a position-independent, self-relative
// pointer. A region containing OffsetPtr values can be mapped into a
// different process at a different base address and every OffsetPtr will
// still dereference correctly, because the stored offset is always relative
// to the OffsetPtr's own address rather than to some fixed region base.
package offsetptr

import "unsafe"

// nullOffset is the reserved offset value used to represent nil. It is 0,
// not some other sentinel, specifically so that the Go zero value of Ptr —
// and a freshly zeroed page of mmap'd shared memory, and a make([]byte, n)
// buffer before anything has been written into it — is automatically a
// valid nil pointer with no explicit initialization step required.
//
// An alternative encoding reserves 1 for nil and keeps 0 meaning "refers
// to itself", but that only works when every Ptr provably runs an
// initializer (writing the sentinel) before anything can read it. Go gives
// no such guarantee for a struct obtained by casting a pointer over raw
// region bytes: every Ptr embedded in an allocator header, a free-list
// array, or a freshly grown region-resident table starts out as exactly
// its zero value, with no constructor call in between. Reserving 0 for nil
// trades away self-reference (never needed anywhere in this module) for
// "zero-initialized is always safe".
const nullOffset = int64(0)

// Ptr is a self-relative reference to a value of type T. The zero value is
// nil and ready to use; it needs no explicit initialization.
type Ptr[T any] struct {
	offset int64
}

// Of constructs an OffsetPtr living at the address of dst (normally &somefield)
// and pointing at target. Passing a nil target produces a nil Ptr.
func Of[T any](dst *Ptr[T], target *T) {
	dst.Set(target)
}

// IsNil reports whether this pointer currently refers to nothing.
func (p *Ptr[T]) IsNil() bool {
	return p.offset == nullOffset
}

// Get dereferences the pointer, returning nil if it is currently nil.
//
// The returned *T is only valid as long as the surrounding region is mapped
// at its current base address; it must never be retained past a
// revalidation of the region (see shared.Region.Revalidate).
func (p *Ptr[T]) Get() *T {
	if p.offset == nullOffset {
		return nil
	}
	return (*T)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(p.offset)))
}

// Set stores a new target, recomputing the offset relative to p's own
// address. This is the only way to change what an OffsetPtr refers to: the
// offset is always rederived from the target's absolute address, never
// copied bitwise from another OffsetPtr.
func (p *Ptr[T]) Set(target *T) {
	if target == nil {
		p.offset = nullOffset
		return
	}
	self := uintptr(unsafe.Pointer(p))
	p.offset = int64(uintptr(unsafe.Pointer(target)) - self)
}

// AssignFrom makes p refer to the same target as src, re-deriving the
// offset relative to p's own (possibly different) address. This is the
// position-independent equivalent of copy/move assignment: it is never
// correct to copy the raw offset field between two OffsetPtr values that
// live at different addresses.
func (p *Ptr[T]) AssignFrom(src *Ptr[T]) {
	p.Set(src.Get())
}

// Equal reports whether p and q currently refer to the same target.
func (p *Ptr[T]) Equal(q *Ptr[T]) bool {
	return p.Get() == q.Get()
}

// Plus returns the target obtained by advancing p's target by k elements of
// T, the way raw pointer arithmetic would. It does not mutate p. The result
// must be stored into some OffsetPtr via Set before it is usable as a
// position-independent reference.
func (p *Ptr[T]) Plus(k int) *T {
	t := p.Get()
	if t == nil {
		return nil
	}
	return (*T)(unsafe.Add(unsafe.Pointer(t), k*int(unsafe.Sizeof(*t))))
}

// Diff returns the distance, measured in elements of T, between p's target
// and q's target.
func (p *Ptr[T]) Diff(q *Ptr[T]) int {
	pt := uintptr(unsafe.Pointer(p.Get()))
	qt := uintptr(unsafe.Pointer(q.Get()))
	return int(pt-qt) / int(unsafe.Sizeof(*p.Get()))
}
