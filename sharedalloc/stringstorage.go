// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package sharedalloc

import (
	"fmt"
	"unsafe"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/fmstephe/flib/fmath"
	"github.com/fmstephe/flib/funsafe"
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/spinlock"
)

// stringEntry is one slot of the open-addressing table. An empty slot has
// hash == 0 && len == 0; since we special-case the empty string (len 0) to
// never occupy a slot, hash == 0 unambiguously marks "never used".
type stringEntry struct {
	hash  uint64
	bytes offsetptr.Ptr[byte]
	len   uint32
	_     uint32 // padding to keep the struct 8-byte aligned
}

// StringStorage is a region-resident string interning table: every process
// that maps the same region resolves the same name to the same bytes,
// which rules out a process-local Go map, whose buckets live in ordinary
// heap memory invisible to other processes. Growth and byte storage both go
// through the enclosing SharedAlloc, so the whole table lives inside the
// region too.
type StringStorage struct {
	alloc    offsetptr.Ptr[SharedAlloc]
	lock     spinlock.Mutex
	table    offsetptr.Ptr[stringEntry]
	capacity uint32
	count    uint32
}

const minTableCapacity = 16

// Init prepares an empty interning table backed by alloc. alloc must
// already be initialised.
func (s *StringStorage) Init(tag *spinlock.Tag, alloc *SharedAlloc) error {
	s.alloc.Set(alloc)
	return s.growTo(tag, minTableCapacity)
}

// Intern stores str if it is not already present and returns a zero-copy
// view over the region-resident bytes; repeated calls with an
// already-interned string return the same underlying bytes without a new
// allocation.
func (s *StringStorage) Intern(tag *spinlock.Tag, str string) (string, error) {
	if len(str) == 0 {
		return "", nil
	}

	g := spinlock.Write(&s.lock, tag)
	defer g.Unlock()

	if s.count*2 >= s.capacity {
		if err := s.growTo(tag, uint32(fmath.NxtPowerOfTwo(int64(s.capacity)+1))); err != nil {
			return "", err
		}
	}

	hash := xxhash.Sum64String(str)
	alloc := s.alloc.Get()
	table := s.tableSlice()

	mask := s.capacity - 1
	idx := uint32(hash) & mask
	for {
		e := &table[idx]
		if e.hash == 0 {
			// Empty slot: claim it.
			buf, err := alloc.Allocate(tag, uint64(len(str)))
			if err != nil {
				return "", fmt.Errorf("structstore: interning %q: %w", str, err)
			}
			dst := unsafe.Slice((*byte)(buf), len(str))
			copy(dst, str)
			e.hash = hash
			e.len = uint32(len(str))
			e.bytes.Set((*byte)(buf))
			s.count++
			return funsafe.BytesToString(dst), nil
		}
		if e.hash == hash && int(e.len) == len(str) {
			existing := s.entryString(e)
			if existing == str {
				return existing, nil
			}
			// Hash collision between distinct strings: probe onward
			// rather than aliasing two different values together.
		}
		idx = (idx + 1) & mask
	}
}

// Lookup returns the interned copy of str and true if present, without
// inserting it.
func (s *StringStorage) Lookup(tag *spinlock.Tag, str string) (string, bool, error) {
	if len(str) == 0 {
		return "", true, nil
	}
	g, err := spinlock.Read(&s.lock, tag)
	if err != nil {
		return "", false, err
	}
	defer g.Unlock()

	if s.capacity == 0 {
		return "", false, nil
	}
	hash := xxhash.Sum64String(str)
	table := s.tableSlice()
	mask := s.capacity - 1
	idx := uint32(hash) & mask
	for {
		e := &table[idx]
		if e.hash == 0 {
			return "", false, nil
		}
		if e.hash == hash && int(e.len) == len(str) {
			existing := s.entryString(e)
			if existing == str {
				return existing, true, nil
			}
		}
		idx = (idx + 1) & mask
	}
}

// Count reports the number of distinct strings currently interned.
func (s *StringStorage) Count() uint32 {
	return s.count
}

func (s *StringStorage) entryString(e *stringEntry) string {
	if e.len == 0 {
		return ""
	}
	ptr := e.bytes.Get()
	b := unsafe.Slice(ptr, int(e.len))
	return funsafe.BytesToString(b)
}

func (s *StringStorage) tableSlice() []stringEntry {
	first := s.table.Get()
	return unsafe.Slice(first, int(s.capacity))
}

// growTo replaces the table with a larger one and rehashes every live
// entry into it. Must be called with the write lock held.
func (s *StringStorage) growTo(tag *spinlock.Tag, newCapacity uint32) error {
	if newCapacity < minTableCapacity {
		newCapacity = minTableCapacity
	}
	alloc := s.alloc.Get()

	newBuf, err := alloc.Allocate(tag, uint64(newCapacity)*uint64(unsafe.Sizeof(stringEntry{})))
	if err != nil {
		return fmt.Errorf("structstore: growing string table to %d slots: %w", newCapacity, err)
	}
	newTable := unsafe.Slice((*stringEntry)(newBuf), int(newCapacity))
	for i := range newTable {
		newTable[i] = stringEntry{}
	}

	if s.capacity > 0 {
		oldTable := s.tableSlice()
		mask := newCapacity - 1
		for i := range oldTable {
			e := &oldTable[i]
			if e.hash == 0 {
				continue
			}
			idx := uint32(e.hash) & mask
			for newTable[idx].hash != 0 {
				idx = (idx + 1) & mask
			}
			// Entries cannot be copied as raw structs: e.bytes is an
			// offsetptr.Ptr whose stored offset is relative to e's own
			// address, meaningless once reinterpreted at newTable[idx]'s
			// address. Rederive it with Get/Set instead.
			dst := &newTable[idx]
			dst.hash = e.hash
			dst.len = e.len
			dst.bytes.Set(e.bytes.Get())
		}
		alloc.Deallocate(tag, unsafe.Pointer(&oldTable[0]))
	}

	s.table.Set(&newTable[0])
	s.capacity = newCapacity
	return nil
}
