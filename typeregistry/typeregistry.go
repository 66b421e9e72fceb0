// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package typeregistry provides runtime type identity for region-resident
// values: every field type that can live inside a region (String, List,
// Matrix, a user's own StructStore-embedded type) registers a TypeInfo here
// once, keyed by a 64-bit hash of its name, and every later operation on a
// type-erased field.Field looks its behaviour up by that hash rather than by
// a Go interface method set (which a raw unsafe.Pointer loaded from shared
// memory cannot carry). Because the hash is a pure function of the name, two
// processes that register the same types agree on every field's identity
// with no negotiation.
package typeregistry

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
)

// NoType is the reserved hash meaning "no type" / an empty name. Hash returns
// this only for the empty string; registering a name that collides with it
// is always a bug in the caller, never the hash function's fault, since a
// non-empty name practically never produces exactly this value.
const NoType uint64 = 0

// Hash computes the 64-bit type hash for name. It is FNV-1a over name's
// bytes taken in reverse order (the last character is folded in first). The
// empty string is defined to hash to NoType.
func Hash(name string) uint64 {
	if len(name) == 0 {
		return NoType
	}
	const offsetBasis uint64 = 0xcbf29ce484222325
	const prime uint64 = 0x100000001b3
	h := offsetBasis
	for i := len(name) - 1; i >= 0; i-- {
		h = (h ^ uint64(name[i])) * prime
	}
	return h
}

// ConstructFn in-place constructs a zero-value instance of the registered
// type at data, using alloc for any region memory the type itself needs to
// reserve (e.g. a List's backing storage) and tag to prove to alloc's
// reentrant lock that this call is nested inside the caller's own
// write-locked operation.
type ConstructFn func(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, data unsafe.Pointer)

// DestructFn releases any region memory owned by the instance at data
// without freeing data itself (the caller, e.g. fieldmap, owns that block).
type DestructFn func(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, data unsafe.Pointer)

// CopyFn copies the value at src into the zero-valued instance at dst.
type CopyFn func(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, dst, src unsafe.Pointer)

// EqualFn reports whether the values at a and b are equal.
type EqualFn func(a, b unsafe.Pointer) bool

// SerializeTextFn returns a human-readable rendering of the value at data as
// a string, which keeps this package free of an `io`/`strings` dependency in
// its public surface.
type SerializeTextFn func(data unsafe.Pointer) string

// SerializeYAMLFn projects the value at data into a YAML-encodable Go value
// (typically via gopkg.in/yaml.v3's Marshaler conventions at the call site).
type SerializeYAMLFn func(data unsafe.Pointer) (any, error)

// CheckFn audits the value at data for structural invariants (e.g. "every
// offset points inside the region"), using trace to build a nested path for
// any error it returns; see errtrace.Trace. Check never allocates, so
// unlike the other lifecycle functions it takes no tag.
type CheckFn func(alloc *sharedalloc.SharedAlloc, data unsafe.Pointer, trace *errtrace.Trace) error

// TypeInfo is everything the rest of the module needs to know about a
// registered type, looked up by hash instead of carried in a Go interface
// value (which cannot be stored as bytes inside a region).
type TypeInfo struct {
	Name      string
	Hash      uint64
	Size      uintptr
	Construct ConstructFn
	Destruct  DestructFn
	Copy      CopyFn
	Equal     EqualFn
	ToText    SerializeTextFn
	ToYAML    SerializeYAMLFn
	Check     CheckFn
}

// registry is process-global: every process running this module code shares
// the same type hashes for the same named types by construction (the hash is
// a pure function of the name), so no region-resident table is needed here,
// unlike sharedalloc.StringStorage which stores field instance names.
var (
	mu    sync.RWMutex
	types = map[uint64]*TypeInfo{}
)

// Register adds info under info.Hash, computing the hash from info.Name if
// Hash is unset. Fails with errs.ErrTypeAlreadyRegistered if the same name is
// registered twice, or errs.ErrTypeHashCollision if two distinct names hash
// to the same value.
func Register(info TypeInfo) error {
	if info.Hash == 0 {
		info.Hash = Hash(info.Name)
	}
	if info.Hash == NoType {
		return fmt.Errorf("%w: name %q hashes to the reserved no-type sentinel", errs.ErrTypeHashCollision, info.Name)
	}

	mu.Lock()
	defer mu.Unlock()

	if existing, ok := types[info.Hash]; ok {
		if existing.Name == info.Name {
			return fmt.Errorf("%w: %q", errs.ErrTypeAlreadyRegistered, info.Name)
		}
		return fmt.Errorf("%w: %q and %q both hash to %#x", errs.ErrTypeHashCollision, info.Name, existing.Name, info.Hash)
	}

	cp := info
	types[info.Hash] = &cp
	return nil
}

// Lookup returns the TypeInfo registered under hash.
func Lookup(hash uint64) (*TypeInfo, error) {
	mu.RLock()
	defer mu.RUnlock()
	info, ok := types[hash]
	if !ok {
		return nil, fmt.Errorf("%w: hash %#x", errs.ErrFieldNotFound, hash)
	}
	return info, nil
}

// MustLookup behaves like Lookup but panics on failure, for call sites that
// already hold a hash produced by a successful Register call (a miss there
// is a programmer error, not a runtime condition a caller should handle).
func MustLookup(hash uint64) *TypeInfo {
	info, err := Lookup(hash)
	if err != nil {
		panic(err)
	}
	return info
}

// Name returns the registered name for hash, or "<unknown>" if none is
// registered, for use in diagnostic/check-trace messages where a missing
// type should not itself panic.
func Name(hash uint64) string {
	mu.RLock()
	defer mu.RUnlock()
	if info, ok := types[hash]; ok {
		return info.Name
	}
	return "<unknown>"
}
