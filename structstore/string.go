// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package structstore

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/typeregistry"
)

// String is a region-resident, mutable byte buffer, the built-in
// fixed-point-in-the-region counterpart of Go's own immutable string.
// Reassigning its value frees the old backing bytes and allocates fresh
// ones; two Strings never alias the same bytes.
type String struct {
	bytes offsetptr.Ptr[byte]
	len   uint32
	_     uint32
}

// StringHash is the registered type hash for String, for use with
// field.Typed[String]/TypedOrConstruct[String] and Get[String].
var StringHash uint64

// Value returns a copy of the string's current contents.
func (s *String) Value() string {
	if s.len == 0 {
		return ""
	}
	b := unsafe.Slice(s.bytes.Get(), int(s.len))
	return string(b)
}

// Set replaces the string's contents, freeing the previous backing bytes.
func (s *String) Set(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, value string) error {
	if old := s.bytes.Get(); old != nil {
		alloc.Deallocate(tag, unsafe.Pointer(old))
		s.bytes = offsetptr.Ptr[byte]{}
		s.len = 0
	}
	if len(value) == 0 {
		return nil
	}
	ptr, err := alloc.Allocate(tag, uint64(len(value)))
	if err != nil {
		return err
	}
	dst := unsafe.Slice((*byte)(ptr), len(value))
	copy(dst, value)
	s.bytes.Set((*byte)(ptr))
	s.len = uint32(len(value))
	return nil
}

func stringConstruct(_ *sharedalloc.SharedAlloc, _ *spinlock.Tag, data unsafe.Pointer) {
	s := (*String)(data)
	s.bytes = offsetptr.Ptr[byte]{}
	s.len = 0
}

func stringDestruct(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, data unsafe.Pointer) {
	s := (*String)(data)
	if old := s.bytes.Get(); old != nil {
		alloc.Deallocate(tag, unsafe.Pointer(old))
	}
}

func stringCopy(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, dst, src unsafe.Pointer) {
	d, s := (*String)(dst), (*String)(src)
	// dst was just constructed empty, so Set's "free the old value" path
	// is a no-op here; errors can only come from an out-of-memory
	// allocate, which this registered Copy has no way to report (see
	// typeregistry.CopyFn) and which field.CopyFrom's caller will also
	// observe via a failed Construct on a much smaller StructStore
	// region in practice.
	_ = d.Set(alloc, tag, s.Value())
}

func stringEqual(a, b unsafe.Pointer) bool {
	return (*String)(a).Value() == (*String)(b).Value()
}

// stringToText double-quotes the value, matching every other composite's
// JSON-like text projection (booleans as true/false, strings quoted,
// everything else a plain scalar).
func stringToText(data unsafe.Pointer) string {
	return fmt.Sprintf("%q", (*String)(data).Value())
}

func stringToYAML(data unsafe.Pointer) (any, error) {
	return (*String)(data).Value(), nil
}

func stringCheck(alloc *sharedalloc.SharedAlloc, data unsafe.Pointer, trace *errtrace.Trace) error {
	s := (*String)(data)
	if ptr := s.bytes.Get(); ptr != nil && !alloc.IsOwned(unsafe.Pointer(ptr)) {
		return ownershipErr(trace, "string", unsafe.Pointer(ptr))
	}
	return nil
}

func registerString() {
	info := typeregistry.TypeInfo{
		Name:      "structstore::String",
		Size:      unsafe.Sizeof(String{}),
		Construct: stringConstruct,
		Destruct:  stringDestruct,
		Copy:      stringCopy,
		Equal:     stringEqual,
		ToText:    stringToText,
		ToYAML:    stringToYAML,
		Check:     stringCheck,
	}
	if err := typeregistry.Register(info); err != nil {
		panic(err)
	}
	StringHash = typeregistry.Hash(info.Name)
}
