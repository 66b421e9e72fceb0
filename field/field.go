// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package field implements the type-erased slot every fieldmap.FieldMap
// entry and every structstore.StructStore member actually is: a type hash
// plus a self-relative pointer to the value's bytes, resolved through
// typeregistry at every access instead of through a Go interface (which
// cannot be stored as plain bytes inside a region).
package field

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/typeregistry"
)

// Field is a type-erased, region-resident value slot. The zero value is
// empty. Field must not be copied while non-empty: copying the Data pointer
// without running the registered type's Copy function would alias region
// memory between two slots that both believe they own it.
type Field struct {
	Data     offsetptr.Ptr[byte]
	TypeHash uint64
}

// Empty reports whether the field currently holds no value.
func (f *Field) Empty() bool {
	return f.Data.IsNil()
}

func (f *Field) rawPtr() unsafe.Pointer {
	if f.Empty() {
		return nil
	}
	return unsafe.Pointer(f.Data.Get())
}

// Get returns the raw pointer to the field's value, checking that it
// currently holds a value of type wantHash. Fails with
// errs.ErrFieldNotFound if the field is empty, or errs.ErrTypeMismatch if it
// holds a different type.
func (f *Field) Get(wantHash uint64) (unsafe.Pointer, error) {
	if f.Empty() {
		return nil, fmt.Errorf("%w: field is empty", errs.ErrFieldNotFound)
	}
	if f.TypeHash != wantHash {
		return nil, fmt.Errorf("%w: field holds %q, requested %q",
			errs.ErrTypeMismatch, typeregistry.Name(f.TypeHash), typeregistry.Name(wantHash))
	}
	return f.rawPtr(), nil
}

// Construct allocates room for info's type, in-place constructs it, and
// replaces the field's current contents (which must already be cleared: a
// non-empty field passed to Construct is a programmer error). Returns the
// new value's raw pointer.
func (f *Field) Construct(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, info *typeregistry.TypeInfo) (unsafe.Pointer, error) {
	if !f.Empty() {
		panic(fmt.Sprintf("structstore: Construct called on non-empty field of type %q", typeregistry.Name(f.TypeHash)))
	}
	ptr, err := alloc.Allocate(tag, uint64(info.Size))
	if err != nil {
		return nil, fmt.Errorf("structstore: constructing %q: %w", info.Name, err)
	}
	info.Construct(alloc, tag, ptr)
	f.Data.Set((*byte)(ptr))
	f.TypeHash = info.Hash
	return ptr, nil
}

// GetOrConstruct returns the field's current value, constructing a zero
// value of info's type first if the field is empty. This is the
// managed-mode accessor; unmanaged fields must use Get and treat an empty
// field as an error.
func (f *Field) GetOrConstruct(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, info *typeregistry.TypeInfo) (unsafe.Pointer, error) {
	if f.Empty() {
		return f.Construct(alloc, tag, info)
	}
	return f.Get(info.Hash)
}

// Clear destructs and deallocates the field's current value, if any, then
// resets the field to empty. This is the managed-mode teardown path: the
// field owns its storage and must release it.
func (f *Field) Clear(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag) error {
	if f.Empty() {
		return nil
	}
	info, err := typeregistry.Lookup(f.TypeHash)
	if err != nil {
		return err
	}
	ptr := f.rawPtr()
	info.Destruct(alloc, tag, ptr)
	alloc.Deallocate(tag, ptr)
	f.Data = offsetptr.Ptr[byte]{}
	f.TypeHash = 0
	return nil
}

// ClearUnmanaged resets the field to empty without destructing or freeing
// anything, for fields that only ever borrowed a pointer into storage owned
// elsewhere (see fieldmap's unmanaged variant).
func (f *Field) ClearUnmanaged() {
	f.Data = offsetptr.Ptr[byte]{}
	f.TypeHash = 0
}

// CopyFrom makes f an independent copy of other: allocates fresh storage
// for other's type and runs its registered Copy function. f must be empty.
func (f *Field) CopyFrom(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, other *Field) error {
	if other.Empty() {
		f.ClearUnmanaged()
		return nil
	}
	info, err := typeregistry.Lookup(other.TypeHash)
	if err != nil {
		return err
	}
	ptr, err := f.Construct(alloc, tag, info)
	if err != nil {
		return err
	}
	info.Copy(alloc, tag, ptr, other.rawPtr())
	return nil
}

// MoveFrom swaps the values held by f and other, without any allocation or
// copying of the underlying bytes; when f is empty beforehand, this moves
// other's value into f and leaves other empty. other's Data and f's Data
// cannot simply be swapped as raw structs: each Ptr's stored
// offset is relative to its own address, so the offset bits themselves are
// only meaningful at the Ptr they were computed for (see internal/offsetptr).
// Target addresses are rederived with Get/Set instead.
func (f *Field) MoveFrom(other *Field) {
	fTarget, otherTarget := f.Data.Get(), other.Data.Get()
	f.Data.Set(otherTarget)
	other.Data.Set(fTarget)
	f.TypeHash, other.TypeHash = other.TypeHash, f.TypeHash
}

// Equal reports whether a and b hold equal values: two empty fields are
// equal, an empty and a non-empty field are not, and two non-empty fields
// of different types are not.
func Equal(a, b *Field) (bool, error) {
	if a.Empty() || b.Empty() {
		return a.Empty() == b.Empty(), nil
	}
	if a.TypeHash != b.TypeHash {
		return false, nil
	}
	info, err := typeregistry.Lookup(a.TypeHash)
	if err != nil {
		return false, err
	}
	return info.Equal(a.rawPtr(), b.rawPtr()), nil
}

// ToText renders the field's value using its registered SerializeTextFn.
func (f *Field) ToText() (string, error) {
	if f.Empty() {
		return "", fmt.Errorf("%w: field is empty", errs.ErrFieldNotFound)
	}
	info, err := typeregistry.Lookup(f.TypeHash)
	if err != nil {
		return "", err
	}
	return info.ToText(f.rawPtr()), nil
}

// ToYAML projects the field's value using its registered SerializeYAMLFn.
func (f *Field) ToYAML() (any, error) {
	if f.Empty() {
		return nil, fmt.Errorf("%w: field is empty", errs.ErrFieldNotFound)
	}
	info, err := typeregistry.Lookup(f.TypeHash)
	if err != nil {
		return nil, err
	}
	return info.ToYAML(f.rawPtr())
}

// Check audits the field's value using its registered CheckFn, prefixing
// any error with the field's nested path via trace.
func (f *Field) Check(alloc *sharedalloc.SharedAlloc, trace *errtrace.Trace) error {
	if f.Empty() {
		return nil
	}
	info, err := typeregistry.Lookup(f.TypeHash)
	if err != nil {
		return trace.Wrap(err)
	}
	if !alloc.IsOwned(f.rawPtr()) {
		return trace.Wrap(fmt.Errorf("%w: field data at %p is not owned by this region", errs.ErrInvalidPointer, f.rawPtr()))
	}
	return info.Check(alloc, f.rawPtr(), trace.Push(info.Name))
}

// Typed is a convenience wrapper returning a *T instead of unsafe.Pointer
// for call sites that already know both T and its registered hash (every
// structstore builtin type does, via its own package-level hash constant).
func Typed[T any](f *Field, wantHash uint64) (*T, error) {
	ptr, err := f.Get(wantHash)
	if err != nil {
		return nil, err
	}
	return (*T)(ptr), nil
}

// TypedOrConstruct is the Typed counterpart of GetOrConstruct.
func TypedOrConstruct[T any](f *Field, alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, info *typeregistry.TypeInfo) (*T, error) {
	ptr, err := f.GetOrConstruct(alloc, tag, info)
	if err != nil {
		return nil, err
	}
	return (*T)(ptr), nil
}
