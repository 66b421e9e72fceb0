// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package structstore

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/field"
	"github.com/fmstephe/structstore/fieldmap"
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/typeregistry"
)

// StructStore is the region-resident, name-keyed value tree every attached
// process reads and writes. In managed mode every field's storage is owned
// by the store itself (fields are created on first access and freed on
// Clear/Remove/destruction); in unmanaged mode every field is a borrowed
// reference into storage someone else owns, registered with RegisterRef and
// never freed by the store.
type StructStore struct {
	alloc   offsetptr.Ptr[sharedalloc.SharedAlloc]
	lock    spinlock.Mutex
	fields  fieldmap.Map
	managed bool
}

// StructStoreHash is the registered type hash for StructStore, letting one
// StructStore nest inside another as an ordinary managed field.
var StructStoreHash uint64

// Init prepares an empty StructStore backed by alloc. managed selects
// whether fields are store-owned (true) or borrowed (false, see
// RegisterRef). Must be called exactly once before any other method.
func (s *StructStore) Init(alloc *sharedalloc.SharedAlloc, managed bool) {
	s.alloc.Set(alloc)
	s.managed = managed
	s.fields.Init(alloc)
}

// Get returns the field named name, typed as T, constructing it with info
// first if the store is managed and the field does not yet exist. In
// unmanaged mode a missing field is errs.ErrFieldNotFound: unmanaged stores
// never create fields on demand.
func Get[T any](s *StructStore, tag *spinlock.Tag, name string, info *typeregistry.TypeInfo) (*T, error) {
	g := spinlock.Write(&s.lock, tag)
	defer g.Unlock()

	if !s.managed {
		f, err := s.fields.At(tag, name)
		if err != nil {
			return nil, err
		}
		return field.Typed[T](f, info.Hash)
	}

	f, err := s.fields.GetOrInsert(tag, name)
	if err != nil {
		return nil, err
	}
	return field.TypedOrConstruct[T](f, s.alloc.Get(), tag, info)
}

// RegisterRef registers value as an unmanaged, borrowed field under name.
// Only valid on an unmanaged StructStore; fails with
// errs.ErrManagedModeViolation otherwise.
func RegisterRef[T any](s *StructStore, tag *spinlock.Tag, name string, info *typeregistry.TypeInfo, value *T) error {
	if s.managed {
		return errs.ErrManagedModeViolation
	}
	g := spinlock.Write(&s.lock, tag)
	defer g.Unlock()
	return s.fields.StoreRef(tag, name, info.Hash, unsafe.Pointer(value))
}

// Remove erases the field named name. Only valid on a managed StructStore.
func (s *StructStore) Remove(tag *spinlock.Tag, name string) error {
	if !s.managed {
		return errs.ErrManagedModeViolation
	}
	g := spinlock.Write(&s.lock, tag)
	defer g.Unlock()
	return s.fields.Remove(tag, name)
}

// Clear empties the store: managed stores destruct and free every field,
// unmanaged stores simply forget their borrowed references.
func (s *StructStore) Clear(tag *spinlock.Tag) error {
	g := spinlock.Write(&s.lock, tag)
	defer g.Unlock()
	if s.managed {
		return s.fields.Clear(tag)
	}
	s.fields.ClearUnmanaged()
	return nil
}

// CopyFrom replaces s's contents with a deep copy of other's. Both stores
// must be in the same mode (errs.ErrManagedModeViolation otherwise). A
// managed destination is cleared first and every source field is deep-copied
// into it through s's own allocator; if a copy fails partway (typically
// errs.ErrOutOfRegionMemory) the destination is restored to empty rather
// than left holding a partial copy. An unmanaged destination must hold the
// same field names in the same order as the source, and each value is copied
// in place into the externally owned storage it already references.
func (s *StructStore) CopyFrom(tag *spinlock.Tag, other *StructStore, otherTag *spinlock.Tag) error {
	if s.managed != other.managed {
		return errs.ErrManagedModeViolation
	}
	g := spinlock.Write(&s.lock, tag)
	defer g.Unlock()
	g2, err := spinlock.Read(&other.lock, otherTag)
	if err != nil {
		return err
	}
	defer g2.Unlock()

	if s.managed {
		return s.copyManaged(tag, other, otherTag)
	}
	return s.copyUnmanaged(tag, other, otherTag)
}

func (s *StructStore) copyManaged(tag *spinlock.Tag, other *StructStore, otherTag *spinlock.Tag) error {
	if err := s.fields.Clear(tag); err != nil {
		return err
	}
	alloc := s.alloc.Get()
	for _, name := range other.fields.Slots() {
		srcField, err := other.fields.At(otherTag, name)
		if err != nil {
			_ = s.fields.Clear(tag)
			return err
		}
		dstField, err := s.fields.GetOrInsert(tag, name)
		if err != nil {
			_ = s.fields.Clear(tag)
			return err
		}
		if err := dstField.CopyFrom(alloc, tag, srcField); err != nil {
			_ = s.fields.Clear(tag)
			return err
		}
	}
	return nil
}

func (s *StructStore) copyUnmanaged(tag *spinlock.Tag, other *StructStore, otherTag *spinlock.Tag) error {
	srcNames := other.fields.Slots()
	dstNames := s.fields.Slots()
	if len(srcNames) != len(dstNames) {
		return fmt.Errorf("%w: destination has %d fields, source %d", errs.ErrManagedModeViolation, len(dstNames), len(srcNames))
	}
	alloc := s.alloc.Get()
	for i, name := range srcNames {
		if dstNames[i] != name {
			return fmt.Errorf("%w: field %d is %q in destination, %q in source", errs.ErrManagedModeViolation, i, dstNames[i], name)
		}
		srcField, err := other.fields.At(otherTag, name)
		if err != nil {
			return err
		}
		dstField, err := s.fields.At(tag, name)
		if err != nil {
			return err
		}
		srcPtr, err := srcField.Get(srcField.TypeHash)
		if err != nil {
			return err
		}
		dstPtr, err := dstField.Get(srcField.TypeHash)
		if err != nil {
			return err
		}
		info, err := typeregistry.Lookup(srcField.TypeHash)
		if err != nil {
			return err
		}
		info.Copy(alloc, tag, dstPtr, srcPtr)
	}
	return nil
}

// Lock acquires the store's write lock and returns the scoped guard, for
// callers composing several operations that must appear atomic to other
// readers and writers. Methods that take the write lock (Get, RegisterRef,
// Remove, Clear, CopyFrom) nest under the same tag while the guard is held;
// methods that take the read lock (Slots, ToText, ToYAML, Check) fail with
// errs.ErrLockRecursion instead.
func (s *StructStore) Lock(tag *spinlock.Tag) *spinlock.WriteGuard {
	return spinlock.Write(&s.lock, tag)
}

// ReadLock acquires the store's read lock and returns the scoped guard.
// Only read-side methods may be called while it is held; a mutating method
// under the same tag would spin against the guard's own read hold.
func (s *StructStore) ReadLock(tag *spinlock.Tag) (*spinlock.ReadGuard, error) {
	return spinlock.Read(&s.lock, tag)
}

// Slots returns the field names in insertion order.
func (s *StructStore) Slots(tag *spinlock.Tag) ([]string, error) {
	g, err := spinlock.Read(&s.lock, tag)
	if err != nil {
		return nil, err
	}
	defer g.Unlock()
	return s.fields.Slots(), nil
}

// ToText renders every field as a JSON-like object, {"name":value,...}.
func (s *StructStore) ToText(tag *spinlock.Tag) (string, error) {
	g, err := spinlock.Read(&s.lock, tag)
	if err != nil {
		return "", err
	}
	defer g.Unlock()
	return s.fields.ToText()
}

// ToYAML projects every field into a name -> value map.
func (s *StructStore) ToYAML(tag *spinlock.Tag) (map[string]any, error) {
	g, err := spinlock.Read(&s.lock, tag)
	if err != nil {
		return nil, err
	}
	defer g.Unlock()
	return s.fields.ToYAML()
}

// Check audits every field's structural invariants. trace may be nil at the
// outermost call. An unmanaged store holds only borrowed references into
// storage it does not own, so there is nothing of the region's to audit.
func (s *StructStore) Check(tag *spinlock.Tag, trace *errtrace.Trace) error {
	if !s.managed {
		return nil
	}
	g, err := spinlock.Read(&s.lock, tag)
	if err != nil {
		return err
	}
	defer g.Unlock()
	return s.fields.Check(trace)
}

// StoresEqual reports whether s and other hold the same fields with equal
// values.
func StoresEqual(s, other *StructStore, tagS, tagOther *spinlock.Tag) (bool, error) {
	g1, err := spinlock.Read(&s.lock, tagS)
	if err != nil {
		return false, err
	}
	defer g1.Unlock()
	g2, err := spinlock.Read(&other.lock, tagOther)
	if err != nil {
		return false, err
	}
	defer g2.Unlock()
	return s.fields.Equal(&other.fields)
}

func structStoreConstruct(alloc *sharedalloc.SharedAlloc, _ *spinlock.Tag, data unsafe.Pointer) {
	s := (*StructStore)(data)
	s.Init(alloc, true)
}

func structStoreDestruct(_ *sharedalloc.SharedAlloc, tag *spinlock.Tag, data unsafe.Pointer) {
	s := (*StructStore)(data)
	_ = s.Clear(tag)
}

func structStoreCopy(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, dst, src unsafe.Pointer) {
	d, s := (*StructStore)(dst), (*StructStore)(src)
	names := s.fields.Slots()
	for _, name := range names {
		srcField, err := s.fields.At(tag, name)
		if err != nil {
			continue
		}
		dstField, err := d.fields.GetOrInsert(tag, name)
		if err != nil {
			continue
		}
		_ = dstField.CopyFrom(alloc, tag, srcField)
	}
}

func structStoreEqual(a, b unsafe.Pointer) bool {
	sa, sb := (*StructStore)(a), (*StructStore)(b)
	eq, err := sa.fields.Equal(&sb.fields)
	return err == nil && eq
}

func structStoreToText(data unsafe.Pointer) string {
	s := (*StructStore)(data)
	text, err := s.fields.ToText()
	if err != nil {
		return ""
	}
	return text
}

func structStoreToYAML(data unsafe.Pointer) (any, error) {
	s := (*StructStore)(data)
	return s.fields.ToYAML()
}

func structStoreCheck(_ *sharedalloc.SharedAlloc, data unsafe.Pointer, trace *errtrace.Trace) error {
	s := (*StructStore)(data)
	return s.fields.Check(trace)
}

func registerStructStore() {
	info := typeregistry.TypeInfo{
		Name:      "structstore::StructStore",
		Size:      unsafe.Sizeof(StructStore{}),
		Construct: structStoreConstruct,
		Destruct:  structStoreDestruct,
		Copy:      structStoreCopy,
		Equal:     structStoreEqual,
		ToText:    structStoreToText,
		ToYAML:    structStoreToYAML,
		Check:     structStoreCheck,
	}
	if err := typeregistry.Register(info); err != nil {
		panic(err)
	}
	StructStoreHash = typeregistry.Hash(info.Name)
}
