// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package fieldmap implements the ordered name -> field.Field container
// every structstore.StructStore is built from. Entries are stored in
// insertion order in a single region-resident dynamic array grown by
// doubling, rather than in a separate hash index plus an order vector:
// struct field counts are small enough in practice that a linear scan by
// name-hash is simpler to keep region-resident without introducing a second
// dynamic structure, and it preserves insertion order for free since the
// array order is the iteration order.
package fieldmap

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/field"
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
)

// entry is one slot of the array: an interned name plus its field.Field.
// In unmanaged mode, value.Data points into storage owned by whoever called
// StoreRef; in managed mode it points at storage this Map itself allocated
// and must free.
type entry struct {
	nameHash uint64
	namePtr  offsetptr.Ptr[byte]
	nameLen  uint32
	_        uint32
	value    field.Field
}

const minCapacity = 4

// Map is the region-resident container. The zero value is an empty,
// uninitialized Map; call Init before any other method.
type Map struct {
	alloc    offsetptr.Ptr[sharedalloc.SharedAlloc]
	entries  offsetptr.Ptr[entry]
	capacity uint32
	count    uint32
}

// Init associates m with alloc. Must be called exactly once before any
// other method.
func (m *Map) Init(alloc *sharedalloc.SharedAlloc) {
	m.alloc.Set(alloc)
}

// Empty reports whether the map currently holds no fields.
func (m *Map) Empty() bool {
	return m.count == 0
}

// Len reports the number of fields currently stored.
func (m *Map) Len() uint32 {
	return m.count
}

func (m *Map) entriesSlice() []entry {
	first := m.entries.Get()
	if first == nil {
		return nil
	}
	return unsafe.Slice(first, int(m.capacity))
}

// find scans for name, using the cheap hash and length checks only to
// short-circuit the exact content compare: two distinct names colliding on
// the 64-bit hash must never alias each other's entries.
func (m *Map) find(nameHash uint64, name string) *entry {
	entries := m.entriesSlice()
	for i := range entries[:m.count] {
		e := &entries[i]
		if e.nameHash == nameHash && e.nameLen == uint32(len(name)) && m.entryName(e) == name {
			return e
		}
	}
	return nil
}

func (m *Map) entryName(e *entry) string {
	if e.nameLen == 0 {
		return ""
	}
	b := unsafe.Slice(e.namePtr.Get(), int(e.nameLen))
	return string(b)
}

// Slots returns the field names in insertion order.
func (m *Map) Slots() []string {
	entries := m.entriesSlice()
	names := make([]string, 0, m.count)
	for i := range entries[:m.count] {
		names = append(names, m.entryName(&entries[i]))
	}
	return names
}

// TryGet returns the field stored under name, or ok=false if none exists.
func (m *Map) TryGet(tag *spinlock.Tag, name string) (*field.Field, bool, error) {
	alloc := m.alloc.Get()
	interned, _, err := alloc.Strings().Lookup(tag, name)
	if err != nil {
		return nil, false, err
	}
	hash := nameHash(name)
	e := m.find(hash, interned)
	if e == nil {
		return nil, false, nil
	}
	return &e.value, true, nil
}

// At returns the field stored under name, failing with
// errs.ErrFieldNotFound if no such field exists. This is the unmanaged-mode
// accessor: it never creates an entry.
func (m *Map) At(tag *spinlock.Tag, name string) (*field.Field, error) {
	f, ok, err := m.TryGet(tag, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrFieldNotFound, name)
	}
	return f, nil
}

// GetOrInsert returns the field stored under name in managed mode,
// inserting a new empty entry first if none exists. The returned field may
// still be empty; callers construct its value with field.Construct or
// field.GetOrConstruct.
func (m *Map) GetOrInsert(tag *spinlock.Tag, name string) (*field.Field, error) {
	if f, ok, err := m.TryGet(tag, name); err != nil {
		return nil, err
	} else if ok {
		return f, nil
	}

	alloc := m.alloc.Get()
	interned, err := alloc.Strings().Intern(tag, name)
	if err != nil {
		return nil, err
	}

	if m.count >= m.capacity {
		if err := m.growTo(tag, nextCapacity(m.capacity)); err != nil {
			return nil, err
		}
	}

	entries := m.entriesSlice()
	e := &entries[m.count]
	e.nameHash = nameHash(name)
	e.nameLen = uint32(len(interned))
	if len(interned) > 0 {
		e.namePtr.Set(unsafe.StringData(interned))
	}
	m.count++
	return &e.value, nil
}

// StoreRef registers an unmanaged, borrowed field pointing at data, which
// this Map does not own and will never free. Fails with
// errs.ErrFieldNameExists if name is already registered.
func (m *Map) StoreRef(tag *spinlock.Tag, name string, typeHash uint64, data unsafe.Pointer) error {
	if _, ok, err := m.TryGet(tag, name); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %q", errs.ErrFieldNameExists, name)
	}

	alloc := m.alloc.Get()
	interned, err := alloc.Strings().Intern(tag, name)
	if err != nil {
		return err
	}

	if m.count >= m.capacity {
		if err := m.growTo(tag, nextCapacity(m.capacity)); err != nil {
			return err
		}
	}

	entries := m.entriesSlice()
	e := &entries[m.count]
	e.nameHash = nameHash(name)
	e.nameLen = uint32(len(interned))
	if len(interned) > 0 {
		e.namePtr.Set(unsafe.StringData(interned))
	}
	e.value.Data.Set((*byte)(data))
	e.value.TypeHash = typeHash
	m.count++
	return nil
}

// Remove clears and erases the field stored under name in managed mode.
func (m *Map) Remove(tag *spinlock.Tag, name string) error {
	alloc := m.alloc.Get()
	interned, _, err := alloc.Strings().Lookup(tag, name)
	if err != nil {
		return err
	}
	hash := nameHash(name)
	entries := m.entriesSlice()
	idx := -1
	for i := range entries[:m.count] {
		if entries[i].nameHash == hash && m.entryName(&entries[i]) == interned {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", errs.ErrFieldNotFound, name)
	}

	if err := entries[idx].value.Clear(alloc, tag); err != nil {
		return err
	}

	// Preserve insertion order of the remaining entries. Each entry's
	// namePtr/value.Data offsets are relative to the entry's own address,
	// so a shift must rederive them with Get/Set rather than copy the
	// entry struct wholesale (see internal/offsetptr).
	for i := idx; i < int(m.count)-1; i++ {
		src, dst := &entries[i+1], &entries[i]
		dst.nameHash = src.nameHash
		dst.nameLen = src.nameLen
		dst.namePtr.Set(src.namePtr.Get())
		dst.value.TypeHash = src.value.TypeHash
		dst.value.Data.Set(src.value.Data.Get())
	}
	// The vacated last slot must read as empty for the next insert.
	entries[m.count-1] = entry{}
	m.count--
	return nil
}

// Clear destructs and frees every managed field, then empties the map.
func (m *Map) Clear(tag *spinlock.Tag) error {
	alloc := m.alloc.Get()
	entries := m.entriesSlice()
	for i := range entries[:m.count] {
		if err := entries[i].value.Clear(alloc, tag); err != nil {
			return err
		}
	}
	m.count = 0
	return nil
}

// ClearUnmanaged forgets every unmanaged field without freeing anything.
func (m *Map) ClearUnmanaged() {
	entries := m.entriesSlice()
	for i := range entries[:m.count] {
		entries[i].value.ClearUnmanaged()
	}
	m.count = 0
}

// Equal reports whether m and other hold the same names in the same order
// with equal values.
func (m *Map) Equal(other *Map) (bool, error) {
	if m.count != other.count {
		return false, nil
	}
	a, b := m.entriesSlice(), other.entriesSlice()
	for i := range a[:m.count] {
		if a[i].nameHash != b[i].nameHash || m.entryName(&a[i]) != other.entryName(&b[i]) {
			return false, nil
		}
		eq, err := field.Equal(&a[i].value, &b[i].value)
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}

// ToText renders every field as a JSON-like object, {"name":value,...}, in
// insertion order. Every entry is followed by a comma, including the last.
func (m *Map) ToText() (string, error) {
	entries := m.entriesSlice()
	out := "{"
	for i := range entries[:m.count] {
		text, err := entries[i].value.ToText()
		if err != nil {
			return "", err
		}
		out += fmt.Sprintf("%q:%s,", m.entryName(&entries[i]), text)
	}
	return out + "}", nil
}

// ToYAML projects every field into a name -> value map, preserving
// insertion order is not representable in a plain Go map; callers that need
// ordered YAML output should use Slots alongside this.
func (m *Map) ToYAML() (map[string]any, error) {
	entries := m.entriesSlice()
	out := make(map[string]any, m.count)
	for i := range entries[:m.count] {
		v, err := entries[i].value.ToYAML()
		if err != nil {
			return nil, err
		}
		out[m.entryName(&entries[i])] = v
	}
	return out, nil
}

// Check audits every field, prefixing errors with the field's name via trace.
func (m *Map) Check(trace *errtrace.Trace) error {
	alloc := m.alloc.Get()
	entries := m.entriesSlice()
	for i := range entries[:m.count] {
		name := m.entryName(&entries[i])
		if err := entries[i].value.Check(alloc, trace.Push(name)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Map) growTo(tag *spinlock.Tag, newCapacity uint32) error {
	alloc := m.alloc.Get()
	newBuf, err := alloc.Allocate(tag, uint64(newCapacity)*uint64(unsafe.Sizeof(entry{})))
	if err != nil {
		return fmt.Errorf("structstore: growing field map to %d entries: %w", newCapacity, err)
	}
	newEntries := unsafe.Slice((*entry)(newBuf), int(newCapacity))
	for i := range newEntries {
		newEntries[i] = entry{}
	}

	if m.capacity > 0 {
		old := m.entriesSlice()
		for i := range old[:m.count] {
			src := &old[i]
			dst := &newEntries[i]
			dst.nameHash = src.nameHash
			dst.nameLen = src.nameLen
			dst.namePtr.Set(src.namePtr.Get())
			dst.value.TypeHash = src.value.TypeHash
			dst.value.Data.Set(src.value.Data.Get())
		}
		alloc.Deallocate(tag, unsafe.Pointer(&old[0]))
	}

	m.entries.Set(&newEntries[0])
	m.capacity = newCapacity
	return nil
}

func nextCapacity(current uint32) uint32 {
	if current == 0 {
		return minCapacity
	}
	return current * 2
}

// nameHash is a cheap non-cryptographic scramble used only to short-circuit
// the linear scan in find/Remove before falling back to an exact string
// compare; it is unrelated to typeregistry.Hash.
func nameHash(name string) uint64 {
	const offsetBasis uint64 = 14695981039346656037
	const prime uint64 = 1099511628211
	h := offsetBasis
	for i := 0; i < len(name); i++ {
		h = (h ^ uint64(name[i])) * prime
	}
	return h
}
