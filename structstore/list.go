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
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/typeregistry"
)

const listMinCapacity = 4

// List is a region-resident, ordered, heterogeneously-typed sequence of
// fields. Every element is always managed: List owns every field it holds
// and frees it on Erase/Clear/destruction, unlike StructStore, which also
// supports an unmanaged mode.
type List struct {
	alloc    offsetptr.Ptr[sharedalloc.SharedAlloc]
	lock     spinlock.Mutex
	entries  offsetptr.Ptr[field.Field]
	capacity uint32
	count    uint32
}

// ListHash is the registered type hash for List.
var ListHash uint64

func (l *List) entriesSlice() []field.Field {
	first := l.entries.Get()
	if first == nil {
		return nil
	}
	return unsafe.Slice(first, int(l.capacity))
}

// Len reports the number of elements currently in the list.
func (l *List) Len(tag *spinlock.Tag) (uint32, error) {
	g, err := spinlock.Read(&l.lock, tag)
	if err != nil {
		return 0, err
	}
	defer g.Unlock()
	return l.count, nil
}

// At returns the field at index, failing with errs.ErrIndexOutOfRange if
// index is out of bounds.
func (l *List) At(tag *spinlock.Tag, index uint32) (*field.Field, error) {
	g, err := spinlock.Read(&l.lock, tag)
	if err != nil {
		return nil, err
	}
	defer g.Unlock()
	if index >= l.count {
		return nil, fmt.Errorf("%w: index %d, len %d", errs.ErrIndexOutOfRange, index, l.count)
	}
	return &l.entriesSlice()[index], nil
}

// PushBack appends a new empty field and returns it for the caller to
// construct.
func (l *List) PushBack(tag *spinlock.Tag) (*field.Field, error) {
	g := spinlock.Write(&l.lock, tag)
	defer g.Unlock()

	if l.count >= l.capacity {
		if err := l.growTo(tag, nextListCapacity(l.capacity)); err != nil {
			return nil, err
		}
	}
	entries := l.entriesSlice()
	f := &entries[l.count]
	l.count++
	return f, nil
}

// Insert makes room for a new empty field at index, shifting later elements
// up by one, and returns it for the caller to construct.
func (l *List) Insert(tag *spinlock.Tag, index uint32) (*field.Field, error) {
	g := spinlock.Write(&l.lock, tag)
	defer g.Unlock()

	if index > l.count {
		return nil, fmt.Errorf("%w: index %d, len %d", errs.ErrIndexOutOfRange, index, l.count)
	}
	if l.count >= l.capacity {
		if err := l.growTo(tag, nextListCapacity(l.capacity)); err != nil {
			return nil, err
		}
	}
	entries := l.entriesSlice()
	for i := l.count; i > index; i-- {
		moveField(&entries[i], &entries[i-1])
	}
	entries[index] = field.Field{}
	l.count++
	return &entries[index], nil
}

// Erase destructs and removes the field at index, shifting later elements
// down by one.
func (l *List) Erase(tag *spinlock.Tag, index uint32) error {
	g := spinlock.Write(&l.lock, tag)
	defer g.Unlock()

	if index >= l.count {
		return fmt.Errorf("%w: index %d, len %d", errs.ErrIndexOutOfRange, index, l.count)
	}
	alloc := l.alloc.Get()
	entries := l.entriesSlice()
	if err := entries[index].Clear(alloc, tag); err != nil {
		return err
	}
	for i := index; i < l.count-1; i++ {
		moveField(&entries[i], &entries[i+1])
	}
	l.count--
	return nil
}

// Clear destructs every element and empties the list.
func (l *List) Clear(tag *spinlock.Tag) error {
	g := spinlock.Write(&l.lock, tag)
	defer g.Unlock()
	return l.clearLocked(tag)
}

func (l *List) clearLocked(tag *spinlock.Tag) error {
	alloc := l.alloc.Get()
	entries := l.entriesSlice()
	for i := range entries[:l.count] {
		if err := entries[i].Clear(alloc, tag); err != nil {
			return err
		}
	}
	l.count = 0
	return nil
}

// ListsEqual reports whether l and other hold equal elements in the same
// order.
func ListsEqual(l, other *List, tagL, tagOther *spinlock.Tag) (bool, error) {
	g1, err := spinlock.Read(&l.lock, tagL)
	if err != nil {
		return false, err
	}
	defer g1.Unlock()
	g2, err := spinlock.Read(&other.lock, tagOther)
	if err != nil {
		return false, err
	}
	defer g2.Unlock()

	if l.count != other.count {
		return false, nil
	}
	a, b := l.entriesSlice(), other.entriesSlice()
	for i := range a[:l.count] {
		eq, err := field.Equal(&a[i], &b[i])
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}

// ToText renders every element as a bracketed sequence. Every element is
// followed by a comma, including the last.
func (l *List) ToText(tag *spinlock.Tag) (string, error) {
	g, err := spinlock.Read(&l.lock, tag)
	if err != nil {
		return "", err
	}
	defer g.Unlock()

	entries := l.entriesSlice()
	out := "["
	for i := range entries[:l.count] {
		text, err := entries[i].ToText()
		if err != nil {
			return "", err
		}
		out += text + ","
	}
	return out + "]", nil
}

// ToYAML projects every element into a Go slice in order.
func (l *List) ToYAML(tag *spinlock.Tag) ([]any, error) {
	g, err := spinlock.Read(&l.lock, tag)
	if err != nil {
		return nil, err
	}
	defer g.Unlock()

	entries := l.entriesSlice()
	out := make([]any, 0, l.count)
	for i := range entries[:l.count] {
		v, err := entries[i].ToYAML()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (l *List) growTo(tag *spinlock.Tag, newCapacity uint32) error {
	alloc := l.alloc.Get()
	newBuf, err := alloc.Allocate(tag, uint64(newCapacity)*uint64(unsafe.Sizeof(field.Field{})))
	if err != nil {
		return fmt.Errorf("structstore: growing list to %d elements: %w", newCapacity, err)
	}
	newEntries := unsafe.Slice((*field.Field)(newBuf), int(newCapacity))
	for i := range newEntries {
		newEntries[i] = field.Field{}
	}

	if l.capacity > 0 {
		old := l.entriesSlice()
		for i := range old[:l.count] {
			moveField(&newEntries[i], &old[i])
		}
		alloc.Deallocate(tag, unsafe.Pointer(&old[0]))
	}

	l.entries.Set(&newEntries[0])
	l.capacity = newCapacity
	return nil
}

// moveField transfers dst's target (which must be empty) to hold src's
// value, then empties src. Like field.Field.MoveFrom, but named from the
// caller's point of view for readability at array-shift call sites.
func moveField(dst, src *field.Field) {
	dst.MoveFrom(src)
}

func nextListCapacity(current uint32) uint32 {
	if current == 0 {
		return listMinCapacity
	}
	return current * 2
}

func listConstruct(alloc *sharedalloc.SharedAlloc, _ *spinlock.Tag, data unsafe.Pointer) {
	l := (*List)(data)
	l.alloc.Set(alloc)
}

func listDestruct(_ *sharedalloc.SharedAlloc, tag *spinlock.Tag, data unsafe.Pointer) {
	l := (*List)(data)
	_ = l.clearLocked(tag)
	if l.capacity > 0 {
		alloc := l.alloc.Get()
		alloc.Deallocate(tag, unsafe.Pointer(&l.entriesSlice()[0]))
	}
}

func listCopy(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, dst, src unsafe.Pointer) {
	d, s := (*List)(dst), (*List)(src)
	entries := s.entriesSlice()
	for i := range entries[:s.count] {
		f, err := d.PushBack(tag)
		if err != nil {
			return
		}
		_ = f.CopyFrom(alloc, tag, &entries[i])
	}
}

func listEqual(a, b unsafe.Pointer) bool {
	la, lb := (*List)(a), (*List)(b)
	if la.count != lb.count {
		return false
	}
	ea, eb := la.entriesSlice(), lb.entriesSlice()
	for i := range ea[:la.count] {
		eq, err := field.Equal(&ea[i], &eb[i])
		if err != nil || !eq {
			return false
		}
	}
	return true
}

func listToText(data unsafe.Pointer) string {
	l := (*List)(data)
	entries := l.entriesSlice()
	out := "["
	for i := range entries[:l.count] {
		text, err := entries[i].ToText()
		if err != nil {
			text = fmt.Sprintf("<error: %v>", err)
		}
		out += text + ","
	}
	return out + "]"
}

func listToYAML(data unsafe.Pointer) (any, error) {
	l := (*List)(data)
	entries := l.entriesSlice()
	out := make([]any, 0, l.count)
	for i := range entries[:l.count] {
		v, err := entries[i].ToYAML()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func listCheck(alloc *sharedalloc.SharedAlloc, data unsafe.Pointer, trace *errtrace.Trace) error {
	l := (*List)(data)
	entries := l.entriesSlice()
	for i := range entries[:l.count] {
		if err := entries[i].Check(alloc, trace.Push(fmt.Sprintf("[%d]", i))); err != nil {
			return err
		}
	}
	return nil
}

func registerList() {
	info := typeregistry.TypeInfo{
		Name:      "structstore::List",
		Size:      unsafe.Sizeof(List{}),
		Construct: listConstruct,
		Destruct:  listDestruct,
		Copy:      listCopy,
		Equal:     listEqual,
		ToText:    listToText,
		ToYAML:    listToYAML,
		Check:     listCheck,
	}
	if err := typeregistry.Register(info); err != nil {
		panic(err)
	}
	ListHash = typeregistry.Hash(info.Name)
}
