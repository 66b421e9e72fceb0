// Package minimalloc implements a deterministic segregated-free-list
// allocator over an externally supplied byte buffer. It produces 8-byte
// aligned blocks and never touches memory outside the buffer it was handed,
// which is what lets the buffer be a shared-memory region mapped by several
// processes at different base addresses.
package minimalloc

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/internal/offsetptr"
)

// LeakedBlock describes a still-allocated block found during CheckLeaks.
type LeakedBlock struct {
	Offset uint64
	Size   uint32
}

// Stats reports a snapshot of allocator bookkeeping.
type Stats struct {
	HeapSize  uint64
	Allocated uint64
}

// MiniMalloc is the fixed-size header placed at a constant location inside
// a region, immediately followed by the heap it manages.
// It contains no raw pointers: heapStart and every free-list head are
// self-relative internal/offsetptr.Ptr values, so the whole struct remains
// valid after the region is mapped into another process at a different
// address.
type MiniMalloc struct {
	heapSize  uint64
	allocated uint64
	heapStart offsetptr.Ptr[node]
	freeHeads [numSizeClasses]offsetptr.Ptr[node]
}

// minHeapSize is the smallest buffer Init will accept: room for one real
// node header with the smallest (align-byte) payload plus the zero-size
// sentinel tail node.
const minHeapSize = 2*headerSize + align

// Init prepares heap as a single free block bounded by a sentinel tail
// node. heap must not be touched by any other code before or concurrently
// with Init.
func (m *MiniMalloc) Init(heap []byte) error {
	if len(heap) < minHeapSize {
		return fmt.Errorf("structstore: heap of %d bytes is smaller than minimum %d", len(heap), minHeapSize)
	}

	base := unsafe.Pointer(&heap[0])
	blockSize := uint32(len(heap)) - 2*headerSize

	first := nodeAt(base, 0)
	first.size = blockSize
	first.prevSizeAndFlag = 0 // first node in the heap, so prevNodeSize is 0
	first.clearFreeLinks()

	sentinel := nodeAt(base, headerSize+int(blockSize))
	sentinel.size = 0
	sentinel.prevSizeAndFlag = 0
	sentinel.setAllocated()

	m.heapSize = uint64(len(heap))
	m.allocated = 0
	m.heapStart.Set(first)

	idx := classIndexLower(first.size)
	m.freeHeads[idx].Set(first)

	return nil
}

// Allocate reserves a block of at least requested bytes and returns a
// pointer to its payload. Fails with errs.ErrOutOfRegionMemory if no size
// class yields a fit.
func (m *MiniMalloc) Allocate(requested uint64) (unsafe.Pointer, error) {
	if requested == 0 {
		requested = align
	}
	size := roundUp8(requested)
	if size > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: requested size %d exceeds node size limit", errs.ErrOutOfRegionMemory, requested)
	}

	idx := classIndexUpper(uint32(size))
	if idx < numSizeClasses-1 {
		size = uint64(classSizes[idx])
	}

	var n *node
	searchIdx := idx
	for ; searchIdx < numSizeClasses; searchIdx++ {
		head := m.freeHeads[searchIdx].Get()
		if head == nil {
			continue
		}
		if searchIdx == numSizeClasses-1 {
			for c := head; c != nil; c = c.freeNext() {
				if uint64(c.size) >= size {
					n = c
					break
				}
			}
			if n == nil {
				continue
			}
		} else {
			n = head
		}
		break
	}
	if n == nil {
		return nil, fmt.Errorf("%w: requested %d bytes, %d currently allocated", errs.ErrOutOfRegionMemory, requested, m.allocated)
	}

	// Split off the remainder before unlinking n, so n's own free-list
	// links are still intact when we look them up below.
	leftover := int64(n.size) - int64(size) - headerSize
	if leftover >= align {
		newNode := nodeAt(n.addr(), headerSize+int(size))
		newNode.size = uint32(leftover)
		newNode.setPrevNodeSize(uint32(size))
		newNode.clearFreeLinks()

		n.size = uint32(size)

		if after := newNode.physicalNext(); after != nil {
			after.setPrevNodeSize(newNode.size)
		}

		m.prependFree(classIndexLower(newNode.size), newNode)
	}

	m.unlinkFree(searchIdx, n)
	n.setAllocated()
	m.allocated += uint64(n.size)

	return n.payload(), nil
}

// Deallocate releases a block previously returned by Allocate. ptr must not
// be used again after this call.
func (m *MiniMalloc) Deallocate(ptr unsafe.Pointer) {
	n := nodeAt(ptr, -headerSize)
	m.allocated -= uint64(n.size)

	// The payload must be zeroed before the node is linked: the free-list
	// link words live in the first bytes of the payload, so zeroing after
	// prependFree would wipe the links just written and orphan the rest of
	// the size-class list.
	n.setFree()
	n.zeroPayload()
	m.prependFree(classIndexLower(n.size), n)

	m.joinWithNext(n)
	m.joinWithNext(n.physicalPrev())
}

// IsOwned reports whether ptr lies within the heap managed by m.
func (m *MiniMalloc) IsOwned(ptr unsafe.Pointer) bool {
	start := uintptr(unsafe.Pointer(m.heapStart.Get()))
	addr := uintptr(ptr)
	return addr >= start && addr < start+uintptr(m.heapSize)
}

// Stats reports the current heap size and allocated byte count.
func (m *MiniMalloc) Stats() Stats {
	return Stats{HeapSize: m.heapSize, Allocated: m.allocated}
}

// CheckLeaks walks the physical block chain and reports every block still
// marked allocated. A non-empty result means the caller is tearing down a
// region with outstanding allocations (errs.ErrLeakedBlocksOnShutdown).
func (m *MiniMalloc) CheckLeaks() []LeakedBlock {
	var leaks []LeakedBlock
	first := m.heapStart.Get()
	if first == nil {
		return nil
	}
	base := uintptr(first.addr())
	for n := first; n != nil; n = n.physicalNext() {
		if n.isAllocated() {
			leaks = append(leaks, LeakedBlock{
				Offset: uint64(uintptr(n.addr()) - base),
				Size:   n.size,
			})
		}
	}
	return leaks
}

func (m *MiniMalloc) prependFree(idx int, n *node) {
	old := m.freeHeads[idx].Get()
	n.setFreePrev(nil)
	n.setFreeNext(old)
	if old != nil {
		old.setFreePrev(n)
	}
	m.freeHeads[idx].Set(n)
}

func (m *MiniMalloc) unlinkFree(idx int, n *node) {
	prev := n.freePrev()
	next := n.freeNext()
	if prev != nil {
		prev.setFreeNext(next)
	} else {
		m.freeHeads[idx].Set(next)
	}
	if next != nil {
		next.setFreePrev(prev)
	}
	n.clearFreeLinks()
}

// joinWithNext merges n with its physical successor if both are free. n may
// be nil (the convenience lets callers write m.joinWithNext(n.physicalPrev())
// without a nil check at the call site).
func (m *MiniMalloc) joinWithNext(n *node) {
	if n == nil || n.isAllocated() {
		return
	}
	next := n.physicalNext()
	if next == nil || next.isAllocated() {
		return
	}

	m.unlinkFree(classIndexLower(n.size), n)
	m.unlinkFree(classIndexLower(next.size), next)

	n.size += next.size + headerSize

	// Zero the absorbed header so a walk of the heap doesn't see stale
	// bookkeeping in the middle of a merged block.
	next.size = 0
	next.prevSizeAndFlag = 0
	next.clearFreeLinks()

	if after := n.physicalNext(); after != nil {
		after.setPrevNodeSize(n.size)
	}

	m.prependFree(classIndexLower(n.size), n)
}
