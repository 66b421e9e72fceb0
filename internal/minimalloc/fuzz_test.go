package minimalloc

import (
	"encoding/binary"
	"testing"
	"unsafe"
)

// byteConsumer turns a fuzz-supplied byte slice into a stream of small
// integers, so one raw input can drive an arbitrary sequence of
// allocate/free decisions.
type byteConsumer struct {
	bytes []byte
}

func (c *byteConsumer) byte() byte {
	if len(c.bytes) == 0 {
		return 0
	}
	b := c.bytes[0]
	c.bytes = c.bytes[1:]
	return b
}

func (c *byteConsumer) uint16() uint16 {
	var buf [2]byte
	n := copy(buf[:], c.bytes)
	if n > 0 {
		c.bytes = c.bytes[n:]
	}
	return binary.LittleEndian.Uint16(buf[:])
}

// FuzzAllocDeallocCycle drives random alloc/write/verify/deallocate
// sequences through a single MiniMalloc and checks, after every step, that
// every still-live allocation holds exactly the bytes last written into it
// and that CheckLeaks reports nothing once every allocation has been freed.
func FuzzAllocDeallocCycle(f *testing.F) {
	f.Add([]byte{0, 4, 1, 9, 2, 0, 1})
	f.Add([]byte{1, 1, 1, 1, 1, 1, 1, 1})
	f.Fuzz(func(t *testing.T, raw []byte) {
		heap := make([]byte, 1<<16)
		m := &MiniMalloc{}
		if err := m.Init(heap); err != nil {
			t.Fatalf("Init: %v", err)
		}

		type live struct {
			ptr   unsafe.Pointer
			size  int
			value byte
		}
		var allocs []live

		c := &byteConsumer{bytes: raw}
		for len(c.bytes) > 0 {
			switch c.byte() % 3 {
			case 0: // allocate
				size := int(c.uint16()%512) + 1
				value := c.byte()
				ptr, err := m.Allocate(uint64(size))
				if err != nil {
					continue
				}
				buf := unsafe.Slice((*byte)(ptr), size)
				for i := range buf {
					buf[i] = value
				}
				allocs = append(allocs, live{ptr: ptr, size: size, value: value})
			case 1: // deallocate
				if len(allocs) == 0 {
					continue
				}
				idx := int(c.byte()) % len(allocs)
				m.Deallocate(allocs[idx].ptr)
				allocs[idx] = allocs[len(allocs)-1]
				allocs = allocs[:len(allocs)-1]
			case 2: // verify every live allocation is still intact
				for _, a := range allocs {
					buf := unsafe.Slice((*byte)(a.ptr), a.size)
					for i, got := range buf {
						if got != a.value {
							t.Fatalf("allocation corrupted at byte %d: want %d got %d", i, a.value, got)
						}
					}
				}
			}
		}

		for _, a := range allocs {
			m.Deallocate(a.ptr)
		}
		if leaks := m.CheckLeaks(); len(leaks) != 0 {
			t.Fatalf("leaked blocks after freeing every allocation: %+v", leaks)
		}
	})
}
