package offsetptr

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilPtr(t *testing.T) {
	var p Ptr[int]
	p.Set(nil)
	assert.True(t, p.IsNil())
	assert.Nil(t, p.Get())
}

func TestSetAndGet(t *testing.T) {
	var val int = 42
	var p Ptr[int]
	p.Set(&val)

	require.False(t, p.IsNil())
	got := p.Get()
	require.NotNil(t, got)
	assert.Equal(t, 42, *got)
	assert.Same(t, &val, got)
}

func TestSurvivesRelocation(t *testing.T) {
	// Simulate a region by allocating a contiguous struct containing both
	// the OffsetPtr and its target, then copying the whole struct to a new
	// address (as if the region had been mmap-ed at a different base).
	type region struct {
		target int
		ptr    Ptr[int]
	}

	r1 := &region{target: 7}
	r1.ptr.Set(&r1.target)
	assert.Equal(t, 7, *r1.ptr.Get())

	r2 := new(region)
	*r2 = *r1 // bitwise copy of the whole region, as mmap would produce

	// The pointer stored in r2 must resolve relative to r2, not r1.
	got := r2.ptr.Get()
	require.NotNil(t, got)
	assert.Same(t, &r2.target, got)
	assert.Equal(t, 7, *got)
}

func TestAssignFromRederivesOffset(t *testing.T) {
	var a, b int = 1, 2
	var src, dst Ptr[int]
	src.Set(&a)

	dst.Set(&b)
	dst.AssignFrom(&src)

	assert.Same(t, &a, dst.Get())
	assert.True(t, src.Equal(&dst))
}

func TestZeroValueIsNilWithoutInitialization(t *testing.T) {
	// A Ptr obtained from a freshly zeroed buffer (mmap'd shared memory, a
	// grown region-resident array, make([]byte, n)) must already be nil
	// with no explicit Set(nil) call, since nothing in this module runs a
	// constructor over raw region memory before first read.
	buf := make([]byte, 64)
	p := (*Ptr[int])(unsafe.Pointer(&buf[0]))
	assert.True(t, p.IsNil())
	assert.Nil(t, p.Get())
}

func TestSelfReferenceCollapsesToNil(t *testing.T) {
	// Self-reference is the one case this module deliberately gives up:
	// a Ptr whose target address equals its own address computes an
	// offset of 0, which is also the nil sentinel. Nothing in this
	// module's design needs a self-referential Ptr, so this is an
	// accepted trade-off rather than a bug; see the nullOffset doc.
	type selfRef struct {
		ptr Ptr[selfRef]
	}
	var s selfRef
	s.ptr.Set(&s)

	assert.True(t, s.ptr.IsNil())
}

func TestPlusAndDiff(t *testing.T) {
	arr := [4]int{10, 20, 30, 40}
	var p Ptr[int]
	p.Set(&arr[0])

	third := p.Plus(2)
	require.NotNil(t, third)
	assert.Equal(t, 30, *third)

	var q Ptr[int]
	q.Set(third)
	assert.Equal(t, 2, q.Diff(&p))
}

func TestEqual(t *testing.T) {
	var v int
	var p, q Ptr[int]
	p.Set(&v)
	q.Set(&v)
	assert.True(t, p.Equal(&q))

	var other int
	q.Set(&other)
	assert.False(t, p.Equal(&q))
}
