package sharedalloc

import (
	"testing"
	"unsafe"

	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAlloc(t *testing.T, size int) (*SharedAlloc, *spinlock.Tag) {
	t.Helper()
	buf := make([]byte, HeaderSize+size)
	a := (*SharedAlloc)(unsafe.Pointer(&buf[0]))
	require.NoError(t, a.Init(buf[HeaderSize:]))
	return a, spinlock.NewTag()
}

func TestAllocateDeallocate(t *testing.T) {
	a, tag := newAlloc(t, 4096)

	ptr, err := a.Allocate(tag, 64)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	leaks := a.CheckLeaks(tag)
	assert.Len(t, leaks, 1)

	a.Deallocate(tag, ptr)
	assert.Empty(t, a.CheckLeaks(tag))
}

func TestAllocateTypedRoundTrip(t *testing.T) {
	type payload struct {
		A int64
		B int64
	}
	a, tag := newAlloc(t, 4096)

	p, err := AllocateTyped[payload](a, tag)
	require.NoError(t, err)
	p.A = 7
	p.B = 9

	assert.Equal(t, int64(7), p.A)
	DeallocateTyped(a, tag, p)
	assert.Empty(t, a.CheckLeaks(tag))
}

func TestStatsReflectsAllocations(t *testing.T) {
	a, tag := newAlloc(t, 4096)

	_, err := a.Allocate(tag, 100)
	require.NoError(t, err)

	stats, err := a.Stats(tag)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Allocated, uint64(100))
}
