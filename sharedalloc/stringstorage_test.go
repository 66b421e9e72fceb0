package sharedalloc

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T, heapSize int) (*SharedAlloc, *StringStorage, *spinlock.Tag) {
	t.Helper()
	buf := make([]byte, HeaderSize+heapSize)
	a := (*SharedAlloc)(unsafe.Pointer(&buf[0]))
	require.NoError(t, a.Init(buf[HeaderSize:]))

	tag := spinlock.NewTag()
	s := &StringStorage{}
	require.NoError(t, s.Init(tag, a))
	return a, s, tag
}

func TestInternReturnsSameBacking(t *testing.T) {
	_, s, tag := newStorage(t, 1<<16)

	a, err := s.Intern(tag, "hello")
	require.NoError(t, err)
	b, err := s.Intern(tag, "hello")
	require.NoError(t, err)

	assert.Equal(t, "hello", a)
	assert.Equal(t, unsafe.Pointer(unsafe.StringData(a)), unsafe.Pointer(unsafe.StringData(b)))
}

func TestInternEmptyString(t *testing.T) {
	_, s, tag := newStorage(t, 4096)

	got, err := s.Intern(tag, "")
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.Equal(t, uint32(0), s.Count())
}

func TestLookupMissing(t *testing.T) {
	_, s, tag := newStorage(t, 4096)

	_, found, err := s.Lookup(tag, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLookupAfterIntern(t *testing.T) {
	_, s, tag := newStorage(t, 1<<16)

	_, err := s.Intern(tag, "field_name")
	require.NoError(t, err)

	got, found, err := s.Lookup(tag, "field_name")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "field_name", got)
}

func TestInternGrowsTableAndRehashes(t *testing.T) {
	_, s, tag := newStorage(t, 1<<20)

	names := make([]string, 200)
	for i := range names {
		names[i] = fmt.Sprintf("name-%d", i)
		_, err := s.Intern(tag, names[i])
		require.NoError(t, err)
	}

	assert.Equal(t, uint32(len(names)), s.Count())
	for _, n := range names {
		got, found, err := s.Lookup(tag, n)
		require.NoError(t, err)
		require.True(t, found, "missing %q after grow", n)
		assert.Equal(t, n, got)
	}
}
