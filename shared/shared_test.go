// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package shared

import (
	"path/filepath"
	"testing"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/internal/shm"
	"github.com/fmstephe/structstore/structstore"
	"github.com/fmstephe/structstore/typeregistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stringInfo(t *testing.T) *typeregistry.TypeInfo {
	t.Helper()
	info, err := typeregistry.Lookup(structstore.StringHash)
	require.NoError(t, err)
	return info
}

func TestOpenCreatesFreshRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-a")

	r, err := Open(path, Options{BufSize: 1 << 16, Cleanup: CleanupAlways})
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.Valid())
	require.NotNil(t, r.Store())

	s, err := structstore.Get[structstore.String](r.Store(), r.Tag(), "name", stringInfo(t))
	require.NoError(t, err)
	require.NoError(t, s.Set(r.Alloc(), r.Tag(), "widget"))
	assert.Equal(t, "widget", s.Value())
}

func TestOpenAttachesToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-b")

	first, err := Open(path, Options{BufSize: 1 << 16, Cleanup: CleanupAlways})
	require.NoError(t, err)
	defer first.Close()

	s, err := structstore.Get[structstore.String](first.Store(), first.Tag(), "name", stringInfo(t))
	require.NoError(t, err)
	require.NoError(t, s.Set(first.Alloc(), first.Tag(), "hello"))

	second, err := Open(path, Options{})
	require.NoError(t, err)
	defer second.Close()

	got, err := structstore.Get[structstore.String](second.Store(), second.Tag(), "name", stringInfo(t))
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Value())
}

func TestOpenFailsOnUnpublishedSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-c")

	res, err := shm.Create(path)
	require.NoError(t, err)
	defer res.Seg.Close()
	require.True(t, res.Created)
	require.NoError(t, res.Seg.Truncate(4096))
	// Deliberately left un-published: mode stays 0600.

	_, err = Open(path, Options{})
	assert.ErrorIs(t, err, errs.ErrNotReady)
}

func TestReinitInvalidatesPriorRegion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-d")

	first, err := Open(path, Options{BufSize: 1 << 16, Cleanup: CleanupNever})
	require.NoError(t, err)
	defer first.Close()
	assert.True(t, first.Valid())

	second, err := Open(path, Options{BufSize: 1 << 16, Reinit: true, Cleanup: CleanupAlways})
	require.NoError(t, err)
	defer second.Close()

	assert.False(t, first.Valid())
	assert.True(t, second.Valid())

	// Every operation on the invalidated region must say so rather than
	// read through the stale mapping.
	assert.ErrorIs(t, first.Check(), errs.ErrSegmentInvalidated)
	assert.ErrorIs(t, first.ToBuffer(make([]byte, first.Size())), errs.ErrSegmentInvalidated)
	_, err = RegionsEqual(first, second)
	assert.ErrorIs(t, err, errs.ErrSegmentInvalidated)

	ok, err := first.Revalidate(false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, first.Valid())
}

func TestCloseWithCleanupAlwaysUnlinksSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-e")

	r, err := Open(path, Options{BufSize: 4096, Cleanup: CleanupAlways})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = shm.OpenExisting(path)
	assert.Error(t, err)
}

func TestCloseWithCleanupIfLastUnlinksWhenSoleAttacher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-l")

	r, err := Open(path, Options{BufSize: 4096, Cleanup: CleanupIfLast})
	require.NoError(t, err)
	require.Equal(t, int32(1), r.UsageCount())
	require.NoError(t, r.Close())

	// The name is gone until a new creator republishes it.
	_, err = shm.OpenExisting(path)
	assert.Error(t, err)

	fresh, err := Open(path, Options{BufSize: 4096, Cleanup: CleanupAlways})
	require.NoError(t, err)
	assert.True(t, fresh.Valid())
	require.NoError(t, fresh.Close())
}

func TestCloseWithCleanupIfLastKeepsSegmentWhileOthersAttached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-m")

	first, err := Open(path, Options{BufSize: 4096, Cleanup: CleanupIfLast})
	require.NoError(t, err)
	second, err := Open(path, Options{Cleanup: CleanupIfLast})
	require.NoError(t, err)

	require.NoError(t, first.Close())
	seg, err := shm.OpenExisting(path)
	require.NoError(t, err)
	seg.Close()

	require.NoError(t, second.Close())
	_, err = shm.OpenExisting(path)
	assert.Error(t, err)
}

func TestCloseWithCleanupNeverKeepsSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-f")

	r, err := Open(path, Options{BufSize: 4096, Cleanup: CleanupNever})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	seg, err := shm.OpenExisting(path)
	require.NoError(t, err)
	seg.Close()
}

func TestRegionsEqual(t *testing.T) {
	pathA := filepath.Join(t.TempDir(), "region-g")
	pathB := filepath.Join(t.TempDir(), "region-h")

	a, err := Open(pathA, Options{BufSize: 1 << 16, Cleanup: CleanupAlways})
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(pathB, Options{BufSize: 1 << 16, Cleanup: CleanupAlways})
	require.NoError(t, err)
	defer b.Close()

	sa, err := structstore.Get[structstore.String](a.Store(), a.Tag(), "k", stringInfo(t))
	require.NoError(t, err)
	require.NoError(t, sa.Set(a.Alloc(), a.Tag(), "v"))

	sb, err := structstore.Get[structstore.String](b.Store(), b.Tag(), "k", stringInfo(t))
	require.NoError(t, err)
	require.NoError(t, sb.Set(b.Alloc(), b.Tag(), "v"))

	eq, err := RegionsEqual(a, b)
	require.NoError(t, err)
	assert.True(t, eq)

	require.NoError(t, sb.Set(b.Alloc(), b.Tag(), "different"))
	eq, err = RegionsEqual(a, b)
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestWriteVisibleToSecondAttacher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-k")

	writer, err := Open(path, Options{BufSize: 1 << 16, Cleanup: CleanupNever})
	require.NoError(t, err)
	defer writer.Close()

	reader, err := Open(path, Options{})
	require.NoError(t, err)
	defer reader.Close()

	assert.True(t, writer.Valid())
	assert.True(t, reader.Valid())
	assert.Equal(t, int32(2), writer.UsageCount())

	intInfo, err := typeregistry.Lookup(structstore.Int64Hash)
	require.NoError(t, err)

	num, err := structstore.Get[int64](writer.Store(), writer.Tag(), "num", intInfo)
	require.NoError(t, err)
	*num = 52

	got, err := structstore.Get[int64](reader.Store(), reader.Tag(), "num", intInfo)
	require.NoError(t, err)
	assert.Equal(t, int64(52), *got)
}

func TestCheckWalksRegionFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-i")

	r, err := Open(path, Options{BufSize: 1 << 16, Cleanup: CleanupAlways})
	require.NoError(t, err)
	defer r.Close()

	s, err := structstore.Get[structstore.String](r.Store(), r.Tag(), "ok", stringInfo(t))
	require.NoError(t, err)
	require.NoError(t, s.Set(r.Alloc(), r.Tag(), "fine"))

	assert.NoError(t, r.Check())
}

func TestToBufferAndFromBufferRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region-j")

	r, err := Open(path, Options{BufSize: 4096, Cleanup: CleanupAlways})
	require.NoError(t, err)
	defer r.Close()

	buf := make([]byte, r.Size())
	require.NoError(t, r.ToBuffer(buf))
	require.NoError(t, r.FromBuffer(buf))
}

