// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package structstore

import (
	"testing"

	"github.com/fmstephe/structstore/typeregistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Info(t *testing.T) *typeregistry.TypeInfo {
	t.Helper()
	info, err := typeregistry.Lookup(Int64Hash)
	require.NoError(t, err)
	return info
}

func boolInfo(t *testing.T) *typeregistry.TypeInfo {
	t.Helper()
	info, err := typeregistry.Lookup(BoolHash)
	require.NoError(t, err)
	return info
}

func TestScalarFieldTextProjection(t *testing.T) {
	alloc, tag := newRegion(t, 2048)
	var root StructStore
	root.Init(alloc, true)

	num, err := Get[int64](&root, tag, "num", int64Info(t))
	require.NoError(t, err)
	*num = 5

	text, err := root.ToText(tag)
	require.NoError(t, err)
	assert.Equal(t, `{"num":5,}`, text)
}

func TestBoolFieldRendersTrueFalse(t *testing.T) {
	alloc, tag := newRegion(t, 2048)
	var root StructStore
	root.Init(alloc, true)

	b, err := Get[bool](&root, tag, "flag", boolInfo(t))
	require.NoError(t, err)

	text, err := root.ToText(tag)
	require.NoError(t, err)
	assert.Equal(t, `{"flag":false,}`, text)

	*b = true
	text, err = root.ToText(tag)
	require.NoError(t, err)
	assert.Equal(t, `{"flag":true,}`, text)
}

func TestScalarFieldPersistsAcrossAccesses(t *testing.T) {
	alloc, tag := newRegion(t, 2048)
	var root StructStore
	root.Init(alloc, true)

	num, err := Get[int64](&root, tag, "num", int64Info(t))
	require.NoError(t, err)
	*num = 52

	num2, err := Get[int64](&root, tag, "num", int64Info(t))
	require.NoError(t, err)
	assert.Equal(t, int64(52), *num2)
}

func TestScalarFieldTypeMismatch(t *testing.T) {
	alloc, tag := newRegion(t, 2048)
	var root StructStore
	root.Init(alloc, true)

	_, err := Get[int64](&root, tag, "num", int64Info(t))
	require.NoError(t, err)

	_, err = Get[bool](&root, tag, "num", boolInfo(t))
	assert.Error(t, err)
}

func TestListOfScalarsTextProjection(t *testing.T) {
	alloc, tag := newRegion(t, 1<<16)
	var root StructStore
	root.Init(alloc, true)

	l, err := Get[List](&root, tag, "nums", listInfo(t))
	require.NoError(t, err)

	for _, v := range []int64{5, 42} {
		f, err := l.PushBack(tag)
		require.NoError(t, err)
		ptr, err := f.Construct(alloc, tag, int64Info(t))
		require.NoError(t, err)
		*(*int64)(ptr) = v
	}

	n, err := l.Len(tag)
	require.NoError(t, err)
	require.Equal(t, uint32(2), n)

	// Increment each element in place, then render.
	for i := uint32(0); i < n; i++ {
		f, err := l.At(tag, i)
		require.NoError(t, err)
		ptr, err := f.Get(Int64Hash)
		require.NoError(t, err)
		*(*int64)(ptr)++
	}

	text, err := l.ToText(tag)
	require.NoError(t, err)
	assert.Equal(t, `[6,43,]`, text)
}

func TestScalarYAMLProjection(t *testing.T) {
	alloc, tag := newRegion(t, 2048)
	var root StructStore
	root.Init(alloc, true)

	num, err := Get[int64](&root, tag, "count", int64Info(t))
	require.NoError(t, err)
	*num = 9

	yaml, err := root.ToYAML(tag)
	require.NoError(t, err)
	assert.Equal(t, int64(9), yaml["count"])
}
