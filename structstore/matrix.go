// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package structstore

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/internal/offsetptr"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/typeregistry"
)

// MaxMatrixDims is the maximum number of dimensions a Matrix can hold. A
// fixed bound keeps the shape array inline rather than itself needing a
// region-resident allocation.
const MaxMatrixDims = 8

// Matrix is a region-resident dense array of float64 with up to
// MaxMatrixDims dimensions. YAML projection is deliberately unsupported
// (errs.ErrUnsupportedSerialization): a multi-dimensional numeric array has
// no natural YAML shape the way a scalar or a List does.
type Matrix struct {
	alloc offsetptr.Ptr[sharedalloc.SharedAlloc]
	ndim  uint32
	shape [MaxMatrixDims]uint64
	data  offsetptr.Ptr[float64]
}

// MatrixHash is the registered type hash for Matrix.
var MatrixHash uint64

// NDim reports the number of dimensions currently set.
func (m *Matrix) NDim() int {
	return int(m.ndim)
}

// Shape returns the current dimension sizes.
func (m *Matrix) Shape() []uint64 {
	return append([]uint64(nil), m.shape[:m.ndim]...)
}

// Data returns a view over the matrix's backing float64 storage in row-major
// order.
func (m *Matrix) Data() []float64 {
	ptr := m.data.Get()
	if ptr == nil {
		return nil
	}
	return unsafe.Slice(ptr, int(elementCount(m.shape[:m.ndim])))
}

// From reshapes the matrix to shape, freeing any previous backing storage
// and allocating fresh zeroed storage, then copies data into it if data is
// non-nil. Fails with errs.ErrMatrixInvalidShape if shape has more than
// MaxMatrixDims dimensions or any zero-sized dimension, and with
// errs.ErrMatrixShapeMismatch if data's length does not match shape or the
// matrix's own storage is passed back under a different shape.
func (m *Matrix) From(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, shape []uint64, data []float64) error {
	if len(shape) > MaxMatrixDims {
		return fmt.Errorf("%w: %d dimensions exceeds max %d", errs.ErrMatrixInvalidShape, len(shape), MaxMatrixDims)
	}
	for _, d := range shape {
		if d == 0 {
			return fmt.Errorf("%w: zero-sized dimension in %v", errs.ErrMatrixInvalidShape, shape)
		}
	}
	count := elementCount(shape)
	if data != nil && uint64(len(data)) != count {
		return fmt.Errorf("%w: %d elements for shape %v", errs.ErrMatrixShapeMismatch, len(data), shape)
	}

	// Copying the matrix's own storage onto itself: with an identical shape
	// the data is already in place and there is nothing to do; with a
	// different shape the reallocation below would free the very bytes it is
	// about to copy from.
	if data != nil && m.data.Get() != nil && &data[0] == m.data.Get() {
		if m.ndim == uint32(len(shape)) && sameShape(m.shape[:m.ndim], shape) {
			return nil
		}
		return fmt.Errorf("%w: in-place reshape from %v to %v", errs.ErrMatrixShapeMismatch, m.Shape(), shape)
	}

	if old := m.data.Get(); old != nil {
		alloc.Deallocate(tag, unsafe.Pointer(old))
		m.data = offsetptr.Ptr[float64]{}
	}
	m.ndim = uint32(len(shape))
	m.shape = [MaxMatrixDims]uint64{}
	copy(m.shape[:], shape)

	if count == 0 {
		return nil
	}
	ptr, err := alloc.Allocate(tag, count*uint64(unsafe.Sizeof(float64(0))))
	if err != nil {
		return err
	}
	dst := unsafe.Slice((*float64)(ptr), int(count))
	if data != nil {
		copy(dst, data)
	}
	m.data.Set((*float64)(ptr))
	return nil
}

func sameShape(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func elementCount(shape []uint64) uint64 {
	count := uint64(1)
	for _, d := range shape {
		count *= d
	}
	return count
}

func matrixConstruct(alloc *sharedalloc.SharedAlloc, _ *spinlock.Tag, data unsafe.Pointer) {
	m := (*Matrix)(data)
	m.alloc.Set(alloc)
}

func matrixDestruct(_ *sharedalloc.SharedAlloc, tag *spinlock.Tag, data unsafe.Pointer) {
	m := (*Matrix)(data)
	if ptr := m.data.Get(); ptr != nil {
		alloc := m.alloc.Get()
		alloc.Deallocate(tag, unsafe.Pointer(ptr))
	}
}

func matrixCopy(alloc *sharedalloc.SharedAlloc, tag *spinlock.Tag, dst, src unsafe.Pointer) {
	d, s := (*Matrix)(dst), (*Matrix)(src)
	_ = d.From(alloc, tag, s.Shape(), s.Data())
}

func matrixEqual(a, b unsafe.Pointer) bool {
	ma, mb := (*Matrix)(a), (*Matrix)(b)
	if ma.ndim != mb.ndim || ma.shape != mb.shape {
		return false
	}
	da, db := ma.Data(), mb.Data()
	if len(da) != len(db) {
		return false
	}
	for i := range da {
		if da[i] != db[i] {
			return false
		}
	}
	return true
}

func matrixToText(data unsafe.Pointer) string {
	m := (*Matrix)(data)
	return fmt.Sprintf("Matrix(shape=%v, data=%v)", m.Shape(), m.Data())
}

func matrixToYAML(unsafe.Pointer) (any, error) {
	return nil, fmt.Errorf("%w: Matrix has no YAML projection", errs.ErrUnsupportedSerialization)
}

func matrixCheck(alloc *sharedalloc.SharedAlloc, data unsafe.Pointer, trace *errtrace.Trace) error {
	m := (*Matrix)(data)
	if ptr := m.data.Get(); ptr != nil && !alloc.IsOwned(unsafe.Pointer(ptr)) {
		return ownershipErr(trace, "matrix", unsafe.Pointer(ptr))
	}
	return nil
}

func registerMatrix() {
	info := typeregistry.TypeInfo{
		Name:      "structstore::Matrix",
		Size:      unsafe.Sizeof(Matrix{}),
		Construct: matrixConstruct,
		Destruct:  matrixDestruct,
		Copy:      matrixCopy,
		Equal:     matrixEqual,
		ToText:    matrixToText,
		ToYAML:    matrixToYAML,
		Check:     matrixCheck,
	}
	if err := typeregistry.Register(info); err != nil {
		panic(err)
	}
	MatrixHash = typeregistry.Hash(info.Name)
}
