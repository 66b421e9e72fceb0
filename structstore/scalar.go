// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

package structstore

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errtrace"
	"github.com/fmstephe/structstore/internal/spinlock"
	"github.com/fmstephe/structstore/sharedalloc"
	"github.com/fmstephe/structstore/typeregistry"
)

// Registered type hashes for the primitive scalar field types, for use with
// Get[T]/field.Typed[T] the same way StringHash and ListHash are.
var (
	BoolHash    uint64
	Int8Hash    uint64
	Int16Hash   uint64
	Int32Hash   uint64
	Int64Hash   uint64
	Uint8Hash   uint64
	Uint16Hash  uint64
	Uint32Hash  uint64
	Uint64Hash  uint64
	Float32Hash uint64
	Float64Hash uint64
)

// scalar constrains registerScalar to the fixed-size value types that can be
// stored in a region as their plain bytes: no internal pointers to rederive,
// so construct/copy/equal are direct loads and stores.
type scalar interface {
	~bool | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// registerScalar registers one primitive type under name and returns its
// hash. Text projection uses %v, which renders booleans as true/false and
// numbers as plain decimal scalars; YAML projection is the typed value
// itself.
func registerScalar[T scalar](name string) uint64 {
	var zero T
	info := typeregistry.TypeInfo{
		Name: name,
		Size: unsafe.Sizeof(zero),
		Construct: func(_ *sharedalloc.SharedAlloc, _ *spinlock.Tag, data unsafe.Pointer) {
			*(*T)(data) = zero
		},
		Destruct: func(_ *sharedalloc.SharedAlloc, _ *spinlock.Tag, _ unsafe.Pointer) {},
		Copy: func(_ *sharedalloc.SharedAlloc, _ *spinlock.Tag, dst, src unsafe.Pointer) {
			*(*T)(dst) = *(*T)(src)
		},
		Equal: func(a, b unsafe.Pointer) bool {
			return *(*T)(a) == *(*T)(b)
		},
		ToText: func(data unsafe.Pointer) string {
			return fmt.Sprintf("%v", *(*T)(data))
		},
		ToYAML: func(data unsafe.Pointer) (any, error) {
			return *(*T)(data), nil
		},
		Check: func(_ *sharedalloc.SharedAlloc, _ unsafe.Pointer, _ *errtrace.Trace) error {
			return nil
		},
	}
	if err := typeregistry.Register(info); err != nil {
		panic(err)
	}
	return typeregistry.Hash(name)
}

func registerScalars() {
	BoolHash = registerScalar[bool]("bool")
	Int8Hash = registerScalar[int8]("int8")
	Int16Hash = registerScalar[int16]("int16")
	Int32Hash = registerScalar[int32]("int32")
	Int64Hash = registerScalar[int64]("int64")
	Uint8Hash = registerScalar[uint8]("uint8")
	Uint16Hash = registerScalar[uint16]("uint16")
	Uint32Hash = registerScalar[uint32]("uint32")
	Uint64Hash = registerScalar[uint64]("uint64")
	Float32Hash = registerScalar[float32]("float32")
	Float64Hash = registerScalar[float64]("float64")
}
