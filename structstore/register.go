// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package structstore provides the built-in field types (scalars, String,
// List, Matrix) and the StructStore facade that every region-resident value
// tree is built from.
package structstore

import (
	"fmt"
	"unsafe"

	"github.com/fmstephe/structstore/errs"
	"github.com/fmstephe/structstore/errtrace"
)

func init() {
	registerScalars()
	registerString()
	registerList()
	registerMatrix()
	registerStructStore()
}

func ownershipErr(trace *errtrace.Trace, what string, ptr unsafe.Pointer) error {
	return trace.Wrap(fmt.Errorf("%w: %s data at %p is not owned by this region", errs.ErrInvalidPointer, what, ptr))
}
