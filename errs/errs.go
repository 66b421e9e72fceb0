// Package errs centralises the sentinel errors raised by the store. Callers
// should use errors.Is against these values rather than matching on message
// text.
package errs

import "errors"

var (
	// ErrOutOfRegionMemory is returned by the allocator when no free block,
	// in any size class, is large enough to satisfy a request.
	ErrOutOfRegionMemory = errors.New("structstore: out of region memory")

	// ErrTypeMismatch is returned by a typed Field accessor when the
	// field's registered type differs from the type requested.
	ErrTypeMismatch = errors.New("structstore: type mismatch")

	// ErrTypeAlreadyRegistered is returned by the type registry when the
	// same type name is registered twice.
	ErrTypeAlreadyRegistered = errors.New("structstore: type already registered")

	// ErrTypeHashCollision is returned by the type registry when two
	// distinct type names hash to the same 64-bit type hash.
	ErrTypeHashCollision = errors.New("structstore: type hash collision")

	// ErrFieldNameExists is returned by FieldMap.StoreRef when an
	// unmanaged field map already has an entry under the requested name.
	ErrFieldNameExists = errors.New("structstore: field name already exists")

	// ErrFieldNotFound is returned when a lookup by name finds nothing.
	ErrFieldNotFound = errors.New("structstore: field not found")

	// ErrIndexOutOfRange is returned by List accessors given an
	// out-of-bounds index.
	ErrIndexOutOfRange = errors.New("structstore: index out of range")

	// ErrMatrixShapeMismatch is returned when Matrix.From targets the same
	// backing allocation with an incompatible shape.
	ErrMatrixShapeMismatch = errors.New("structstore: matrix shape mismatch")

	// ErrMatrixInvalidShape is returned when a requested Matrix shape has
	// more than MaxMatrixDims dimensions or a zero-sized dimension.
	ErrMatrixInvalidShape = errors.New("structstore: invalid matrix shape")

	// ErrManagedModeViolation is returned when a managed StructStore is
	// assigned to/from an unmanaged one, or vice versa.
	ErrManagedModeViolation = errors.New("structstore: managed/unmanaged mode mismatch")

	// ErrLockRecursion is returned when a reader tries to acquire a read
	// lock while the calling goroutine already holds the write lock.
	ErrLockRecursion = errors.New("structstore: lock recursion")

	// ErrNotReady is returned when attaching to a shared segment whose
	// creator has reserved it (mode 0600) but not yet published it.
	ErrNotReady = errors.New("structstore: shared segment not ready")

	// ErrSegmentInvalidated is returned by operations against a shared
	// segment that has been invalidated by another attacher.
	ErrSegmentInvalidated = errors.New("structstore: shared segment invalidated")

	// ErrLeakedBlocksOnShutdown is returned by allocator teardown when
	// live (allocated) blocks remain in the managed heap.
	ErrLeakedBlocksOnShutdown = errors.New("structstore: leaked blocks on shutdown")

	// ErrUnsupportedSerialization is returned when a value has no
	// projection in the requested format (e.g. YAML for Matrix).
	ErrUnsupportedSerialization = errors.New("structstore: unsupported serialization")

	// ErrInvalidPointer is returned by ownership checks when a pointer
	// does not lie inside the owning region.
	ErrInvalidPointer = errors.New("structstore: pointer is not owned by this region")
)
