// Copyright 2024 Francis Michael Stephens. All rights reserved.  Use of this
// source code is governed by an MIT license that can be found in the LICENSE
// file.

// Package shm provides the named-shared-memory-segment primitives needed by
// a region that must be found and opened by its name from more than one
// process: open-or-create, reserve, map, and the mode-bit readiness
// handshake used to tell a racing opener "the segment exists but its
// contents aren't written yet" from "go ahead, the segment is ready".
package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// modeReserved is the permission bits fchmod/open leave on a segment whose
// creator has reserved the name but not finished initialising it.
const modeReserved = 0o600

// modeReady is the permission bits the creator sets once initialisation is
// complete; any other opener treats this bit pattern as "safe to map".
const modeReady = 0o660

// Segment is an open file descriptor backing a named shared memory object
// (POSIX shm_open semantics) or an ordinary file, plus the byte slice it has
// been mapped to, if any.
type Segment struct {
	fd     int
	path   string
	region []byte
}

// CreateResult reports whether Create found an existing segment at path or
// reserved a brand new one.
type CreateResult struct {
	Seg     *Segment
	Created bool
}

// Create reserves path for exclusive creation. If the name already exists
// this is not an error: Created is false and the caller should inspect
// Stat/Ready to decide whether to treat the existing segment as ready,
// stale, or still being initialised by its creator.
func Create(path string) (CreateResult, error) {
	fd, err := unix.Open(path, unix.O_EXCL|unix.O_CREAT|unix.O_RDWR, modeReserved)
	if err == nil {
		return CreateResult{Seg: &Segment{fd: fd, path: path}, Created: true}, nil
	}
	fd, err = unix.Open(path, unix.O_RDWR, modeReserved)
	if err != nil {
		return CreateResult{}, fmt.Errorf("structstore: opening shared memory %q failed: %w", path, err)
	}
	return CreateResult{Seg: &Segment{fd: fd, path: path}, Created: false}, nil
}

// OpenExisting opens path for read/write without attempting creation. Used
// by attaching processes that expect the segment to already exist.
func OpenExisting(path string) (*Segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR, modeReserved)
	if err != nil {
		return nil, fmt.Errorf("structstore: opening shared memory %q failed: %w", path, err)
	}
	return &Segment{fd: fd, path: path}, nil
}

// FromFD wraps an already-open file descriptor (e.g. one inherited across a
// fork/exec or passed over a unix socket) without opening or creating
// anything by name.
func FromFD(fd int) *Segment {
	return &Segment{fd: fd}
}

// Mode reports the current permission bits of the segment's backing file,
// which is how callers distinguish "reserved but not ready" (modeReserved)
// from "ready" (modeReady).
func (s *Segment) Mode() (os.FileMode, error) {
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return 0, fmt.Errorf("structstore: fstat on shared memory failed: %w", err)
	}
	return os.FileMode(st.Mode & 0o777), nil
}

// Size reports the current file size in bytes.
func (s *Segment) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(s.fd, &st); err != nil {
		return 0, fmt.Errorf("structstore: fstat on shared memory failed: %w", err)
	}
	return st.Size, nil
}

// Ready reports whether the segment's mode bits are the "ready" pattern a
// creator sets after fully initialising the region.
func (s *Segment) Ready() (bool, error) {
	mode, err := s.Mode()
	if err != nil {
		return false, err
	}
	return mode == modeReady, nil
}

// Truncate reserves size bytes for the segment. Only the creator of a
// segment should call this, before mapping it.
func (s *Segment) Truncate(size int64) error {
	if err := unix.Ftruncate(s.fd, size); err != nil {
		return fmt.Errorf("structstore: reserving %d bytes of shared memory failed: %w", size, err)
	}
	return nil
}

// MarkReady flips the segment's permission bits from "reserved" to "ready",
// the signal every other attacher polls for.
func (s *Segment) MarkReady() error {
	if err := unix.Fchmod(s.fd, modeReady); err != nil {
		return fmt.Errorf("structstore: marking shared memory ready failed: %w", err)
	}
	return nil
}

// Map maps the full segment read/write and shared between processes.
// size must not exceed the segment's current file size.
func (s *Segment) Map(size int) ([]byte, error) {
	region, err := unix.Mmap(s.fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("structstore: mmap of shared memory failed: %w", err)
	}
	s.region = region
	return region, nil
}

// Unmap releases the mapping obtained from Map, if any.
func (s *Segment) Unmap() error {
	if s.region == nil {
		return nil
	}
	err := unix.Munmap(s.region)
	s.region = nil
	if err != nil {
		return fmt.Errorf("structstore: munmap of shared memory failed: %w", err)
	}
	return nil
}

// Close closes the underlying file descriptor. It does not unmap or unlink.
func (s *Segment) Close() error {
	if s.fd == -1 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	if err != nil {
		return fmt.Errorf("structstore: closing shared memory fd failed: %w", err)
	}
	return nil
}

// FD returns the raw file descriptor, e.g. for passing to another process.
func (s *Segment) FD() int {
	return s.fd
}

// Unlink removes path from the filesystem/shm namespace so no future opener
// can find it. Existing mappings remain valid until unmapped.
func Unlink(path string) error {
	if err := unix.Unlink(path); err != nil {
		return fmt.Errorf("structstore: unlinking shared memory %q failed: %w", path, err)
	}
	return nil
}
