// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package buffer provides bounds-checked, typed access to a contiguous
// memory region that is either heap allocated or backed by a memory mapped
// file.
//
// All multi-byte values use the host's native byte order.  Relaxed accessors
// (Int32, PutInt32, ...) are plain loads and stores.  Ordered accessors
// (LoadInt32, StoreInt32, ...) are atomic and are what writers and lock-free
// readers use to coordinate through shared memory.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

var (
	// ErrOutOfBounds is returned when offset < 0 or offset+width exceeds
	// the buffer length.
	ErrOutOfBounds = errors.New("buffer: out of bounds")

	// ErrReleased is returned by every accessor once Release has been
	// called.
	ErrReleased = errors.New("buffer: released")

	// ErrReadOnly is returned when writing to a buffer mapped without
	// write permission.
	ErrReadOnly = errors.New("buffer: read-only")

	// ErrUnaligned is returned by ordered accessors whose offset is not
	// naturally aligned for the access width.
	ErrUnaligned = errors.New("buffer: unaligned ordered access")
)

var native = binary.NativeEndian

// isLittleEndian reports whether the host stores the low byte first.
func isLittleEndian() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 0x01
}

var littleEndian = isLittleEndian()

// Buffer is a fixed size byte region.  A Buffer owns no lifetime semantics
// beyond Release: whoever holds it (usually a refcount.RefCounted) decides
// when the backing memory goes away.
type Buffer struct {
	data     []byte
	writable bool
	released atomic.Bool

	unmap func([]byte) error
	sync  func([]byte) error
}

// New allocates a zeroed, writable heap buffer of size bytes.  The
// allocation is 8-byte aligned so that every ordered accessor is usable on
// naturally aligned offsets.
func New(size int) *Buffer {
	if size < 0 {
		panic("buffer.New: negative size")
	}
	words := make([]uint64, (size+7)/8)
	var full []byte
	if len(words) > 0 {
		full = unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8)
	}
	return &Buffer{
		data:     full[:size],
		writable: true,
	}
}

// FromMapping wraps memory obtained from mmap.  unmap is invoked exactly
// once by Release, and syncFn (if non-nil) by Sync.
func FromMapping(data []byte, writable bool, unmap, syncFn func([]byte) error) *Buffer {
	return &Buffer{
		data:     data,
		writable: writable,
		unmap:    unmap,
		sync:     syncFn,
	}
}

// Len returns the size of the buffer in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Writable reports whether mutating accessors are permitted.
func (b *Buffer) Writable() bool {
	return b.writable
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b.released.Load()
}

// Release unmaps the backing memory.  Any later call on b fails with
// ErrReleased.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	if b.unmap != nil {
		if err := b.unmap(b.data); err != nil {
			return fmt.Errorf("unmap: %w", err)
		}
	}
	return nil
}

// Sync flushes a file backed buffer to stable storage.  It is a no-op for
// heap buffers.
func (b *Buffer) Sync() error {
	if b.released.Load() {
		return ErrReleased
	}
	if b.sync == nil {
		return nil
	}
	return b.sync(b.data)
}

func (b *Buffer) check(off, width int) error {
	if b.released.Load() {
		return ErrReleased
	}
	if off < 0 || off > len(b.data)-width {
		return fmt.Errorf("%w: offset %d width %d len %d", ErrOutOfBounds, off, width, len(b.data))
	}
	return nil
}

func (b *Buffer) checkWrite(off, width int) error {
	if !b.writable {
		return ErrReadOnly
	}
	return b.check(off, width)
}

// ReadBytes copies len(dst) bytes starting at off into dst.
func (b *Buffer) ReadBytes(off int, dst []byte) error {
	if err := b.check(off, len(dst)); err != nil {
		return err
	}
	copy(dst, b.data[off:])
	return nil
}

// WriteBytes copies src into the buffer starting at off.
func (b *Buffer) WriteBytes(off int, src []byte) error {
	if err := b.checkWrite(off, len(src)); err != nil {
		return err
	}
	copy(b.data[off:], src)
	return nil
}

// Uint reads an unsigned integer of width 1, 2, 4 or 8 bytes.
func (b *Buffer) Uint(off, width int) (uint64, error) {
	if err := b.check(off, width); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b.data[off]), nil
	case 2:
		return uint64(native.Uint16(b.data[off:])), nil
	case 4:
		return uint64(native.Uint32(b.data[off:])), nil
	case 8:
		return native.Uint64(b.data[off:]), nil
	}
	return 0, fmt.Errorf("buffer: unsupported width %d", width)
}

// PutUint writes the low width bytes of v.
func (b *Buffer) PutUint(off, width int, v uint64) error {
	if err := b.checkWrite(off, width); err != nil {
		return err
	}
	switch width {
	case 1:
		b.data[off] = byte(v)
	case 2:
		native.PutUint16(b.data[off:], uint16(v))
	case 4:
		native.PutUint32(b.data[off:], uint32(v))
	case 8:
		native.PutUint64(b.data[off:], v)
	default:
		return fmt.Errorf("buffer: unsupported width %d", width)
	}
	return nil
}

func (b *Buffer) Int8(off int) (int8, error) {
	v, err := b.Uint(off, 1)
	return int8(v), err
}

func (b *Buffer) PutInt8(off int, v int8) error {
	return b.PutUint(off, 1, uint64(uint8(v)))
}

func (b *Buffer) Int16(off int) (int16, error) {
	v, err := b.Uint(off, 2)
	return int16(v), err
}

func (b *Buffer) PutInt16(off int, v int16) error {
	return b.PutUint(off, 2, uint64(uint16(v)))
}

func (b *Buffer) Int32(off int) (int32, error) {
	v, err := b.Uint(off, 4)
	return int32(v), err
}

func (b *Buffer) PutInt32(off int, v int32) error {
	return b.PutUint(off, 4, uint64(uint32(v)))
}

func (b *Buffer) Int64(off int) (int64, error) {
	v, err := b.Uint(off, 8)
	return int64(v), err
}

func (b *Buffer) PutInt64(off int, v int64) error {
	return b.PutUint(off, 8, uint64(v))
}

func (b *Buffer) Float32(off int) (float32, error) {
	v, err := b.Uint(off, 4)
	return math.Float32frombits(uint32(v)), err
}

func (b *Buffer) PutFloat32(off int, v float32) error {
	return b.PutUint(off, 4, uint64(math.Float32bits(v)))
}

func (b *Buffer) Float64(off int) (float64, error) {
	v, err := b.Uint(off, 8)
	return math.Float64frombits(v), err
}

func (b *Buffer) PutFloat64(off int, v float64) error {
	return b.PutUint(off, 8, math.Float64bits(v))
}
