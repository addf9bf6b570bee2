// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package buffer

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Go's atomics are sequentially consistent, which subsumes the
// acquire/release ordering callers rely on.  sync/atomic has no 8 or 16 bit
// operations, so those widths are implemented on the enclosing aligned
// 32-bit word: loads extract the relevant lanes, stores CAS the word.

func (b *Buffer) addr(off int) uintptr {
	return uintptr(unsafe.Pointer(&b.data[off]))
}

func (b *Buffer) checkAligned(off, width int) error {
	if err := b.check(off, width); err != nil {
		return err
	}
	if b.addr(off)%uintptr(width) != 0 {
		return ErrUnaligned
	}
	return nil
}

// word returns the aligned 32-bit word containing [off, off+width) and the
// bit shift of the sub-word value inside it.
func (b *Buffer) word(off, width int) (*uint32, uint, error) {
	if err := b.checkAligned(off, width); err != nil {
		return nil, 0, err
	}
	pos := int(b.addr(off) & 3)
	base := off - pos
	if base < 0 || base+4 > cap(b.data) {
		return nil, 0, ErrUnaligned
	}
	full := b.data[:cap(b.data)]
	p := (*uint32)(unsafe.Pointer(&full[base]))
	var shift uint
	if littleEndian {
		shift = uint(pos * 8)
	} else {
		shift = uint((4 - pos - width) * 8)
	}
	return p, shift, nil
}

func (b *Buffer) loadSub(off, width int) (uint32, error) {
	p, shift, err := b.word(off, width)
	if err != nil {
		return 0, err
	}
	mask := uint32(1)<<(uint(width)*8) - 1
	return (atomic.LoadUint32(p) >> shift) & mask, nil
}

func (b *Buffer) storeSub(off, width int, v uint32) error {
	if !b.writable {
		return ErrReadOnly
	}
	p, shift, err := b.word(off, width)
	if err != nil {
		return err
	}
	mask := uint32(1)<<(uint(width)*8) - 1
	for {
		old := atomic.LoadUint32(p)
		next := old&^(mask<<shift) | (v&mask)<<shift
		if atomic.CompareAndSwapUint32(p, old, next) {
			return nil
		}
	}
}

func (b *Buffer) LoadInt8(off int) (int8, error) {
	v, err := b.loadSub(off, 1)
	return int8(v), err
}

func (b *Buffer) StoreInt8(off int, v int8) error {
	return b.storeSub(off, 1, uint32(uint8(v)))
}

func (b *Buffer) LoadInt16(off int) (int16, error) {
	v, err := b.loadSub(off, 2)
	return int16(v), err
}

func (b *Buffer) StoreInt16(off int, v int16) error {
	return b.storeSub(off, 2, uint32(uint16(v)))
}

func (b *Buffer) LoadUint32(off int) (uint32, error) {
	if err := b.checkAligned(off, 4); err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&b.data[off]))), nil
}

func (b *Buffer) StoreUint32(off int, v uint32) error {
	if !b.writable {
		return ErrReadOnly
	}
	if err := b.checkAligned(off, 4); err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&b.data[off])), v)
	return nil
}

func (b *Buffer) LoadUint64(off int) (uint64, error) {
	if err := b.checkAligned(off, 8); err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&b.data[off]))), nil
}

func (b *Buffer) StoreUint64(off int, v uint64) error {
	if !b.writable {
		return ErrReadOnly
	}
	if err := b.checkAligned(off, 8); err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&b.data[off])), v)
	return nil
}

func (b *Buffer) LoadInt32(off int) (int32, error) {
	v, err := b.LoadUint32(off)
	return int32(v), err
}

func (b *Buffer) StoreInt32(off int, v int32) error {
	return b.StoreUint32(off, uint32(v))
}

func (b *Buffer) LoadInt64(off int) (int64, error) {
	v, err := b.LoadUint64(off)
	return int64(v), err
}

func (b *Buffer) StoreInt64(off int, v int64) error {
	return b.StoreUint64(off, uint64(v))
}

func (b *Buffer) LoadFloat32(off int) (float32, error) {
	v, err := b.LoadUint32(off)
	return math.Float32frombits(v), err
}

func (b *Buffer) StoreFloat32(off int, v float32) error {
	return b.StoreUint32(off, math.Float32bits(v))
}

func (b *Buffer) LoadFloat64(off int) (float64, error) {
	v, err := b.LoadUint64(off)
	return math.Float64frombits(v), err
}

func (b *Buffer) StoreFloat64(off int, v float64) error {
	return b.StoreUint64(off, math.Float64bits(v))
}
