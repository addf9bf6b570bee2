// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"fmt"
	"unsafe"

	"github.com/bpowers/phmap/hasher"
	"github.com/bpowers/phmap/internal/layout"
)

// Key is the set of supported key types.
type Key interface {
	int32 | int64
}

// Value is the set of supported value types.
type Value interface {
	int16 | int32 | int64 | float32 | float64
}

// PutResult reports whether Put stored the entry.
type PutResult int

const (
	PutOK PutResult = iota
	// PutOverflow means the table is at maxEntries or no bucket was found
	// within the maximum probe distance.  Grow with Env.CopyMap and retry.
	PutOverflow
)

func (r PutResult) String() string {
	switch r {
	case PutOK:
		return "OK"
	case PutOverflow:
		return "OVERFLOW"
	}
	return fmt.Sprintf("PutResult(%d)", int(r))
}

func tagOf[T Key | Value]() layout.Tag {
	var zero T
	switch any(zero).(type) {
	case int16:
		return layout.TagShort
	case int32:
		return layout.TagInt
	case int64:
		return layout.TagLong
	case float32:
		return layout.TagFloat
	case float64:
		return layout.TagDouble
	}
	panic("unreachable")
}

// fromBits reinterprets the low bytes of bits as a T of the same width.
func fromBits[T Key | Value](bits uint64) T {
	var v T
	p := unsafe.Pointer(&v)
	switch unsafe.Sizeof(v) {
	case 2:
		*(*uint16)(p) = uint16(bits)
	case 4:
		*(*uint32)(p) = uint32(bits)
	case 8:
		*(*uint64)(p) = bits
	}
	return v
}

func toBits[T Key | Value](v T) uint64 {
	p := unsafe.Pointer(&v)
	switch unsafe.Sizeof(v) {
	case 2:
		return uint64(*(*uint16)(p))
	case 4:
		return uint64(*(*uint32)(p))
	case 8:
		return *(*uint64)(p)
	}
	return 0
}

// defaultHasherSerial returns the serial new tables with keys of type K
// are built with.
func defaultHasherSerial[K Key]() uint8 {
	var zero K
	if _, ok := any(zero).(int64); ok {
		return hasher.DefaultInt64Serial
	}
	return hasher.DefaultInt32Serial
}

func keyHasher[K Key](serial uint8) (func(K) int32, error) {
	var zero K
	switch any(zero).(type) {
	case int32:
		h, err := hasher.Int32BySerial(serial)
		if err != nil {
			return nil, err
		}
		return func(k K) int32 { return h.Hash(int32(k)) }, nil
	case int64:
		h, err := hasher.Int64BySerial(serial)
		if err != nil {
			return nil, err
		}
		return func(k K) int32 { return h.Hash(int64(k)) }, nil
	}
	panic("unreachable")
}

func bucketLayoutOf[K Key, V Value]() layout.BucketLayout {
	return layout.NewBucketLayout(layout.MetaSize, tagOf[K]().Size(), tagOf[V]().Size())
}
