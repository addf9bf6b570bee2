// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package buffer

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	b := New(64)
	require.Equal(t, 64, b.Len())
	require.True(t, b.Writable())

	require.NoError(t, b.PutInt8(0, -3))
	require.NoError(t, b.PutInt16(2, -1234))
	require.NoError(t, b.PutInt32(4, math.MinInt32))
	require.NoError(t, b.PutInt64(8, math.MaxInt64))
	require.NoError(t, b.PutFloat32(16, 1.5))
	require.NoError(t, b.PutFloat64(24, -2.25))

	i8, err := b.Int8(0)
	require.NoError(t, err)
	assert.Equal(t, int8(-3), i8)
	i16, err := b.Int16(2)
	require.NoError(t, err)
	assert.Equal(t, int16(-1234), i16)
	i32, err := b.Int32(4)
	require.NoError(t, err)
	assert.Equal(t, int32(math.MinInt32), i32)
	i64, err := b.Int64(8)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), i64)
	f32, err := b.Float32(16)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f32)
	f64, err := b.Float64(24)
	require.NoError(t, err)
	assert.Equal(t, -2.25, f64)
}

func TestOrderedRoundTrip(t *testing.T) {
	b := New(32)

	require.NoError(t, b.StoreInt16(0, 0x7abc))
	require.NoError(t, b.StoreInt16(2, -2))
	require.NoError(t, b.StoreInt8(5, 9))
	require.NoError(t, b.StoreFloat32(8, 3.25))
	require.NoError(t, b.StoreFloat64(16, 6.5))
	require.NoError(t, b.StoreInt64(24, -42))

	v16, err := b.LoadInt16(0)
	require.NoError(t, err)
	assert.Equal(t, int16(0x7abc), v16)
	v16, err = b.LoadInt16(2)
	require.NoError(t, err)
	assert.Equal(t, int16(-2), v16)
	v8, err := b.LoadInt8(5)
	require.NoError(t, err)
	assert.Equal(t, int8(9), v8)

	// ordered and relaxed views of the same bytes agree
	r16, err := b.Int16(0)
	require.NoError(t, err)
	assert.Equal(t, int16(0x7abc), r16)
	r16, err = b.Int16(2)
	require.NoError(t, err)
	assert.Equal(t, int16(-2), r16)

	f32, err := b.LoadFloat32(8)
	require.NoError(t, err)
	assert.Equal(t, float32(3.25), f32)
	f64, err := b.LoadFloat64(16)
	require.NoError(t, err)
	assert.Equal(t, 6.5, f64)
	i64, err := b.LoadInt64(24)
	require.NoError(t, err)
	assert.Equal(t, int64(-42), i64)
}

func TestSubWordStoreKeepsNeighbours(t *testing.T) {
	b := New(8)
	require.NoError(t, b.PutInt16(2, 0x1234))
	require.NoError(t, b.StoreInt16(0, -1))
	v, err := b.Int16(2)
	require.NoError(t, err)
	assert.Equal(t, int16(0x1234), v)

	var wg sync.WaitGroup
	for lane := 0; lane < 4; lane++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				_ = b.StoreInt8(4+lane, int8(lane+1))
			}
		}(lane)
	}
	wg.Wait()
	for lane := 0; lane < 4; lane++ {
		v, err := b.LoadInt8(4 + lane)
		require.NoError(t, err)
		assert.Equal(t, int8(lane+1), v)
	}
}

func TestBounds(t *testing.T) {
	b := New(16)
	for _, tc := range []struct {
		name string
		fn   func() error
	}{
		{"negative", func() error { _, err := b.Int32(-1); return err }},
		{"past end", func() error { _, err := b.Int64(9); return err }},
		{"exactly end", func() error { return b.PutInt8(16, 1) }},
		{"bytes", func() error { return b.ReadBytes(10, make([]byte, 7)) }},
		{"ordered", func() error { _, err := b.LoadInt64(16); return err }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.fn(), ErrOutOfBounds)
		})
	}

	_, err := b.Int64(8)
	require.NoError(t, err)
}

func TestUnalignedOrdered(t *testing.T) {
	b := New(16)
	_, err := b.LoadInt32(2)
	require.ErrorIs(t, err, ErrUnaligned)
	require.ErrorIs(t, b.StoreInt64(4, 1), ErrUnaligned)
	_, err = b.LoadInt16(1)
	require.ErrorIs(t, err, ErrUnaligned)
}

func TestRelease(t *testing.T) {
	unmapped := 0
	b := FromMapping(make([]byte, 8), false, func([]byte) error {
		unmapped++
		return nil
	}, nil)
	require.ErrorIs(t, b.PutInt32(0, 1), ErrReadOnly)
	require.ErrorIs(t, b.StoreInt32(0, 1), ErrReadOnly)

	require.NoError(t, b.Release())
	require.True(t, b.Released())
	require.Equal(t, 1, unmapped)

	_, err := b.Int32(0)
	require.True(t, errors.Is(err, ErrReleased))
	require.ErrorIs(t, b.Release(), ErrReleased)
	require.ErrorIs(t, b.Sync(), ErrReleased)
	require.Equal(t, 1, unmapped)
}
