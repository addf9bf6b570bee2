// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package layout

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/phmap/buffer"
)

func TestBucketLayout(t *testing.T) {
	for _, tc := range []struct {
		key, value   Tag
		keyOff, vOff int
		size         int
	}{
		{TagInt, TagShort, 4, 2, 8},
		{TagInt, TagInt, 4, 8, 12},
		{TagInt, TagLong, 4, 8, 16},
		{TagInt, TagFloat, 4, 8, 12},
		{TagInt, TagDouble, 4, 8, 16},
		{TagLong, TagShort, 8, 2, 16},
		{TagLong, TagInt, 8, 4, 16},
		{TagLong, TagLong, 8, 16, 24},
		{TagLong, TagFloat, 8, 4, 16},
		{TagLong, TagDouble, 8, 16, 24},
	} {
		t.Run(tc.key.String()+"_"+tc.value.String(), func(t *testing.T) {
			l := NewBucketLayout(MetaSize, tc.key.Size(), tc.value.Size())
			assert.Equal(t, tc.keyOff, l.KeyOffset)
			assert.Equal(t, tc.vOff, l.ValueOffset)
			assert.Equal(t, tc.size, l.Size)
			// every bucket starts 4-byte aligned so meta words can be
			// accessed atomically
			assert.Zero(t, l.Size%4)
		})
	}
}

func TestCalcCapacity(t *testing.T) {
	for _, tc := range []struct {
		maxEntries int
		want       int
	}{
		{1, 3},
		{4, 7},
		{5, 7},
		{12, 17},
		{100, 163},
		{1024, 1597},
		{1000000, 1395263},
	} {
		got, err := CalcCapacity(tc.maxEntries, 0.75)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "maxEntries %d", tc.maxEntries)
	}

	// capacity is always the smallest table prime covering the load factor
	for n := 1; n < 5000; n += 7 {
		got, err := CalcCapacity(n, 0.5)
		require.NoError(t, err)
		lower := int(math.Ceil(float64(n) / 0.5))
		require.GreaterOrEqual(t, got, lower)
		require.Greater(t, got, n)
		for _, p := range primes {
			if p >= lower && p > n {
				require.Equal(t, p, got)
				break
			}
		}
	}

	// a table at its entry limit still keeps a free bucket
	got, err := CalcCapacity(7, 1)
	require.NoError(t, err)
	assert.Equal(t, 11, got)

	for _, tc := range []struct {
		n  int
		lf float64
	}{
		{0, 0.75}, {-1, 0.75}, {10, 0}, {10, 1.5}, {math.MaxInt32, 0.5},
	} {
		_, err := CalcCapacity(tc.n, tc.lf)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestMapInfo(t *testing.T) {
	mi, err := NewMapInfo(1024, 0.75, NewBucketLayout(MetaSize, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, 1597, mi.Capacity)
	assert.Equal(t, 340, mi.BucketsPerPage)
	assert.Equal(t, 5, mi.NumDataPages)
	assert.Equal(t, 6*PageSize, mi.BufferSize)

	assert.Equal(t, PageSize, mi.PageOffset(0))
	assert.Equal(t, PageSize+DataPageHeaderSize, mi.BucketOffset(0))
	assert.Equal(t, PageSize+DataPageHeaderSize+339*12, mi.BucketOffset(339))
	assert.Equal(t, 2*PageSize+DataPageHeaderSize, mi.BucketOffset(340))
	assert.LessOrEqual(t, mi.BucketOffset(mi.Capacity-1)+12, mi.BufferSize)

	assert.Equal(t, 0, mi.NextBucket(mi.Capacity-1))
	assert.Equal(t, mi.Capacity-1, mi.PrevBucket(0))
	assert.Equal(t, 5, mi.NextBucket(4))
	assert.Equal(t, 3, mi.PrevBucket(4))

	assert.Equal(t, 0, mi.BucketIndex(math.MaxInt32, 1))
	assert.Equal(t, (math.MaxInt32-4)%mi.Capacity, mi.BucketIndex(-5, 0))
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		KeyTag:       TagInt,
		ValueTag:     TagFloat,
		HasherSerial: 3,
		Capacity:     7,
		MaxEntries:   5,
	}
	buf := buffer.New(h.MapInfo().BufferSize)

	// missing magic
	_, err := LoadHeader(buf, TagInt, TagFloat)
	require.ErrorIs(t, err, ErrInvalidTable)

	require.NoError(t, h.Dump(buf))
	flags, err := buf.Int64(FlagsOffset)
	require.NoError(t, err)
	assert.Equal(t, int64(2|4<<3|3<<8), flags)

	loaded, err := LoadHeader(buf, TagInt, TagFloat)
	require.NoError(t, err)
	assert.Equal(t, h, loaded)

	_, err = LoadHeader(buf, TagLong, TagFloat)
	require.ErrorIs(t, err, ErrInvalidTable)
	_, err = LoadHeader(buf, TagInt, TagDouble)
	require.ErrorIs(t, err, ErrInvalidTable)

	n, err := Size(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, StoreSize(buf, 3))
	require.NoError(t, StoreTombstones(buf, 2))
	n, _ = Size(buf)
	assert.Equal(t, 3, n)
	n, _ = Tombstones(buf)
	assert.Equal(t, 2, n)

	// oversized capacity
	require.NoError(t, buf.PutInt64(CapacityOffset, math.MaxInt32+1))
	_, err = LoadHeader(buf, TagInt, TagFloat)
	require.ErrorIs(t, err, ErrInvalidTable)

	// truncated buffer
	short := buffer.New(PageSize)
	require.NoError(t, h.Dump(short))
	_, err = LoadHeader(short, TagInt, TagFloat)
	require.ErrorIs(t, err, ErrInvalidTable)
}

func TestBookmarks(t *testing.T) {
	buf := buffer.New(PageSize)
	require.NoError(t, StoreBookmark(buf, 0, 11))
	require.NoError(t, StoreBookmark(buf, NumBookmarks-1, -1))
	v, err := LoadBookmark(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(11), v)

	raw, err := buf.Int64(PageSize - 8)
	require.NoError(t, err)
	assert.Equal(t, int64(11), raw)

	_, err = LoadBookmark(buf, NumBookmarks)
	require.ErrorIs(t, err, ErrBookmarkIndex)
	require.ErrorIs(t, StoreBookmark(buf, -1, 0), ErrBookmarkIndex)

	var bm Bookmarks
	for i := range bm {
		bm[i] = int64(i * i)
	}
	require.NoError(t, StoreAllBookmarks(buf, bm))
	got, err := LoadAllBookmarks(buf)
	require.NoError(t, err)
	assert.Equal(t, bm, got)
}

func TestMeta(t *testing.T) {
	assert.True(t, IsFree(0))
	assert.True(t, IsFree(0x1234&VersionMask))
	m := NextMeta(MetaOccupied, 0)
	assert.True(t, IsOccupied(m))
	assert.False(t, IsTombstone(m))
	assert.Equal(t, uint16(1), MetaVersion(m))

	m = NextMeta(MetaTombstone, m)
	assert.True(t, IsTombstone(m))
	assert.Equal(t, uint16(2), MetaVersion(m))

	// version wraps within its 14 bits
	m = NextMeta(MetaFree, VersionMask|MetaOccupied)
	assert.True(t, IsFree(m))
	assert.Equal(t, uint16(0), MetaVersion(m))
}
