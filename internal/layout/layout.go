// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package layout computes the binary layout of a table file: page and
// bucket geometry, capacity sizing, the header page and bucket meta words.
//
// A table file is a sequence of PageSize pages.  Page 0 holds the header
// at its start and NumBookmarks bookmark slots counted back from its end.
// Every following page starts with a DataPageHeaderSize byte page header
// and then packs as many buckets as fit.
package layout

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

const (
	PageSize           = 4096
	DataPageHeaderSize = 16

	// MaxDistance bounds the probe distance of every lookup and insert.
	MaxDistance = 1024
)

var (
	// ErrInvalidTable is returned when a buffer does not hold a table of
	// the requested shape: bad magic, mismatched type or hasher tags, or
	// out of range fields.
	ErrInvalidTable = errors.New("invalid hash table")

	// ErrInvalidArgument is returned for sizing parameters out of range.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Tag identifies a fixed width key or value type in the header flags.
type Tag uint8

const (
	TagShort  Tag = 1
	TagInt    Tag = 2
	TagLong   Tag = 3
	TagFloat  Tag = 4
	TagDouble Tag = 5
)

// Size returns the width of the type in bytes.
func (t Tag) Size() int {
	switch t {
	case TagShort:
		return 2
	case TagInt, TagFloat:
		return 4
	case TagLong, TagDouble:
		return 8
	}
	return 0
}

func (t Tag) String() string {
	switch t {
	case TagShort:
		return "short"
	case TagInt:
		return "int"
	case TagLong:
		return "long"
	case TagFloat:
		return "float"
	case TagDouble:
		return "double"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// BucketLayout is the byte layout of a single {meta, key, value} bucket.
// Meta is always at offset 0.  The narrower of key and value follows it,
// each field is padded to its own width, and the bucket is rounded up to
// the widest field so consecutive buckets stay aligned.
type BucketLayout struct {
	MetaSize    int
	KeyOffset   int
	KeySize     int
	ValueOffset int
	ValueSize   int
	Size        int
}

func NewBucketLayout(metaSize, keySize, valueSize int) BucketLayout {
	l := BucketLayout{
		MetaSize:  metaSize,
		KeySize:   keySize,
		ValueSize: valueSize,
	}
	var end int
	if keySize <= valueSize {
		l.KeyOffset = metaSize + max(0, keySize-metaSize)
		base := l.KeyOffset + keySize
		l.ValueOffset = base + max(0, valueSize-base)
		end = l.ValueOffset + valueSize
	} else {
		l.ValueOffset = metaSize + max(0, valueSize-metaSize)
		base := l.ValueOffset + valueSize
		l.KeyOffset = base + max(0, keySize-base)
		end = l.KeyOffset + keySize
	}
	align := max(metaSize, keySize, valueSize)
	l.Size = ((end-1)/align + 1) * align
	return l
}

func (l BucketLayout) String() string {
	return fmt.Sprintf("BucketLayout<metaSize=%d keyOffset=%d keySize=%d valueOffset=%d valueSize=%d size=%d>",
		l.MetaSize, l.KeyOffset, l.KeySize, l.ValueOffset, l.ValueSize, l.Size)
}

// primes is a table of capacities.  Successive entries grow by roughly
// 20%, and every entry is prime so that probe sequences wrapping around
// the table stay well distributed.
var primes = []int{
	1, 3, 7, 11, 17, 23, 29, 37, 47, 59, 71, 89, 107, 131, 163, 197, 239, 293, 353, 431, 521, 631, 761,
	919, 1103, 1327, 1597, 1931, 2333, 2801, 3371, 4049, 4861, 5839, 7013, 8419, 10103, 12143, 14591,
	17519, 21023, 25229, 30293, 36353, 43627, 52361, 62851, 75431, 90523, 108631, 130363, 156437,
	187751, 225307, 270371, 324449, 389357, 467237, 560689, 672827, 807403, 968897, 1162687, 1395263,
	1674319, 2009191, 2411033, 2893249, 3471899, 4166287, 4999559, 5999471, 7199369, 8175383, 12582917,
	16601593, 25165843, 33712729, 50331653, 68460391, 100663319, 139022417, 201326611, 282312799,
	402653189, 573292817, 805306457, 1164186217, 1610612741, 2147483647,
}

// IsValidLoadFactor reports whether 0 < f <= 1.
func IsValidLoadFactor(f float64) bool {
	return f > 0 && f <= 1
}

// CalcCapacity returns the smallest prime in the capacity table that is at
// least ceil(maxEntries/loadFactor) and strictly greater than maxEntries.
func CalcCapacity(maxEntries int, loadFactor float64) (int, error) {
	if maxEntries <= 0 {
		return 0, fmt.Errorf("%w: maxEntries must be positive, got %d", ErrInvalidArgument, maxEntries)
	}
	if !IsValidLoadFactor(loadFactor) {
		return 0, fmt.Errorf("%w: load factor must be in (0, 1], got %v", ErrInvalidArgument, loadFactor)
	}
	minCapacity := math.Ceil(float64(maxEntries) / loadFactor)
	if minCapacity > float64(primes[len(primes)-1]) {
		return 0, fmt.Errorf("%w: %d entries at load factor %v exceed the maximum capacity", ErrInvalidArgument, maxEntries, loadFactor)
	}
	want := max(int(minCapacity), maxEntries+1)
	i := sort.SearchInts(primes, want)
	if i == len(primes) {
		return 0, fmt.Errorf("%w: %d entries exceed the maximum capacity", ErrInvalidArgument, maxEntries)
	}
	return primes[i], nil
}

// MapInfo is the page geometry of a table.
type MapInfo struct {
	MaxEntries     int
	Capacity       int
	BucketsPerPage int
	NumDataPages   int
	BufferSize     int
	Bucket         BucketLayout
}

// NewMapInfo sizes a new table for maxEntries at the given load factor.
func NewMapInfo(maxEntries int, loadFactor float64, bucket BucketLayout) (MapInfo, error) {
	capacity, err := CalcCapacity(maxEntries, loadFactor)
	if err != nil {
		return MapInfo{}, err
	}
	return mapInfoFor(capacity, maxEntries, bucket), nil
}

func mapInfoFor(capacity, maxEntries int, bucket BucketLayout) MapInfo {
	bucketsPerPage := (PageSize - DataPageHeaderSize) / bucket.Size
	numDataPages := (capacity + bucketsPerPage - 1) / bucketsPerPage
	return MapInfo{
		MaxEntries:     maxEntries,
		Capacity:       capacity,
		BucketsPerPage: bucketsPerPage,
		NumDataPages:   numDataPages,
		BufferSize:     (1 + numDataPages) * PageSize,
		Bucket:         bucket,
	}
}

// PageOffset returns the offset of the data page holding bucket ix.
func (mi MapInfo) PageOffset(ix int) int {
	return PageSize * (1 + ix/mi.BucketsPerPage)
}

// BucketOffset returns the offset of bucket ix.
func (mi MapInfo) BucketOffset(ix int) int {
	return mi.PageOffset(ix) + DataPageHeaderSize + (ix%mi.BucketsPerPage)*mi.Bucket.Size
}

// BucketIndex maps a hash and probe distance to a bucket.
func (mi MapInfo) BucketIndex(hash int32, dist int) int {
	h := (int(hash) + dist) & math.MaxInt32
	return h % mi.Capacity
}

// NextBucket returns the bucket after ix, wrapping to 0.
func (mi MapInfo) NextBucket(ix int) int {
	if ix >= mi.Capacity-1 {
		return 0
	}
	return ix + 1
}

// PrevBucket returns the bucket before ix, wrapping to Capacity-1.
func (mi MapInfo) PrevBucket(ix int) int {
	if ix <= 0 {
		return mi.Capacity - 1
	}
	return ix - 1
}
