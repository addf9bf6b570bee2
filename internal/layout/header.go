// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package layout

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/bpowers/phmap/buffer"
)

// Magic starts every table file.
var Magic = [8]byte{'S', 'P', 'H', 'T', '\r', '\n', '\r', '\n'}

const (
	FlagsOffset      = 8
	CapacityOffset   = 16
	MaxEntriesOffset = 24
	SizeOffset       = 32
	TombstonesOffset = 40

	NumBookmarks = 32

	typeBits          = 3
	typeMask          = 1<<typeBits - 1
	keyTypeShift      = 0
	valueTypeShift    = 3
	hasherSerialShift = 8
	hasherSerialMask  = 0xff
)

// ErrBookmarkIndex is returned for a bookmark index outside
// [0, NumBookmarks).
var ErrBookmarkIndex = errors.New("bookmark index out of range")

// Bookmarks holds every bookmark slot of a table.
type Bookmarks [NumBookmarks]int64

// Header describes the shape of a table.  It is written once when the
// table is created; size and tombstone counters live next to it but are
// owned by the table engine.
type Header struct {
	KeyTag       Tag
	ValueTag     Tag
	HasherSerial uint8
	Capacity     int
	MaxEntries   int
}

// Flags packs the type tags and hasher serial.
func (h Header) Flags() uint64 {
	return uint64(h.KeyTag)&typeMask<<keyTypeShift |
		uint64(h.ValueTag)&typeMask<<valueTypeShift |
		uint64(h.HasherSerial)&hasherSerialMask<<hasherSerialShift
}

// Bucket returns the bucket layout implied by the type tags.
func (h Header) Bucket() BucketLayout {
	return NewBucketLayout(MetaSize, h.KeyTag.Size(), h.ValueTag.Size())
}

// MapInfo returns the page geometry implied by the header.
func (h Header) MapInfo() MapInfo {
	return mapInfoFor(h.Capacity, h.MaxEntries, h.Bucket())
}

func (h Header) String() string {
	return fmt.Sprintf("Header<key=%s value=%s hasher=%d capacity=%d maxEntries=%d>",
		h.KeyTag, h.ValueTag, h.HasherSerial, h.Capacity, h.MaxEntries)
}

// Dump writes the header into a freshly created buffer and zeroes the
// size and tombstone counters.
func (h Header) Dump(buf *buffer.Buffer) error {
	if err := buf.WriteBytes(0, Magic[:]); err != nil {
		return err
	}
	for _, field := range []struct {
		off int
		v   uint64
	}{
		{FlagsOffset, h.Flags()},
		{CapacityOffset, uint64(h.Capacity)},
		{MaxEntriesOffset, uint64(h.MaxEntries)},
		{SizeOffset, 0},
		{TombstonesOffset, 0},
	} {
		if err := buf.PutUint(field.off, 8, field.v); err != nil {
			return err
		}
	}
	return nil
}

// LoadHeader reads the header from buf and checks it against the key and
// value types the caller expects.
func LoadHeader(buf *buffer.Buffer, keyTag, valueTag Tag) (Header, error) {
	var magic [len(Magic)]byte
	if err := buf.ReadBytes(0, magic[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}
	if !bytes.Equal(magic[:], Magic[:]) {
		return Header{}, fmt.Errorf("%w: expected magic %q but was %q", ErrInvalidTable, Magic[:], magic[:])
	}
	flags, err := buf.Uint(FlagsOffset, 8)
	if err != nil {
		return Header{}, err
	}
	h := Header{
		KeyTag:       Tag(flags >> keyTypeShift & typeMask),
		ValueTag:     Tag(flags >> valueTypeShift & typeMask),
		HasherSerial: uint8(flags >> hasherSerialShift & hasherSerialMask),
	}
	if h.KeyTag != keyTag {
		return Header{}, fmt.Errorf("%w: mismatched key type: expected %s but was %s", ErrInvalidTable, keyTag, h.KeyTag)
	}
	if h.ValueTag != valueTag {
		return Header{}, fmt.Errorf("%w: mismatched value type: expected %s but was %s", ErrInvalidTable, valueTag, h.ValueTag)
	}
	if h.Capacity, err = loadIntField(buf, CapacityOffset, "capacity"); err != nil {
		return Header{}, err
	}
	if h.MaxEntries, err = loadIntField(buf, MaxEntriesOffset, "maxEntries"); err != nil {
		return Header{}, err
	}
	if h.Capacity <= 0 || h.MaxEntries <= 0 || h.MaxEntries > h.Capacity {
		return Header{}, fmt.Errorf("%w: capacity %d, maxEntries %d", ErrInvalidTable, h.Capacity, h.MaxEntries)
	}
	if need := h.MapInfo().BufferSize; buf.Len() < need {
		return Header{}, fmt.Errorf("%w: buffer holds %d bytes, capacity %d needs %d", ErrInvalidTable, buf.Len(), h.Capacity, need)
	}
	return h, nil
}

func loadIntField(buf *buffer.Buffer, off int, name string) (int, error) {
	v, err := buf.Uint(off, 8)
	if err != nil {
		return 0, err
	}
	if v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: maximum supported %s is %d, but was %d", ErrInvalidTable, name, math.MaxInt32, v)
	}
	return int(v), nil
}

// Size loads the live entry counter.
func Size(buf *buffer.Buffer) (int, error) {
	v, err := buf.LoadInt32(SizeOffset)
	return int(v), err
}

// StoreSize publishes the live entry counter.
func StoreSize(buf *buffer.Buffer, n int) error {
	return buf.StoreInt32(SizeOffset, int32(n))
}

// Tombstones loads the tombstone counter.
func Tombstones(buf *buffer.Buffer) (int, error) {
	v, err := buf.LoadInt32(TombstonesOffset)
	return int(v), err
}

// StoreTombstones publishes the tombstone counter.
func StoreTombstones(buf *buffer.Buffer, n int) error {
	return buf.StoreInt32(TombstonesOffset, int32(n))
}

func bookmarkOffset(ix int) int {
	return PageSize - (ix+1)*8
}

func checkBookmark(ix int) error {
	if ix < 0 || ix >= NumBookmarks {
		return fmt.Errorf("%w: %d (only %d bookmarks are supported)", ErrBookmarkIndex, ix, NumBookmarks)
	}
	return nil
}

func LoadBookmark(buf *buffer.Buffer, ix int) (int64, error) {
	if err := checkBookmark(ix); err != nil {
		return 0, err
	}
	return buf.LoadInt64(bookmarkOffset(ix))
}

func StoreBookmark(buf *buffer.Buffer, ix int, v int64) error {
	if err := checkBookmark(ix); err != nil {
		return err
	}
	return buf.StoreInt64(bookmarkOffset(ix), v)
}

func LoadAllBookmarks(buf *buffer.Buffer) (Bookmarks, error) {
	var bm Bookmarks
	for ix := range bm {
		v, err := buf.LoadInt64(bookmarkOffset(ix))
		if err != nil {
			return Bookmarks{}, err
		}
		bm[ix] = v
	}
	return bm, nil
}

func StoreAllBookmarks(buf *buffer.Buffer, bm Bookmarks) error {
	for ix, v := range bm {
		if err := buf.StoreInt64(bookmarkOffset(ix), v); err != nil {
			return err
		}
	}
	return nil
}
