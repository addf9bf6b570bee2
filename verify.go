// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/bpowers/phmap/internal/layout"
)

// Verify scans every bucket and checks that the header counters match the
// bucket states and that every stored key is found at its own bucket by a
// lookup.  It must not run concurrently with a Writer of the same file.
func (t *Table[K, V]) Verify() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	size, err := layout.Size(t.buf)
	if err != nil {
		return err
	}
	tombstones, err := layout.Tombstones(t.buf)
	if err != nil {
		return err
	}

	occupied := bitset.New(uint(t.info.Capacity))
	nTombstones := 0
	for ix := 0; ix < t.info.Capacity; ix++ {
		meta, err := t.readMeta(t.info.BucketOffset(ix))
		if err != nil {
			return err
		}
		switch {
		case layout.IsOccupied(meta):
			occupied.Set(uint(ix))
		case layout.IsTombstone(meta):
			nTombstones++
		case !layout.IsFree(meta):
			return fmt.Errorf("%w: bucket %d has meta 0x%04x", ErrInconsistent, ix, meta)
		}
	}
	if n := int(occupied.Count()); n != size {
		return fmt.Errorf("%w: %d occupied buckets but size is %d", ErrInconsistent, n, size)
	}
	if nTombstones != tombstones {
		return fmt.Errorf("%w: %d tombstoned buckets but tombstones is %d", ErrInconsistent, nTombstones, tombstones)
	}
	if size > t.info.MaxEntries {
		return fmt.Errorf("%w: size %d exceeds maxEntries %d", ErrInconsistent, size, t.info.MaxEntries)
	}

	for i, ok := occupied.NextSet(0); ok; i, ok = occupied.NextSet(i + 1) {
		ix := int(i)
		key, err := t.readKey(t.info.BucketOffset(ix))
		if err != nil {
			return err
		}
		p, err := t.find(key)
		if err != nil {
			return err
		}
		if !p.found {
			return fmt.Errorf("%w: key %v in bucket %d is unreachable", ErrInconsistent, key, ix)
		}
		if p.ix != ix {
			return fmt.Errorf("%w: key %v stored in buckets %d and %d", ErrInconsistent, key, p.ix, ix)
		}
	}
	return nil
}
