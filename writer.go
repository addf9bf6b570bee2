// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"github.com/bpowers/phmap/internal/layout"
)

// Writer is the single mutating handle on a table.  A Writer must not be
// used from more than one goroutine at a time; readers of the same file
// may run concurrently with it.
type Writer[K Key, V Value] struct {
	*Table[K, V]
}

func (w *Writer[K, V]) writeKey(off int, key K) error {
	bl := w.info.Bucket
	return w.buf.PutUint(off+bl.KeyOffset, bl.KeySize, toBits(key))
}

func (w *Writer[K, V]) writeValue(off int, value V) error {
	bl := w.info.Bucket
	return w.buf.PutUint(off+bl.ValueOffset, bl.ValueSize, toBits(value))
}

func (w *Writer[K, V]) writeMeta(off int, meta uint16) error {
	return w.buf.StoreInt16(off, int16(meta))
}

// Put stores value for key, replacing any previous value.  It returns
// PutOverflow, leaving the table unchanged, when key is new and the table
// is full or its probe sequence is exhausted.
func (w *Writer[K, V]) Put(key K, value V) (PutResult, error) {
	if err := w.checkOpen(); err != nil {
		return PutOverflow, err
	}
	p, err := w.find(key)
	if err != nil {
		return PutOverflow, err
	}
	if p.found {
		return PutOK, w.writeValue(p.off, value)
	}

	off, meta, reuse := p.off, p.meta, false
	if p.tombOff >= 0 {
		off, meta, reuse = p.tombOff, p.tombMeta, true
	} else if p.dist > layout.MaxDistance {
		return PutOverflow, nil
	}
	size, err := layout.Size(w.buf)
	if err != nil {
		return PutOverflow, err
	}
	if size >= w.info.MaxEntries {
		return PutOverflow, nil
	}

	// key and value must be in place before the meta word publishes them
	if err := w.writeValue(off, value); err != nil {
		return PutOverflow, err
	}
	if err := w.writeKey(off, key); err != nil {
		return PutOverflow, err
	}
	if err := w.writeMeta(off, layout.NextMeta(layout.MetaOccupied, meta)); err != nil {
		return PutOverflow, err
	}
	if reuse {
		tombstones, err := layout.Tombstones(w.buf)
		if err != nil {
			return PutOverflow, err
		}
		if err := layout.StoreTombstones(w.buf, tombstones-1); err != nil {
			return PutOverflow, err
		}
	}
	return PutOK, layout.StoreSize(w.buf, size+1)
}

// Remove deletes key and reports whether it was present.
//
// The bucket becomes free when the next bucket is free, and tombstones
// directly before it are freed along with it since no probe sequence can
// pass through them anymore.  Otherwise it becomes a tombstone.
func (w *Writer[K, V]) Remove(key K) (bool, error) {
	if err := w.checkOpen(); err != nil {
		return false, err
	}
	p, err := w.find(key)
	if err != nil || !p.found {
		return false, err
	}
	nextMeta, err := w.readMeta(w.info.BucketOffset(w.info.NextBucket(p.ix)))
	if err != nil {
		return false, err
	}
	size, err := layout.Size(w.buf)
	if err != nil {
		return false, err
	}
	tombstones, err := layout.Tombstones(w.buf)
	if err != nil {
		return false, err
	}
	if layout.IsFree(nextMeta) {
		if err := w.writeMeta(p.off, layout.NextMeta(layout.MetaFree, p.meta)); err != nil {
			return false, err
		}
		freed, err := w.cleanupTombstones(p.ix)
		if err != nil {
			return false, err
		}
		tombstones -= freed
	} else {
		if err := w.writeMeta(p.off, layout.NextMeta(layout.MetaTombstone, p.meta)); err != nil {
			return false, err
		}
		tombstones++
	}
	if err := layout.StoreTombstones(w.buf, tombstones); err != nil {
		return false, err
	}
	return true, layout.StoreSize(w.buf, size-1)
}

// cleanupTombstones frees the run of tombstones ending just before the
// free bucket ix and returns how many it freed.
func (w *Writer[K, V]) cleanupTombstones(ix int) (int, error) {
	freed := 0
	for prev := w.info.PrevBucket(ix); prev != ix; prev = w.info.PrevBucket(prev) {
		off := w.info.BucketOffset(prev)
		meta, err := w.readMeta(off)
		if err != nil {
			return freed, err
		}
		if !layout.IsTombstone(meta) {
			break
		}
		if err := w.writeMeta(off, layout.NextMeta(layout.MetaFree, meta)); err != nil {
			return freed, err
		}
		freed++
	}
	return freed, nil
}

// StoreBookmark sets bookmark slot ix.
func (w *Writer[K, V]) StoreBookmark(ix int, v int64) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	return layout.StoreBookmark(w.buf, ix, v)
}

// StoreAllBookmarks sets every bookmark slot.
func (w *Writer[K, V]) StoreAllBookmarks(bm Bookmarks) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	return layout.StoreAllBookmarks(w.buf, bm)
}

// Flush writes dirty pages of a file backed table to stable storage.
func (w *Writer[K, V]) Flush() error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	return w.buf.Sync()
}
