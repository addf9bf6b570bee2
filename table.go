// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync/atomic"

	"github.com/bpowers/phmap/buffer"
	"github.com/bpowers/phmap/directory"
	"github.com/bpowers/phmap/internal/layout"
	"github.com/bpowers/phmap/refcount"
)

// Table is a read handle on one version of a hash table.  Lookups are
// lock-free and may run concurrently with the single Writer of the same
// file.
type Table[K Key, V Value] struct {
	version int64
	name    string
	file    *refcount.RefCounted[*directory.File]
	buf     *buffer.Buffer
	header  layout.Header
	info    layout.MapInfo
	hash    func(K) int32
	stats   *statsCollector
	closed  atomic.Bool
}

// newTable takes ownership of one reference to file.  On error the
// reference is released.
func newTable[K Key, V Value](version int64, file *refcount.RefCounted[*directory.File]) (*Table[K, V], error) {
	f, err := file.Get()
	if err != nil {
		return nil, err
	}
	t, err := tableFor[K, V](version, f)
	if err != nil {
		_, _ = file.Release()
		return nil, err
	}
	t.file = file
	return t, nil
}

func tableFor[K Key, V Value](version int64, f *directory.File) (*Table[K, V], error) {
	header, err := layout.LoadHeader(f.Buffer, tagOf[K](), tagOf[V]())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	hash, err := keyHasher[K](header.HasherSerial)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", f.Name, ErrInvalidTable, err)
	}
	return &Table[K, V]{
		version: version,
		name:    f.Name,
		buf:     f.Buffer,
		header:  header,
		info:    header.MapInfo(),
		hash:    hash,
	}, nil
}

// handle returns a new Table sharing t's parsed header and stats, owning
// one reference to file.
func (t *Table[K, V]) handle(file *refcount.RefCounted[*directory.File]) *Table[K, V] {
	return &Table[K, V]{
		version: t.version,
		name:    t.name,
		file:    file,
		buf:     t.buf,
		header:  t.header,
		info:    t.info,
		hash:    t.hash,
		stats:   t.stats,
	}
}

// Version returns the version this table was created as.
func (t *Table[K, V]) Version() int64 { return t.version }

// Name returns the file name of the table inside its directory.
func (t *Table[K, V]) Name() string { return t.name }

func (t *Table[K, V]) MaxEntries() int { return t.info.MaxEntries }

func (t *Table[K, V]) Capacity() int { return t.info.Capacity }

// HasherSerial returns the serial of the key hash function.
func (t *Table[K, V]) HasherSerial() uint8 { return t.header.HasherSerial }

func (t *Table[K, V]) checkOpen() error {
	if t.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Size returns the number of live entries.
func (t *Table[K, V]) Size() (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	return layout.Size(t.buf)
}

// Tombstones returns the number of tombstoned buckets.
func (t *Table[K, V]) Tombstones() (int, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	return layout.Tombstones(t.buf)
}

func (t *Table[K, V]) readMeta(off int) (uint16, error) {
	m, err := t.buf.LoadInt16(off)
	return uint16(m), err
}

func (t *Table[K, V]) readKey(off int) (K, error) {
	bits, err := t.buf.Uint(off+t.info.Bucket.KeyOffset, t.info.Bucket.KeySize)
	return fromBits[K](bits), err
}

func (t *Table[K, V]) readValue(off int) (V, error) {
	bits, err := t.buf.Uint(off+t.info.Bucket.ValueOffset, t.info.Bucket.ValueSize)
	return fromBits[V](bits), err
}

// probe is the outcome of walking a key's probe sequence.
type probe struct {
	found bool
	ix    int
	off   int
	meta  uint16
	dist  int

	// first tombstone passed on the way, tombOff < 0 if none
	tombOff  int
	tombMeta uint16
}

func (t *Table[K, V]) find(key K) (probe, error) {
	h := t.hash(key)
	p := probe{tombOff: -1}
	for dist := 0; ; dist++ {
		ix := t.info.BucketIndex(h, dist)
		off := t.info.BucketOffset(ix)
		meta, err := t.readMeta(off)
		if err != nil {
			return probe{}, err
		}
		p.ix, p.off, p.meta, p.dist = ix, off, meta, dist
		if dist > layout.MaxDistance || layout.IsFree(meta) {
			return p, nil
		}
		if layout.IsTombstone(meta) {
			if p.tombOff < 0 {
				p.tombOff, p.tombMeta = off, meta
			}
			continue
		}
		k, err := t.readKey(off)
		if err != nil {
			return probe{}, err
		}
		if k == key {
			p.found = true
			return p, nil
		}
	}
}

// lookup finds key and, if withValue is set, reads its value.  The value
// read is retried until the bucket's meta word is stable around it, so a
// concurrent writer reusing the bucket is never observed half way.
func (t *Table[K, V]) lookup(key K, withValue bool) (v V, ok bool, err error) {
	if err = t.checkOpen(); err != nil {
		return v, false, err
	}
	p, err := t.find(key)
	if err != nil {
		return v, false, err
	}
	defer func() {
		if err == nil {
			t.stats.addGet(ok, p.dist)
		}
	}()
	if !p.found {
		return v, false, nil
	}
	meta := p.meta
	for {
		if withValue {
			if v, err = t.readValue(p.off); err != nil {
				return v, false, err
			}
		}
		meta2, err := t.readMeta(p.off)
		if err != nil {
			return v, false, err
		}
		if meta2 == meta {
			return v, true, nil
		}
		meta = meta2
		if !layout.IsOccupied(meta) {
			return v, false, nil
		}
		k, err := t.readKey(p.off)
		if err != nil {
			return v, false, err
		}
		if k != key {
			return v, false, nil
		}
	}
}

// Get returns the value stored for key.
func (t *Table[K, V]) Get(key K) (V, bool, error) {
	return t.lookup(key, true)
}

// GetOr returns the value stored for key, or dflt if it is absent.
func (t *Table[K, V]) GetOr(key K, dflt V) (V, error) {
	v, ok, err := t.lookup(key, true)
	if err != nil || !ok {
		return dflt, err
	}
	return v, nil
}

// Contains reports whether key is present.
func (t *Table[K, V]) Contains(key K) (bool, error) {
	_, ok, err := t.lookup(key, false)
	return ok, err
}

// LoadBookmark returns bookmark slot ix.
func (t *Table[K, V]) LoadBookmark(ix int) (int64, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	return layout.LoadBookmark(t.buf, ix)
}

// LoadAllBookmarks returns every bookmark slot.
func (t *Table[K, V]) LoadAllBookmarks() (Bookmarks, error) {
	if err := t.checkOpen(); err != nil {
		return Bookmarks{}, err
	}
	return layout.LoadAllBookmarks(t.buf)
}

// Iter returns an iterator over live entries in bucket order.
func (t *Table[K, V]) Iter() *Iter[K, V] {
	return &Iter[K, V]{t: t, ix: -1}
}

// All returns a range-over-func view of the live entries.  Iteration
// stops silently at the first read error; use Iter to observe it.
func (t *Table[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := t.Iter()
		for it.Next() {
			if !yield(it.Key(), it.Value()) {
				return
			}
		}
	}
}

// Stats returns the lookup counters collected so far.  Counters are only
// collected by tables opened with WithStats.
func (t *Table[K, V]) Stats() Stats {
	return t.stats.snapshot()
}

// Dump renders the header and counters, and with content set, every
// bucket's meta word and raw key and value bytes.
func (t *Table[K, V]) Dump(content bool) (string, error) {
	if err := t.checkOpen(); err != nil {
		return "", err
	}
	size, err := layout.Size(t.buf)
	if err != nil {
		return "", err
	}
	tombstones, err := layout.Tombstones(t.buf)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s version=%d\n", t.name, t.version)
	fmt.Fprintf(&sb, "%s\n", t.header)
	fmt.Fprintf(&sb, "%s\n", t.info.Bucket)
	fmt.Fprintf(&sb, "size=%d tombstones=%d bucketsPerPage=%d dataPages=%d\n",
		size, tombstones, t.info.BucketsPerPage, t.info.NumDataPages)
	if !content {
		return sb.String(), nil
	}
	bl := t.info.Bucket
	key := make([]byte, bl.KeySize)
	value := make([]byte, bl.ValueSize)
	for ix := 0; ix < t.info.Capacity; ix++ {
		off := t.info.BucketOffset(ix)
		meta, err := t.readMeta(off)
		if err != nil {
			return "", err
		}
		if err := t.buf.ReadBytes(off+bl.KeyOffset, key); err != nil {
			return "", err
		}
		if err := t.buf.ReadBytes(off+bl.ValueOffset, value); err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%d: 0x%04x, %v, %v\n", ix, meta, key, value)
	}
	return sb.String(), nil
}

// Close releases the table's reference on its file.  The file is unmapped
// once every handle on it is closed.
func (t *Table[K, V]) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.file == nil {
		return nil
	}
	_, err := t.file.Release()
	if errors.Is(err, refcount.ErrInvalidRefCount) {
		return ErrClosed
	}
	return err
}

// Iter walks the live entries of a table.  It is not safe for concurrent
// use, and entries put or removed during iteration may or may not be seen.
type Iter[K Key, V Value] struct {
	t     *Table[K, V]
	ix    int
	key   K
	value V
	err   error
}

// Next advances to the next occupied bucket.
func (it *Iter[K, V]) Next() bool {
	if it.err != nil {
		return false
	}
	if it.err = it.t.checkOpen(); it.err != nil {
		return false
	}
	for {
		it.ix++
		if it.ix >= it.t.info.Capacity {
			return false
		}
		off := it.t.info.BucketOffset(it.ix)
		meta, err := it.t.readMeta(off)
		if err != nil {
			it.err = err
			return false
		}
		if !layout.IsOccupied(meta) {
			continue
		}
		if it.key, it.err = it.t.readKey(off); it.err != nil {
			return false
		}
		if it.value, it.err = it.t.readValue(off); it.err != nil {
			return false
		}
		return true
	}
}

func (it *Iter[K, V]) Key() K { return it.key }

func (it *Iter[K, V]) Value() V { return it.value }

// Err returns the error that stopped iteration, if any.
func (it *Iter[K, V]) Err() error { return it.err }
