// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bpowers/phmap/directory"
	"github.com/bpowers/phmap/internal/layout"
)

// VersionFilename holds the current version of a map directory.
const VersionFilename = "hashmap.ver"

// DataFilename names the committed map of a version.
func DataFilename(version int64) string {
	return fmt.Sprintf("hashmap_%d.data", version)
}

// tempFilename names a map that has not been committed yet.  The leading
// dot keeps it out of the way of tools listing committed versions.
func tempFilename() string {
	return ".hashmap_" + uuid.NewString()[:8] + ".tmp"
}

// Source is an open map another map can be derived from.  Both *Table
// and *Writer satisfy it.
type Source[K Key, V Value] interface {
	Version() int64
	Size() (int, error)
	LoadAllBookmarks() (Bookmarks, error)
	Iter() *Iter[K, V]
}

var (
	_ Source[int32, int32] = (*Table[int32, int32])(nil)
	_ Source[int32, int32] = (*Writer[int32, int32])(nil)
)

// Env owns the write side of a versioned map directory.  Only one Env may
// be open on a directory at a time; a second Open fails with
// directory.ErrWriteLock.
//
// The usual cycle is OpenMap (or NewMap/CopyMap for a fresh version),
// Put/Remove on the returned Writer, then Commit, which atomically
// publishes the new version to readers.
type Env[K Key, V Value] struct {
	dir    directory.Directory
	opts   options
	log    *slog.Logger
	closed atomic.Bool
}

// Open opens or creates the map directory at path for writing.  A new
// directory starts with an empty map sized by WithInitialEntries.
func Open[K Key, V Value](path string, opts ...Option) (*Env[K, V], error) {
	o, err := buildOptions[K](opts)
	if err != nil {
		return nil, err
	}
	dir, err := directory.OpenMmapWritable(path, VersionFilename)
	if err != nil {
		return nil, err
	}
	e := newEnv[K, V](dir, o)
	if err := e.init(dir.Created()); err != nil {
		_ = dir.Close()
		return nil, err
	}
	e.log.Debug("opened map directory", "path", path, "created", dir.Created())
	return e, nil
}

// OpenRAM returns an env whose maps live on the heap.  It behaves like a
// freshly created directory and vanishes on Close.
func OpenRAM[K Key, V Value](opts ...Option) (*Env[K, V], error) {
	o, err := buildOptions[K](opts)
	if err != nil {
		return nil, err
	}
	dir := directory.NewRAM()
	e := newEnv[K, V](dir, o)
	if err := e.init(true); err != nil {
		_ = dir.Close()
		return nil, err
	}
	return e, nil
}

func newEnv[K Key, V Value](dir directory.Directory, o options) *Env[K, V] {
	return &Env[K, V]{
		dir:  dir,
		opts: o,
		log:  o.logger,
	}
}

// init creates the version 0 map.  A directory whose version file exists
// but whose first map was never written is repaired the same way.
func (e *Env[K, V]) init(created bool) error {
	if !created {
		version, err := e.dir.ReadVersion()
		if err != nil {
			return err
		}
		if version != 0 {
			return nil
		}
		rc, err := e.dir.OpenFileReadOnly(DataFilename(0))
		if err == nil {
			_, err = rc.Release()
			return err
		}
		if !errors.Is(err, directory.ErrFileNotExist) {
			return err
		}
	}
	w, err := e.createMap(DataFilename(0), 0, e.opts.initialEntries)
	if err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		_ = w.Close()
		return err
	}
	e.log.Info("created initial map", "maxEntries", w.MaxEntries(), "capacity", w.Capacity())
	return w.Close()
}

func (e *Env[K, V]) checkOpen() error {
	if e.closed.Load() {
		return ErrClosed
	}
	return nil
}

// createMap creates an empty map file called name.
func (e *Env[K, V]) createMap(name string, version int64, maxEntries int) (*Writer[K, V], error) {
	info, err := layout.NewMapInfo(maxEntries, e.opts.loadFactor, bucketLayoutOf[K, V]())
	if err != nil {
		return nil, err
	}
	rc, err := e.dir.CreateFile(name, info.BufferSize)
	if err != nil {
		return nil, err
	}
	f, err := rc.Get()
	if err != nil {
		return nil, err
	}
	header := layout.Header{
		KeyTag:       tagOf[K](),
		ValueTag:     tagOf[V](),
		HasherSerial: e.opts.hasherSerial,
		Capacity:     info.Capacity,
		MaxEntries:   info.MaxEntries,
	}
	if err := header.Dump(f.Buffer); err != nil {
		_, _ = rc.Release()
		_ = e.dir.DeleteFile(name)
		return nil, err
	}
	t, err := newTable[K, V](version, rc)
	if err != nil {
		_ = e.dir.DeleteFile(name)
		return nil, err
	}
	return &Writer[K, V]{Table: t}, nil
}

// CurrentVersion returns the most recently committed version.
func (e *Env[K, V]) CurrentVersion() (int64, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	return e.dir.ReadVersion()
}

// OpenMap returns a writer on the current version.  Changes made through
// it are visible to readers immediately, one operation at a time.
func (e *Env[K, V]) OpenMap() (*Writer[K, V], error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	version, err := e.dir.ReadVersion()
	if err != nil {
		return nil, err
	}
	rc, err := e.dir.OpenFileWritable(DataFilename(version))
	if err != nil {
		return nil, err
	}
	t, err := newTable[K, V](version, rc)
	if err != nil {
		return nil, err
	}
	return &Writer[K, V]{Table: t}, nil
}

// NewMap creates an empty, uncommitted map for the version after old,
// sized for maxEntries and carrying old's bookmarks.
func (e *Env[K, V]) NewMap(old Source[K, V], maxEntries int) (*Writer[K, V], error) {
	return e.newMapAs(old, old.Version()+1, maxEntries)
}

func (e *Env[K, V]) newMapAs(old Source[K, V], version int64, maxEntries int) (*Writer[K, V], error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	bookmarks, err := old.LoadAllBookmarks()
	if err != nil {
		return nil, err
	}
	name := tempFilename()
	w, err := e.createMap(name, version, maxEntries)
	if err != nil {
		return nil, err
	}
	if err := w.StoreAllBookmarks(bookmarks); err != nil {
		_ = e.drop(w)
		return nil, err
	}
	e.log.Debug("created map", "version", w.Version(), "name", name,
		"maxEntries", w.MaxEntries(), "capacity", w.Capacity())
	return w, nil
}

// CopyMap returns an uncommitted copy of m sized for twice its entries,
// doubling the size until every entry fits.
func (e *Env[K, V]) CopyMap(m Source[K, V]) (*Writer[K, V], error) {
	size, err := m.Size()
	if err != nil {
		return nil, err
	}
	return e.copyMapAs(m, m.Version()+1, max(size*2, 1))
}

// copyMapAs copies m into a new map of the given version, starting at
// maxEntries and doubling until every entry fits.  The builder grows an
// uncommitted map this way without consuming another version.
func (e *Env[K, V]) copyMapAs(m Source[K, V], version int64, maxEntries int) (*Writer[K, V], error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("%w: maxEntries must be positive, got %d", ErrInvalidArgument, maxEntries)
	}
	for {
		w, err := e.newMapAs(m, version, maxEntries)
		if err != nil {
			return nil, err
		}
		ok, err := copyEntries(m, w)
		if err != nil {
			_ = e.drop(w)
			return nil, err
		}
		if ok {
			return w, nil
		}
		e.log.Debug("map copy overflowed, growing", "version", w.Version(), "maxEntries", maxEntries)
		if err := e.drop(w); err != nil {
			return nil, err
		}
		maxEntries *= 2
	}
}

// copyEntries puts every entry of src into dst and reports false if dst
// overflowed.
func copyEntries[K Key, V Value](src Source[K, V], dst *Writer[K, V]) (bool, error) {
	it := src.Iter()
	for it.Next() {
		res, err := dst.Put(it.Key(), it.Value())
		if err != nil {
			return false, err
		}
		if res == PutOverflow {
			return false, nil
		}
	}
	return true, it.Err()
}

// Commit publishes w as the current version.  The previous version's file
// is deleted; readers holding it keep their mapping until they close it.
// w stays usable as a writer on the new current version.
func (e *Env[K, V]) Commit(w *Writer[K, V]) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	current, err := e.dir.ReadVersion()
	if err != nil {
		return err
	}
	if w.Version() <= current {
		return fmt.Errorf("%w: version %d, current %d", ErrAlreadyCommitted, w.Version(), current)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	name := DataFilename(w.Version())
	if err := e.dir.Rename(w.name, name); err != nil {
		return err
	}
	w.name = name
	if err := e.dir.WriteVersion(w.Version()); err != nil {
		return err
	}
	if err := e.dir.DeleteFile(DataFilename(current)); err != nil {
		e.log.Warn("deleting superseded map", "version", current, "err", err)
	}
	e.log.Info("committed map", "version", w.Version(), "previous", current, "maxEntries", w.MaxEntries())
	return nil
}

// Discard closes w and deletes its file.  The current version cannot be
// discarded.
func (e *Env[K, V]) Discard(w *Writer[K, V]) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	current, err := e.dir.ReadVersion()
	if err != nil {
		return err
	}
	if w.Version() == current && w.name == DataFilename(current) {
		return fmt.Errorf("%w: version %d", ErrActiveMap, current)
	}
	if err := e.drop(w); err != nil {
		return err
	}
	e.log.Debug("discarded map", "version", w.Version())
	return nil
}

func (e *Env[K, V]) drop(w *Writer[K, V]) error {
	err := w.Close()
	if delErr := e.dir.DeleteFile(w.name); delErr != nil && err == nil {
		err = delErr
	}
	return err
}

// ReadOnly returns a reader env sharing this env's directory.  Closing
// the reader env leaves the directory open.
func (e *Env[K, V]) ReadOnly() *ReadOnlyEnv[K, V] {
	return newReadOnlyEnv[K, V](e.dir, e.opts, false)
}

// Close releases the write lock.  Maps handed out earlier stay valid
// until they are closed.
func (e *Env[K, V]) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	return e.dir.Close()
}
