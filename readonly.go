// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/bpowers/phmap/directory"
	"github.com/bpowers/phmap/refcount"
)

// currentFile is the file of the most recently opened version.  proto
// holds the parsed header and the shared stats; it owns no reference.
type currentFile[K Key, V Value] struct {
	version int64
	rc      *refcount.RefCounted[*directory.File]
	proto   *Table[K, V]
}

// ReadOnlyEnv hands out read handles on the current version of a map
// directory.  It is safe for concurrent use and never blocks on the
// writer.
type ReadOnlyEnv[K Key, V Value] struct {
	dir     directory.Directory
	ownsDir bool
	opts    options
	log     *slog.Logger

	// mu serializes reopening; lookups of an unchanged version never take
	// it.
	mu      sync.Mutex
	current atomic.Pointer[currentFile[K, V]]
	closed  atomic.Bool
}

// OpenReadOnly opens an existing map directory for reading.  It fails with
// directory.ErrFileNotExist if no writer ever initialized path.
func OpenReadOnly[K Key, V Value](path string, opts ...Option) (*ReadOnlyEnv[K, V], error) {
	o, err := buildOptions[K](opts)
	if err != nil {
		return nil, err
	}
	dir, err := directory.OpenMmapReadOnly(path, VersionFilename)
	if err != nil {
		return nil, err
	}
	return newReadOnlyEnv[K, V](dir, o, true), nil
}

func newReadOnlyEnv[K Key, V Value](dir directory.Directory, o options, ownsDir bool) *ReadOnlyEnv[K, V] {
	return &ReadOnlyEnv[K, V]{
		dir:     dir,
		ownsDir: ownsDir,
		opts:    o,
		log:     o.logger,
	}
}

// CurrentVersion returns the most recently committed version.
func (e *ReadOnlyEnv[K, V]) CurrentVersion() (int64, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}
	return e.dir.ReadVersion()
}

// CurrentMap returns a handle on the current version.  The handle pins
// that version's file until it is closed, even if a newer version is
// committed meanwhile.
func (e *ReadOnlyEnv[K, V]) CurrentMap() (*Table[K, V], error) {
	for {
		if e.closed.Load() {
			return nil, ErrClosed
		}
		version, err := e.dir.ReadVersion()
		if err != nil {
			return nil, err
		}
		if cur := e.current.Load(); cur != nil && cur.version == version {
			if _, ok := cur.rc.Retain(); ok {
				return cur.proto.handle(cur.rc), nil
			}
		}
		if e.mu.TryLock() {
			err := e.reopen(version)
			e.mu.Unlock()
			if err != nil {
				return nil, err
			}
			continue
		}
		// another goroutine is reopening
		runtime.Gosched()
	}
}

// reopen installs the file for version unless a concurrent reopen already
// did.  The caller holds mu.
func (e *ReadOnlyEnv[K, V]) reopen(version int64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	prev := e.current.Load()
	if prev != nil && prev.version == version {
		if _, ok := prev.rc.Retain(); ok {
			_, err := prev.rc.Release()
			return err
		}
	}
	version, rc, err := e.openFile()
	if err != nil {
		return err
	}
	f, err := rc.Get()
	if err != nil {
		return err
	}
	proto, err := tableFor[K, V](version, f)
	if err != nil {
		_, _ = rc.Release()
		return err
	}
	if e.opts.collectStats {
		proto.stats = new(statsCollector)
	}
	e.current.Store(&currentFile[K, V]{version: version, rc: rc, proto: proto})
	e.log.Debug("opened map version", "version", version)
	if prev != nil {
		if _, err := prev.rc.Release(); err != nil {
			return fmt.Errorf("release version %d: %w", prev.version, err)
		}
	}
	return nil
}

// openFile opens the data file of the current version, retrying when a
// commit deletes it between reading the version and opening the file.
func (e *ReadOnlyEnv[K, V]) openFile() (int64, *refcount.RefCounted[*directory.File], error) {
	for {
		version, err := e.dir.ReadVersion()
		if err != nil {
			return 0, nil, err
		}
		rc, err := e.dir.OpenFileReadOnly(DataFilename(version))
		if err == nil {
			return version, rc, nil
		}
		if !errors.Is(err, directory.ErrFileNotExist) {
			return 0, nil, err
		}
		again, verErr := e.dir.ReadVersion()
		if verErr != nil {
			return 0, nil, verErr
		}
		if again == version {
			return 0, nil, err
		}
	}
}

// Close drops the env's reference to the current file.  Handles returned
// by CurrentMap stay valid until they are closed.
func (e *ReadOnlyEnv[K, V]) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if cur := e.current.Swap(nil); cur != nil {
		_, err = cur.rc.Release()
	}
	if e.ownsDir {
		if dirErr := e.dir.Close(); dirErr != nil && err == nil {
			err = dirErr
		}
	}
	return err
}
