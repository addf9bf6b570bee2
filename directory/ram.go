// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package directory

import (
	"fmt"
	"sync"

	"github.com/bpowers/phmap/buffer"
	"github.com/bpowers/phmap/refcount"
)

// RAMDirectory is an in-process Directory backed by heap buffers.  It has
// no filesystem lock: it is always writable and visible to one process
// only.
type RAMDirectory struct {
	version versionCell

	mu     sync.Mutex
	files  map[string]*refcount.RefCounted[*File]
	closed bool
}

var _ Directory = (*RAMDirectory)(nil)

// NewRAM returns an empty directory with version 0.
func NewRAM() *RAMDirectory {
	return &RAMDirectory{
		version: versionCell{buf: buffer.New(VersionLength)},
		files:   make(map[string]*refcount.RefCounted[*File]),
	}
}

func (d *RAMDirectory) ReadVersion() (int64, error) {
	return d.version.read()
}

func (d *RAMDirectory) WriteVersion(v int64) error {
	return d.version.write(v)
}

// CreateFile registers a new zeroed buffer.  The directory keeps its own
// reference until DeleteFile or Close.
func (d *RAMDirectory) CreateFile(name string, size int) (*refcount.RefCounted[*File], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if _, ok := d.files[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, name)
	}
	rc := refcount.New(&File{Name: name, Buffer: buffer.New(size)}, releaseFile)
	rc.Retain()
	d.files[name] = rc
	return rc, nil
}

func (d *RAMDirectory) OpenFileWritable(name string) (*refcount.RefCounted[*File], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	rc, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotExist, name)
	}
	if _, ok := rc.Retain(); !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotExist, name)
	}
	return rc, nil
}

func (d *RAMDirectory) OpenFileReadOnly(name string) (*refcount.RefCounted[*File], error) {
	return d.OpenFileWritable(name)
}

func (d *RAMDirectory) Rename(src, dst string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.files[dst]; ok {
		return fmt.Errorf("%w: %s", ErrFileExists, dst)
	}
	rc, ok := d.files[src]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotExist, src)
	}
	delete(d.files, src)
	d.files[dst] = rc
	return nil
}

func (d *RAMDirectory) DeleteFile(name string) error {
	d.mu.Lock()
	rc, ok := d.files[name]
	if ok {
		delete(d.files, name)
	}
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotExist, name)
	}
	_, err := rc.Release()
	return err
}

// Close drops the directory's reference to every file.
func (d *RAMDirectory) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	files := d.files
	d.files = nil
	d.mu.Unlock()

	var firstErr error
	for _, rc := range files {
		if _, err := rc.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := d.version.buf.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
