// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package directory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/bpowers/phmap/buffer"
	"github.com/bpowers/phmap/internal/mmap"
	"github.com/bpowers/phmap/refcount"
)

// MmapDirectory is a Directory on the local filesystem.  Every file,
// including the version file, is mapped with MAP_SHARED so that all
// processes observe the same bytes.
type MmapDirectory struct {
	path    string
	version versionCell
	lock    *os.File
	created bool
	closed  atomic.Bool
}

var _ Directory = (*MmapDirectory)(nil)

// OpenMmapWritable opens (creating if needed) the directory at path and
// takes its write lock.  The version file is created with version 0 when
// missing, in which case Created reports true.
func OpenMmapWritable(path, versionFilename string) (*MmapDirectory, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("os.MkdirAll(%s): %w", path, err)
	}
	versionPath := filepath.Join(path, versionFilename)

	created := true
	data, err := mmap.Create(versionPath, VersionLength)
	if errors.Is(err, os.ErrExist) {
		created = false
		data, err = mmap.Open(versionPath, true)
	}
	if err != nil {
		return nil, fmt.Errorf("version file %s: %w", versionPath, err)
	}
	buf, err := versionBuffer(versionPath, data, true)
	if err != nil {
		return nil, err
	}

	lock, err := acquireWriteLock(versionPath)
	if err != nil {
		_ = buf.Release()
		return nil, err
	}
	return &MmapDirectory{
		path:    path,
		version: versionCell{buf: buf},
		lock:    lock,
		created: created,
	}, nil
}

// OpenMmapReadOnly opens an initialized directory without the write lock.
func OpenMmapReadOnly(path, versionFilename string) (*MmapDirectory, error) {
	versionPath := filepath.Join(path, versionFilename)
	data, err := mmap.Open(versionPath, false)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotExist, versionPath)
	} else if err != nil {
		return nil, fmt.Errorf("version file %s: %w", versionPath, err)
	}
	buf, err := versionBuffer(versionPath, data, false)
	if err != nil {
		return nil, err
	}
	return &MmapDirectory{
		path:    path,
		version: versionCell{buf: buf},
	}, nil
}

func versionBuffer(versionPath string, data []byte, writable bool) (*buffer.Buffer, error) {
	if len(data) != VersionLength {
		_ = mmap.Unmap(data)
		return nil, fmt.Errorf("%w: %s has %d bytes, expected %d", ErrCorruptedVersionFile, versionPath, len(data), VersionLength)
	}
	return buffer.FromMapping(data, writable, mmap.Unmap, mmap.Sync), nil
}

// Path returns the directory's location on disk.
func (d *MmapDirectory) Path() string {
	return d.path
}

// Created reports whether OpenMmapWritable initialized a new directory.
func (d *MmapDirectory) Created() bool {
	return d.created
}

func (d *MmapDirectory) ReadVersion() (int64, error) {
	return d.version.read()
}

func (d *MmapDirectory) WriteVersion(v int64) error {
	if err := d.ensureWriteLock(); err != nil {
		return err
	}
	return d.version.write(v)
}

func (d *MmapDirectory) CreateFile(name string, size int) (*refcount.RefCounted[*File], error) {
	if err := d.ensureWriteLock(); err != nil {
		return nil, err
	}
	path := filepath.Join(d.path, name)
	data, err := mmap.Create(path, size)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileExists, path)
	} else if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return d.wrap(name, data, true), nil
}

func (d *MmapDirectory) OpenFileWritable(name string) (*refcount.RefCounted[*File], error) {
	if err := d.ensureWriteLock(); err != nil {
		return nil, err
	}
	return d.open(name, true)
}

func (d *MmapDirectory) OpenFileReadOnly(name string) (*refcount.RefCounted[*File], error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	return d.open(name, false)
}

func (d *MmapDirectory) open(name string, writable bool) (*refcount.RefCounted[*File], error) {
	path := filepath.Join(d.path, name)
	data, err := mmap.Open(path, writable)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotExist, path)
	} else if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return d.wrap(name, data, writable), nil
}

func (d *MmapDirectory) wrap(name string, data []byte, writable bool) *refcount.RefCounted[*File] {
	// probes jump around the table
	_ = mmap.Advise(data, mmap.AccessRandom)
	f := &File{
		Name:   name,
		Buffer: buffer.FromMapping(data, writable, mmap.Unmap, mmap.Sync),
	}
	return refcount.New(f, releaseFile)
}

func (d *MmapDirectory) Rename(src, dst string) error {
	if err := d.ensureWriteLock(); err != nil {
		return err
	}
	srcPath := filepath.Join(d.path, src)
	if err := os.Rename(srcPath, filepath.Join(d.path, dst)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotExist, srcPath)
		}
		return fmt.Errorf("os.Rename: %w", err)
	}
	return nil
}

func (d *MmapDirectory) DeleteFile(name string) error {
	if err := d.ensureWriteLock(); err != nil {
		return err
	}
	path := filepath.Join(d.path, name)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotExist, path)
		}
		return fmt.Errorf("os.Remove: %w", err)
	}
	return nil
}

// Close releases the version mapping and the write lock.  Files handed out
// earlier stay valid until their own release.
func (d *MmapDirectory) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	err := d.version.buf.Release()
	if lockErr := releaseWriteLock(d.lock); lockErr != nil && err == nil {
		err = lockErr
	}
	return err
}

func (d *MmapDirectory) ensureWriteLock() error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.lock == nil {
		return ErrReadOnly
	}
	return nil
}
