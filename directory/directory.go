// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package directory implements a versioned directory: a set of named,
// memory mapped files plus a single 8-byte version cell, guarded by one
// exclusive writer lock.
//
// Files returned by a Directory are wrapped in a refcount.RefCounted whose
// ownership passes to the caller; the mapping is released when the last
// reference is released.
package directory

import (
	"errors"
	"fmt"

	"github.com/bpowers/phmap/buffer"
	"github.com/bpowers/phmap/refcount"
)

// VersionLength is the size of the version cell in bytes.
const VersionLength = 8

var (
	// ErrWriteLock is returned when another handle holds the write lock.
	//
	// Recovery: retry later, or open the directory read-only.
	ErrWriteLock = errors.New("directory: write lock is held by another writer")

	// ErrReadOnly is returned for mutating operations on a directory opened
	// without the write lock.
	ErrReadOnly = errors.New("directory: opened read-only")

	// ErrFileExists is returned by CreateFile and Rename when the target
	// name is taken.
	ErrFileExists = errors.New("directory: file already exists")

	// ErrFileNotExist is returned when a named file (or the version file of
	// an uninitialized directory) is missing.
	ErrFileNotExist = errors.New("directory: file does not exist")

	// ErrCorruptedVersionFile is returned when the version file is not
	// exactly VersionLength bytes.
	ErrCorruptedVersionFile = errors.New("directory: corrupted version file")

	// ErrClosed is returned for any operation after Close.
	ErrClosed = errors.New("directory: closed")
)

// File is a named buffer living in a Directory.
type File struct {
	Name   string
	Buffer *buffer.Buffer
}

// Directory is implemented by the on-disk MmapDirectory and the in-memory
// RAMDirectory.
type Directory interface {
	// ReadVersion loads the version cell.
	ReadVersion() (int64, error)
	// WriteVersion stores v into the version cell.
	WriteVersion(v int64) error

	// CreateFile creates and maps a zeroed file of size bytes.  It fails
	// with ErrFileExists if name is taken.
	CreateFile(name string, size int) (*refcount.RefCounted[*File], error)
	// OpenFileWritable maps an existing file for writing.
	OpenFileWritable(name string) (*refcount.RefCounted[*File], error)
	// OpenFileReadOnly maps an existing file for reading.
	OpenFileReadOnly(name string) (*refcount.RefCounted[*File], error)

	// Rename atomically renames src to dst.
	Rename(src, dst string) error
	// DeleteFile removes name.  Existing mappings stay valid until
	// released.
	DeleteFile(name string) error

	Close() error
}

type versionCell struct {
	buf *buffer.Buffer
}

func (v versionCell) read() (int64, error) {
	ver, err := v.buf.LoadInt64(0)
	if errors.Is(err, buffer.ErrReleased) {
		return 0, ErrClosed
	}
	return ver, err
}

func (v versionCell) write(ver int64) error {
	err := v.buf.StoreInt64(0, ver)
	if errors.Is(err, buffer.ErrReleased) {
		return ErrClosed
	}
	return err
}

func releaseFile(f *File) error {
	if err := f.Buffer.Release(); err != nil {
		return fmt.Errorf("release %s: %w", f.Name, err)
	}
	return nil
}
