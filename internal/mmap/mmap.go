// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package mmap maps whole files into memory with MAP_SHARED semantics, so
// that writes through one mapping are visible to every other mapping of the
// same file in any process.
package mmap

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// AccessPattern is an madvise hint.
type AccessPattern int

const (
	AccessNormal AccessPattern = iota
	AccessRandom
	AccessSequential
	AccessWillNeed
)

var errNegativeSize = errors.New("mmap: negative file size")

// Create creates a new file at path, failing if it already exists, sizes it
// to size bytes and maps it read-write.
func Create(path string, size int) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("f.Truncate(%d): %w", size, err)
	}
	data, err := mapFile(f, size, true)
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return data, nil
}

// Open maps the whole of an existing file.  The descriptor is closed before
// returning; the mapping stays valid until Unmap.
func Open(path string, writable bool) ([]byte, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("f.Stat: %w", err)
	}
	size := fi.Size()
	if size < 0 {
		return nil, errNegativeSize
	}
	return mapFile(f, int(size), writable)
}

func mapFile(f *os.File, size int, writable bool) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap(%s): %w", f.Name(), err)
	}
	return data, nil
}

// Unmap releases a mapping returned by Create or Open.
func Unmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Munmap(data)
}

// Sync synchronously flushes dirty pages of a mapping to its file.
func Sync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if err := unix.Msync(data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

// Advise passes an access pattern hint to the kernel.  The hint is
// advisory, so alignment complaints are ignored.
func Advise(data []byte, pattern AccessPattern) error {
	if len(data) == 0 {
		return nil
	}
	advice := unix.MADV_NORMAL
	switch pattern {
	case AccessRandom:
		advice = unix.MADV_RANDOM
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	}
	if err := unix.Madvise(data, advice); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("madvise: %w", err)
	}
	return nil
}
