// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package directory

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// acquireWriteLock takes an exclusive, non-blocking flock on path.  flock
// locks belong to the open file description, so a second acquisition fails
// even from the same process.
func acquireWriteLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("%w: %s", ErrWriteLock, path)
		}
		return nil, fmt.Errorf("flock: %w", err)
	}
	return f, nil
}

func releaseWriteLock(f *os.File) error {
	if f == nil {
		return nil
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
