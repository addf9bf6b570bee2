// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package refcount ties the lifetime of a shared value (typically a memory
// mapped file) to lock-free retain/release calls.
package refcount

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidRefCount is returned when a value is used after its final
// release.
var ErrInvalidRefCount = errors.New("refcount: value already released")

// RefCounted wraps a value and the action that disposes of it.
//
// The counter holds twice the number of live references.  An even counter
// means the value is alive; the final release moves it to 1, and since
// retain adds 2 the counter stays odd forever after, so a racing Retain can
// never resurrect a dropped value.
type RefCounted[T any] struct {
	value T
	drop  func(T) error
	rc    atomic.Int64
}

// New returns a RefCounted holding one reference to value.  drop may be nil.
func New[T any](value T, drop func(T) error) *RefCounted[T] {
	r := &RefCounted[T]{
		value: value,
		drop:  drop,
	}
	r.rc.Store(2)
	return r
}

func isValid(rc int64) bool {
	return rc&1 == 0
}

// RefCount returns the number of live references.
func (r *RefCounted[T]) RefCount() (int64, error) {
	rc := r.rc.Load()
	if !isValid(rc) {
		return 0, ErrInvalidRefCount
	}
	return rc >> 1, nil
}

// Get returns the value without changing the reference count.
func (r *RefCounted[T]) Get() (T, error) {
	if !isValid(r.rc.Load()) {
		var zero T
		return zero, ErrInvalidRefCount
	}
	return r.value, nil
}

// Retain adds a reference.  It returns false if the value has already been
// dropped; callers must treat that as "gone" and must not use the value.
func (r *RefCounted[T]) Retain() (T, bool) {
	old := r.rc.Add(2) - 2
	if !isValid(old) {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Release drops a reference.  It returns true exactly once, on the release
// that drops the last reference; the drop action has run synchronously by
// the time it returns.
func (r *RefCounted[T]) Release() (bool, error) {
	for {
		rc := r.rc.Load()
		if !isValid(rc) {
			return false, ErrInvalidRefCount
		}
		if rc == 2 {
			if !r.rc.CompareAndSwap(2, 1) {
				continue
			}
			if r.drop != nil {
				if err := r.drop(r.value); err != nil {
					return true, fmt.Errorf("drop: %w", err)
				}
			}
			return true, nil
		}
		if r.rc.CompareAndSwap(rc, rc-2) {
			return false, nil
		}
	}
}

// Use retains the value for the duration of fn.
func (r *RefCounted[T]) Use(fn func(T) error) error {
	v, ok := r.Retain()
	if !ok {
		return ErrInvalidRefCount
	}
	err := fn(v)
	if _, relErr := r.Release(); relErr != nil && err == nil {
		err = relErr
	}
	return err
}
