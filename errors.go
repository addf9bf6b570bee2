// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"errors"

	"github.com/bpowers/phmap/internal/layout"
)

var (
	// ErrInvalidTable is returned when a data file is not a table of the
	// requested key, value and hasher types.  It is never retried.
	ErrInvalidTable = layout.ErrInvalidTable

	// ErrInvalidArgument is returned for out of range options such as a
	// load factor outside (0, 1] or a non-positive entry count.
	ErrInvalidArgument = layout.ErrInvalidArgument

	// ErrBookmarkIndex is returned for a bookmark index outside
	// [0, NumBookmarks).
	ErrBookmarkIndex = layout.ErrBookmarkIndex

	// ErrClosed is returned when using a table or env after Close.
	//
	// This is a programming error.
	ErrClosed = errors.New("phmap: closed")

	// ErrAlreadyCommitted is returned by Commit for a map whose version is
	// not newer than the current one.
	ErrAlreadyCommitted = errors.New("phmap: map has already been committed")

	// ErrActiveMap is returned by Discard for the currently published map.
	ErrActiveMap = errors.New("phmap: cannot discard the active map")

	// ErrInconsistent is returned by Verify when bucket states disagree
	// with the header counters or a key is unreachable from its hash.
	//
	// Recovery: rebuild the table from its source.
	ErrInconsistent = errors.New("phmap: inconsistent table")

	// ErrParse is returned by the Builder for malformed source lines.
	ErrParse = errors.New("phmap: parse error")
)

// NumBookmarks is the number of bookmark slots in every table.
const NumBookmarks = layout.NumBookmarks

// Bookmarks holds the value of every bookmark slot.
type Bookmarks = layout.Bookmarks
