// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bytesutil holds allocation free helpers for parsing source lines.
package bytesutil

import (
	"bytes"
)

// Cut slices s around the first instance of sep, returning the trimmed
// text before and after it.  If sep does not appear in s, Cut returns the
// trimmed s, nil, false.
//
// Cut returns slices of the original slice s, not copies.
func Cut(s []byte, sep byte) (l []byte, r []byte, ok bool) {
	if i := bytes.IndexByte(s, sep); i >= 0 {
		return bytes.TrimSpace(s[:i]), bytes.TrimSpace(s[i+1:]), true
	}
	return bytes.TrimSpace(s), nil, false
}

// Attrs calls fn for every space separated name=value pair in a header
// line such as "# rows=100 source=feed".  Words without '=' are skipped.
// Iteration stops early if fn returns false.
func Attrs(line []byte, fn func(name, value []byte) bool) {
	line = bytes.TrimLeft(line, "#")
	for len(line) > 0 {
		line = bytes.TrimLeft(line, " \t")
		end := bytes.IndexAny(line, " \t")
		if end < 0 {
			end = len(line)
		}
		word := line[:end]
		line = line[end:]
		if name, value, ok := Cut(word, '='); ok && len(name) > 0 {
			if !fn(name, value) {
				return
			}
		}
	}
}
