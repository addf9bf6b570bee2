// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/bpowers/phmap/internal/bytesutil"
	"github.com/bpowers/phmap/internal/layout"
	"github.com/bpowers/phmap/internal/unsafestring"
)

// Bookmark slots written by the Builder and Updater.  Other slots are free
// for applications.
const (
	BookmarkSourceMtime = 0
	BookmarkRows        = 1
)

const maxLineSize = 64 * 1024

// LoadResult summarizes one Builder run.
type LoadResult struct {
	Version int64
	Rows    int
	Puts    int
	Removes int
}

// Builder applies line oriented sources to a map directory and commits the
// result as a new version.
//
// A source has one record per line:
//
//	# rows=3
//	1=0.5
//	2 = 7
//	3=
//
// Blank lines and lines starting with '#' are skipped.  A first line
// header may set rows, the maximum number of records read.  A record
// with an empty value removes its key.
type Builder[K Key, V Value] struct {
	env *Env[K, V]
	log *slog.Logger
}

func NewBuilder[K Key, V Value](env *Env[K, V]) *Builder[K, V] {
	return &Builder[K, V]{
		env: env,
		log: env.log,
	}
}

// Merge applies the records of r on top of a copy of the current map.
func (b *Builder[K, V]) Merge(r io.Reader) (LoadResult, error) {
	return b.load(r, false, nil)
}

// Replace builds a fresh map holding only the records of r.  Bookmarks
// are carried over from the current map.
func (b *Builder[K, V]) Replace(r io.Reader) (LoadResult, error) {
	return b.load(r, true, nil)
}

func (b *Builder[K, V]) load(r io.Reader, replace bool, mark func(*Writer[K, V]) error) (LoadResult, error) {
	start := time.Now()
	br := bufio.NewReaderSize(r, 16*1024)
	maxRows, err := peekRows(br)
	if err != nil {
		return LoadResult{}, err
	}

	cur, err := b.env.OpenMap()
	if err != nil {
		return LoadResult{}, err
	}
	defer cur.Close()

	var w *Writer[K, V]
	if replace {
		w, err = b.env.NewMap(cur, max(maxRows, b.env.opts.initialEntries))
	} else {
		var size int
		if size, err = cur.Size(); err != nil {
			return LoadResult{}, err
		}
		w, err = b.env.copyMapAs(cur, cur.Version()+1, max(size*2, maxRows, b.env.opts.initialEntries, 1))
	}
	if err != nil {
		return LoadResult{}, err
	}

	res, w, err := b.apply(w, br, maxRows)
	if err == nil {
		err = w.StoreBookmark(BookmarkRows, int64(res.Rows))
	}
	if err == nil && mark != nil {
		err = mark(w)
	}
	if err == nil {
		err = b.env.Commit(w)
	}
	if err != nil {
		if discardErr := b.env.Discard(w); discardErr != nil {
			b.log.Warn("discarding failed load", "version", w.Version(), "err", discardErr)
		}
		return LoadResult{}, err
	}
	res.Version = w.Version()
	if err := w.Close(); err != nil {
		return res, err
	}
	b.log.Info("loaded source", "version", res.Version, "rows", res.Rows,
		"puts", res.Puts, "removes", res.Removes, "replace", replace, "elapsed", time.Since(start))
	return res, nil
}

// apply writes every record into w, growing it on overflow.  It returns
// the writer that holds the result, which differs from w if it grew.
// Grown copies keep w's version so a load publishes exactly one.
func (b *Builder[K, V]) apply(w *Writer[K, V], r io.Reader, maxRows int) (LoadResult, *Writer[K, V], error) {
	var res LoadResult
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLineSize)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if maxRows >= 0 && res.Rows >= maxRows {
			break
		}
		key, value, remove, err := parseRecord[K, V](line)
		if err != nil {
			return res, w, fmt.Errorf("%w: line %d: %w", ErrParse, lineNo, err)
		}
		res.Rows++
		if remove {
			removed, err := w.Remove(key)
			if err != nil {
				return res, w, err
			}
			if removed {
				res.Removes++
			}
			continue
		}
		for {
			pr, err := w.Put(key, value)
			if err != nil {
				return res, w, err
			}
			if pr == PutOK {
				break
			}
			size, err := w.Size()
			if err != nil {
				return res, w, err
			}
			grown, err := b.env.copyMapAs(w, w.Version(), max(size*2, 1))
			if err != nil {
				return res, w, err
			}
			b.log.Debug("grew map", "version", grown.Version(), "maxEntries", grown.MaxEntries())
			if err := b.env.Discard(w); err != nil {
				_ = b.env.Discard(grown)
				return res, w, err
			}
			w = grown
		}
		res.Puts++
	}
	if err := s.Err(); err != nil {
		return res, w, fmt.Errorf("%w: line %d: %w", ErrParse, lineNo+1, err)
	}
	return res, w, nil
}

// peekRows reads the rows attribute of a header line without consuming
// it.  It returns -1 if there is no limit.
func peekRows(br *bufio.Reader) (int, error) {
	first, err := br.Peek(br.Size())
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, err
	}
	if i := bytes.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	first = bytes.TrimSpace(first)
	if len(first) == 0 || first[0] != '#' {
		return -1, nil
	}
	rows := -1
	var parseErr error
	bytesutil.Attrs(first, func(name, value []byte) bool {
		if string(name) != "rows" {
			return true
		}
		n, err := strconv.Atoi(unsafestring.FromBytes(value))
		if err != nil || n < 0 {
			parseErr = fmt.Errorf("%w: line 1: invalid rows %q", ErrParse, value)
			return false
		}
		rows = n
		return false
	})
	return rows, parseErr
}

func parseRecord[K Key, V Value](line []byte) (key K, value V, remove bool, err error) {
	k, v, ok := bytesutil.Cut(line, '=')
	if !ok {
		return key, value, false, fmt.Errorf("missing '=' in %q", line)
	}
	if key, err = ParseKey[K](unsafestring.FromBytes(k)); err != nil {
		return key, value, false, err
	}
	if len(v) == 0 {
		return key, value, true, nil
	}
	value, err = ParseValue[V](unsafestring.FromBytes(v))
	return key, value, false, err
}

// ParseKey parses a decimal key, rejecting numbers that do not fit K.
func ParseKey[K Key](s string) (K, error) {
	n, err := strconv.ParseInt(s, 10, tagOf[K]().Size()*8)
	if err != nil {
		return 0, numError("key", s, err)
	}
	return K(n), nil
}

// ParseValue parses a value in the form the Builder reads: decimal
// integers for integer types, strconv floats otherwise.
func ParseValue[V Value](s string) (V, error) {
	var err error
	switch tag := tagOf[V](); tag {
	case layout.TagFloat, layout.TagDouble:
		var f float64
		if f, err = strconv.ParseFloat(s, tag.Size()*8); err == nil {
			return V(f), nil
		}
	default:
		var n int64
		if n, err = strconv.ParseInt(s, 10, tag.Size()*8); err == nil {
			return V(n), nil
		}
	}
	return 0, numError("value", s, err)
}

// numError drops strconv's copy of the input, which may alias the
// scanner buffer.
func numError(what string, s string, err error) error {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		err = ne.Err
	}
	return fmt.Errorf("%s %q: %w", what, s, err)
}
