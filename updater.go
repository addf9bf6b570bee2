// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// Updater republishes a map whenever its source file changes.  The
// modification time of the last applied source is kept in the
// BookmarkSourceMtime slot, so a restarted Updater does not reload an
// unchanged file.
type Updater[K Key, V Value] struct {
	env     *Env[K, V]
	builder *Builder[K, V]
	source  string
	limiter *rate.Limiter
	scatter time.Duration
	log     *slog.Logger
}

// NewUpdater polls source every interval.  The first poll is delayed by
// a random duration up to scatter so that many updaters started together
// do not read their sources at the same moment.
func NewUpdater[K Key, V Value](env *Env[K, V], source string, interval, scatter time.Duration) *Updater[K, V] {
	return &Updater[K, V]{
		env:     env,
		builder: NewBuilder(env),
		source:  source,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		scatter: scatter,
		log:     env.log.With("source", source),
	}
}

// Check loads the source if it is newer than the last applied one and
// reports whether a new version was committed.  A missing source is not an
// error.
func (u *Updater[K, V]) Check() (bool, error) {
	st, err := os.Stat(u.source)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	mtime := st.ModTime().UnixNano()

	cur, err := u.env.OpenMap()
	if err != nil {
		return false, err
	}
	applied, err := cur.LoadBookmark(BookmarkSourceMtime)
	_ = cur.Close()
	if err != nil {
		return false, err
	}
	if mtime <= applied {
		return false, nil
	}

	f, err := os.Open(u.source)
	if err != nil {
		return false, err
	}
	defer f.Close()
	res, err := u.builder.load(f, true, func(w *Writer[K, V]) error {
		return w.StoreBookmark(BookmarkSourceMtime, mtime)
	})
	if err != nil {
		return false, fmt.Errorf("load %s: %w", u.source, err)
	}
	u.log.Info("updated map", "version", res.Version, "rows", res.Rows, "mtime", st.ModTime())
	return true, nil
}

// Run polls until ctx is cancelled.  Load failures are logged and retried
// on the next poll.
func (u *Updater[K, V]) Run(ctx context.Context) error {
	if u.scatter > 0 {
		delay := time.Duration(rand.Int63n(int64(u.scatter) + 1))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	for {
		if err := u.limiter.Wait(ctx); err != nil {
			// cancelled, or the next poll falls after ctx's deadline
			<-ctx.Done()
			return nil
		}
		if _, err := u.Check(); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			u.log.Warn("update failed", "err", err)
		}
	}
}
