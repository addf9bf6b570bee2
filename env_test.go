// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/phmap/directory"
	"github.com/bpowers/phmap/hasher"
)

func openEnv(t *testing.T, path string, opts ...Option) *Env[int32, float32] {
	t.Helper()
	env, err := Open[int32, float32](path, opts...)
	require.NoError(t, err)
	return env
}

func openReadOnly(t *testing.T, path string, opts ...Option) *ReadOnlyEnv[int32, float32] {
	t.Helper()
	env, err := OpenReadOnly[int32, float32](path, opts...)
	require.NoError(t, err)
	return env
}

func currentVersion(t *testing.T, e interface{ CurrentVersion() (int64, error) }) int64 {
	t.Helper()
	v, err := e.CurrentVersion()
	require.NoError(t, err)
	return v
}

func TestSingleWriterMultipleReaders(t *testing.T) {
	dir := t.TempDir()

	env := openEnv(t, dir)
	require.Equal(t, int64(0), currentVersion(t, env))

	ro := openReadOnly(t, dir)
	require.Equal(t, int64(0), currentVersion(t, ro))
	require.NoError(t, ro.Close())

	_, err := Open[int32, float32](dir)
	require.ErrorIs(t, err, directory.ErrWriteLock)
	require.NoError(t, env.Close())

	env = openEnv(t, dir)
	require.Equal(t, int64(0), currentVersion(t, env))
	require.NoError(t, env.Close())
}

func TestOpenReadOnlyMissing(t *testing.T) {
	_, err := OpenReadOnly[int32, float32](filepath.Join(t.TempDir(), "nope"))
	require.ErrorIs(t, err, directory.ErrFileNotExist)
}

func TestOpenInvalidOptions(t *testing.T) {
	dir := t.TempDir()
	for _, opts := range [][]Option{
		{WithLoadFactor(0)},
		{WithLoadFactor(1.5)},
		{WithInitialEntries(0)},
		{WithHasher(200)},
	} {
		_, err := Open[int32, float32](dir, opts...)
		require.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestNewMap(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(t, dir)
	defer env.Close()

	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, PutOK, put(t, m, 1, 1.1))
	require.Equal(t, PutOK, put(t, m, 2, 1.2))
	require.Equal(t, int64(0), currentVersion(t, env))

	ro := openReadOnly(t, dir)
	defer ro.Close()

	discarded, err := env.NewMap(m, m.MaxEntries())
	require.NoError(t, err)
	require.Equal(t, PutOK, put(t, discarded, 1, 11))
	require.Equal(t, PutOK, put(t, discarded, 2, 12))
	require.Equal(t, int64(0), currentVersion(t, env))
	require.Equal(t, int64(0), currentVersion(t, ro))
	func() {
		roMap, err := ro.CurrentMap()
		require.NoError(t, err)
		defer roMap.Close()
		require.Equal(t, float32(1.1), getOr(t, roMap, 1, 0))
	}()
	tmpName := discarded.Name()
	require.True(t, strings.HasPrefix(tmpName, ".hashmap_"))
	require.NoError(t, env.Discard(discarded))
	_, err = os.Stat(filepath.Join(dir, tmpName))
	require.ErrorIs(t, err, os.ErrNotExist)

	next, err := env.NewMap(m, m.MaxEntries())
	require.NoError(t, err)
	defer next.Close()
	require.Equal(t, PutOK, put(t, next, 1, 111))
	require.Equal(t, int64(0), currentVersion(t, ro))

	require.NoError(t, env.Commit(next))
	require.Equal(t, int64(1), currentVersion(t, ro))
	require.Equal(t, "hashmap_1.data", next.Name())
	_, err = os.Stat(filepath.Join(dir, "hashmap_0.data"))
	require.ErrorIs(t, err, os.ErrNotExist)

	func() {
		roMap, err := ro.CurrentMap()
		require.NoError(t, err)
		defer roMap.Close()
		require.Equal(t, int64(1), roMap.Version())
		require.Equal(t, float32(111), getOr(t, roMap, 1, 0))
		require.Equal(t, float32(0), getOr(t, roMap, 2, 0))
	}()

	// a committed map keeps accepting writes, visible to readers at once
	require.Equal(t, PutOK, put(t, next, 2, 112))
	roMap, err := ro.CurrentMap()
	require.NoError(t, err)
	defer roMap.Close()
	require.Equal(t, float32(111), getOr(t, roMap, 1, 0))
	require.Equal(t, float32(112), getOr(t, roMap, 2, 0))

	require.ErrorIs(t, env.Commit(next), ErrAlreadyCommitted)
	require.ErrorIs(t, env.Discard(next), ErrActiveMap)
}

func TestNewMapPreservesBookmarks(t *testing.T) {
	dir := t.TempDir()
	func() {
		env := openEnv(t, dir)
		defer env.Close()
		m, err := env.OpenMap()
		require.NoError(t, err)
		defer m.Close()
		require.NoError(t, m.StoreBookmark(0, 0xCAFEBABE))
		v, err := m.LoadBookmark(0)
		require.NoError(t, err)
		require.Equal(t, int64(0xCAFEBABE), v)

		next, err := env.NewMap(m, m.MaxEntries())
		require.NoError(t, err)
		defer next.Close()
		v, err = next.LoadBookmark(0)
		require.NoError(t, err)
		require.Equal(t, int64(0xCAFEBABE), v)
		require.NoError(t, next.StoreBookmark(0, 0xDEADBEEF))
		require.NoError(t, env.Commit(next))
	}()

	env := openEnv(t, dir)
	defer env.Close()
	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	v, err := m.LoadBookmark(0)
	require.NoError(t, err)
	require.Equal(t, int64(0xDEADBEEF), v)
}

func TestCopyMap(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(t, dir)
	defer env.Close()

	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	put(t, m, 1, 1.1)
	put(t, m, 2, 1.2)

	ro := openReadOnly(t, dir)
	defer ro.Close()
	mapV0, err := ro.CurrentMap()
	require.NoError(t, err)
	defer mapV0.Close()

	next, err := env.CopyMap(m)
	require.NoError(t, err)
	require.Equal(t, int64(0), currentVersion(t, env))
	require.Equal(t, PutOK, put(t, next, 3, 1.3))
	require.NoError(t, env.Commit(next))
	require.NoError(t, next.Close())
	require.Equal(t, int64(1), currentVersion(t, ro))

	mapV1, err := ro.CurrentMap()
	require.NoError(t, err)
	defer mapV1.Close()

	require.Equal(t, int64(0), mapV0.Version())
	require.Equal(t, DefaultInitialEntries, mapV0.MaxEntries())
	require.Equal(t, 1597, mapV0.Capacity())
	require.Equal(t, float32(1.1), getOr(t, mapV0, 1, 0))
	require.Equal(t, float32(1.2), getOr(t, mapV0, 2, 0))
	require.Equal(t, float32(0), getOr(t, mapV0, 3, 0))

	require.Equal(t, int64(1), mapV1.Version())
	require.Equal(t, 4, mapV1.MaxEntries())
	require.Equal(t, 7, mapV1.Capacity())
	require.Equal(t, float32(1.1), getOr(t, mapV1, 1, 0))
	require.Equal(t, float32(1.2), getOr(t, mapV1, 2, 0))
	require.Equal(t, float32(1.3), getOr(t, mapV1, 3, 0))
}

func TestCopyEmptyMap(t *testing.T) {
	env, err := OpenRAM[int64, int32]()
	require.NoError(t, err)
	defer env.Close()
	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()

	next, err := env.CopyMap(m)
	require.NoError(t, err)
	defer next.Close()
	require.Equal(t, 1, next.MaxEntries())
	require.Equal(t, 3, next.Capacity())
}

func TestRAMEnv(t *testing.T) {
	env, err := OpenRAM[int32, float32](WithInitialEntries(16), WithHasher(hasher.Murmur3.Serial))
	require.NoError(t, err)
	defer env.Close()

	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	require.Equal(t, 16, m.MaxEntries())
	require.Equal(t, hasher.Murmur3.Serial, m.HasherSerial())
	for k := int32(0); k < 16; k++ {
		require.Equal(t, PutOK, put(t, m, k, float32(k)))
	}
	require.Equal(t, PutOverflow, put(t, m, 16, 16))

	next, err := env.CopyMap(m)
	require.NoError(t, err)
	require.Equal(t, 32, next.MaxEntries())
	require.NoError(t, env.Commit(next))
	defer next.Close()

	ro := env.ReadOnly()
	defer ro.Close()
	cur, err := ro.CurrentMap()
	require.NoError(t, err)
	defer cur.Close()
	require.Equal(t, int64(1), cur.Version())
	n, err := cur.Size()
	require.NoError(t, err)
	require.Equal(t, 16, n)
}

func TestReadOnlyStats(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(t, dir)
	defer env.Close()
	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	put(t, m, 1, 1)

	ro := openReadOnly(t, dir, WithStats(true))
	defer ro.Close()
	for i := 0; i < 2; i++ {
		cur, err := ro.CurrentMap()
		require.NoError(t, err)
		getOr(t, cur, 1, 0)
		getOr(t, cur, 2, 0)
		require.NoError(t, cur.Close())
	}
	cur, err := ro.CurrentMap()
	require.NoError(t, err)
	defer cur.Close()
	s := cur.Stats()
	require.Equal(t, int64(4), s.TotalGets)
	require.Equal(t, int64(2), s.FoundGets)
}

func TestReadOnlyClosed(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(t, dir)
	defer env.Close()
	ro := openReadOnly(t, dir)
	cur, err := ro.CurrentMap()
	require.NoError(t, err)
	require.NoError(t, ro.Close())
	require.NoError(t, ro.Close())

	// handles outlive the env
	_, err = cur.Contains(1)
	require.NoError(t, err)
	require.NoError(t, cur.Close())

	_, err = ro.CurrentMap()
	require.ErrorIs(t, err, ErrClosed)
}

// Readers keep resolving the current map while the writer publishes new
// versions; every map they get holds the value of its own version.
func TestReadersDuringCommits(t *testing.T) {
	dir := t.TempDir()
	env := openEnv(t, dir, WithInitialEntries(16))
	defer env.Close()
	m, err := env.OpenMap()
	require.NoError(t, err)
	put(t, m, 0, 0)

	ro := openReadOnly(t, dir)
	defer ro.Close()

	const versions = 20
	stop := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for {
				select {
				case <-stop:
					return nil
				default:
				}
				cur, err := ro.CurrentMap()
				if err != nil {
					return err
				}
				v, err := cur.GetOr(0, -1)
				if err != nil {
					_ = cur.Close()
					return err
				}
				if int64(v) != cur.Version() {
					t.Errorf("version %d holds %v", cur.Version(), v)
				}
				if err := cur.Close(); err != nil {
					return err
				}
			}
		})
	}

	for v := 1; v <= versions; v++ {
		next, err := env.NewMap(m, m.MaxEntries())
		require.NoError(t, err)
		require.Equal(t, PutOK, put(t, next, 0, float32(v)))
		require.NoError(t, env.Commit(next))
		require.NoError(t, m.Close())
		m = next
	}
	close(stop)
	require.NoError(t, g.Wait())
	require.NoError(t, m.Close())
	require.Equal(t, int64(versions), currentVersion(t, ro))
}
