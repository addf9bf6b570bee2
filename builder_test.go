// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func contents[K Key, V Value](t *testing.T, m *Table[K, V]) map[K]V {
	t.Helper()
	out := make(map[K]V)
	it := m.Iter()
	for it.Next() {
		out[it.Key()] = it.Value()
	}
	require.NoError(t, it.Err())
	return out
}

func ramEnv[K Key, V Value](t *testing.T, opts ...Option) *Env[K, V] {
	t.Helper()
	env, err := OpenRAM[K, V](opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func currentContents[K Key, V Value](t *testing.T, env *Env[K, V]) map[K]V {
	t.Helper()
	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	return contents(t, m.Table)
}

func TestBuilderReplace(t *testing.T) {
	env := ramEnv[int64, float64](t)
	b := NewBuilder(env)

	res, err := b.Replace(strings.NewReader(`# rows=4 source=test

1=0.5
 2 = -7
# comment
3=1e3
4=
5=5
`))
	require.NoError(t, err)
	require.Equal(t, LoadResult{Version: 1, Rows: 4, Puts: 3}, res)
	want := map[int64]float64{1: 0.5, 2: -7, 3: 1000}
	if diff := cmp.Diff(want, currentContents(t, env)); diff != "" {
		t.Fatalf("contents mismatch (-want +got):\n%s", diff)
	}

	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	rows, err := m.LoadBookmark(BookmarkRows)
	require.NoError(t, err)
	require.Equal(t, int64(4), rows)

	// a replace drops keys absent from the new source
	res, err = b.Replace(strings.NewReader("7=7\n"))
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Version)
	require.Equal(t, map[int64]float64{7: 7}, currentContents(t, env))
}

func TestBuilderMerge(t *testing.T) {
	env := ramEnv[int32, int16](t)
	b := NewBuilder(env)

	_, err := b.Replace(strings.NewReader("1=1\n2=2\n3=3\n"))
	require.NoError(t, err)
	res, err := b.Merge(strings.NewReader("2=\n3=33\n4=4\n9=\n"))
	require.NoError(t, err)
	require.Equal(t, LoadResult{Version: 2, Rows: 4, Puts: 2, Removes: 1}, res)
	require.Equal(t, map[int32]int16{1: 1, 3: 33, 4: 4}, currentContents(t, env))
}

func TestBuilderGrows(t *testing.T) {
	env := ramEnv[int32, int32](t, WithInitialEntries(4))
	b := NewBuilder(env)

	var sb strings.Builder
	want := make(map[int32]int32)
	for k := int32(0); k < 500; k++ {
		fmt.Fprintf(&sb, "%d=%d\n", k, -k)
		want[k] = -k
	}
	res, err := b.Merge(strings.NewReader(sb.String()))
	require.NoError(t, err)
	require.Equal(t, 500, res.Puts)
	require.Equal(t, want, currentContents(t, env))

	m, err := env.OpenMap()
	require.NoError(t, err)
	defer m.Close()
	require.GreaterOrEqual(t, m.MaxEntries(), 500)
	require.Equal(t, res.Version, m.Version())
	require.NoError(t, m.Verify())
}

func TestBuilderGrowthPublishesOneVersion(t *testing.T) {
	for _, tc := range []struct {
		name string
		load func(*Builder[int32, int32], io.Reader) (LoadResult, error)
	}{
		{"merge", (*Builder[int32, int32]).Merge},
		{"replace", (*Builder[int32, int32]).Replace},
	} {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			env, err := Open[int32, int32](dir, WithInitialEntries(4))
			require.NoError(t, err)
			defer env.Close()

			var sb strings.Builder
			for k := int32(0); k < 500; k++ {
				fmt.Fprintf(&sb, "%d=%d\n", k, k)
			}
			res, err := tc.load(NewBuilder(env), strings.NewReader(sb.String()))
			require.NoError(t, err)
			require.Equal(t, int64(1), res.Version)

			current, err := env.CurrentVersion()
			require.NoError(t, err)
			require.Equal(t, int64(1), current)

			m, err := env.OpenMap()
			require.NoError(t, err)
			defer m.Close()
			require.Equal(t, DataFilename(1), m.Name())
			require.GreaterOrEqual(t, m.MaxEntries(), 500)

			// the grown intermediates are gone
			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			require.ElementsMatch(t, []string{VersionFilename, DataFilename(1)}, names)

			res, err = tc.load(NewBuilder(env), strings.NewReader("# rows=1\n600=6\n"))
			require.NoError(t, err)
			require.Equal(t, int64(2), res.Version)
		})
	}
}

func TestParseKeyValue(t *testing.T) {
	k, err := ParseKey[int32]("-2147483648")
	require.NoError(t, err)
	require.Equal(t, int32(-2147483648), k)
	_, err = ParseKey[int32]("2147483648")
	require.ErrorIs(t, err, strconv.ErrRange)
	_, err = ParseKey[int64]("1.5")
	require.ErrorIs(t, err, strconv.ErrSyntax)

	f, err := ParseValue[float64]("2.5e3")
	require.NoError(t, err)
	require.Equal(t, 2500.0, f)
	i, err := ParseValue[int32]("-7")
	require.NoError(t, err)
	require.Equal(t, int32(-7), i)
	_, err = ParseValue[int32]("2.5")
	require.ErrorIs(t, err, strconv.ErrSyntax)
	require.EqualError(t, err, `value "2.5": invalid syntax`)
}

func TestBuilderParseErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		line  string
	}{
		{"missing separator", "1=1\n2\n", "line 2"},
		{"bad key", "x=1\n", "line 1"},
		{"key out of range", "4294967296=1\n", "line 1"},
		{"bad value", "\n\n1=abc\n", "line 3"},
		{"value out of range", "1=70000\n", "line 1"},
		{"bad rows", "# rows=many\n1=1\n", "line 1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := ramEnv[int32, int16](t)
			_, err := NewBuilder(env).Replace(strings.NewReader(tc.input))
			require.ErrorIs(t, err, ErrParse)
			require.Contains(t, err.Error(), tc.line)

			// the failed load is not published
			v, err := env.CurrentVersion()
			require.NoError(t, err)
			require.Equal(t, int64(0), v)
		})
	}
}

func TestParseRecord(t *testing.T) {
	k, v, rm, err := parseRecord[int64, float32]([]byte("-9 = 2.5"))
	require.NoError(t, err)
	require.Equal(t, int64(-9), k)
	require.Equal(t, float32(2.5), v)
	require.False(t, rm)

	k, _, rm, err = parseRecord[int64, float32]([]byte("12="))
	require.NoError(t, err)
	require.Equal(t, int64(12), k)
	require.True(t, rm)

	line := []byte("123=456")
	allocs := testing.AllocsPerRun(10, func() {
		if _, _, _, err := parseRecord[int32, int64](line); err != nil {
			t.Fatal(err)
		}
	})
	require.Zero(t, allocs)
}
