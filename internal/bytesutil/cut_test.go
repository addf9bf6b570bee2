// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package bytesutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCut(t *testing.T) {
	sep := byte('=')
	for _, testcase := range []string{
		"",
		"a=b",
		"=a=b=",
		"a=b=",
		" 12 = 3.5 ",
	} {
		input := []byte(testcase)
		expected := bytes.SplitN(input, []byte{sep}, 2)
		var actualL, actualR []byte
		var ok bool
		allocs := testing.AllocsPerRun(1, func() {
			actualL, actualR, ok = Cut(input, sep)
		})
		require.Zero(t, allocs)
		require.True(t, len(expected) <= 2)
		if len(expected) < 2 {
			require.False(t, ok)
		} else {
			require.True(t, ok)
			require.Equal(t, bytes.TrimSpace(expected[0]), actualL)
			require.Equal(t, bytes.TrimSpace(expected[1]), actualR)
		}
	}
}

func TestAttrs(t *testing.T) {
	got := map[string]string{}
	Attrs([]byte("# rows=100  source=feed junk =x\tempty="), func(name, value []byte) bool {
		got[string(name)] = string(value)
		return true
	})
	require.Equal(t, map[string]string{"rows": "100", "source": "feed", "empty": ""}, got)

	n := 0
	Attrs([]byte("#a=1 b=2 c=3"), func(name, value []byte) bool {
		n++
		return false
	})
	require.Equal(t, 1, n)

	line := []byte("# rows=5")
	allocs := testing.AllocsPerRun(10, func() {
		Attrs(line, func(name, value []byte) bool { return true })
	})
	require.Zero(t, allocs)
}
