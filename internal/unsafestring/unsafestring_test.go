// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package unsafestring

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToBytes(t *testing.T) {
	for _, input := range []string{
		"",
		"abc",
		"😀",
	} {
		allocs := testing.AllocsPerRun(1, func() {
			b := ToBytes(input)
			if input != string(b) {
				t.Fatal("expected contents equal")
			}
			// len and cap should match the string
			if len(input) != len(b) || len(input) != cap(b) {
				t.Fatal("expected len and cap equal to string len")
			}
		})
		require.Zero(t, allocs)
	}
}

func TestFromBytes(t *testing.T) {
	line := []byte("-12345")
	var n int64
	allocs := testing.AllocsPerRun(10, func() {
		var err error
		n, err = strconv.ParseInt(FromBytes(line), 10, 64)
		if err != nil {
			t.Fatal(err)
		}
	})
	require.Zero(t, allocs)
	require.Equal(t, int64(-12345), n)
	require.Equal(t, "", FromBytes(nil))
}
