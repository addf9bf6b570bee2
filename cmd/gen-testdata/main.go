// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// gen-testdata writes random records in the format phmap load reads.
package main

import (
	"bufio"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"

	flag "github.com/spf13/pflag"
)

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		var seedBytes [8]byte
		_, _ = crand.Read(seedBytes[:])
		seed = int64(binary.LittleEndian.Uint64(seedBytes[:]))
	}
	return rand.New(rand.NewSource(seed))
}

func main() {
	nPairs := flag.IntP("pairs", "n", 1000000, "number of records")
	keyRange := flag.Int64("key-range", 1<<31-1, "keys are drawn from [0, key-range)")
	removes := flag.Float64("removes", 0, "fraction of records that remove their key")
	seed := flag.Int64("seed", 0, "random seed (0 picks one)")
	flag.Parse()

	if *nPairs < 0 || *keyRange <= 0 || *removes < 0 || *removes > 1 {
		fmt.Fprintln(os.Stderr, "error: invalid flags")
		os.Exit(2)
	}

	rng := newRand(*seed)
	w := bufio.NewWriter(os.Stdout)
	fmt.Fprintf(w, "# rows=%d\n", *nPairs)
	for i := 0; i < *nPairs; i++ {
		key := rng.Int63n(*keyRange)
		if rng.Float64() < *removes {
			fmt.Fprintf(w, "%d=\n", key)
			continue
		}
		fmt.Fprintf(w, "%d=%g\n", key, rng.NormFloat64())
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
