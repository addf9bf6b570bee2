// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/bpowers/phmap"
	"github.com/bpowers/phmap/internal/bytesutil"
	"github.com/bpowers/phmap/internal/unsafestring"
)

func parseKey[K phmap.Key](s string) (K, error) {
	k, err := phmap.ParseKey[K](s)
	if err != nil {
		return k, fmt.Errorf("%w: %w", errUsage, err)
	}
	return k, nil
}

func parseValue[V phmap.Value](s string) (V, error) {
	v, err := phmap.ParseValue[V](s)
	if err != nil {
		return v, fmt.Errorf("%w: %w", errUsage, err)
	}
	return v, nil
}

// parsePair splits a KEY=VALUE argument.
func parsePair[K phmap.Key, V phmap.Value](arg string) (K, V, error) {
	var (
		key   K
		value V
	)
	k, v, ok := bytesutil.Cut(unsafestring.ToBytes(arg), '=')
	if !ok || len(v) == 0 {
		return key, value, fmt.Errorf("%w: expected KEY=VALUE, got %q", errUsage, arg)
	}
	key, err := parseKey[K](string(k))
	if err != nil {
		return key, value, err
	}
	value, err = parseValue[V](string(v))
	return key, value, err
}
