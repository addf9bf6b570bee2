// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package phmap

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/bpowers/phmap/internal/layout"
)

const (
	DefaultInitialEntries = 1024
	DefaultLoadFactor     = 0.75
)

type options struct {
	initialEntries int
	loadFactor     float64
	hasherSerial   uint8
	collectStats   bool
	logger         *slog.Logger
}

// Option configures an Env or ReadOnlyEnv.
type Option func(*options)

// WithInitialEntries sets the maxEntries of the map created for a new
// directory.
func WithInitialEntries(n int) Option {
	return func(o *options) {
		o.initialEntries = n
	}
}

// WithLoadFactor sets the target ratio of maxEntries to capacity for maps
// created by the env.
func WithLoadFactor(f float64) Option {
	return func(o *options) {
		o.loadFactor = f
	}
}

// WithHasher selects the key hash function of maps created by the env.
// Existing maps always use the hasher recorded in their header.
func WithHasher(serial uint8) Option {
	return func(o *options) {
		o.hasherSerial = serial
	}
}

// WithStats enables lookup statistics on maps handed out by a
// ReadOnlyEnv.
func WithStats(enabled bool) Option {
	return func(o *options) {
		o.collectStats = enabled
	}
}

// WithLogger sets the logger used for commit, discard and grow events.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions[K Key](opts []Option) (options, error) {
	o := options{
		initialEntries: DefaultInitialEntries,
		loadFactor:     DefaultLoadFactor,
		hasherSerial:   defaultHasherSerial[K](),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.initialEntries <= 0 {
		return options{}, fmt.Errorf("%w: initial entries must be positive, got %d", ErrInvalidArgument, o.initialEntries)
	}
	if !layout.IsValidLoadFactor(o.loadFactor) {
		return options{}, fmt.Errorf("%w: load factor must be in (0, 1], got %v", ErrInvalidArgument, o.loadFactor)
	}
	if _, err := keyHasher[K](o.hasherSerial); err != nil {
		return options{}, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o, nil
}
