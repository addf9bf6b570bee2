// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tailscale/hujson"

	"github.com/bpowers/phmap"
	"github.com/bpowers/phmap/hasher"
)

var (
	errUsage         = errors.New("usage")
	errConfigInvalid = errors.New("invalid config")
	errUnknownType   = errors.New("unknown type")
	errUnknownHasher = errors.New("unknown hasher")
)

// config selects the map directory and how maps in it are created.  It
// may be read from a JSONC file; command line flags take precedence.
type config struct {
	Dir            string  `json:"dir"`
	KeyType        string  `json:"key_type"`
	ValueType      string  `json:"value_type"`
	Hasher         string  `json:"hasher"`
	InitialEntries int     `json:"initial_entries"`
	LoadFactor     float64 `json:"load_factor"`
	Stats          bool    `json:"stats"`

	log *slog.Logger
}

func defaultConfig() config {
	return config{
		KeyType:        "int32",
		ValueType:      "float32",
		InitialEntries: phmap.DefaultInitialEntries,
		LoadFactor:     phmap.DefaultLoadFactor,
	}
}

// loadConfigFile overlays the JSONC file at path on cfg.
func loadConfigFile(path string, cfg *config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfigInvalid, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, err)
	}
	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("%w %s: invalid JSON: %w", errConfigInvalid, path, err)
	}
	return nil
}

// options translates cfg into env options.
func (c config) options() ([]phmap.Option, error) {
	opts := []phmap.Option{
		phmap.WithInitialEntries(c.InitialEntries),
		phmap.WithLoadFactor(c.LoadFactor),
		phmap.WithStats(c.Stats),
		phmap.WithLogger(c.log),
	}
	if c.Hasher == "" {
		return opts, nil
	}
	serial, err := hasherSerial(c.KeyType, c.Hasher)
	if err != nil {
		return nil, err
	}
	return append(opts, phmap.WithHasher(serial)), nil
}

func hasherSerial(keyType, name string) (uint8, error) {
	switch keyType {
	case "int32":
		for _, h := range hasher.Int32Hashers() {
			if h.Name == name {
				return h.Serial, nil
			}
		}
	case "int64":
		for _, h := range hasher.Int64Hashers() {
			if h.Name == name {
				return h.Serial, nil
			}
		}
	default:
		return 0, fmt.Errorf("%w: key %q", errUnknownType, keyType)
	}
	return 0, fmt.Errorf("%w: %q for %s keys", errUnknownHasher, name, keyType)
}

func hasherName(keyType string, serial uint8) string {
	var name string
	switch keyType {
	case "int32":
		if h, err := hasher.Int32BySerial(serial); err == nil {
			name = h.Name
		}
	case "int64":
		if h, err := hasher.Int64BySerial(serial); err == nil {
			name = h.Name
		}
	}
	if name == "" {
		return fmt.Sprintf("serial %d", serial)
	}
	return name
}
