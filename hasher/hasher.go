// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hasher is the closed set of integer hash functions a table can be
// built with.  Each function has a serial number that is persisted in the
// table header, so a table is always reopened with the function that built
// it regardless of the current default.
//
// Serials are part of the file format: never renumber or change an
// existing function, only append new ones.
package hasher

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/dgryski/go-farm"
	"github.com/spaolacci/murmur3"
)

// ErrUnknownSerial is returned for a serial not present in the registry.
var ErrUnknownSerial = errors.New("hasher: unknown serial")

// Int32 hashes 32-bit keys.
type Int32 struct {
	Serial uint8
	Name   string
	Hash   func(x int32) int32
}

// Int64 hashes 64-bit keys down to a 32-bit hash.
type Int64 struct {
	Serial uint8
	Name   string
	Hash   func(x int64) int32
}

const (
	DefaultInt32Serial uint8 = 0
	DefaultInt64Serial uint8 = 0
)

// The mixing functions below come from
// https://nullprogram.com/blog/2018/07/31/

var (
	Hash32 = Int32{Serial: 0, Name: "hash32", Hash: func(v int32) int32 {
		x := uint32(v)
		x = (x ^ (x >> 16)) * 0x45d9f3b
		x = (x ^ (x >> 16)) * 0x45d9f3b
		x ^= x >> 16
		return int32(x)
	}}

	Prospector32 = Int32{Serial: 1, Name: "prospector32", Hash: func(v int32) int32 {
		x := uint32(v)
		x = (x ^ (x >> 15)) * 0x2c1b3c6d
		x = (x ^ (x >> 12)) * 0x297a2d39
		x ^= x >> 15
		return int32(x)
	}}

	Murmurhash32Mix = Int32{Serial: 2, Name: "murmurhash32_mix32", Hash: func(v int32) int32 {
		x := uint32(v)
		x = (x ^ (x >> 16)) * 0x85ebca6b
		x = (x ^ (x >> 13)) * 0xc2b2ae35
		x ^= x >> 16
		return int32(x)
	}}

	Lowbias32 = Int32{Serial: 3, Name: "lowbias32", Hash: func(v int32) int32 {
		x := uint32(v)
		x = (x ^ (x >> 16)) * 0x7feb352d
		x = (x ^ (x >> 15)) * 0x846ca68b
		x ^= x >> 16
		return int32(x)
	}}

	Farm32 = Int32{Serial: 4, Name: "farm32", Hash: func(v int32) int32 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		return int32(farm.Hash32(b[:]))
	}}

	Murmur3 = Int32{Serial: 5, Name: "murmur3", Hash: func(v int32) int32 {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		return int32(murmur3.Sum32(b[:]))
	}}
)

var (
	Hash64 = Int64{Serial: 0, Name: "hash64", Hash: func(v int64) int32 {
		x := uint64(v)
		x = (x ^ (x >> 32)) * 0xd6e8feb86659fd93
		x = (x ^ (x >> 32)) * 0xd6e8feb86659fd93
		x ^= x >> 32
		return int32(x)
	}}

	Farm64 = Int64{Serial: 1, Name: "farm64", Hash: func(v int64) int32 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		return int32(farm.Hash64(b[:]))
	}}

	XXHash64 = Int64{Serial: 2, Name: "xxhash64", Hash: func(v int64) int32 {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		return int32(xxhash.Sum64(b[:]))
	}}
)

var (
	int32Hashers = []Int32{Hash32, Prospector32, Murmurhash32Mix, Lowbias32, Farm32, Murmur3}
	int64Hashers = []Int64{Hash64, Farm64, XXHash64}
)

// Int32BySerial looks up a 32-bit key hasher.
func Int32BySerial(serial uint8) (Int32, error) {
	if int(serial) >= len(int32Hashers) {
		return Int32{}, fmt.Errorf("%w: %d for int32 keys", ErrUnknownSerial, serial)
	}
	return int32Hashers[serial], nil
}

// Int64BySerial looks up a 64-bit key hasher.
func Int64BySerial(serial uint8) (Int64, error) {
	if int(serial) >= len(int64Hashers) {
		return Int64{}, fmt.Errorf("%w: %d for int64 keys", ErrUnknownSerial, serial)
	}
	return int64Hashers[serial], nil
}

// Int32Hashers lists every 32-bit key hasher in serial order.
func Int32Hashers() []Int32 {
	return append([]Int32(nil), int32Hashers...)
}

// Int64Hashers lists every 64-bit key hasher in serial order.
func Int64Hashers() []Int64 {
	return append([]Int64(nil), int64Hashers...)
}
