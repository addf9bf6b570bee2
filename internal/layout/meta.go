// Copyright 2024 The phmap Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package layout

// A bucket meta word is 16 bits: the top 2 bits are the bucket state, the
// low 14 bits a version bumped on every meta write.  Readers compare meta
// words before and after reading a value to detect a concurrent writer.
const (
	MetaSize = 2

	MetaTagMask   uint16 = 0xC000
	MetaFree      uint16 = 0x0000
	MetaOccupied  uint16 = 0x8000
	MetaTombstone uint16 = 0x4000
	VersionMask   uint16 = 0x3FFF
)

func IsFree(meta uint16) bool {
	return meta&MetaTagMask == 0
}

func IsOccupied(meta uint16) bool {
	return meta&MetaOccupied != 0
}

func IsTombstone(meta uint16) bool {
	return meta&MetaTombstone != 0
}

// MetaVersion extracts the rotating version.
func MetaVersion(meta uint16) uint16 {
	return meta & VersionMask
}

// NextMeta returns a meta word with the given state and the version after
// prev's.
func NextMeta(state, prev uint16) uint16 {
	return state | (MetaVersion(prev)+1)&VersionMask
}
