// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package logpack

import "encoding/binary"

// Checksum computes the logpack checksum: a 32-bit one's-complement fold of
// salt and every 32-bit little-endian word of data, negated (two's
// complement) and, if the result is zero, remapped to 0xFFFFFFFF so that an
// unset (zero) checksum field is never mistaken for a valid one.
//
// len(data) must be a multiple of 4; callers pad the physical block before
// hashing. This is unrelated to walblog's xxhash-based container checksum,
// which frames the stream rather than the logpack contents.
func Checksum(data []byte, salt uint32) uint32 {
	sum := salt
	for i := 0; i+4 <= len(data); i += 4 {
		sum = addOnesComplement(sum, binary.LittleEndian.Uint32(data[i:]))
	}
	sum = -sum
	if sum == 0 {
		sum = 0xFFFFFFFF
	}
	return sum
}

// addOnesComplement adds a and b with end-around carry, as in the Internet
// checksum.
func addOnesComplement(a, b uint32) uint32 {
	sum := uint64(a) + uint64(b)
	for sum>>32 != 0 {
		sum = (sum & 0xFFFFFFFF) + (sum >> 32)
	}
	return uint32(sum)
}
