// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore

import "github.com/willf/bitset"

// Pack flag bits, held in a bitset.BitSet the way the teacher represents
// other small, fixed flag sets rather than a hand-rolled uint32 mask.
const (
	flagZeroFlushOnly = uint(iota)
	flagFlushContained
	flagFlushHeader
	flagLogpackFailed
)

// packFlags wraps a bitset.BitSet with named accessors for the flag bits a
// Pack carries (§3 "flags is_zero_flush_only, is_flush_contained,
// is_flush_header, is_logpack_failed").
type packFlags struct {
	bits *bitset.BitSet
}

func newPackFlags() packFlags {
	return packFlags{bits: bitset.New(4)}
}

func (f packFlags) setZeroFlushOnly(v bool)   { setBit(f.bits, flagZeroFlushOnly, v) }
func (f packFlags) isZeroFlushOnly() bool     { return f.bits.Test(flagZeroFlushOnly) }
func (f packFlags) setFlushContained(v bool)  { setBit(f.bits, flagFlushContained, v) }
func (f packFlags) isFlushContained() bool    { return f.bits.Test(flagFlushContained) }
func (f packFlags) setFlushHeader(v bool)     { setBit(f.bits, flagFlushHeader, v) }
func (f packFlags) isFlushHeader() bool       { return f.bits.Test(flagFlushHeader) }
func (f packFlags) setLogpackFailed(v bool)   { setBit(f.bits, flagLogpackFailed, v) }
func (f packFlags) isLogpackFailed() bool     { return f.bits.Test(flagLogpackFailed) }

func setBit(b *bitset.BitSet, i uint, v bool) {
	if v {
		b.Set(i)
	} else {
		b.Clear(i)
	}
}

// Core-level condition bits: read-only and log-overflow. These gate every
// new submission, so they're checked far more often than they're set;
// a bitset keeps the check and the (rare) transition symmetric.
const (
	coreReadOnly = uint(iota)
	coreLogOverflow
)
