// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package lsn defines the log sequence number type shared by every package
// that reasons about the WalB ring buffer: logpack, bio, pending, overlap,
// iocore, and redo all import this package rather than one another, so that
// none of them needs to depend on the others just to talk about positions in
// the log.
package lsn

// T is a log sequence number: a monotonically increasing, never-reused
// count of physical blocks written to the log device. An LSN's on-disk
// offset within the ring buffer is obtained by reducing it modulo the ring
// buffer's size in physical blocks (see Offset).
type T uint64

// Invalid is used where no LSN is assigned yet (e.g. a freshly constructed
// BioWrapper that hasn't reached the log submitter).
const Invalid T = 0

// Offset returns the physical-block offset of lsid within a ring buffer of
// ringSize physical blocks, relative to the ring buffer's base offset on the
// log device.
func Offset(lsid T, ringSize uint64) uint64 {
	return uint64(lsid) % ringSize
}

// Add returns t+n.
func (t T) Add(n uint64) T { return t + T(n) }

// Sub returns t-u, saturating at 0 if u > t.
func (t T) Sub(u T) uint64 {
	if u > t {
		return 0
	}
	return uint64(t - u)
}
