// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package walbcfg collects the device geometry and tunable thresholds that
// the rest of the walb module is parameterized on, mirroring the role that
// a plain options struct plus a DefaultConfig constructor play throughout
// grailbio/base (for example cmdutil's flag-bound config structs).
package walbcfg

import "time"

// Config holds the fixed geometry of a WalB device pair (log device + data
// device) together with the thresholds that govern backpressure, batching,
// and durability promotion.
type Config struct {
	// PhysicalBlockSize is the log and data device's physical sector size,
	// in bytes. All on-disk structures (logpack headers, ring buffer
	// offsets) are addressed in units of this size. Typically 4096.
	PhysicalBlockSize uint32
	// LogicalBlockSize is the size, in bytes, of the sectors addressed by
	// incoming IO (bio Pos/Len are in these units). Typically 512.
	LogicalBlockSize uint32

	// RingBufferOffset is the first physical block of the log device's ring
	// buffer region (physical blocks before it hold the superblock).
	RingBufferOffset uint64
	// RingBufferSize is the size of the ring buffer, in physical blocks.
	RingBufferSize uint64

	// MaxLogpackPB bounds the total size of a single logpack (header +
	// records), in physical blocks, so that one pack always fits a bounded
	// IO and never wraps the ring buffer more than once.
	MaxLogpackPB uint32

	// MaxPendingSectors is the high watermark, in logical sectors, of data
	// outstanding in the pending map; crossing it makes new writes block
	// until the pending map drains (§ backpressure).
	MaxPendingSectors uint64
	// MinPendingSectors is a low watermark for the pending map. Nothing in
	// the module reads it: a blocked writer is released as soon as the
	// pending sectors drop below MaxPendingSectors.
	MinPendingSectors uint64

	// QueueStopTimeout bounds how long a write may block on backpressure
	// before it is failed with a resources-exhausted error.
	QueueStopTimeout time.Duration

	// NIoBulk is the number of BioWrappers the log/data submitters pull off
	// their input queue per batch (syncqueue.FIFO.GetBulk).
	NIoBulk int
	// NPackBulk is the starting concurrency limit of iocore's data-device
	// admission controller (admit.Controller), which may grow up to NIoBulk
	// concurrent IOs. It does not bound in-flight packs, and the GC worker
	// takes its bulk size from NIoBulk, not from this field.
	NPackBulk int

	// LogFlushInterval bounds how long the permanent-cursor promotion loop
	// waits between fdatasync calls on the log device. Zero disables the
	// wait (every write promotes permanent synchronously; used in tests).
	LogFlushInterval time.Duration

	// LogChecksumSalt is folded into every logpack header/record checksum
	// (package logpack) and into the walblog container header.
	LogChecksumSalt uint32
}

// DefaultConfig returns a Config with the geometry and thresholds the WalB
// kernel module ships as defaults, scaled to a modest ring buffer suitable
// for tests and small devices.
func DefaultConfig() Config {
	return Config{
		PhysicalBlockSize: 4096,
		LogicalBlockSize:  512,
		RingBufferOffset:  1,
		RingBufferSize:    1 << 16, // 256MiB of log at 4KiB physical blocks
		MaxLogpackPB:      32,      // 128KiB per pack
		MaxPendingSectors: 1 << 16, // 32MiB of logical sectors
		MinPendingSectors: 1 << 14, // 8MiB
		QueueStopTimeout:  30 * time.Second,
		NIoBulk:           32,
		NPackBulk:         8,
		LogFlushInterval:  100 * time.Millisecond,
		LogChecksumSalt:   0,
	}
}

// Ratio returns the number of logical blocks per physical block. Geometries
// where PhysicalBlockSize isn't a whole multiple of LogicalBlockSize aren't
// supported, matching the WalB kernel module's own restriction.
func (c Config) Ratio() uint32 {
	return c.PhysicalBlockSize / c.LogicalBlockSize
}

// LogicalToPhysical converts a length in logical blocks to the number of
// physical blocks needed to hold it, rounding up.
func (c Config) LogicalToPhysical(lb uint32) uint32 {
	r := c.Ratio()
	return (lb + r - 1) / r
}
