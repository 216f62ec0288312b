// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package logpack

import (
	"encoding/binary"

	"github.com/grailbio/walb/lsn"
)

// RecordFlag is a bitmask of per-record properties.
type RecordFlag uint32

const (
	// FlagExist marks a record as holding real log data (payload follows
	// the header on the log device).
	FlagExist RecordFlag = 1 << iota
	// FlagPadding marks a record as reserving physical blocks without
	// carrying payload, written when a logpack would otherwise wrap past
	// the end of the ring buffer.
	FlagPadding
	// FlagDiscard marks a record as describing a discard request; it
	// reserves no physical blocks on the log device.
	FlagDiscard
)

// recordSize is the on-the-wire size of a Record, in bytes.
const recordSize = 4 + 4 + 8 + 2 + 4 + 8

// Record describes one logged IO within a logpack: where its data lives on
// the data device (OffsetLB/IOSizeLB), and where its payload lives in the
// log device's ring buffer (Lsid/LsidLocal).
type Record struct {
	Flags     RecordFlag
	Checksum  uint32 // checksum of the IO's payload, salted; meaningless for padding/discard
	Lsid      lsn.T  // LSN of the logpack this record belongs to
	LsidLocal uint16 // offset, in physical blocks, of this record's payload within the pack
	IOSizeLB  uint32 // length of the IO, in logical blocks
	OffsetLB  uint64 // starting offset of the IO on the data device, in logical blocks
}

// Exist reports whether r carries real payload.
func (r Record) Exist() bool { return r.Flags&FlagExist != 0 }

// Padding reports whether r is a padding record.
func (r Record) Padding() bool { return r.Flags&FlagPadding != 0 }

// Discard reports whether r describes a discard request.
func (r Record) Discard() bool { return r.Flags&FlagDiscard != 0 }

// PhysicalBlocks returns the number of physical blocks r's payload occupies
// on the log device. Discard records occupy none.
func (r Record) PhysicalBlocks(ratio uint32) uint32 {
	if r.Discard() {
		return 0
	}
	return (r.IOSizeLB + ratio - 1) / ratio
}

func encodeRecord(buf []byte, r Record) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(r.Flags))
	binary.LittleEndian.PutUint32(buf[4:], r.Checksum)
	binary.LittleEndian.PutUint64(buf[8:], uint64(r.Lsid))
	binary.LittleEndian.PutUint16(buf[16:], r.LsidLocal)
	binary.LittleEndian.PutUint32(buf[18:], r.IOSizeLB)
	binary.LittleEndian.PutUint64(buf[22:], r.OffsetLB)
}

func decodeRecord(buf []byte) Record {
	return Record{
		Flags:     RecordFlag(binary.LittleEndian.Uint32(buf[0:])),
		Checksum:  binary.LittleEndian.Uint32(buf[4:]),
		Lsid:      lsn.T(binary.LittleEndian.Uint64(buf[8:])),
		LsidLocal: binary.LittleEndian.Uint16(buf[16:]),
		IOSizeLB:  binary.LittleEndian.Uint32(buf[18:]),
		OffsetLB:  binary.LittleEndian.Uint64(buf[22:]),
	}
}
