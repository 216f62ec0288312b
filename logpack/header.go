// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package logpack implements the on-disk layout of a logpack -- one
// physical-block header describing a batch of logged IOs, followed by
// their payload blocks -- and the checksum that protects it. It has no
// sibling in grailbio/base; it is grounded directly in the wire format
// described by the WalB kernel module's struct walb_logpack_header and
// struct walb_log_record (see original_source/module/logpack.c for the
// layout this mirrors).
package logpack

import (
	"encoding/binary"

	"github.com/grailbio/walb/errors"
	"github.com/grailbio/walb/lsn"
)

// SectorType identifies a physical block as a logpack header, distinguishing
// it from the raw payload blocks that follow.
const SectorType = uint16(1)

// headerFixedSize is the size, in bytes, of a Header's fields before its
// Records.
const headerFixedSize = 2 + 2 + 4 + 8 + 2 + 2

// Header is a logpack header: a physical block describing the IOs packed
// into the physical blocks that immediately follow it on the log device.
type Header struct {
	// TotalIOSizePB is the number of physical blocks, beyond this header,
	// that this pack occupies: the sum of the nPB values passed to
	// AppendExist and AppendPadding (Discard records contribute nothing).
	// A padding record is stored with IOSizeLB 0, so its own
	// PhysicalBlocks() is 0 and the blocks it reserves are counted only here.
	TotalIOSizePB uint16
	// Checksum is this header's own checksum, computed over the encoded
	// block with this field excluded.
	Checksum uint32
	// Lsid is the LSN of this logpack: the first physical block it
	// occupies on the log device is this header, at ring-buffer offset
	// lsn.Offset(Lsid, ringSize).
	Lsid lsn.T
	// NPadding counts how many of Records are padding records.
	NPadding uint16
	Records  []Record
}

// MaxRecords returns the largest number of records a Header can hold within
// a physical block of size pbs.
func MaxRecords(pbs uint32) int {
	return int((pbs - headerFixedSize) / recordSize)
}

// Full reports whether h has no room for another record in a physical block
// of size pbs.
func (h *Header) Full(pbs uint32) bool {
	return len(h.Records) >= MaxRecords(pbs)
}

// AppendExist appends a record for a real IO and returns it. IOSizeLB/
// OffsetLB/Checksum describe the IO on the data device; LsidLocal is the
// record's payload offset within the pack, in physical blocks, and
// nPB its length in physical blocks (added to TotalIOSizePB).
func (h *Header) AppendExist(lsidLocal uint16, ioSizeLB uint32, offsetLB uint64, checksum uint32, nPB uint32) Record {
	r := Record{
		Flags:     FlagExist,
		Checksum:  checksum,
		Lsid:      h.Lsid,
		LsidLocal: lsidLocal,
		IOSizeLB:  ioSizeLB,
		OffsetLB:  offsetLB,
	}
	h.Records = append(h.Records, r)
	h.TotalIOSizePB += uint16(nPB)
	return r
}

// AppendDiscard appends a record describing a discard request. Discard
// records reserve no physical blocks on the log device.
func (h *Header) AppendDiscard(ioSizeLB uint32, offsetLB uint64) Record {
	r := Record{
		Flags:    FlagDiscard,
		Lsid:     h.Lsid,
		IOSizeLB: ioSizeLB,
		OffsetLB: offsetLB,
	}
	h.Records = append(h.Records, r)
	return r
}

// AppendPadding appends a padding record reserving nPB physical blocks,
// written when the pack would otherwise wrap past the end of the ring
// buffer before an IO's payload could be written contiguously.
func (h *Header) AppendPadding(lsidLocal uint16, nPB uint32) Record {
	r := Record{
		Flags:     FlagPadding,
		Lsid:      h.Lsid,
		LsidLocal: lsidLocal,
		IOSizeLB:  0,
		OffsetLB:  0,
	}
	h.Records = append(h.Records, r)
	h.TotalIOSizePB += uint16(nPB)
	h.NPadding++
	return r
}

// Encode serializes h into a single physical block of size pbs, computing
// and embedding its checksum (salted by salt).
func (h *Header) Encode(pbs uint32, salt uint32) ([]byte, error) {
	if len(h.Records) > MaxRecords(pbs) {
		return nil, errors.E(errors.Invalid, "logpack: too many records for physical block size")
	}
	buf := make([]byte, pbs)
	binary.LittleEndian.PutUint16(buf[0:], SectorType)
	binary.LittleEndian.PutUint16(buf[2:], h.TotalIOSizePB)
	// buf[4:8] (checksum) left zero for the checksum computation below.
	binary.LittleEndian.PutUint64(buf[8:], uint64(h.Lsid))
	binary.LittleEndian.PutUint16(buf[16:], uint16(len(h.Records)))
	binary.LittleEndian.PutUint16(buf[18:], h.NPadding)
	off := headerFixedSize
	for _, r := range h.Records {
		encodeRecord(buf[off:off+recordSize], r)
		off += recordSize
	}
	h.Checksum = checksumExcludingField(buf, salt)
	binary.LittleEndian.PutUint32(buf[4:], h.Checksum)
	return buf, nil
}

// Decode parses a Header from a physical block previously produced by
// Encode, verifying its checksum.
func Decode(buf []byte, salt uint32) (*Header, error) {
	if len(buf) < headerFixedSize {
		return nil, errors.E(errors.Integrity, "logpack: short header block")
	}
	if got := binary.LittleEndian.Uint16(buf[0:]); got != SectorType {
		return nil, errors.E(errors.Integrity, "logpack: bad sector type")
	}
	storedChecksum := binary.LittleEndian.Uint32(buf[4:])
	if want := checksumExcludingField(buf, salt); storedChecksum != want {
		return nil, errors.E(errors.Integrity, "logpack: header checksum mismatch")
	}
	h := &Header{
		TotalIOSizePB: binary.LittleEndian.Uint16(buf[2:]),
		Checksum:      storedChecksum,
		Lsid:          lsn.T(binary.LittleEndian.Uint64(buf[8:])),
	}
	nRecords := int(binary.LittleEndian.Uint16(buf[16:]))
	h.NPadding = binary.LittleEndian.Uint16(buf[18:])
	if headerFixedSize+nRecords*recordSize > len(buf) {
		return nil, errors.E(errors.Integrity, "logpack: record count overruns block")
	}
	h.Records = make([]Record, nRecords)
	off := headerFixedSize
	for i := range h.Records {
		h.Records[i] = decodeRecord(buf[off : off+recordSize])
		off += recordSize
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Validate checks the structural invariants a decoded header must satisfy:
// NPadding must match the number of records flagged as padding, and every
// record must carry exactly one of Exist, Padding, or Discard.
func (h *Header) Validate() error {
	if int(h.NPadding) > len(h.Records) {
		return errors.E(errors.Integrity, "logpack: n_padding exceeds n_records")
	}
	padding := 0
	for _, r := range h.Records {
		types := 0
		for _, set := range []bool{r.Exist(), r.Padding(), r.Discard()} {
			if set {
				types++
			}
		}
		switch {
		case types == 0:
			return errors.E(errors.Integrity, "logpack: record has no type flag set")
		case types > 1:
			return errors.E(errors.Integrity, "logpack: record has more than one type flag set")
		case r.Padding():
			padding++
		}
	}
	if padding != int(h.NPadding) {
		return errors.E(errors.Integrity, "logpack: n_padding does not match record flags")
	}
	return nil
}

// checksumExcludingField computes Checksum over buf with the stored
// checksum field (buf[4:8]) treated as absent -- equivalent to zeroing it,
// since an additive fold is unaffected by omitting a zero-valued word, but
// avoids requiring callers to zero and restore the field around the call.
func checksumExcludingField(buf []byte, salt uint32) uint32 {
	sum := salt
	for i := 0; i+4 <= len(buf); i += 4 {
		if i == 4 {
			continue // checksum field itself
		}
		sum = addOnesComplement(sum, binary.LittleEndian.Uint32(buf[i:]))
	}
	sum = -sum
	if sum == 0 {
		sum = 0xFFFFFFFF
	}
	return sum
}
