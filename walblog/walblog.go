// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package walblog implements the small container format that prefixes a
// serialized WalB log stream: a single fixed-size header carrying the
// physical block size and checksum salt that every logpack in the stream
// was written with, followed by the logpack blocks themselves (read and
// written by package logpack).
//
// This is a sibling of grailbio/base's logio, which frames a stream of
// arbitrary-length, possibly-reassembled records inside 32KiB blocks with
// per-record checksums and resync-on-corruption. A WalB log stream needs
// none of that: logpack headers are already self-describing
// (n_records/total_io_size say exactly how many physical blocks follow),
// so walblog only needs to frame the one piece of information a reader
// can't otherwise recover -- the block size and salt the writer used --
// before the first logpack header. We keep logio's habit of a salted
// xxhash fold for this framing checksum; the logpack headers that follow
// use the format's own one's-complement checksum (package logpack), not
// this one.
package walblog

import (
	"encoding/binary"
	"io"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/grailbio/walb/errors"
)

// Magic identifies a walblog stream.
const Magic = uint32(0x77616c62) // "walb"

// HeaderVersion is the current container header format version.
const HeaderVersion = uint16(1)

// headerSize is the on-the-wire size of Header, in bytes.
const headerSize = 4 + 2 + 2 + 4 + 4 + 4 // magic,version,reserved,pbs,salt,checksum

var byteOrder = binary.LittleEndian

// Header prefixes a serialized log stream.
type Header struct {
	// PhysicalBlockSize is the physical block size (in bytes) that every
	// logpack header and record in the stream was written with.
	PhysicalBlockSize uint32
	// LogChecksumSalt is the salt mixed into every logpack header/record
	// checksum in the stream (see package logpack).
	LogChecksumSalt uint32
}

// WriteHeader writes h to w as the first bytes of a log stream.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, headerSize)
	byteOrder.PutUint32(buf[0:], Magic)
	byteOrder.PutUint16(buf[4:], HeaderVersion)
	byteOrder.PutUint16(buf[6:], 0) // reserved
	byteOrder.PutUint32(buf[8:], h.PhysicalBlockSize)
	byteOrder.PutUint32(buf[12:], h.LogChecksumSalt)
	byteOrder.PutUint32(buf[16:], checksum(buf[:16]))
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates the container header from the start of a
// log stream.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	if magic := byteOrder.Uint32(buf[0:]); magic != Magic {
		return Header{}, errors.E(errors.Integrity, "walblog: bad magic")
	}
	if version := byteOrder.Uint16(buf[4:]); version != HeaderVersion {
		return Header{}, errors.E(errors.Integrity, "walblog: unsupported header version")
	}
	if got, want := byteOrder.Uint32(buf[16:]), checksum(buf[:16]); got != want {
		return Header{}, errors.E(errors.Integrity, "walblog: header checksum mismatch")
	}
	return Header{
		PhysicalBlockSize: byteOrder.Uint32(buf[8:]),
		LogChecksumSalt:   byteOrder.Uint32(buf[12:]),
	}, nil
}

func checksum(data []byte) uint32 {
	h := xxhash.Sum64(data)
	return uint32(h<<32) ^ uint32(h)
}
