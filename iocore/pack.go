// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore

import (
	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/errors"
	"github.com/grailbio/walb/logpack"
	"github.com/grailbio/walb/lsn"
)

// Pack is the in-memory staging object for one logpack: a header being
// assembled plus the BioWrappers it will carry (§3 "Pack (writepack)"). It
// owns its wrappers from the builder through GC.
type Pack struct {
	header *logpack.Header
	flags  packFlags
	// wrappers holds every BioWrapper this pack carries, in append order.
	// header.Records additionally holds padding records, which have no
	// wrapper; recordOf maps each wrapper to its own record so the log
	// submitter can find its payload's offset within the pack.
	wrappers []*bio.Wrapper
	recordOf map[*bio.Wrapper]logpack.Record
}

func newPack(lsid lsn.T) *Pack {
	return &Pack{
		header:   &logpack.Header{Lsid: lsid},
		flags:    newPackFlags(),
		recordOf: make(map[*bio.Wrapper]logpack.Record),
	}
}

// Lsid returns the pack's starting LSN.
func (p *Pack) Lsid() lsn.T { return p.header.Lsid }

// totalIOSizePB returns the pack's payload size, in physical blocks, beyond
// its header block.
func (p *Pack) totalIOSizePB() uint64 { return uint64(p.header.TotalIOSizePB) }

// nextLsid returns the LSN of the logpack that follows this one: this
// pack's header block, plus its payload blocks.
func (p *Pack) nextLsid() lsn.T {
	return p.Lsid().Add(1 + p.totalIOSizePB())
}

// advanceTarget is the LSN cursors should promote to once p is durable: its
// nextLsid for a real pack, but its own Lsid for a zero-length flush-only
// pack, which reserves no ring space and so must not advance written/
// permanent/flush past ring positions it never occupied.
func (p *Pack) advanceTarget() lsn.T {
	if p.flags.isZeroFlushOnly() {
		return p.Lsid()
	}
	return p.nextLsid()
}

// RecordFor returns the logpack.Record describing w's payload within p, and
// whether one exists (it won't for a zero-length flush-only pack's wrapper,
// which carries no record at all).
func (p *Pack) RecordFor(w *bio.Wrapper) (logpack.Record, bool) {
	r, ok := p.recordOf[w]
	return r, ok
}

// Validate checks the pack's header against its wrapper list before
// sealing -- a port of the C source's is_prepared_pack_valid defensive
// check (§12 supplemented features): the header's record count must match
// the number of appended records, and the header itself must satisfy
// logpack.Header.Validate.
func (p *Pack) Validate() error {
	if len(p.recordOf)+int(p.header.NPadding) != len(p.header.Records) {
		return errors.E(errors.Integrity, "iocore: pack record count does not match its wrappers")
	}
	return p.header.Validate()
}
