// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore

import (
	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/errors"
	"github.com/grailbio/walb/logpack"
	"github.com/grailbio/walb/walbcfg"
)

// builder implements the Logpack Builder (§4.1): it groups an ordered
// stream of write BioWrappers into Packs, assigning LSNs, inserting padding
// at the ring wrap, and splitting packs at max_logpack_pb and at flush
// boundaries (a flush bit always starts a new pack).
type builder struct {
	cfg     walbcfg.Config
	cursors *cursors

	open *Pack
}

func newBuilder(cfg walbcfg.Config, cur *cursors) *builder {
	return &builder{cfg: cfg, cursors: cur}
}

// Push appends w to the pack sequence being built, sealing and returning
// any packs that are now closed as a result (zero, one, or two: a flush
// boundary or ring wrap can close the previously-open pack and, for a wrap,
// immediately reopen and fill a fresh one before w is even appended). On
// ring-buffer overflow, it returns the error-before-overflow guard error
// and w is left unassigned; the caller must fail w and every wrapper in
// the returned (already-sealed) packs upward.
func (b *builder) Push(w *bio.Wrapper) ([]*Pack, error) {
	var sealed []*Pack

	if w.Len == 0 && w.Flush {
		// Zero-length flush bio (§4.1): closes any open pack (flush must be
		// the first record of its pack) and produces its own pack with no
		// records, consuming no ring space.
		if b.open != nil && len(b.open.wrappers) > 0 {
			p, err := b.seal(b.open)
			if err != nil {
				return sealed, err
			}
			sealed = append(sealed, p)
			b.open = nil
		}
		zp := newPack(b.cursors.snapshot().Latest)
		zp.flags.setZeroFlushOnly(true)
		zp.flags.setFlushContained(true)
		zp.wrappers = append(zp.wrappers, w)
		w.SetLSID(zp.Lsid())
		sealed = append(sealed, zp)
		return sealed, nil
	}

	ioSizeLB := uint32(w.Len)
	nPB := b.cfg.LogicalToPhysical(ioSizeLB)

	if b.open == nil {
		b.open = newPack(b.cursors.snapshot().Latest)
	}

	if w.Flush && len(b.open.wrappers) > 0 {
		p, err := b.seal(b.open)
		if err != nil {
			return sealed, err
		}
		sealed = append(sealed, p)
		b.open = newPack(p.nextLsid())
	}

	if w.Flush {
		b.open.flags.setFlushHeader(true)
		b.open.flags.setFlushContained(true)
	}

	if !w.Discard {
		if b.wouldWrap(b.open, nPB) {
			p, err := b.sealWithWrapPadding(b.open)
			if err != nil {
				return sealed, err
			}
			sealed = append(sealed, p)
			nextStart := p.Lsid().Add(b.cfg.RingBufferSize - uint64(p.Lsid())%b.cfg.RingBufferSize)
			b.open = newPack(nextStart)
		} else if b.open.header.Full(b.cfg.PhysicalBlockSize) || uint64(1+b.open.totalIOSizePB()+uint64(nPB)) > uint64(b.cfg.MaxLogpackPB) {
			p, err := b.seal(b.open)
			if err != nil {
				return sealed, err
			}
			sealed = append(sealed, p)
			b.open = newPack(p.nextLsid())
		}
	}

	lsidLocal := uint16(1 + b.open.totalIOSizePB())
	var rec logpack.Record
	if w.Discard {
		rec = b.open.header.AppendDiscard(ioSizeLB, uint64(w.Pos))
	} else {
		checksum := logpack.Checksum(w.Data, b.cfg.LogChecksumSalt)
		rec = b.open.header.AppendExist(lsidLocal, ioSizeLB, uint64(w.Pos), checksum, nPB)
	}
	b.open.wrappers = append(b.open.wrappers, w)
	b.open.recordOf[w] = rec
	w.SetLSID(b.open.Lsid())

	return sealed, nil
}

// Flush seals and returns the currently-open pack, if any. It is used to
// flush a partial batch at shutdown/freeze, without waiting for the next
// incoming wrapper to trigger a natural seal boundary.
func (b *builder) Flush() (*Pack, error) {
	if b.open == nil || len(b.open.wrappers) == 0 {
		return nil, nil
	}
	p, err := b.seal(b.open)
	b.open = nil
	return p, err
}

// wouldWrap reports whether appending nPB more physical blocks to p would
// push its payload past the ring buffer's wrap point.
func (b *builder) wouldWrap(p *Pack, nPB uint32) bool {
	ringSize := b.cfg.RingBufferSize
	startMod := uint64(p.Lsid()) % ringSize
	used := 1 + p.totalIOSizePB()
	return startMod+used+uint64(nPB) > ringSize
}

// sealWithWrapPadding inserts a padding record consuming the residual space
// before the ring wrap, then seals p.
func (b *builder) sealWithWrapPadding(p *Pack) (*Pack, error) {
	ringSize := b.cfg.RingBufferSize
	startMod := uint64(p.Lsid()) % ringSize
	used := 1 + p.totalIOSizePB()
	residual := ringSize - startMod - used
	if residual > 0 {
		p.header.AppendPadding(uint16(used), uint32(residual))
	}
	return b.seal(p)
}

// seal finalizes p: validates it, checks the ring-overflow guard, and
// reserves its LSN span on the cursor manager.
func (b *builder) seal(p *Pack) (*Pack, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	n := 1 + p.totalIOSizePB()
	snap := b.cursors.snapshot()
	if p.Lsid().Add(n).Sub(snap.Oldest) > b.cfg.RingBufferSize {
		return nil, errors.E(errors.ResourcesExhausted, "iocore: logpack would overflow ring buffer")
	}
	b.cursors.advanceLatest(n)
	return p, nil
}
