// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore

import (
	"context"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/log"
	"github.com/grailbio/walb/lsn"
	"v.io/x/lib/vlog"
)

// runLogSubmitter is the log submit + log wait worker role (§4.2, §4.3):
// the single goroutine that drains the arrival-ordered wrapper queue,
// assembles packs via the builder, writes each sealed pack's header and
// payload to the log device, and promotes the permanent cursor for any
// pack carrying a flush bit before handing the pack on to the data stage.
//
// It is a single persistent goroutine over one FIFO queue: the FIFO's
// strict enqueue order already gives the single-runner-per-role property
// the kernel module enforces with an explicit running flag, so no separate
// flag bookkeeping is needed here.
func (c *Core) runLogSubmitter(ctx context.Context) {
	defer c.wg.Done()
	vlog.VI(2).Infof("iocore: log submitter starting")
	defer vlog.VI(2).Infof("iocore: log submitter stopped")

	for {
		items := c.logQ.GetBulk(c.cfg.NIoBulk)
		if items == nil {
			return
		}
		for _, it := range items {
			w := it.(*bio.Wrapper)
			sealed, err := c.builder.Push(w)
			for _, p := range sealed {
				c.submitPack(ctx, p)
			}
			if err != nil {
				w.Complete(err)
				continue
			}
			if w.Len == 0 && w.Flush {
				// The zero-length flush marker was returned directly as its
				// own sealed pack by Push; it has already been submitted
				// above, nothing further to do here.
				continue
			}
		}
		if c.frozen() {
			continue
		}
		if p, err := c.builder.Flush(); err != nil {
			log.Error.Printf("iocore: sealing partial pack: %v", err)
		} else if p != nil {
			c.submitPack(ctx, p)
		}
	}
}

// submitPack writes p's header and payload to the log device, promotes the
// permanent cursor if p carries a flush bit, ends every wrapper it carries
// upward now that its write is durable in the log, and advances them to
// StatePrepared before handing p to the data dispatcher (§4.3 step 4: the
// upper layer sees completion here, strictly before the data-device write —
// the data stage only drives internal bookkeeping from this point on).
func (c *Core) submitPack(ctx context.Context, p *Pack) {
	c.gc.register(p)
	for _, w := range p.wrappers {
		w.SetState(bio.StateInLogWait)
	}

	if !p.flags.isZeroFlushOnly() {
		if err := c.writePackToLog(p); err != nil {
			c.failPack(p, err)
			return
		}
	} else if err := c.logDev.Flush(); err != nil {
		c.failPack(p, err)
		return
	}

	c.cursors.setCompleted(p.advanceTarget())

	if p.flags.isFlushContained() {
		if err := c.cursors.waitForLogPermanent(ctx, p.advanceTarget(), c.cfg.LogFlushInterval, uint64(c.cfg.MaxLogpackPB), c.logDev, c.setReadOnly); err != nil {
			c.failPack(p, err)
			return
		}
	}

	if c.cursors.ringExceeded(c.cfg.RingBufferSize) {
		c.setLogOverflow()
	}

	for _, w := range p.wrappers {
		w.SetState(bio.StatePrepared)
		w.Complete(nil)
		c.dataQ.Put(w)
	}
}

// writePackToLog encodes p's header and writes it plus every wrapper's
// payload bytes to the log device at their ring-buffer offsets.
func (c *Core) writePackToLog(p *Pack) error {
	buf, err := p.header.Encode(c.cfg.PhysicalBlockSize, c.cfg.LogChecksumSalt)
	if err != nil {
		return err
	}
	headerOff := int64(lsn.Offset(p.Lsid(), c.cfg.RingBufferSize)+c.cfg.RingBufferOffset) * int64(c.cfg.PhysicalBlockSize)
	if _, err := c.logDev.WriteAt(buf, headerOff); err != nil {
		return err
	}
	for _, w := range p.wrappers {
		rec, ok := p.RecordFor(w)
		if !ok || !rec.Exist() {
			continue
		}
		payloadLsid := p.Lsid().Add(uint64(rec.LsidLocal))
		off := int64(lsn.Offset(payloadLsid, c.cfg.RingBufferSize)+c.cfg.RingBufferOffset) * int64(c.cfg.PhysicalBlockSize)
		if _, err := c.logDev.WriteAt(w.Data, off); err != nil {
			return err
		}
	}
	if p.flags.isFlushHeader() {
		if err := c.logDev.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// failPack marks the log device read-only and resolves every wrapper p
// carries with err (§7: a log-device IO failure is unrecoverable for the
// device, not just the one request).
func (c *Core) failPack(p *Pack, err error) {
	p.flags.setLogpackFailed(true)
	c.setReadOnly(err)
	for _, w := range p.wrappers {
		w.Complete(err)
	}
}
