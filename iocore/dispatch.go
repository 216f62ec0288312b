// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore

import (
	"context"

	"github.com/grailbio/walb/admit"
	"github.com/grailbio/walb/bio"
	"v.io/x/lib/vlog"
)

// runDataStage is the data dispatch + data submit + data wait worker role
// (§4.4, §4.5): it drains wrappers the log submitter has prepared, inserts
// each into the pending map and overlap table, and issues its data-device
// IO once any earlier overlapping write has completed, so that two writes
// to the same blocks always land in arrival order.
func (c *Core) runDataStage(ctx context.Context) {
	defer c.wg.Done()
	vlog.VI(2).Infof("iocore: data stage starting")
	defer vlog.VI(2).Infof("iocore: data stage stopped")

	for {
		items := c.dataQ.GetBulk(c.cfg.NIoBulk)
		if items == nil {
			return
		}
		for _, it := range items {
			w := it.(*bio.Wrapper)
			c.dispatchWrapper(ctx, w)
		}
	}
}

// dispatchWrapper registers w in the pending map and overlap table, resolves
// any wrapper w fully overwrites, and either submits w's data-device IO
// immediately (no in-flight predecessor overlaps it) or leaves it for a
// later Complete to release.
func (c *Core) dispatchWrapper(ctx context.Context, w *bio.Wrapper) {
	w.SetState(bio.StateInDataSubmit)

	if w.Len == 0 && w.Flush {
		// Zero-length flush marker: nothing to write to the data device: it
		// exists only to force the permanent cursor forward, already done by
		// the log submitter, which also already completed w upward.
		w.SetState(bio.StateSubmitted)
		w.SetState(bio.StateCompleted)
		c.gcQ.Put(w)
		return
	}

	// pending.Insert marks any wrapper w fully overwrites via
	// MarkSkipDataIO; those wrappers still pass through the overlap table's
	// normal turn-taking (submitData checks SkipDataIO and skips the
	// device IO, but still calls afterDataComplete so any successor
	// serialized behind them in the overlap table is released).
	c.pending.Insert(w)

	ready := c.overlap.Insert(w)
	if ready {
		c.submitData(ctx, w)
	}
}

// submitData issues w's IO against the data device (or skips it, if it was
// marked fully overwritten after being queued but before this call), then
// frees any successor wrappers the overlap table was holding behind it. The
// device IO itself runs on its own goroutine gated by c.admission, an AIMD
// controller bounding how many data-device IOs run concurrently; overlapping
// writes are still serialized by the overlap table regardless of how many
// admission tokens are available.
func (c *Core) submitData(ctx context.Context, w *bio.Wrapper) {
	w.SetState(bio.StateSubmitted)
	c.ioWG.Add(1)
	go c.runDataIO(ctx, w)
}

// runDataIO issues w's data-device IO. w's caller was already told the
// write succeeded once its log write landed (submitPack); a data-device
// error at this point can no longer be reported to that caller, so it is
// treated as a device-level reliability failure instead.
func (c *Core) runDataIO(ctx context.Context, w *bio.Wrapper) {
	defer c.ioWG.Done()

	if !w.SkipDataIO() {
		err := admit.Do(ctx, c.admission, 1, func() error {
			off := int64(w.Pos) * int64(c.cfg.LogicalBlockSize)
			var err error
			switch {
			case w.Discard:
				err = c.dataDev.Discard(off, int64(w.Len)*int64(c.cfg.LogicalBlockSize))
			default:
				_, err = c.dataDev.WriteAt(w.Data, off)
			}
			return err
		})
		if err != nil {
			w.SetState(bio.StateCompleted)
			c.setReadOnly(err)
			c.afterDataComplete(ctx, w)
			return
		}
	}

	w.SetState(bio.StateCompleted)
	c.afterDataComplete(ctx, w)
}

// afterDataComplete removes w from the pending map and overlap table and
// releases any successor that was only waiting on w.
func (c *Core) afterDataComplete(ctx context.Context, w *bio.Wrapper) {
	c.pending.Delete(w)
	ready := c.overlap.Complete(w)
	c.gcQ.Put(w)
	for _, next := range ready {
		c.submitData(ctx, next)
	}
}
