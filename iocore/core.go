// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package iocore implements the WalB write pipeline: the logpack builder,
// the LSN cursor manager, and the five worker stages (log submit, log wait,
// data submit, data wait, GC) that move a write from submission through
// durable completion on both the log and data devices.
package iocore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/walb/admit"
	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/device"
	"github.com/grailbio/walb/errors"
	"github.com/grailbio/walb/internal/ratelimit"
	"github.com/grailbio/walb/log"
	"github.com/grailbio/walb/overlap"
	"github.com/grailbio/walb/pending"
	"github.com/grailbio/walb/syncqueue"
	"github.com/grailbio/walb/walbcfg"
	"golang.org/x/sync/errgroup"
)

// EventHook is invoked on ring-overflow and read-only transitions, rate
// limited so a stuck device doesn't spam whatever it's wired to (§12
// supplemented features).
type EventHook func(event string)

// Core is a running WalB engine bound to one log device and one data
// device. It owns the three worker goroutines and the shared state (cursors,
// pending map, overlap table) they coordinate through.
type Core struct {
	cfg     walbcfg.Config
	logDev  device.BlockDevice
	dataDev device.BlockDevice
	hook    EventHook
	hookRL  *ratelimit.Limiter

	cursors   *cursors
	builder   *builder
	pending   *pending.Map
	overlap   *overlap.Table
	gc        *gcTracker
	admission admit.Policy // bounds concurrent in-flight data-device IOs

	logQ  *syncqueue.FIFO // *bio.Wrapper, arrival order
	dataQ *syncqueue.FIFO // *bio.Wrapper, prepared by the log submitter for the data stage
	gcQ   *syncqueue.FIFO // *bio.Wrapper, ready for GC

	flags     packFlags // reused as the core-level condition bitset (coreReadOnly/coreLogOverflow)
	freezeCnt int32
	wg        sync.WaitGroup
	ioWG      sync.WaitGroup // in-flight data-device IO goroutines, admission-gated
	cancel    context.CancelFunc
}

// New constructs a Core over logDev/dataDev and starts its worker
// goroutines. Stop must be called to shut it down cleanly.
func New(cfg walbcfg.Config, logDev, dataDev device.BlockDevice, hook EventHook) *Core {
	if hook == nil {
		hook = func(string) {}
	}
	cur := newCursors()
	c := &Core{
		cfg:       cfg,
		logDev:    logDev,
		dataDev:   dataDev,
		hook:      hook,
		hookRL:    ratelimit.New(time.Second, 1), // at most one overflow/readonly event per second
		cursors:   cur,
		builder:   newBuilder(cfg, cur),
		pending:   pending.New(int64(cfg.MaxPendingSectors)),
		overlap:   overlap.New(),
		gc:        newGCTracker(),
		admission: admit.Controller(cfg.NPackBulk, cfg.NIoBulk),
		logQ:      syncqueue.NewFIFO(),
		dataQ:     syncqueue.NewFIFO(),
		gcQ:       syncqueue.NewFIFO(),
		flags:     newPackFlags(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(3)
	go c.runLogSubmitter(ctx)
	go c.runDataStage(ctx)
	go c.runGC(ctx)
	return c
}

// Submit enqueues w for the write pipeline and blocks until it is fully
// resolved, returning its error (nil on success). Submit applies
// backpressure via the pending map's capacity wait before admitting w to
// the log submitter, and rejects new writes outright while the core is
// read-only (§7).
func (c *Core) Submit(ctx context.Context, w *bio.Wrapper) error {
	if c.IsReadOnly() {
		return errors.E(errors.Unavailable, "iocore: device is read-only")
	}
	wctx := ctx
	if c.cfg.QueueStopTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, c.cfg.QueueStopTimeout)
		defer cancel()
	}
	if err := c.pending.WaitForCapacity(wctx); err != nil {
		return errors.E(errors.ResourcesExhausted, "iocore: pending map backpressure", err)
	}
	w.SetState(bio.StateInLogSubmit)
	c.logQ.Put(w)
	select {
	case <-w.Done():
		return w.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read serves a read request directly off the data device, overlaid with
// any not-yet-flushed pending writes covering the same range (§4.4).
func (c *Core) Read(ctx context.Context, pos, length bio.Sector, dst []byte) error {
	off := int64(pos) * int64(c.cfg.LogicalBlockSize)
	if _, err := c.dataDev.ReadAt(dst, off); err != nil {
		return err
	}
	c.pending.Overlay(dst, pos, length, int(c.cfg.LogicalBlockSize))
	return nil
}

// Freeze increments the stopper counter (§5, §12). While the counter is
// above zero, the log submitter does not seal the partially filled open
// pack at the end of each bulk; packs that Push closes at a flush, size or
// ring-wrap boundary are still sealed and written. Freeze returns at once:
// it does not wait for started writes to complete or for GC.
func (c *Core) Freeze() { atomic.AddInt32(&c.freezeCnt, 1) }

// Melt decrements the stopper counter; the log submitter resumes once it
// reaches zero.
func (c *Core) Melt() {
	if atomic.AddInt32(&c.freezeCnt, -1) < 0 {
		atomic.StoreInt32(&c.freezeCnt, 0)
	}
}

func (c *Core) frozen() bool { return atomic.LoadInt32(&c.freezeCnt) > 0 }

// IsReadOnly reports whether the core has transitioned to read-only mode
// after a log-device IO failure (§7).
func (c *Core) IsReadOnly() bool { return c.flags.bits.Test(coreReadOnly) }

// IsLogOverflow reports whether the ring buffer has exceeded its capacity
// (§3 invariant, §7).
func (c *Core) IsLogOverflow() bool { return c.flags.bits.Test(coreLogOverflow) }

// ClearLogOverflow resets the log-overflow condition once an operator has
// confirmed the oldest cursor has room to advance again.
func (c *Core) ClearLogOverflow() { c.flags.bits.Clear(coreLogOverflow) }

// FlushAll blocks until the permanent cursor covers the latest cursor as it
// stood at the call, that is, every pack sealed before this call, running
// that wait in an errgroup. It does not wait for data-device IO, and a
// wrapper still held in the builder's open pack is not covered.
func (c *Core) FlushAll(ctx context.Context) error {
	target := c.cursors.snapshot().Latest
	var g errgroup.Group
	g.Go(func() error {
		return c.cursors.waitForLogPermanent(ctx, target, c.cfg.LogFlushInterval, uint64(c.cfg.MaxLogpackPB), c.logDev, c.setReadOnly)
	})
	return g.Wait()
}

func (c *Core) setReadOnly(err error) {
	c.flags.bits.Set(coreReadOnly)
	if c.hookRL.Allow() {
		c.hook("readonly: " + err.Error())
	}
	log.Error.Printf("iocore: entering read-only mode: %v", err)
}

func (c *Core) setLogOverflow() {
	c.flags.bits.Set(coreLogOverflow)
	if c.hookRL.Allow() {
		c.hook("log_overflow")
	}
	log.Error.Printf("iocore: log device ring buffer overflow")
}

// Stop cancels the workers' context, closes the stage queues, and waits for
// the worker goroutines and in-flight data-device IO goroutines to exit. The
// workers drain what is already queued before exiting; Stop does not itself
// complete any wrapper.
func (c *Core) Stop() {
	c.cancel()
	c.logQ.Close()
	c.dataQ.Close()
	c.gcQ.Close()
	c.wg.Wait()
	c.ioWG.Wait()
}
