// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore

import (
	"context"
	"sync"
	"time"

	"github.com/grailbio/walb/device"
	"github.com/grailbio/walb/errors"
	"github.com/grailbio/walb/lsn"
	"github.com/grailbio/walb/retry"
	"github.com/grailbio/walb/sync/ctxsync"
)

// batchRetryPolicy paces wait_for_log_permanent's batching retry (§4.7 step
//2) with a short, bounded backoff rather than a busy loop.
var batchRetryPolicy = retry.Backoff(time.Millisecond, 20*time.Millisecond, 1.5)

// Snapshot is a point-in-time copy of every cursor, exposed for tests and
// diagnostics (§3, §8 invariant 1).
type Snapshot struct {
	Oldest, Written, Permanent, Completed, Flush, Latest lsn.T
}

// cursors implements the LSN Cursor Manager (§4.7): the six monotonic
// cursors ordered oldest <= written <= permanent <= completed <= flush <=
// latest, all guarded by one lock, with wait_for_log_permanent's batched
// flush-promotion algorithm.
type cursors struct {
	mu   sync.Mutex
	cond *ctxsync.Cond

	oldest, written, permanent, completed, flush, latest lsn.T
	flushLsid                                             lsn.T
	lastFlushAt                                            time.Time
}

func newCursors() *cursors {
	c := &cursors{lastFlushAt: time.Time{}}
	c.cond = ctxsync.NewCond(&c.mu)
	return c
}

func (c *cursors) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{c.oldest, c.written, c.permanent, c.completed, c.flush, c.latest}
}

// advanceLatest reserves [latest, latest+n) for a newly sealed pack and
// returns the LSN the pack starts at.
func (c *cursors) advanceLatest(n uint64) lsn.T {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := c.latest
	c.latest = c.latest.Add(n)
	c.cond.Broadcast()
	return start
}

func (c *cursors) setCompleted(l lsn.T) {
	c.mu.Lock()
	if l > c.completed {
		c.completed = l
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *cursors) setWritten(l lsn.T) {
	c.mu.Lock()
	if l > c.written {
		c.written = l
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *cursors) setOldest(l lsn.T) {
	c.mu.Lock()
	if l > c.oldest {
		c.oldest = l
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// setPermanentAtLeast advances permanent (and flush) to l if that's forward
// progress, without issuing a device flush. Nothing in this package calls
// it; submitPack promotes permanent through waitForLogPermanent.
func (c *cursors) setPermanentAtLeast(l lsn.T) {
	c.mu.Lock()
	if l > c.permanent {
		c.permanent = l
	}
	if l > c.flush {
		c.flush = l
	}
	c.cond.Broadcast()
	c.mu.Unlock()
}

// ringExceeded reports whether latest-oldest exceeds ringSize (§3 invariant,
// log-overflow condition).
func (c *cursors) ringExceeded(ringSize uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest.Sub(c.oldest) > ringSize
}

// waitForLogPermanent implements §4.7's algorithm. logDev is flushed when
// promotion actually occurs; onFlushErr is invoked (to set read-only) if
// that flush fails. If interval == 0, permanent is promoted to latest
// immediately with no device flush (test mode, consistency not required).
func (c *cursors) waitForLogPermanent(ctx context.Context, target lsn.T, interval time.Duration, intervalPB uint64, logDev device.BlockDevice, onFlushErr func(error)) error {
	if interval == 0 {
		c.mu.Lock()
		if c.latest > c.permanent {
			c.permanent = c.latest
		}
		if c.latest > c.flush {
			c.flush = c.latest
		}
		c.flushLsid = c.latest
		c.cond.Broadcast()
		c.mu.Unlock()
		return nil
	}

	for retries := 0; ; retries++ {
		c.mu.Lock()
		if c.permanent >= target {
			c.mu.Unlock()
			return nil
		}
		sinceLastFlush := time.Since(c.lastFlushAt)
		behind := target.Sub(c.flushLsid)
		if sinceLastFlush < interval && behind < intervalPB {
			c.mu.Unlock()
			if err := retry.Wait(ctx, batchRetryPolicy, retries); err != nil {
				return err
			}
			continue
		}
		latest := c.latest
		c.mu.Unlock()

		if err := logDev.Flush(); err != nil {
			onFlushErr(errors.E(errors.Unavailable, "iocore: log device flush failed", err))
			return err
		}

		c.mu.Lock()
		c.flushLsid = latest
		c.lastFlushAt = time.Now()
		if latest > c.permanent {
			c.permanent = latest
		}
		if latest > c.flush {
			c.flush = latest
		}
		c.cond.Broadcast()
		c.mu.Unlock()
		return nil
	}
}
