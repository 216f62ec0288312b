// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore

import (
	"context"
	"sync"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/lsn"
	"v.io/x/lib/vlog"
)

// gcEntry tracks one sealed pack's reclaim state: how many of its wrappers
// have reached GC, out of how many it carries. Packs are registered and
// retired in LSN order (the builder seals them in order), so the written
// cursor only ever needs to inspect the head of gcTracker.outstanding --
// the same batched-drain-then-advance-one-cursor shape as a segment-based
// commit log retiring its oldest segment.
type gcEntry struct {
	lsid  lsn.T
	next  lsn.T // this pack's nextLsid(): written advances to here once done
	total int
	done  int
}

type gcTracker struct {
	mu          sync.Mutex
	outstanding []*gcEntry
}

func newGCTracker() *gcTracker { return &gcTracker{} }

// register records a newly sealed pack's wrapper count so its wrappers can
// be matched back to it as they reach GC. Packs with no wrappers at all
// (padding-only, sealed when a ring wrap is hit on an empty open pack, or
// genuinely empty) are skipped.
func (t *gcTracker) register(p *Pack) {
	if len(p.wrappers) == 0 {
		return
	}
	t.mu.Lock()
	t.outstanding = append(t.outstanding, &gcEntry{lsid: p.Lsid(), next: p.advanceTarget(), total: len(p.wrappers)})
	t.mu.Unlock()
}

// complete marks one of lsid's wrappers as GC'd and returns the new written
// LSN if the head of the tracker fully retired, or (0, false) otherwise.
func (t *gcTracker) complete(lsid lsn.T) (lsn.T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.outstanding {
		if e.lsid == lsid {
			e.done++
			break
		}
	}
	advanced := false
	var nextLsid lsn.T
	for len(t.outstanding) > 0 && t.outstanding[0].done >= t.outstanding[0].total {
		nextLsid = t.outstanding[0].next
		advanced = true
		t.outstanding = t.outstanding[1:]
	}
	return nextLsid, advanced
}

// runGC is the GC worker role (§4.8): it drains wrappers that have
// completed their data-device IO, retires their pack's reclaim entry once
// every wrapper it carries has reached GC, and advances the written cursor
// to that pack's next LSN. Reclaiming the ring space itself (advancing
// oldest) is a checkpoint-worker concern, out of scope here (§1).
func (c *Core) runGC(ctx context.Context) {
	defer c.wg.Done()
	vlog.VI(2).Infof("iocore: GC worker starting")
	defer vlog.VI(2).Infof("iocore: GC worker stopped")

	for {
		items := c.gcQ.GetBulk(c.cfg.NIoBulk)
		if items == nil {
			return
		}
		for _, it := range items {
			w := it.(*bio.Wrapper)
			w.SetState(bio.StateGC)
			if nextLsid, advanced := c.gc.complete(w.LSID()); advanced {
				c.cursors.setWritten(nextLsid)
			}
		}
	}
}
