// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package overlap implements the overlap table: it serializes data-device
// IOs whose sector ranges intersect, so that two writes to the same blocks
// always land on the data device in the order they arrived, even though
// the pipeline otherwise submits and completes IOs concurrently.
//
// Like package pending, it has no direct sibling in grailbio/base; it
// layers bio.Wrapper's overlapCount bookkeeping over package interval's
// Index, the way grailbio/base layers a cache eviction policy over a
// container package.
package overlap

import (
	"sync"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/interval"
)

// Table tracks the set of wrappers currently between the log device and
// data-device completion, so that a newly-submitted wrapper can discover
// which earlier, still in-flight wrappers it must wait behind.
type Table struct {
	mu  sync.Mutex
	idx *interval.Index
}

// New returns an empty Table.
func New() *Table {
	return &Table{idx: interval.NewIndex()}
}

// Insert adds w to the table, incrementing w's overlap count once for each
// currently in-flight wrapper whose range intersects w's. It reports
// whether w has no overlapping predecessor and may be submitted to the
// data device immediately.
func (t *Table) Insert(w *bio.Wrapper) (ready bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wr := w.Range()
	var hits []*interval.Entry
	t.idx.Query(wr, &hits)
	n := 0
	for _, e := range hits {
		if e.Data.(*bio.Wrapper) != w {
			n++
		}
	}
	for i := 0; i < n; i++ {
		w.IncOverlap()
	}
	t.idx.Insert(&interval.Entry{Interval: wr, Data: w})
	return n == 0
}

// Complete removes w from the table once its data-device IO has finished,
// and returns the wrappers that arrived after w, overlapped its range, and
// are now free to submit because w was the last predecessor they were
// waiting on.
func (t *Table) Complete(w *bio.Wrapper) []*bio.Wrapper {
	t.mu.Lock()
	defer t.mu.Unlock()

	wr := w.Range()
	var hits []*interval.Entry
	t.idx.Query(wr, &hits)

	var ready []*bio.Wrapper
	var self *interval.Entry
	for _, e := range hits {
		other := e.Data.(*bio.Wrapper)
		if other == w {
			self = e
			continue
		}
		if other.DecOverlap() {
			ready = append(ready, other)
		}
	}
	if self != nil {
		t.idx.Delete(self)
	}
	return ready
}

// Len returns the number of wrappers currently in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idx.Len()
}
