// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pending implements the pending map: the set of writes that have
// been logged but have not yet completed on the data device, indexed by
// sector range so that a concurrent read can be overlaid with not-yet-
// flushed data, and so a write can discover which earlier, still-pending
// writes it fully overwrites.
//
// It has no direct sibling in grailbio/base; it is built on package
// interval (itself adapted from intervalmap) the way a cache or connection
// pool in grailbio/base would be built on a lower-level container package,
// guarded by a sync.Mutex paired with a ctxsync.Cond so that backpressure
// waiters can be woken -- and cancel out via context -- as entries drain.
package pending

import (
	"context"
	"sort"
	"sync"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/interval"
	"github.com/grailbio/walb/sync/ctxsync"
)

// Map is the pending map described above. The zero value is not usable;
// construct one with New.
type Map struct {
	mu   sync.Mutex
	cond *ctxsync.Cond

	idx            *interval.Index
	sectors        map[*bio.Wrapper]int64 // sectors each wrapper was charged toward pendingSectors
	pendingSectors int64
	maxSectors     int64
}

// New returns an empty Map that blocks writers once pendingSectors reaches
// maxSectors.
func New(maxSectors int64) *Map {
	m := &Map{
		idx:        interval.NewIndex(),
		sectors:    make(map[*bio.Wrapper]int64),
		maxSectors: maxSectors,
	}
	m.cond = ctxsync.NewCond(&m.mu)
	return m
}

// chargedSectors is the number of sectors w counts toward pendingSectors.
// Discard requests are charged a flat 1 sector regardless of their actual
// (often huge) length: this mirrors the WalB kernel module's own pending-
// sectors accounting for discard IOs, preserved here rather than "fixed" to
// count the true span, since it is observable, relied-upon behavior rather
// than an oversight.
func chargedSectors(w *bio.Wrapper) int64 {
	if w.Discard {
		return 1
	}
	return int64(w.Len)
}

// PendingSectors returns the current pending-sectors count.
func (m *Map) PendingSectors() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingSectors
}

// WaitForCapacity blocks until pendingSectors is below maxSectors, or ctx is
// done.
func (m *Map) WaitForCapacity(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.pendingSectors >= m.maxSectors {
		if err := m.cond.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Insert adds w to the pending map and returns the set of previously
// pending wrappers whose entire range is now covered by w -- i.e. writes w
// fully overwrites before they reached the data device. Those wrappers are
// removed from the map (their data-device IO is now moot) and marked via
// MarkSkipDataIO; the caller is responsible for letting them continue
// toward completion without issuing their IO.
func (m *Map) Insert(w *bio.Wrapper) []*bio.Wrapper {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []*interval.Entry
	wr := w.Range()
	m.idx.Query(wr, &hits)
	var overwritten []*bio.Wrapper
	for _, e := range hits {
		other := e.Data.(*bio.Wrapper)
		if other == w {
			continue
		}
		if wr.Contains(other.Range()) {
			m.idx.Delete(e)
			if n, ok := m.sectors[other]; ok {
				m.pendingSectors -= n
				delete(m.sectors, other)
			}
			other.MarkSkipDataIO()
			overwritten = append(overwritten, other)
		}
	}

	m.idx.Insert(&interval.Entry{Interval: wr, Data: w})
	n := chargedSectors(w)
	m.sectors[w] = n
	m.pendingSectors += n
	return overwritten
}

// Delete removes w from the pending map once its data-device IO has
// completed (or was skipped), releasing the sectors it was charged and
// waking any writer blocked in WaitForCapacity.
func (m *Map) Delete(w *bio.Wrapper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []*interval.Entry
	m.idx.Query(w.Range(), &hits)
	for _, e := range hits {
		if e.Data.(*bio.Wrapper) == w {
			m.idx.Delete(e)
			break
		}
	}
	if n, ok := m.sectors[w]; ok {
		m.pendingSectors -= n
		delete(m.sectors, w)
	}
	m.cond.Broadcast()
}

// Overlay fills dst, a buffer of length len*sectorSize representing the
// range [pos, pos+len) read from the data device, with any bytes covered by
// pending writes that overlap it -- so a concurrent read observes its own
// writes before they've reached the data device. Writes are applied in
// ascending LSN order, so a higher-LSN write always shadows a lower-LSN one
// across their overlap, regardless of the order idx.Query happens to return
// them in (it orders by sector start, not LSN).
func (m *Map) Overlay(dst []byte, pos, length bio.Sector, sectorSize int) {
	m.mu.Lock()
	var hits []*interval.Entry
	m.idx.Query(interval.Interval{Start: pos, Limit: pos + length}, &hits)
	writers := make([]*bio.Wrapper, 0, len(hits))
	for _, e := range hits {
		w := e.Data.(*bio.Wrapper)
		if w.Dir == bio.Write && !w.Discard && len(w.Data) > 0 {
			writers = append(writers, w)
		}
	}
	m.mu.Unlock()

	sort.Slice(writers, func(i, j int) bool { return writers[i].LSID() < writers[j].LSID() })

	for _, w := range writers {
		ov := w.Range().Intersect(interval.Interval{Start: pos, Limit: pos + length})
		if ov.Empty() {
			continue
		}
		srcOff := (ov.Start - w.Pos) * bio.Sector(sectorSize)
		dstOff := (ov.Start - pos) * bio.Sector(sectorSize)
		n := ov.Len() * bio.Sector(sectorSize)
		copy(dst[dstOff:dstOff+n], w.Data[srcOff:srcOff+n])
	}
}

// Len returns the number of wrappers currently in the pending map.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx.Len()
}
