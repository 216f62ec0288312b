// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package interval provides a half-open interval type and a mutable,
// sorted-by-start index over a set of (possibly overlapping) intervals,
// supporting range queries bounded by the widest interval currently
// indexed.
//
// This is a sibling of grailbio/base's intervalmap: that package builds an
// immutable randomized interval tree once from a fixed slice of entries,
// which fits a batch workload but not the insert/delete-heavy access
// pattern of a pending-writes map or an in-flight overlap table, both of
// which churn continuously as writes arrive and complete. Index keeps the
// same Interval vocabulary but trades intervalmap's O(log n) balanced tree
// for a sorted slice with an O(n) insert/delete -- adequate at the
// concurrency depths a single WAL device sees, and considerably simpler to
// keep race-free under the frequent mutation this package requires.
package interval

import (
	"math"
	"sort"
)

// Key is the type for interval boundaries. In this module it is always a
// sector offset.
type Key = int64

// Interval defines a half-open interval, [Start, Limit).
type Interval struct {
	Start Key
	Limit Key
}

// Empty reports whether the interval contains no points.
func (i Interval) Empty() bool { return i.Start >= i.Limit }

// Len returns Limit-Start, or 0 if the interval is empty.
func (i Interval) Len() Key {
	if i.Empty() {
		return 0
	}
	return i.Limit - i.Start
}

// Intersects reports whether i and j share any point.
func (i Interval) Intersects(j Interval) bool {
	return !i.Empty() && !j.Empty() && i.Limit > j.Start && j.Limit > i.Start
}

// Intersect computes i ∩ j. The result may be empty.
func (i Interval) Intersect(j Interval) Interval {
	return Interval{maxKey(i.Start, j.Start), minKey(i.Limit, j.Limit)}
}

// Contains reports whether i fully contains j, i.e. j ⊆ i.
func (i Interval) Contains(j Interval) bool {
	return i.Start <= j.Start && j.Limit <= i.Limit
}

func minKey(a, b Key) Key {
	if a < b {
		return a
	}
	return b
}

func maxKey(a, b Key) Key {
	if a > b {
		return a
	}
	return b
}

// Entry is one interval stored in an Index, together with caller-defined
// data (a *bio.Wrapper in the pending map and overlap table).
type Entry struct {
	Interval Interval
	Data     interface{}
}

// Index is a mutable set of (possibly overlapping) Entries, kept sorted by
// Interval.Start, supporting range queries. It is not safe for concurrent
// use: callers (pending.Map, overlap.Table) serialize access with their own
// lock, because they need to perform read-modify-write sequences (e.g.
// insert-then-scan-for-fully-overwritten) atomically with respect to other
// operations.
type Index struct {
	entries []*Entry
	maxSpan Key // widest Interval.Len() currently indexed; bounds range scans.
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{}
}

// Len returns the number of entries in the index.
func (idx *Index) Len() int { return len(idx.entries) }

// MaxSpan returns the widest entry currently indexed. Range scans need only
// look back this far from a query's start to find every intersecting entry.
func (idx *Index) MaxSpan() Key { return idx.maxSpan }

// Insert adds e to the index, maintaining sort order by Start.
func (idx *Index) Insert(e *Entry) {
	i := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Interval.Start >= e.Interval.Start
	})
	idx.entries = append(idx.entries, nil)
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = e
	if n := e.Interval.Len(); n > idx.maxSpan {
		idx.maxSpan = n
	}
}

// Delete removes e (matched by pointer identity) from the index. It reports
// whether e was found.
func (idx *Index) Delete(e *Entry) bool {
	for i, cur := range idx.entries {
		if cur == e {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			if e.Interval.Len() == idx.maxSpan {
				idx.recomputeMaxSpan()
			}
			return true
		}
	}
	return false
}

func (idx *Index) recomputeMaxSpan() {
	var max Key
	for _, e := range idx.entries {
		if n := e.Interval.Len(); n > max {
			max = n
		}
	}
	idx.maxSpan = max
}

// lowerBound returns the index of the first entry whose Start is >= key.
func (idx *Index) lowerBound(key Key) int {
	return sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].Interval.Start >= key
	})
}

// Query appends to out every entry intersecting iv. The scan is bounded: it
// begins at the first entry whose Start could possibly still overlap iv
// given the widest indexed span (Start >= iv.Start-maxSpan) and stops once
// entries start at or past iv.Limit, since the slice is sorted by Start.
func (idx *Index) Query(iv Interval, out *[]*Entry) {
	*out = (*out)[:0]
	if iv.Empty() || len(idx.entries) == 0 {
		return
	}
	lo := iv.Start - idx.maxSpan
	if lo < math.MinInt64+1 {
		lo = math.MinInt64 + 1
	}
	start := idx.lowerBound(lo)
	for i := start; i < len(idx.entries); i++ {
		e := idx.entries[i]
		if e.Interval.Start >= iv.Limit {
			break
		}
		if e.Interval.Intersects(iv) {
			*out = append(*out, e)
		}
	}
}

// Any reports whether any indexed entry intersects iv.
func (idx *Index) Any(iv Interval) bool {
	var hits []*Entry
	idx.Query(iv, &hits)
	return len(hits) > 0
}

// Each calls f for every entry currently in the index, in Start order.
func (idx *Index) Each(f func(e *Entry)) {
	for _, e := range idx.entries {
		f(e)
	}
}
