// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package interval_test

import (
	"testing"

	"github.com/grailbio/walb/interval"
	"github.com/stretchr/testify/require"
)

func TestIntersects(t *testing.T) {
	cases := []struct {
		a, b interval.Interval
		want bool
	}{
		{interval.Interval{0, 10}, interval.Interval{5, 15}, true},
		{interval.Interval{0, 10}, interval.Interval{10, 20}, false},
		{interval.Interval{0, 10}, interval.Interval{20, 30}, false},
		{interval.Interval{0, 10}, interval.Interval{0, 10}, true},
		{interval.Interval{5, 5}, interval.Interval{0, 10}, false}, // empty interval
	}
	for _, c := range cases {
		require.Equal(t, c.want, c.a.Intersects(c.b), "%v vs %v", c.a, c.b)
		require.Equal(t, c.want, c.b.Intersects(c.a), "%v vs %v (rev)", c.b, c.a)
	}
}

func TestContains(t *testing.T) {
	require.True(t, interval.Interval{0, 16}.Contains(interval.Interval{4, 12}))
	require.False(t, interval.Interval{0, 16}.Contains(interval.Interval{4, 20}))
}

func TestIndexQuery(t *testing.T) {
	idx := interval.NewIndex()
	e1 := &interval.Entry{Interval: interval.Interval{0, 8}, Data: "e1"}
	e2 := &interval.Entry{Interval: interval.Interval{4, 12}, Data: "e2"}
	e3 := &interval.Entry{Interval: interval.Interval{100, 108}, Data: "e3"}
	idx.Insert(e1)
	idx.Insert(e2)
	idx.Insert(e3)
	require.Equal(t, 3, idx.Len())
	require.Equal(t, interval.Key(8), idx.MaxSpan())

	var hits []*interval.Entry
	idx.Query(interval.Interval{6, 10}, &hits)
	require.ElementsMatch(t, []*interval.Entry{e1, e2}, hits)

	idx.Query(interval.Interval{50, 60}, &hits)
	require.Empty(t, hits)

	require.True(t, idx.Any(interval.Interval{0, 1}))
	require.False(t, idx.Any(interval.Interval{20, 30}))

	require.True(t, idx.Delete(e1))
	idx.Query(interval.Interval{0, 8}, &hits)
	require.ElementsMatch(t, []*interval.Entry{e2}, hits)
	require.False(t, idx.Delete(e1))
}

func TestIndexSortedInsert(t *testing.T) {
	idx := interval.NewIndex()
	var entries []*interval.Entry
	for _, start := range []interval.Key{50, 10, 30, 0, 40, 20} {
		e := &interval.Entry{Interval: interval.Interval{start, start + 5}}
		entries = append(entries, e)
		idx.Insert(e)
	}
	var prev interval.Key = -1
	idx.Each(func(e *interval.Entry) {
		require.True(t, e.Interval.Start >= prev)
		prev = e.Interval.Start
	})
}
