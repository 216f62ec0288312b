// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package overlap_test

import (
	"testing"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/overlap"
	"github.com/stretchr/testify/require"
)

func TestNonOverlappingReadyImmediately(t *testing.T) {
	tbl := overlap.New()
	w1 := bio.New(0, 4, bio.Write, nil, false, false)
	w2 := bio.New(8, 4, bio.Write, nil, false, false)
	require.True(t, tbl.Insert(w1))
	require.True(t, tbl.Insert(w2))
}

func TestOverlappingWaitsForPredecessor(t *testing.T) {
	tbl := overlap.New()
	w1 := bio.New(0, 8, bio.Write, nil, false, false)
	w2 := bio.New(4, 8, bio.Write, nil, false, false)
	require.True(t, tbl.Insert(w1))
	require.False(t, tbl.Insert(w2), "w2 overlaps still in-flight w1")

	ready := tbl.Complete(w1)
	require.Equal(t, []*bio.Wrapper{w2}, ready)

	require.Empty(t, tbl.Complete(w2))
}

func TestChainOfThreeOverlapping(t *testing.T) {
	tbl := overlap.New()
	w1 := bio.New(0, 4, bio.Write, nil, false, false)
	w2 := bio.New(2, 4, bio.Write, nil, false, false)
	w3 := bio.New(3, 4, bio.Write, nil, false, false)
	require.True(t, tbl.Insert(w1))
	require.False(t, tbl.Insert(w2))
	require.False(t, tbl.Insert(w3)) // overlaps both w1 and w2

	require.Equal(t, []*bio.Wrapper{w2}, tbl.Complete(w1)) // w2 is free; w3 still waits on w2
	ready := tbl.Complete(w2)
	require.Equal(t, []*bio.Wrapper{w3}, ready)
}
