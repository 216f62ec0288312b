// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bio_test

import (
	"testing"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/interval"
	"github.com/grailbio/walb/lsn"
	"github.com/stretchr/testify/require"
)

func TestWrapperLifecycle(t *testing.T) {
	w := bio.New(10, 8, bio.Write, []byte("12345678"), false, false)
	require.Equal(t, bio.StateNew, w.State())
	require.Equal(t, interval.Interval{Start: 10, Limit: 18}, w.Range())

	w.SetState(bio.StateInLogSubmit)
	w.SetLSID(lsn.T(99))
	w.SetState(bio.StateInLogWait)
	w.SetState(bio.StatePrepared)
	w.SetState(bio.StateInDataSubmit)
	w.SetState(bio.StateSubmitted)
	w.SetState(bio.StateCompleted)
	w.SetState(bio.StateGC)
	require.Equal(t, lsn.T(99), w.LSID())

	select {
	case <-w.Done():
		t.Fatal("wrapper should not be done before Complete")
	default:
	}
	w.Complete(nil)
	<-w.Done()
	require.NoError(t, w.Err())
}

func TestWrapperInvalidTransitionPanics(t *testing.T) {
	w := bio.New(0, 1, bio.Write, nil, false, false)
	require.Panics(t, func() { w.SetState(bio.StatePrepared) })
}

func TestWrapperOverlapCount(t *testing.T) {
	w := bio.New(0, 1, bio.Write, nil, false, false)
	w.IncOverlap()
	w.IncOverlap()
	require.False(t, w.DecOverlap())
	require.True(t, w.DecOverlap())
}

func TestWrapperSkipDataIO(t *testing.T) {
	w := bio.New(0, 1, bio.Write, nil, false, false)
	require.False(t, w.SkipDataIO())
	w.MarkSkipDataIO()
	require.True(t, w.SkipDataIO())
}

func TestWrapperClone(t *testing.T) {
	w := bio.New(5, 3, bio.Write, []byte{1, 2, 3}, true, false)
	w.SetLSID(lsn.T(7))
	c := w.Clone()
	require.Equal(t, w.Pos, c.Pos)
	require.Equal(t, w.Len, c.Len)
	require.Equal(t, w.Flush, c.Flush)
	require.Equal(t, lsn.T(7), c.LSID())
	c.Data[0] = 9
	require.Equal(t, byte(1), w.Data[0], "clone must own its data buffer")
}
