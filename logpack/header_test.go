// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package logpack_test

import (
	"testing"

	"github.com/grailbio/walb/logpack"
	"github.com/grailbio/walb/lsn"
	"github.com/stretchr/testify/require"
)

const pbs = 4096

func TestHeaderRoundTrip(t *testing.T) {
	h := &logpack.Header{Lsid: lsn.T(42)}
	h.AppendExist(0, 8, 1000, 0xabcd, 1)
	h.AppendExist(1, 16, 2000, 0x1234, 2)
	h.AppendDiscard(100, 5000)

	buf, err := h.Encode(pbs, 0xdeadbeef)
	require.NoError(t, err)
	require.Len(t, buf, pbs)

	got, err := logpack.Decode(buf, 0xdeadbeef)
	require.NoError(t, err)
	require.Equal(t, h.Lsid, got.Lsid)
	require.Equal(t, h.TotalIOSizePB, got.TotalIOSizePB)
	require.Equal(t, h.Records, got.Records)
}

func TestHeaderPadding(t *testing.T) {
	h := &logpack.Header{Lsid: lsn.T(7)}
	h.AppendExist(0, 8, 0, 1, 1)
	h.AppendPadding(1, 3)
	require.Equal(t, uint16(1), h.NPadding)
	require.Equal(t, uint16(4), h.TotalIOSizePB)

	buf, err := h.Encode(pbs, 0)
	require.NoError(t, err)
	got, err := logpack.Decode(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint16(1), got.NPadding)
	require.True(t, got.Records[1].Padding())
}

func TestHeaderChecksumMismatch(t *testing.T) {
	h := &logpack.Header{Lsid: lsn.T(1)}
	h.AppendExist(0, 8, 0, 1, 1)
	buf, err := h.Encode(pbs, 0)
	require.NoError(t, err)
	buf[8] ^= 0xff // corrupt the lsid field
	_, err = logpack.Decode(buf, 0)
	require.Error(t, err)
}

func TestHeaderFullAndMaxRecords(t *testing.T) {
	max := logpack.MaxRecords(pbs)
	require.Greater(t, max, 0)
	h := &logpack.Header{}
	for i := 0; i < max; i++ {
		require.False(t, h.Full(pbs))
		h.AppendExist(uint16(i), 1, uint64(i), 0, 1)
	}
	require.True(t, h.Full(pbs))
}
