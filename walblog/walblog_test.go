// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package walblog_test

import (
	"bytes"
	"testing"

	"github.com/grailbio/walb/walblog"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	h := walblog.Header{PhysicalBlockSize: 4096, LogChecksumSalt: 0xdeadbeef}
	require.NoError(t, walblog.WriteHeader(&buf, h))
	got, err := walblog.ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestHeaderBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, walblog.WriteHeader(&buf, walblog.Header{PhysicalBlockSize: 4096}))
	corrupt := buf.Bytes()
	corrupt[0] ^= 0xff
	_, err := walblog.ReadHeader(bytes.NewReader(corrupt))
	require.Error(t, err)
}

func TestHeaderCorruptedChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, walblog.WriteHeader(&buf, walblog.Header{PhysicalBlockSize: 4096, LogChecksumSalt: 1}))
	corrupt := buf.Bytes()
	corrupt[9] ^= 0xff // flip a bit in PhysicalBlockSize without touching the checksum
	_, err := walblog.ReadHeader(bytes.NewReader(corrupt))
	require.Error(t, err)
}
