// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package logpack_test

import (
	"testing"

	"github.com/grailbio/walb/logpack"
	"github.com/stretchr/testify/require"
)

func TestChecksumDeterministic(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	c1 := logpack.Checksum(data, 0x1234)
	c2 := logpack.Checksum(data, 0x1234)
	require.Equal(t, c1, c2)
	require.NotZero(t, c1)
}

func TestChecksumSaltChanges(t *testing.T) {
	data := make([]byte, 32)
	require.NotEqual(t, logpack.Checksum(data, 1), logpack.Checksum(data, 2))
}

func TestChecksumNeverZero(t *testing.T) {
	// An all-zero block with a zero salt folds to zero before the final
	// remap; it must come out as 0xFFFFFFFF, never 0.
	data := make([]byte, 16)
	require.Equal(t, uint32(0xFFFFFFFF), logpack.Checksum(data, 0))
}
