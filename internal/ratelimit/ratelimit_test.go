// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ratelimit_test

import (
	"testing"
	"time"

	"github.com/grailbio/walb/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

func TestAllowBurstThenBlocks(t *testing.T) {
	l := ratelimit.New(time.Hour, 2)
	require.True(t, l.Allow())
	require.True(t, l.Allow())
	require.False(t, l.Allow())
}

func TestAllowZeroBurstNeverAllows(t *testing.T) {
	l := ratelimit.New(time.Hour, 0)
	require.False(t, l.Allow())
}
