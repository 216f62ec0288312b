// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package iocore_test

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/device"
	"github.com/grailbio/walb/iocore"
	"github.com/grailbio/walb/walbcfg"
	"github.com/stretchr/testify/require"
)

func testConfig() walbcfg.Config {
	cfg := walbcfg.DefaultConfig()
	cfg.RingBufferSize = 256
	cfg.LogFlushInterval = 0 // promote permanent synchronously, no real fdatasync pacing
	return cfg
}

func TestSubmitSingleWrite(t *testing.T) {
	cfg := testConfig()
	logDev := device.NewMem(int64(cfg.RingBufferSize) * int64(cfg.PhysicalBlockSize))
	dataDev := device.NewMem(1 << 20)
	c := iocore.New(cfg, logDev, dataDev, nil)
	defer c.Stop()

	data := make([]byte, cfg.LogicalBlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	w := bio.New(0, bio.Sector(1), bio.Write, data, true, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Submit(ctx, w))

	got := make([]byte, len(data))
	require.NoError(t, c.Read(ctx, 0, bio.Sector(1), got))
	require.Equal(t, data, got)
}

func TestSubmitZeroLengthFlush(t *testing.T) {
	cfg := testConfig()
	logDev := device.NewMem(int64(cfg.RingBufferSize) * int64(cfg.PhysicalBlockSize))
	dataDev := device.NewMem(1 << 20)
	c := iocore.New(cfg, logDev, dataDev, nil)
	defer c.Stop()

	w := bio.New(0, 0, bio.Write, nil, true, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Submit(ctx, w))
}

func TestSubmitDiscard(t *testing.T) {
	cfg := testConfig()
	logDev := device.NewMem(int64(cfg.RingBufferSize) * int64(cfg.PhysicalBlockSize))
	dataDev := device.NewMem(1 << 20)
	c := iocore.New(cfg, logDev, dataDev, nil)
	defer c.Stop()

	w := bio.New(0, bio.Sector(8), bio.Write, nil, false, true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Submit(ctx, w))
}

// failingLogDevice always fails WriteAt, simulating a dead log device so
// the read-only transition (§7) can be exercised without real hardware.
type failingLogDevice struct {
	*device.Mem
}

func (f failingLogDevice) WriteAt(p []byte, off int64) (int, error) {
	return 0, errTestWriteFailed
}

var errTestWriteFailed = goerrors.New("simulated log device write failure")

func TestLogWriteFailureEntersReadOnly(t *testing.T) {
	cfg := testConfig()
	logDev := failingLogDevice{device.NewMem(int64(cfg.RingBufferSize) * int64(cfg.PhysicalBlockSize))}
	dataDev := device.NewMem(1 << 20)
	c := iocore.New(cfg, logDev, dataDev, nil)
	defer c.Stop()

	require.False(t, c.IsReadOnly())

	data := make([]byte, cfg.LogicalBlockSize)
	w := bio.New(0, bio.Sector(1), bio.Write, data, true, false)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Submit(ctx, w)
	require.Error(t, err)
	require.True(t, c.IsReadOnly())

	w2 := bio.New(0, bio.Sector(1), bio.Write, data, true, false)
	require.Error(t, c.Submit(ctx, w2))
}

func TestFreezeMeltDoesNotDeadlockFlushAll(t *testing.T) {
	cfg := testConfig()
	logDev := device.NewMem(int64(cfg.RingBufferSize) * int64(cfg.PhysicalBlockSize))
	dataDev := device.NewMem(1 << 20)
	c := iocore.New(cfg, logDev, dataDev, nil)
	defer c.Stop()

	c.Freeze()
	c.Melt()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.FlushAll(ctx))
}
