// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package device_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/walb/device"
	"github.com/stretchr/testify/require"
)

func TestFileReadWriteFlush(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))

	d, err := device.Open(context.Background(), path)
	require.NoError(t, err)
	defer d.Close()

	payload := []byte("hello, walb")
	_, err = d.WriteAt(payload, 512)
	require.NoError(t, err)
	require.NoError(t, d.Flush())

	got := make([]byte, len(payload))
	_, err = d.ReadAt(got, 512)
	require.NoError(t, err)
	require.Equal(t, payload, got)

	size, err := d.Size()
	require.NoError(t, err)
	require.EqualValues(t, 4096, size)
}

func TestFileExclusiveOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dev")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0644))

	d1, err := device.Open(context.Background(), path)
	require.NoError(t, err)
	defer d1.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err = device.Open(ctx, path)
	require.Error(t, err)
}

func TestMemDevice(t *testing.T) {
	m := device.NewMem(4096)
	_, err := m.WriteAt([]byte("abc"), 10)
	require.NoError(t, err)
	got := make([]byte, 3)
	_, err = m.ReadAt(got, 10)
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
	require.NoError(t, m.Discard(10, 3))
	m.ReadAt(got, 10)
	require.Equal(t, []byte{0, 0, 0}, got)
	require.NoError(t, m.Flush())
	require.Equal(t, 1, m.FlushCount)
}
