// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package device

import "sync"

// Mem is an in-memory BlockDevice, used by tests that exercise the log and
// data device pipelines without a real block device or file.
type Mem struct {
	mu    sync.Mutex
	bytes []byte

	FlushCount int
}

// NewMem returns a Mem of the given size, zero-filled.
func NewMem(size int64) *Mem {
	return &Mem{bytes: make([]byte, size)}
}

func (m *Mem) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(p, m.bytes[off:])
	return n, nil
}

func (m *Mem) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := copy(m.bytes[off:], p)
	return n, nil
}

func (m *Mem) Discard(off, length int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := off; i < off+length && i < int64(len(m.bytes)); i++ {
		m.bytes[i] = 0
	}
	return nil
}

func (m *Mem) Flush() error {
	m.mu.Lock()
	m.FlushCount++
	m.mu.Unlock()
	return nil
}

func (m *Mem) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.bytes)), nil
}

func (m *Mem) Close() error { return nil }
