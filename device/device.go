// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package device implements the BlockDevice abstraction that the log and
// data device pipelines read and write through: positioned reads/writes,
// fdatasync-based flush, and discard, plus exclusive open so that two
// processes never drive the same log device concurrently.
//
// It is grounded in package flock (for exclusive open). Unlike flock's unix
// build, which takes its syscalls from the standard library's syscall
// package, it reaches for golang.org/x/sys/unix -- unix gives us
// Fallocate/FALLOC_FL_PUNCH_HOLE for Discard, which syscall does not expose
// on every platform.
package device

import (
	"context"
	"os"

	"github.com/grailbio/walb/errors"
	"github.com/grailbio/walb/flock"
	"golang.org/x/sys/unix"
)

// BlockDevice is a randomly-addressable, flushable byte-addressed device:
// the log device and data device are each opened as one of these.
type BlockDevice interface {
	// ReadAt reads len(p) bytes starting at byte offset off.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt writes p starting at byte offset off.
	WriteAt(p []byte, off int64) (int, error)
	// Discard marks [off, off+length) as no longer holding meaningful data.
	// It is advisory: implementations that can't discard may treat it as a
	// no-op.
	Discard(off, length int64) error
	// Flush ensures every write previously accepted by WriteAt is durable.
	Flush() error
	// Size returns the device's size in bytes.
	Size() (int64, error)
	// Close releases the device, including any exclusive lock held on it.
	Close() error
}

// File is a BlockDevice backed by an *os.File, exclusively locked for the
// duration it's open via a sibling ".lock" file (package flock).
type File struct {
	f    *os.File
	lock *flock.T
}

// Open opens path for reading and writing, taking an exclusive lock before
// returning so that at most one File, in any process, is ever open against
// the same path at a time -- the condition WalB's single-runner worker
// model assumes for each device.
func Open(ctx context.Context, path string) (*File, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(ctx); err != nil {
		return nil, errors.E(errors.Unavailable, "device: lock "+path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.E(errors.NotExist, "device: open "+path, err)
	}
	return &File{f: f, lock: lock}, nil
}

func (d *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.f.ReadAt(p, off)
	if err != nil {
		return n, errors.E(errors.Unavailable, "device: read", err)
	}
	return n, nil
}

func (d *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.f.WriteAt(p, off)
	if err != nil {
		return n, errors.E(errors.Unavailable, "device: write", err)
	}
	return n, nil
}

func (d *File) Discard(off, length int64) error {
	err := unix.Fallocate(int(d.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length)
	if err != nil {
		// Not every filesystem supports hole punching; discard is advisory,
		// so degrade to a no-op rather than failing the request.
		return nil
	}
	return nil
}

func (d *File) Flush() error {
	if err := unix.Fdatasync(int(d.f.Fd())); err != nil {
		return errors.E(errors.Unavailable, "device: fdatasync", err)
	}
	return nil
}

func (d *File) Size() (int64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, errors.E(errors.Unavailable, "device: stat", err)
	}
	return fi.Size(), nil
}

func (d *File) Close() error {
	err := d.f.Close()
	if uerr := d.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
