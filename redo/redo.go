// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package redo implements the redo engine (§4.9): it replays a serialized
// WalB log stream (package walblog's container format wrapping a sequence
// of package logpack headers and their payload blocks) against a data
// device, applying writes in log order so that an overlapping later write
// always wins, while submitting non-overlapping writes concurrently up to
// a bounded in-flight byte budget.
//
// It does not replicate the pending map's read-overlay semantics (§9 open
// question: the redo engine only ever runs offline against a quiescent
// data device, so there is no concurrent reader to serve); it does reuse
// the overlap table to serialize genuinely overlapping writes, the same
// package the live write pipeline uses for the same purpose.
package redo

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/grailbio/walb/bio"
	"github.com/grailbio/walb/device"
	"github.com/grailbio/walb/errors"
	"github.com/grailbio/walb/limiter"
	"github.com/grailbio/walb/logpack"
	"github.com/grailbio/walb/lsn"
	"github.com/grailbio/walb/overlap"
	"github.com/grailbio/walb/sync/multierror"
	"github.com/grailbio/walb/sync/workerpool"
	"github.com/grailbio/walb/walblog"
	"v.io/x/lib/vlog"
)

// mergeMaxBytes bounds how large a run of contiguous Exist records is
// merged into a single data-device write, matching the 1MiB ceiling
// wlredo.cpp applies to its own IO merging.
const mergeMaxBytes = 1 << 20

// Engine replays a log stream against a data device.
type Engine struct {
	dataDev     device.BlockDevice
	pbs         uint32
	lbs         uint32
	budget      *limiter.Limiter
	concurrency int

	mu      sync.Mutex
	waiting map[*bio.Wrapper]pendingTask // overlap-blocked tasks, keyed by their wrapper
}

type pendingTask struct {
	task workerpool.Task
	tg   *workerpool.TaskGroup
}

// New returns an Engine that writes to dataDev, bounding in-flight payload
// bytes to maxInFlightBytes and submitting writes with up to concurrency
// workers (grounded on sync/workerpool, as the teacher uses it for bounded
// parallel fan-out).
func New(dataDev device.BlockDevice, maxInFlightBytes, concurrency int) *Engine {
	budget := limiter.New()
	budget.Release(maxInFlightBytes)
	return &Engine{
		dataDev:     dataDev,
		budget:      budget,
		concurrency: concurrency,
		waiting:     make(map[*bio.Wrapper]pendingTask),
	}
}

// mergedWrite is a run of one or more contiguous Exist records folded into
// a single data-device write.
type mergedWrite struct {
	offsetLB uint64
	data     []byte
}

type writeTask struct {
	e   *Engine
	mw  mergedWrite
	w   *bio.Wrapper
	tbl *overlap.Table
}

func (t writeTask) Do(grp *workerpool.TaskGroup) error {
	defer t.e.budget.Release(len(t.mw.data))
	off := int64(t.mw.offsetLB) * int64(t.e.lbs)
	_, err := t.e.dataDev.WriteAt(t.mw.data, off)
	t.e.releaseWaiters(t.tbl, t.w)
	return err
}

// discardTask applies one Discard record via the data device's discard
// primitive, the same overlap-serialized shape as writeTask but with no
// payload and so no in-flight byte budget to charge.
type discardTask struct {
	e      *Engine
	w      *bio.Wrapper
	off    int64
	length int64
	tbl    *overlap.Table
}

func (t discardTask) Do(grp *workerpool.TaskGroup) error {
	err := t.e.dataDev.Discard(t.off, t.length)
	t.e.releaseWaiters(t.tbl, t.w)
	return err
}

// releaseWaiters marks w complete in tbl and enqueues any successor that was
// only waiting behind w.
func (e *Engine) releaseWaiters(tbl *overlap.Table, w *bio.Wrapper) {
	ready := tbl.Complete(w)
	e.mu.Lock()
	var toRun []pendingTask
	for _, next := range ready {
		if pt, ok := e.waiting[next]; ok {
			delete(e.waiting, next)
			toRun = append(toRun, pt)
		}
	}
	e.mu.Unlock()
	for _, pt := range toRun {
		pt.tg.Enqueue(pt.task, true)
	}
}

// Run replays every logpack in r (a walblog stream) against the data
// device, returning the LSN of the last logpack successfully applied.
func (e *Engine) Run(ctx context.Context, r io.Reader) (lsn.T, error) {
	hdr, err := walblog.ReadHeader(r)
	if err != nil {
		return lsn.Invalid, errors.E(errors.Integrity, "redo: reading stream header", err)
	}
	e.pbs = hdr.PhysicalBlockSize
	e.lbs = 512 // WalB's logical block size is fixed at 512 bytes on the wire.

	pool := workerpool.New(ctx, e.concurrency)
	errs := multierror.NewMultiError(64)
	tg := pool.NewTaskGroup("redo", errs)
	tbl := overlap.New()

	var lastLsid lsn.T
	for {
		headerBuf := make([]byte, e.pbs)
		if _, err := io.ReadFull(r, headerBuf); err != nil {
			if err == io.EOF {
				break
			}
			return lastLsid, errors.E(errors.Integrity, "redo: short logpack header", err)
		}
		h, err := logpack.Decode(headerBuf, hdr.LogChecksumSalt)
		if err != nil {
			return lastLsid, err
		}
		if err := e.applyPack(ctx, h, r, tg, tbl); err != nil {
			return lastLsid, err
		}
		lastLsid = h.Lsid
	}

	tg.Wait()
	pool.Wait()
	if errs.Error() != "" {
		return lastLsid, errs
	}
	return lastLsid, nil
}

// applyPack reads one pack's payload blocks off r and submits its Exist
// records' writes, merging contiguous ones, respecting the in-flight byte
// budget, and waiting for any earlier in-flight write this pack's records
// overlap before letting a later one land (redo's writes must apply in log
// order, so an overlap always blocks the later write rather than racing
// it).
func (e *Engine) applyPack(ctx context.Context, h *logpack.Header, r io.Reader, tg *workerpool.TaskGroup, tbl *overlap.Table) error {
	ratio := e.pbs / e.lbs
	payload := make([]byte, int(h.TotalIOSizePB)*int(e.pbs))
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return errors.E(errors.Integrity, "redo: short logpack payload", err)
		}
	}

	var pending []logpack.Record
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		mw := mergeRecords(pending, payload, ratio, e.pbs)
		pending = pending[:0]
		return e.submitMerged(ctx, mw, tg, tbl)
	}

	for _, rec := range h.Records {
		switch {
		case rec.Discard():
			if err := flush(); err != nil {
				return err
			}
			if err := e.submitDiscard(ctx, rec, tg, tbl); err != nil {
				return err
			}
			continue
		case !rec.Exist():
			// Padding: reserves ring space only, no data-device effect.
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if len(pending) > 0 {
			last := pending[len(pending)-1]
			contiguous := uint64(last.OffsetLB)+uint64(last.IOSizeLB) == uint64(rec.OffsetLB)
			size := uint64(rec.IOSizeLB) * uint64(e.lbs)
			for _, p := range pending {
				size += uint64(p.IOSizeLB) * uint64(e.lbs)
			}
			if !contiguous || size > mergeMaxBytes {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		pending = append(pending, rec)
	}
	return flush()
}

func mergeRecords(recs []logpack.Record, payload []byte, ratio, pbs uint32) mergedWrite {
	first := recs[0]
	var buf bytes.Buffer
	for _, rec := range recs {
		start := int(rec.LsidLocal-1) * int(pbs)
		n := int(rec.PhysicalBlocks(ratio)) * int(pbs)
		block := payload[start : start+n]
		buf.Write(block[:rec.IOSizeLB*512])
	}
	return mergedWrite{offsetLB: first.OffsetLB, data: buf.Bytes()}
}

func (e *Engine) submitMerged(ctx context.Context, mw mergedWrite, tg *workerpool.TaskGroup, tbl *overlap.Table) error {
	if err := e.budget.Acquire(ctx, len(mw.data)); err != nil {
		return errors.E(errors.Canceled, "redo: waiting for IO budget", err)
	}
	w := bio.New(bio.Sector(mw.offsetLB), bio.Sector(len(mw.data)/int(e.lbs)), bio.Write, mw.data, false, false)
	task := writeTask{e: e, mw: mw, w: w, tbl: tbl}

	vlog.VI(2).Infof("redo: applying write at lb=%d len=%d", mw.offsetLB, len(mw.data))

	// A write whose range overlaps an earlier, still in-flight write must
	// not submit until that predecessor completes -- redo's writes must
	// land in log order, the same invariant the live write pipeline's
	// overlap table enforces for concurrent submission. Insert returns
	// ready=false exactly when such a predecessor exists; the predecessor's
	// own writeTask.Do will enqueue this one once it finishes.
	if ready := tbl.Insert(w); !ready {
		e.mu.Lock()
		e.waiting[w] = pendingTask{task: task, tg: tg}
		e.mu.Unlock()
		return nil
	}
	if !tg.Enqueue(task, true) {
		return errors.E(errors.ResourcesExhausted, "redo: worker pool queue full")
	}
	return nil
}

// submitDiscard issues rec's discard against the data device, respecting
// the same overlap-serialization discipline as a write: it carries no
// payload, so it does not draw on the in-flight byte budget.
func (e *Engine) submitDiscard(ctx context.Context, rec logpack.Record, tg *workerpool.TaskGroup, tbl *overlap.Table) error {
	w := bio.New(bio.Sector(rec.OffsetLB), bio.Sector(rec.IOSizeLB), bio.Write, nil, false, true)
	off := int64(rec.OffsetLB) * int64(e.lbs)
	length := int64(rec.IOSizeLB) * int64(e.lbs)
	task := discardTask{e: e, w: w, off: off, length: length, tbl: tbl}

	vlog.VI(2).Infof("redo: applying discard at lb=%d len_lb=%d", rec.OffsetLB, rec.IOSizeLB)

	if ready := tbl.Insert(w); !ready {
		e.mu.Lock()
		e.waiting[w] = pendingTask{task: task, tg: tg}
		e.mu.Unlock()
		return nil
	}
	if !tg.Enqueue(task, true) {
		return errors.E(errors.ResourcesExhausted, "redo: worker pool queue full")
	}
	return nil
}
