// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bio defines BioWrapper, the per-incoming-IO bookkeeping object
// that flows through every stage of the write pipeline: log submit, log
// wait, data submit, data wait, and finally GC. It plays the role that a
// plain request/response struct would in a simpler system, but needs its
// own package because pending, overlap, and iocore all need to refer to the
// same wrapper instance as it's threaded through their queues.
package bio

import (
	"fmt"
	"sync"

	"github.com/grailbio/walb/interval"
	"github.com/grailbio/walb/lsn"
)

// Sector is an offset or length in logical sectors.
type Sector = interval.Key

// Direction distinguishes a write from a read. WalB's write-ahead engine
// only logs writes; reads are served directly off the data device, checked
// against the pending map for not-yet-flushed overlapping writes.
type Direction int

const (
	Write Direction = iota
	Read
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// Wrapper is the bookkeeping record for one incoming bio (block IO
// request). It is created when a request arrives, threaded through the
// pending map, overlap table, logpack builder, and data device, and
// retired once the data device write (or an equivalent skip) completes.
type Wrapper struct {
	// Pos and Len describe the wrapper's extent on the data device, in
	// logical sectors. Len is 0 for a pure flush marker.
	Pos, Len Sector
	Dir      Direction
	// Data is the write payload, or the destination buffer for a read.
	// Wrapper owns this slice.
	Data []byte
	// Flush reports whether the originating request carried REQ_FLUSH/FUA:
	// the write (or marker) must reach the permanent cursor before it is
	// acknowledged.
	Flush bool
	// Discard reports whether this is a discard request: it is logged as
	// metadata only (package logpack's FlagDiscard), consuming no log
	// device payload blocks.
	Discard bool

	mu           sync.Mutex
	state        State
	lsid         lsn.T
	err          error
	overlapCount int
	skipDataIO   bool
	done         chan struct{}
}

// New returns a Wrapper for a write or discard request spanning
// [pos, pos+length) logical sectors.
func New(pos, length Sector, dir Direction, data []byte, flush, discard bool) *Wrapper {
	return &Wrapper{
		Pos:     pos,
		Len:     length,
		Dir:     dir,
		Data:    data,
		Flush:   flush,
		Discard: discard,
		state:   StateNew,
		done:    make(chan struct{}),
	}
}

// Range returns w's extent as a half-open sector interval, suitable for use
// with the pending map and overlap table.
func (w *Wrapper) Range() interval.Interval {
	return interval.Interval{Start: w.Pos, Limit: w.Pos + w.Len}
}

// State returns w's current lifecycle state.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetState advances w to s. It panics if s is not the state machine's
// successor to w's current state: out-of-order transitions indicate a bug
// in the pipeline stage driving the wrapper, not a condition callers should
// need to recover from.
func (w *Wrapper) SetState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if want, ok := validNext[w.state]; !ok || want != s {
		panic(fmt.Sprintf("bio: invalid transition %s -> %s", w.state, s))
	}
	w.state = s
}

// LSID returns the LSN assigned to w by the log submitter. It is only valid
// once w has left StateNew.
func (w *Wrapper) LSID() lsn.T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lsid
}

// SetLSID records the LSN the log submitter assigned to w.
func (w *Wrapper) SetLSID(l lsn.T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lsid = l
}

// IncOverlap increments w's overlap count -- the number of not-yet-complete
// wrappers whose range intersects w's, that arrived before w and must
// complete before w may submit to the data device (package overlap).
func (w *Wrapper) IncOverlap() {
	w.mu.Lock()
	w.overlapCount++
	w.mu.Unlock()
}

// DecOverlap decrements w's overlap count and reports whether it reached
// zero, meaning w is now free to submit.
func (w *Wrapper) DecOverlap() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.overlapCount--
	return w.overlapCount == 0
}

// MarkSkipDataIO records that w was fully overwritten by a later pending
// write before it reached the data device, so its data-device IO (if any)
// may be skipped entirely; w still needs to pass through GC once its
// overwriter completes.
func (w *Wrapper) MarkSkipDataIO() {
	w.mu.Lock()
	w.skipDataIO = true
	w.mu.Unlock()
}

// SkipDataIO reports whether w's data-device IO should be skipped.
func (w *Wrapper) SkipDataIO() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipDataIO
}

// Done returns a channel closed once w is fully resolved (see Complete).
func (w *Wrapper) Done() <-chan struct{} {
	return w.done
}

// Complete resolves w with err (nil on success) and closes its Done
// channel, waking any caller blocked on the original request.
func (w *Wrapper) Complete(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	close(w.done)
}

// Err returns the error Complete was called with, or nil.
func (w *Wrapper) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Clone returns a new Wrapper describing the same extent, LSID and payload
// as w, with a private copy of the payload bytes and its own independent
// state machine and Done channel.
func (w *Wrapper) Clone() *Wrapper {
	data := make([]byte, len(w.Data))
	copy(data, w.Data)
	c := New(w.Pos, w.Len, w.Dir, data, w.Flush, w.Discard)
	c.lsid = w.LSID()
	return c
}
