// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package syncqueue

import (
	"sync"
)

// FIFO is a first-in, first-out producer-consumer queue. Thread safe.
//
// The three iocore worker goroutines (log submitter, data stage, GC) each
// drain one of these: enqueue order must equal LSN assignment
// order, so a FIFO is required where a LIFO would reorder work and violate
// that invariant.
type FIFO struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []interface{}
	closed bool
}

// NewFIFO creates an empty FIFO queue.
func NewFIFO() *FIFO {
	q := &FIFO{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put adds the object to the tail of the queue.
func (q *FIFO) Put(v interface{}) {
	q.mu.Lock()
	q.queue = append(q.queue, v)
	q.cond.Signal()
	q.mu.Unlock()
}

// Close informs the queue that no more objects will be added via Put. Any
// items already queued remain available to Get/GetBulk.
func (q *FIFO) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Get removes and returns the oldest object in the queue. It blocks the
// caller if the queue is empty and not closed; it returns ok=false once the
// queue is closed and empty.
func (q *FIFO) Get() (v interface{}, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.queue) == 0 {
		q.cond.Wait()
	}
	if len(q.queue) == 0 {
		return nil, false
	}
	v, q.queue = q.queue[0], q.queue[1:]
	return v, true
}

// GetBulk removes and returns up to max items from the head of the queue,
// blocking until at least one is available (or the queue is closed and
// drained). This mirrors the worker model in iocore, which drains its queue
// "in bulks" before re-arming or going idle.
func (q *FIFO) GetBulk(max int) []interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.queue) == 0 {
		q.cond.Wait()
	}
	if len(q.queue) == 0 {
		return nil
	}
	n := max
	if n > len(q.queue) || n <= 0 {
		n = len(q.queue)
	}
	items := append([]interface{}(nil), q.queue[:n]...)
	q.queue = q.queue[n:]
	return items
}

// Len returns the number of items currently queued.
func (q *FIFO) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
