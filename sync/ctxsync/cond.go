// Copyright 2022 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package ctxsync

import (
	"context"
	"sync"
)

// Cond is a condition variable whose Wait can also be interrupted by a
// context. Unlike sync.Cond, the zero value is not ready to use; construct
// one with NewCond.
type Cond struct {
	L    sync.Locker
	cond *sync.Cond
}

// NewCond returns a new Cond associated with locker l. The caller must hold
// l when calling Wait, Signal or Broadcast, exactly as with sync.Cond.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l, cond: sync.NewCond(l)}
}

// Wait atomically unlocks c.L and suspends the calling goroutine, exactly as
// sync.Cond.Wait does. It relocks c.L before returning. If ctx is done
// before the condition is signaled, Wait relocks c.L and returns ctx.Err().
func (c *Cond) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stopped := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			c.L.Lock()
			c.cond.Broadcast()
			c.L.Unlock()
		case <-stopped:
		}
	}()
	c.cond.Wait()
	close(stopped)
	<-watcherDone
	return ctx.Err()
}

// Signal wakes one goroutine waiting on c, if any.
func (c *Cond) Signal() { c.cond.Signal() }

// Broadcast wakes all goroutines waiting on c.
func (c *Cond) Broadcast() { c.cond.Broadcast() }
