// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ratelimit implements a minimal token-bucket rate limiter used to
// keep repeated events (log-overflow and read-only transitions, in
// particular) from spamming the configured event hook or log output.
//
// It is grounded on grailbio/base/limiter's token-bucket idiom, simplified
// to a non-blocking Allow check: callers here are reporting an event that
// has already happened (so there's nothing to wait for), not acquiring
// capacity before doing work.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter allows up to Burst events per Every duration, refilling
// continuously.
type Limiter struct {
	mu         sync.Mutex
	every      time.Duration
	burst      float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// New returns a Limiter permitting burst events, replenished at one event
// per every.
func New(every time.Duration, burst int) *Limiter {
	return &Limiter{
		every:      every,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow reports whether an event may proceed right now, consuming one
// token if so.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed > 0 && l.every > 0 {
		l.tokens += elapsed.Seconds() / l.every.Seconds()
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
		l.lastRefill = now
	}
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
