// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bio

// State is the lifecycle stage of a Wrapper as it moves through the log and
// data device pipelines.
type State int

const (
	// StateNew is the initial state: the wrapper has been created from an
	// incoming request but has not yet been handed to the log submitter.
	StateNew State = iota
	// StateInLogSubmit: queued for, or being, written to the log device.
	StateInLogSubmit
	// StateInLogWait: the log-device write has been submitted; waiting for
	// it to complete (and, for FUA/flush wrappers, for the log to reach the
	// permanent cursor).
	StateInLogWait
	// StatePrepared: the log write (and any required flush) has completed;
	// the wrapper is ready to be dispatched to the data device.
	StatePrepared
	// StateInDataSubmit: queued for, or being, written to the data device.
	StateInDataSubmit
	// StateSubmitted: the data-device write has been submitted; waiting for
	// it to complete.
	StateSubmitted
	// StateCompleted: the data-device write has completed (or was skipped
	// because a later write fully overwrote it); the original caller has
	// been, or is about to be, notified.
	StateCompleted
	// StateGC: the wrapper has been removed from the pending map and
	// overlap table and counts toward retiring its pack; once every wrapper
	// of the oldest outstanding pack has reached GC, the written cursor
	// advances past that pack.
	StateGC
)

var stateNames = [...]string{
	StateNew:          "new",
	StateInLogSubmit:  "in_log_submit",
	StateInLogWait:    "in_log_wait",
	StatePrepared:     "prepared",
	StateInDataSubmit: "in_data_submit",
	StateSubmitted:    "submitted",
	StateCompleted:    "completed",
	StateGC:           "gc",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// validNext enumerates the state machine's allowed transitions. A Wrapper
// only ever moves forward; GC is absorbing.
var validNext = map[State]State{
	StateNew:          StateInLogSubmit,
	StateInLogSubmit:  StateInLogWait,
	StateInLogWait:    StatePrepared,
	StatePrepared:     StateInDataSubmit,
	StateInDataSubmit: StateSubmitted,
	StateSubmitted:    StateCompleted,
	StateCompleted:    StateGC,
}
