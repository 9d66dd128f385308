// Package heartbeat implements the coordinator's per-participant
// liveness timer (component C1 of the protocol).
//
// A Timer runs as an independent goroutine for the lifetime of one
// active participation. It has no knowledge of participant state; it
// only counts down and reports expiration, or silently terminates
// when its reset inbox is closed by the owner (the registry).
package heartbeat

import (
	"sync/atomic"
	"time"

	"github.com/xaynetwork/xaynet-go/coordinator/id"
)

// ResetInboxCapacity bounds the number of pending reset requests a
// timer buffers before the caller must observe BackPressure. A
// participant flooding the coordinator with heartbeats faster than
// the timer goroutine can drain them is treated as misbehaving, not
// retried transparently.
const ResetInboxCapacity = 10

// Timer counts down a single participant's heartbeat timeout.
type Timer struct {
	id          id.ParticipantId
	timeout     time.Duration
	expirations chan<- id.ParticipantId
	resets      <-chan time.Duration
	fired       *int32
}

// New constructs a Timer. The caller is responsible for spawning Run
// in its own goroutine; expirations is the fan-in channel shared by
// every live timer, and resets is the receiving end of a channel the
// caller (the registry) privately owns the send side of. fired, if
// non-nil, is atomically set to 1 immediately before the expiration is
// posted, letting the owner detect "the timer already fired" without
// a second round trip through the expirations channel (see the
// ResetHeartbeat/Expired race in spec §4.1).
func New(pid id.ParticipantId, timeout time.Duration, expirations chan<- id.ParticipantId, resets <-chan time.Duration, fired *int32) *Timer {
	return &Timer{
		id:          pid,
		timeout:     timeout,
		expirations: expirations,
		resets:      resets,
		fired:       fired,
	}
}

// Run blocks until the countdown elapses without a reset (in which
// case pid is sent on expirations) or the resets channel is closed
// (silent termination, no expiration is emitted).
func (t *Timer) Run() {
	clock := time.NewTimer(t.timeout)
	defer stopAndDrain(clock)

	for {
		select {
		case d, ok := <-t.resets:
			if !ok {
				// Owner dropped the inbox: cancellation, not expiration.
				return
			}
			stopAndDrain(clock)
			clock.Reset(d)
		case <-clock.C:
			if t.fired != nil {
				atomic.StoreInt32(t.fired, 1)
			}
			t.expirations <- t.id
			return
		}
	}
}

func stopAndDrain(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
