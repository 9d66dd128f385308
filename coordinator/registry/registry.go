// Package registry implements the coordinator's participant registry
// (component C2): an in-memory store partitioning tracked participants
// by lifecycle state, and the sole gatekeeper of state transitions.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaynetwork/xaynet-go/coordinator/heartbeat"
	"github.com/xaynetwork/xaynet-go/coordinator/id"
)

// State is a participant's position in the lifecycle DAG (§3).
type State int

const (
	// Unknown is the sentinel for an id the registry has never seen,
	// or has fully forgotten.
	Unknown State = iota
	// Waiting participants are tracked and eligible for the next
	// selection.
	Waiting
	// Selected participants were chosen for the current round and
	// have not yet submitted.
	Selected
	// Done participants submitted their contribution this round.
	Done
	// Ignored participants are excluded for the remainder of the
	// round.
	Ignored
	// DoneAndInactive participants submitted, then went silent.
	DoneAndInactive
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Selected:
		return "selected"
	case Done:
		return "done"
	case Ignored:
		return "ignored"
	case DoneAndInactive:
		return "done_and_inactive"
	default:
		return "unknown"
	}
}

// Errors surfaced by registry operations; see spec §7.
var (
	ErrInvalidTransition = errors.New("registry: invalid participant state transition")
	ErrClientNotFound    = errors.New("registry: client not found")
	ErrBackPressure      = errors.New("registry: too many pending heartbeat resets")
	ErrExpired           = errors.New("registry: heartbeat timer already expired")
	ErrAlreadyExists     = errors.New("registry: participant already tracked")
)

// transitions enumerates the DAG from spec §3: transitions[from][to]
// is true iff the move is valid. Anything absent is rejected.
var transitions = map[State]map[State]bool{
	Waiting:         {Selected: true},
	Selected:        {Done: true, Ignored: true},
	Done:            {Ignored: true, DoneAndInactive: true},
	DoneAndInactive: {Ignored: true},
}

// DefaultHeartbeatTimeout is used for newly (re-)created timers unless
// overridden via ResetHeartbeat.
const DefaultHeartbeatTimeout = 10 * time.Second

// activeParticipant is the bookkeeping the registry keeps for any
// participant in one of the four active partitions. DoneAndInactive
// participants carry no timer and are tracked only by id (§3
// ActiveParticipant).
type activeParticipant struct {
	resetTx chan time.Duration
	// fired is set to 1 by the timer goroutine strictly before it
	// posts to the expirations fan-in channel, so a concurrent
	// ResetHeartbeat can observe "the countdown already elapsed"
	// without a second, racy channel.
	fired int32
}

// Registry is the coordinator's single source of truth for
// participant lifecycle state. It is intended to be driven from a
// single goroutine (the coordinator's service loop, §5); the mutex
// below guards against accidental misuse rather than enabling
// concurrent writers.
type Registry struct {
	mu sync.Mutex

	waiting         map[id.ParticipantId]*activeParticipant
	selected        map[id.ParticipantId]*activeParticipant
	done            map[id.ParticipantId]*activeParticipant
	ignored         map[id.ParticipantId]*activeParticipant
	doneAndInactive map[id.ParticipantId]struct{}

	expirations chan id.ParticipantId
}

// New creates an empty Registry. expirationsBuf sizes the fan-in
// channel shared by every heartbeat timer; it should comfortably
// exceed the expected number of simultaneous expirations so that a
// timer's send never blocks behind a slow-draining service loop.
func New(expirationsBuf int) *Registry {
	return &Registry{
		waiting:         make(map[id.ParticipantId]*activeParticipant),
		selected:        make(map[id.ParticipantId]*activeParticipant),
		done:            make(map[id.ParticipantId]*activeParticipant),
		ignored:         make(map[id.ParticipantId]*activeParticipant),
		doneAndInactive: make(map[id.ParticipantId]struct{}),
		expirations:     make(chan id.ParticipantId, expirationsBuf),
	}
}

// Expirations returns the fan-in channel every heartbeat timer posts
// to on expiry. The service loop selects on it alongside incoming
// participant requests.
func (r *Registry) Expirations() <-chan id.ParticipantId {
	return r.expirations
}

// Register inserts pid into Waiting and returns the heartbeat.Timer
// the caller must spawn. It fails with ErrAlreadyExists unless pid is
// currently Unknown.
func (r *Registry) Register(pid id.ParticipantId) (*heartbeat.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stateOfLocked(pid) != Unknown {
		return nil, ErrAlreadyExists
	}

	p, timer := r.newActiveParticipantLocked(pid, DefaultHeartbeatTimeout)
	r.waiting[pid] = p
	return timer, nil
}

// StateOf is a total function: it returns Unknown for any id the
// registry does not currently track.
func (r *Registry) StateOf(pid id.ParticipantId) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stateOfLocked(pid)
}

func (r *Registry) stateOfLocked(pid id.ParticipantId) State {
	if _, ok := r.waiting[pid]; ok {
		return Waiting
	}
	if _, ok := r.selected[pid]; ok {
		return Selected
	}
	if _, ok := r.done[pid]; ok {
		return Done
	}
	if _, ok := r.ignored[pid]; ok {
		return Ignored
	}
	if _, ok := r.doneAndInactive[pid]; ok {
		return DoneAndInactive
	}
	return Unknown
}

// Contains reports whether pid is tracked in any partition.
func (r *Registry) Contains(pid id.ParticipantId) bool {
	return r.StateOf(pid) != Unknown
}

// IsActive reports whether pid is tracked and not DoneAndInactive.
func (r *Registry) IsActive(pid id.ParticipantId) bool {
	s := r.StateOf(pid)
	return s != Unknown && s != DoneAndInactive
}

// IsInactive reports whether pid is tracked as DoneAndInactive.
func (r *Registry) IsInactive(pid id.ParticipantId) bool {
	return r.StateOf(pid) == DoneAndInactive
}

// partitionLocked returns the map backing an active state. It panics
// for Unknown/DoneAndInactive, which are not simple partitions.
func (r *Registry) partitionLocked(s State) map[id.ParticipantId]*activeParticipant {
	switch s {
	case Waiting:
		return r.waiting
	case Selected:
		return r.selected
	case Done:
		return r.done
	case Ignored:
		return r.ignored
	default:
		panic("registry: not an active partition")
	}
}

// SetState validates (current, newState) against the §3 DAG and, if
// valid, moves pid accordingly. When the move reactivates a
// DoneAndInactive participant (the only such transition is
// DoneAndInactive -> Ignored), a fresh heartbeat.Timer is returned for
// the caller to spawn. ErrInvalidTransition leaves the registry
// unchanged.
func (r *Registry) SetState(pid id.ParticipantId, newState State) (*heartbeat.Timer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.stateOfLocked(pid)
	if !transitions[current][newState] {
		return nil, ErrInvalidTransition
	}

	if current == DoneAndInactive {
		// Only DoneAndInactive -> Ignored is valid per the DAG; re-entering
		// an active partition needs a brand new timer.
		delete(r.doneAndInactive, pid)
		p, timer := r.newActiveParticipantLocked(pid, DefaultHeartbeatTimeout)
		r.ignored[pid] = p
		return timer, nil
	}

	p := r.partitionLocked(current)[pid]
	delete(r.partitionLocked(current), pid)

	if newState == DoneAndInactive {
		r.closeTimerLocked(p)
		r.doneAndInactive[pid] = struct{}{}
		return nil, nil
	}

	r.partitionLocked(newState)[pid] = p
	return nil, nil
}

// ResetHeartbeat reschedules pid's heartbeat timer to fire after
// timeout from now. It fails with ErrClientNotFound if pid is absent
// or inactive, ErrBackPressure if the reset inbox is saturated, and
// ErrExpired if the timer already fired.
func (r *Registry) ResetHeartbeat(pid id.ParticipantId, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.activeParticipantLocked(pid)
	if p == nil {
		return ErrClientNotFound
	}
	if atomic.LoadInt32(&p.fired) == 1 {
		return ErrExpired
	}

	select {
	case p.resetTx <- timeout:
		return nil
	default:
		return ErrBackPressure
	}
}

func (r *Registry) activeParticipantLocked(pid id.ParticipantId) *activeParticipant {
	for _, s := range [...]State{Waiting, Selected, Done, Ignored} {
		if p, ok := r.partitionLocked(s)[pid]; ok {
			return p
		}
	}
	return nil
}

// WaitingIds returns a snapshot of every Waiting participant id.
func (r *Registry) WaitingIds() []id.ParticipantId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keysOf(r.waiting)
}

// SelectedIds returns a snapshot of every Selected participant id.
func (r *Registry) SelectedIds() []id.ParticipantId {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keysOf(r.selected)
}

// DoneCount returns the number of participants currently Done, used
// by the round state machine to gate phase advancement.
func (r *Registry) DoneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.done)
}

// IgnoredCount returns the number of participants currently Ignored.
func (r *Registry) IgnoredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ignored)
}

// InactiveCount returns the number of participants currently
// DoneAndInactive.
func (r *Registry) InactiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.doneAndInactive)
}

// BeginNewRound implements the Idle -> NewRound bulk reset (§4.4.1):
// every Selected, Done or Ignored participant returns to Waiting
// (keeping its live timer), and every DoneAndInactive participant is
// forgotten outright. This is a system-level reset, not a
// participant-driven transition, so it does not consult the §3 DAG.
func (r *Registry) BeginNewRound() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, src := range [...]State{Selected, Done, Ignored} {
		part := r.partitionLocked(src)
		for pid, p := range part {
			delete(part, pid)
			r.waiting[pid] = p
		}
	}

	for pid := range r.doneAndInactive {
		delete(r.doneAndInactive, pid)
	}
}

// Forget removes pid entirely, regardless of which active partition it
// is in, cancelling its heartbeat timer. It is a no-op if pid is
// Unknown or DoneAndInactive. Unlike SetState, this is not one of the
// §3 DAG transitions: it implements the HeartbeatExpired effect's
// "remove entirely" rule (§4.5) for participants that went silent
// without ever submitting this round.
func (r *Registry) Forget(pid id.ParticipantId) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range [...]State{Waiting, Selected, Ignored, Done} {
		part := r.partitionLocked(s)
		if p, ok := part[pid]; ok {
			delete(part, pid)
			r.closeTimerLocked(p)
			return
		}
	}
}

func (r *Registry) newActiveParticipantLocked(pid id.ParticipantId, timeout time.Duration) (*activeParticipant, *heartbeat.Timer) {
	resetTx := make(chan time.Duration, heartbeat.ResetInboxCapacity)
	p := &activeParticipant{resetTx: resetTx}
	timer := heartbeat.New(pid, timeout, r.expirations, resetTx, &p.fired)
	return p, timer
}

func (r *Registry) closeTimerLocked(p *activeParticipant) {
	close(p.resetTx)
}

func keysOf(m map[id.ParticipantId]*activeParticipant) []id.ParticipantId {
	out := make([]id.ParticipantId, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
