package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet-go/coordinator/id"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(16)
}

// P1: partitions stay disjoint after any sequence of operations.
func TestPartitionsDisjoint(t *testing.T) {
	r := newTestRegistry(t)

	a, b, c := id.New(), id.New(), id.New()
	for _, pid := range []id.ParticipantId{a, b, c} {
		_, err := r.Register(pid)
		require.NoError(t, err)
	}

	_, err := r.SetState(a, Selected)
	require.NoError(t, err)
	_, err = r.SetState(a, Done)
	require.NoError(t, err)
	_, err = r.SetState(b, Selected)
	require.NoError(t, err)
	_, err = r.SetState(b, Ignored)
	require.NoError(t, err)

	seen := map[id.ParticipantId]int{}
	for _, part := range []map[id.ParticipantId]*activeParticipant{r.waiting, r.selected, r.done, r.ignored} {
		for pid := range part {
			seen[pid]++
		}
	}
	for pid := range r.doneAndInactive {
		seen[pid]++
	}
	for pid, count := range seen {
		assert.Equal(t, 1, count, "participant %s counted more than once", pid)
	}

	assert.Equal(t, Done, r.StateOf(a))
	assert.Equal(t, Ignored, r.StateOf(b))
	assert.Equal(t, Waiting, r.StateOf(c))
}

// P2: only §3 DAG transitions succeed; everything else is rejected
// with the state left unchanged.
func TestOnlyDAGTransitionsSucceed(t *testing.T) {
	cases := []struct {
		name string
		from State
		to   State
		ok   bool
	}{
		{"waiting to selected", Waiting, Selected, true},
		{"waiting to done", Waiting, Done, false},
		{"waiting to ignored", Waiting, Ignored, false},
		{"selected to done", Selected, Done, true},
		{"selected to ignored", Selected, Ignored, true},
		{"selected to waiting", Selected, Waiting, false},
		{"done to ignored", Done, Ignored, true},
		{"done to done_and_inactive", Done, DoneAndInactive, true},
		{"done to selected", Done, Selected, false},
		{"done_and_inactive to ignored", DoneAndInactive, Ignored, true},
		{"done_and_inactive to waiting", DoneAndInactive, Waiting, false},
		{"ignored to anything", Ignored, Done, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRegistry(t)
			pid := id.New()
			_, err := r.Register(pid)
			require.NoError(t, err)

			driveToState(t, r, pid, tc.from)
			require.Equal(t, tc.from, r.StateOf(pid), "precondition: reached %s", tc.from)

			_, err = r.SetState(pid, tc.to)
			if tc.ok {
				assert.NoError(t, err)
				assert.Equal(t, tc.to, r.StateOf(pid))
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tc.from, r.StateOf(pid), "state must be unchanged after a rejected transition")
			}
		})
	}
}

// driveToState walks pid from Waiting to the target state via valid
// DAG edges only, used to set up test preconditions.
func driveToState(t *testing.T, r *Registry, pid id.ParticipantId, target State) {
	t.Helper()
	if target == Waiting {
		return
	}

	_, err := r.SetState(pid, Selected)
	require.NoError(t, err)
	if target == Selected {
		return
	}

	_, err = r.SetState(pid, Done)
	require.NoError(t, err)
	if target == Done {
		return
	}

	if target == DoneAndInactive {
		_, err = r.SetState(pid, DoneAndInactive)
		require.NoError(t, err)
		return
	}

	if target == Ignored {
		_, err = r.SetState(pid, Ignored)
		require.NoError(t, err)
		return
	}

	t.Fatalf("driveToState: unreachable target %s", target)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	pid := id.New()

	_, err := r.Register(pid)
	require.NoError(t, err)

	_, err = r.Register(pid)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestHeartbeatExpiredRaceReturnsErrExpired(t *testing.T) {
	r := New(1)
	pid := id.New()

	timer, err := r.Register(pid)
	require.NoError(t, err)
	require.NoError(t, r.ResetHeartbeat(pid, 50*time.Millisecond))

	go timer.Run()

	select {
	case got := <-r.Expirations():
		require.Equal(t, pid, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never expired")
	}

	err = r.ResetHeartbeat(pid, time.Second)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestForgetRemovesFromAnyActivePartition(t *testing.T) {
	r := newTestRegistry(t)
	pid := id.New()

	_, err := r.Register(pid)
	require.NoError(t, err)
	r.Forget(pid)
	assert.Equal(t, Unknown, r.StateOf(pid))

	// Forget is a no-op, not an error, for an already-unknown id.
	r.Forget(pid)
	assert.Equal(t, Unknown, r.StateOf(pid))
}

func TestBeginNewRoundResetsActivePartitionsToWaiting(t *testing.T) {
	r := newTestRegistry(t)
	a, b, c := id.New(), id.New(), id.New()

	for _, pid := range []id.ParticipantId{a, b, c} {
		_, err := r.Register(pid)
		require.NoError(t, err)
	}

	driveToState(t, r, a, Done)
	driveToState(t, r, b, DoneAndInactive)
	_, err := r.SetState(c, Selected)
	require.NoError(t, err)

	r.BeginNewRound()

	assert.Equal(t, Waiting, r.StateOf(a))
	assert.Equal(t, Unknown, r.StateOf(b), "DoneAndInactive participants are forgotten on a new round")
	assert.Equal(t, Waiting, r.StateOf(c))
}
