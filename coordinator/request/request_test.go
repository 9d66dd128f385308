package request

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet-go/coordinator/heartbeat"
	"github.com/xaynetwork/xaynet-go/coordinator/id"
	"github.com/xaynetwork/xaynet-go/coordinator/registry"
	"github.com/xaynetwork/xaynet-go/coordinator/round"
	"github.com/xaynetwork/xaynet-go/coordinator/selector"
)

type noopAggregator struct{}

func (noopAggregator) Submit(ctx context.Context, maskedBytes []byte) error { return nil }
func (noopAggregator) Aggregate(ctx context.Context) error                 { return nil }

type noopNotifier struct{}

func (noopNotifier) Broadcast(v interface{}) {}

// newNoopMachine builds a round.Machine good enough to satisfy
// NewHandler's signature; none of these scenarios drive it through
// Submit, only the registry-facing requests.
func newNoopMachine(reg *registry.Registry) *round.Machine {
	return round.NewMachine(round.Config{MinClients: 1}, reg, selector.Random{}, noopAggregator{}, noopNotifier{}, nil)
}

// S1: register three participants, assert Waiting for all; omitting
// heartbeats for one lets its timer expire and removes it, while the
// others remain Waiting.
func TestRegistrationAndHeartbeatOmissionRemoval(t *testing.T) {
	reg := registry.New(16)
	h := NewHandler(reg, newNoopMachine(reg), func(t *heartbeat.Timer) { go t.Run() })

	a, b, c := id.New(), id.New(), id.New()
	for _, pid := range []id.ParticipantId{a, b, c} {
		require.NoError(t, h.Register(pid))
		assert.Equal(t, registry.Waiting, reg.StateOf(pid))
	}

	// A receives no more heartbeats (timeout collapsed for the test);
	// B and C keep being refreshed and must survive.
	require.NoError(t, reg.ResetHeartbeat(a, 50*time.Millisecond))
	require.NoError(t, reg.ResetHeartbeat(b, time.Hour))
	require.NoError(t, reg.ResetHeartbeat(c, time.Hour))

	select {
	case expired := <-reg.Expirations():
		require.Equal(t, a, expired)
		h.HeartbeatExpired(expired)
	case <-time.After(2 * time.Second):
		t.Fatal("A's heartbeat timer never expired")
	}

	assert.Equal(t, registry.Unknown, reg.StateOf(a))
	assert.Equal(t, registry.Waiting, reg.StateOf(b))
	assert.Equal(t, registry.Waiting, reg.StateOf(c))
}

// S4: flooding heartbeats for one participant saturates its reset
// inbox; the 11th request onward observes BackPressure and the
// participant's state is untouched.
func TestHeartbeatFloodBackPressure(t *testing.T) {
	reg := registry.New(16)

	// The timer is captured but never run, so nothing ever drains its
	// reset inbox: exactly ResetInboxCapacity resets can be buffered.
	h := NewHandler(reg, newNoopMachine(reg), func(*heartbeat.Timer) {})

	pid := id.New()
	require.NoError(t, h.Register(pid))

	for i := 0; i < 100; i++ {
		err := h.Heartbeat(pid)
		if i < heartbeat.ResetInboxCapacity {
			assert.NoErrorf(t, err, "heartbeat %d should be buffered", i)
		} else {
			assert.ErrorIsf(t, err, registry.ErrBackPressure, "heartbeat %d should be rejected", i)
		}
	}

	assert.Equal(t, registry.Waiting, reg.StateOf(pid))
}

// S6: a Done participant that goes silent becomes DoneAndInactive with
// its timer dropped; BeginNewRound forgets it; re-registering inserts
// it fresh into Waiting with a new timer.
func TestDoneAndInactiveRecovery(t *testing.T) {
	reg := registry.New(16)
	h := NewHandler(reg, newNoopMachine(reg), func(t *heartbeat.Timer) { go t.Run() })

	pid := id.New()
	require.NoError(t, h.Register(pid))

	_, err := reg.SetState(pid, registry.Selected)
	require.NoError(t, err)
	_, err = reg.SetState(pid, registry.Done)
	require.NoError(t, err)
	require.Equal(t, registry.Done, reg.StateOf(pid))

	h.HeartbeatExpired(pid)
	assert.Equal(t, registry.DoneAndInactive, reg.StateOf(pid))

	reg.BeginNewRound()
	assert.Equal(t, registry.Unknown, reg.StateOf(pid), "forgotten at round end")

	require.NoError(t, h.Register(pid))
	assert.Equal(t, registry.Waiting, reg.StateOf(pid), "re-registration starts fresh")
}
