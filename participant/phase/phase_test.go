package phase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet-go/common/protocol"
	participantio "github.com/xaynetwork/xaynet-go/participant/io"
	"github.com/xaynetwork/xaynet-go/participant/settings"
)

type fakeIO struct {
	params    protocol.RoundParameters
	paramsErr error

	sent        [][]byte
	sentPhases  []protocol.Phase
	sendErr     error
	newRoundHit int
	model       participantio.Model
}

func (f *fakeIO) GetRoundParams(ctx context.Context) (protocol.RoundParameters, error) {
	return f.params, f.paramsErr
}

func (f *fakeIO) SendMessage(ctx context.Context, phase protocol.Phase, encrypted []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, encrypted)
	f.sentPhases = append(f.sentPhases, phase)
	return nil
}

func (f *fakeIO) NotifyNewRound() { f.newRoundHit++ }

func (f *fakeIO) LoadModel(ctx context.Context) (participantio.Model, error) {
	return f.model, nil
}

func testShared(t *testing.T) SharedState {
	t.Helper()
	return NewSharedState(settings.PetSettings{
		Keys:           settings.NewSigningKeyPair(),
		MaxMessageSize: 256,
	})
}

// P5: if get_round_params returns the held value, the next
// phase-specific step is invoked; otherwise the machine resets to
// NewRound in a single step.
func TestFreshnessDrivesNewRoundReset(t *testing.T) {
	shared := testShared(t)
	current := protocol.RoundParameters{RoundID: 5}
	shared.RoundParams = current

	// Fresh: fetched equals held, so Awaiting just reports Pending.
	awaiting := &AwaitingPhase{shared: shared}
	io := &fakeIO{params: current}
	next, outcome := awaiting.Step(context.Background(), io)
	assert.Equal(t, Pending, outcome)
	assert.Equal(t, KindAwaiting, next.Kind())
	assert.Equal(t, 0, io.newRoundHit)

	// Outdated: fetched differs from held, resets to NewRound and
	// notifies exactly once (S5).
	io2 := &fakeIO{params: protocol.RoundParameters{RoundID: 6}}
	next2, outcome2 := awaiting.Step(context.Background(), io2)
	assert.Equal(t, Complete, outcome2)
	assert.Equal(t, KindNewRound, next2.Kind())
	assert.Equal(t, protocol.RoundParameters{RoundID: 6}, next2.Shared().RoundParams)
	assert.Equal(t, 1, io2.newRoundHit)
}

// P4: the participant state machine is idempotent over Pending:
// repeated calls with no IO progress return equal states.
func TestPendingStepIsIdempotent(t *testing.T) {
	shared := testShared(t)
	current := protocol.RoundParameters{RoundID: 1}
	shared.RoundParams = current

	awaiting := &AwaitingPhase{shared: shared}
	io := &fakeIO{params: current}

	next1, outcome1 := awaiting.Step(context.Background(), io)
	next2, outcome2 := awaiting.Step(context.Background(), io)

	assert.Equal(t, Pending, outcome1)
	assert.Equal(t, Pending, outcome2)
	assert.Equal(t, next1.Kind(), next2.Kind())
	assert.Equal(t, next1.Shared(), next2.Shared())
}

func TestGetRoundParamsErrorIsUnknownAndPending(t *testing.T) {
	shared := testShared(t)
	shared.RoundParams = protocol.RoundParameters{RoundID: 1}

	p := &AwaitingPhase{shared: shared}
	io := &fakeIO{paramsErr: errors.New("network down")}

	next, outcome := p.Step(context.Background(), io)
	assert.Equal(t, Pending, outcome)
	assert.Same(t, StateMachine(p), next)
}

func TestNewRoundRoutesToAwaitingWhenIneligible(t *testing.T) {
	shared := testShared(t)
	p := &NewRoundPhase{shared: shared}
	io := &fakeIO{params: protocol.RoundParameters{RoundID: 1, SumFraction: 0, UpdateFraction: 0}}

	// First step fetches params (Outdated -> Complete, still NewRound).
	next, outcome := p.Step(context.Background(), io)
	require.Equal(t, Complete, outcome)
	require.Equal(t, KindNewRound, next.Kind())

	// Second step: fresh, fraction 0 means never eligible -> Awaiting.
	next2, outcome2 := next.Step(context.Background(), io)
	assert.Equal(t, Complete, outcome2)
	assert.Equal(t, KindAwaiting, next2.Kind())
}

func TestNewRoundRoutesToSumWhenCertainlyEligible(t *testing.T) {
	shared := testShared(t)
	p := &NewRoundPhase{shared: shared}
	io := &fakeIO{params: protocol.RoundParameters{RoundID: 1, SumFraction: 1}}

	next, _ := p.Step(context.Background(), io)
	next2, outcome2 := next.Step(context.Background(), io)
	assert.Equal(t, Complete, outcome2)
	assert.Equal(t, KindSum, next2.Kind())
}

func TestSumPhaseSendsAndTransitionsToSum2(t *testing.T) {
	shared := testShared(t)
	shared.RoundParams = protocol.RoundParameters{RoundID: 1}

	p := &SumPhase{shared: shared}
	io := &fakeIO{params: shared.RoundParams}

	next, outcome := p.Step(context.Background(), io)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, KindSum2, next.Kind())
	require.NotEmpty(t, io.sent)
	assert.Equal(t, protocol.PhaseSum, io.sentPhases[0])
}

func TestSum2PhaseSendsAndTransitionsToAwaiting(t *testing.T) {
	shared := testShared(t)
	shared.RoundParams = protocol.RoundParameters{RoundID: 1}
	shared.Scalar = 0.5

	p := &Sum2Phase{shared: shared}
	io := &fakeIO{params: shared.RoundParams}

	next, outcome := p.Step(context.Background(), io)
	require.Equal(t, Complete, outcome)
	assert.Equal(t, KindAwaiting, next.Kind())
	require.NotEmpty(t, io.sent)
	assert.Equal(t, protocol.PhaseSum2, io.sentPhases[0])
}

func TestSum2PhaseSendFailureStaysInPhase(t *testing.T) {
	shared := testShared(t)
	shared.RoundParams = protocol.RoundParameters{RoundID: 1}

	p := &Sum2Phase{shared: shared}
	io := &fakeIO{params: shared.RoundParams, sendErr: errors.New("transport down")}

	next, outcome := p.Step(context.Background(), io)
	assert.Equal(t, Pending, outcome)
	assert.Equal(t, KindSum2, next.Kind())
}

func TestSumPhaseSendFailureStaysInPhase(t *testing.T) {
	shared := testShared(t)
	shared.RoundParams = protocol.RoundParameters{RoundID: 1}

	p := &SumPhase{shared: shared}
	io := &fakeIO{params: shared.RoundParams, sendErr: errors.New("transport down")}

	next, outcome := p.Step(context.Background(), io)
	assert.Equal(t, Pending, outcome)
	assert.Equal(t, KindSum, next.Kind())
}

// R1: serialize then deserialize a phase state yields an equal value.
func TestCheckpointRoundTrip(t *testing.T) {
	shared := testShared(t)
	shared.RoundParams = protocol.RoundParameters{RoundID: 7, SumFraction: 0.3}

	original := &UpdatePhase{shared: shared}

	data, err := Marshal(original)
	require.NoError(t, err)

	restored, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, original.Kind(), restored.Kind())
	assert.Equal(t, original.Shared().RoundParams, restored.Shared().RoundParams)
	assert.Equal(t, original.Shared().MessageSize, restored.Shared().MessageSize)

	origPub, err := original.Shared().Keys.Public.MarshalBinary()
	require.NoError(t, err)
	restoredPub, err := restored.Shared().Keys.Public.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, origPub, restoredPub)
}
