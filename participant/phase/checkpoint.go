// Checkpointing support for component C6 (§4.7): each phase's full
// state is a serializable value so the state machine can be persisted
// between steps and restored, with IO handles re-injected afterwards.
package phase

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/xaynetwork/xaynet-go/common/protocol"
	"github.com/xaynetwork/xaynet-go/participant/settings"
)

// sharedCheckpoint is SharedState with its kyber values reduced to
// plain bytes, since kyber.Point/Scalar don't implement cbor's
// Marshaler on their own.
type sharedCheckpoint struct {
	PublicKey   []byte                  `cbor:"public_key"`
	PrivateKey  []byte                  `cbor:"private_key"`
	MaskConfig  settings.MaskConfigPair `cbor:"mask_config"`
	Scalar      float64                 `cbor:"scalar"`
	MessageSize settings.MaxMessageSize `cbor:"message_size"`
	RoundParams protocol.RoundParameters `cbor:"round_params"`
}

// Checkpoint is the tagged union over the five phase variants (§4.7):
// since every phase here carries only SharedState as its private data,
// the tag alone distinguishes the variants.
type Checkpoint struct {
	Kind   Kind              `cbor:"kind"`
	Shared sharedCheckpoint `cbor:"shared"`
}

func toCheckpointShared(s SharedState) (sharedCheckpoint, error) {
	pubBytes, err := s.Keys.Public.MarshalBinary()
	if err != nil {
		return sharedCheckpoint{}, fmt.Errorf("phase: marshal public key: %w", err)
	}
	privBytes, err := s.Keys.Private.MarshalBinary()
	if err != nil {
		return sharedCheckpoint{}, fmt.Errorf("phase: marshal private key: %w", err)
	}
	return sharedCheckpoint{
		PublicKey:   pubBytes,
		PrivateKey:  privBytes,
		MaskConfig:  s.MaskConfig,
		Scalar:      s.Scalar,
		MessageSize: s.MessageSize,
		RoundParams: s.RoundParams,
	}, nil
}

func (c sharedCheckpoint) toShared() (SharedState, error) {
	suite := settings.Suite()
	pub := suite.Point()
	if err := pub.UnmarshalBinary(c.PublicKey); err != nil {
		return SharedState{}, fmt.Errorf("phase: unmarshal public key: %w", err)
	}
	priv := suite.Scalar()
	if err := priv.UnmarshalBinary(c.PrivateKey); err != nil {
		return SharedState{}, fmt.Errorf("phase: unmarshal private key: %w", err)
	}
	return SharedState{
		Keys:        settings.SigningKeyPair{Public: pub, Private: priv},
		MaskConfig:  c.MaskConfig,
		Scalar:      c.Scalar,
		MessageSize: c.MessageSize,
		RoundParams: c.RoundParams,
	}, nil
}

// Marshal serializes a StateMachine's current state (§4.7 R1). IO
// handles are never part of the serialized form.
func Marshal(sm StateMachine) ([]byte, error) {
	shared, err := toCheckpointShared(sm.Shared())
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(Checkpoint{Kind: sm.Kind(), Shared: shared})
}

// Unmarshal restores a StateMachine from bytes produced by Marshal.
// The caller must re-inject an IO collaborator before calling Step.
func Unmarshal(data []byte) (StateMachine, error) {
	var c Checkpoint
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("phase: decode checkpoint: %w", err)
	}

	shared, err := c.Shared.toShared()
	if err != nil {
		return nil, err
	}

	switch c.Kind {
	case KindNewRound:
		return &NewRoundPhase{shared: shared}, nil
	case KindAwaiting:
		return &AwaitingPhase{shared: shared}, nil
	case KindSum:
		return &SumPhase{shared: shared}, nil
	case KindUpdate:
		return &UpdatePhase{shared: shared}, nil
	case KindSum2:
		return &Sum2Phase{shared: shared}, nil
	default:
		return nil, fmt.Errorf("phase: unknown checkpoint kind %d", c.Kind)
	}
}
