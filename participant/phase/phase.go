// Package phase implements component C6: the participant's
// cooperative phase state machine. Each call to a StateMachine's Step
// method probes round freshness, then either delegates to
// phase-specific logic or resets to NewRound (§4.6).
package phase

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/xof/blake2xb"
	"golang.org/x/crypto/nacl/box"

	"github.com/xaynetwork/xaynet-go/common/logging"
	"github.com/xaynetwork/xaynet-go/common/protocol"
	participantio "github.com/xaynetwork/xaynet-go/participant/io"
	"github.com/xaynetwork/xaynet-go/participant/message"
	"github.com/xaynetwork/xaynet-go/participant/settings"
)

var logger = logging.GetLogger("participant/phase")

// Kind identifies which of the five phase variants a StateMachine is
// in; it is also the tag used by Checkpoint (§4.7).
type Kind int

const (
	KindNewRound Kind = iota
	KindAwaiting
	KindSum
	KindUpdate
	KindSum2
)

func (k Kind) String() string {
	switch k {
	case KindNewRound:
		return "new_round"
	case KindAwaiting:
		return "awaiting"
	case KindSum:
		return "sum"
	case KindUpdate:
		return "update"
	case KindSum2:
		return "sum2"
	default:
		return "unknown"
	}
}

// Outcome is Step's public result (§4.6): the internal Stuck/Continue/
// Updated progress variants are never returned across the public API,
// only Pending (no progress) or Complete (transitioned, possibly to
// the same Kind with refreshed RoundParameters).
type Outcome int

const (
	Pending Outcome = iota
	Complete
)

// SharedState is the data common to every phase (§4.6).
type SharedState struct {
	Keys        settings.SigningKeyPair
	MaskConfig  settings.MaskConfigPair
	Scalar      float64
	MessageSize settings.MaxMessageSize
	RoundParams protocol.RoundParameters
}

// NewSharedState builds the initial SharedState from a participant's
// static PET settings; RoundParams starts at its zero value, which is
// never equal to a coordinator's published parameters, so the first
// Step call always observes Outdated and fetches them.
func NewSharedState(s settings.PetSettings) SharedState {
	return SharedState{
		Keys:        s.Keys,
		MaskConfig:  s.MaskConfig,
		Scalar:      s.Scalar,
		MessageSize: s.MaxMessageSize,
	}
}

// StateMachine is any phase, steppable against an IO collaborator.
type StateMachine interface {
	Kind() Kind
	Shared() SharedState
	Step(ctx context.Context, io participantio.IO) (StateMachine, Outcome)
}

// probeFreshness implements the freshness half of Step (§4.6 I4): it
// is shared by every phase so none of them duplicate the Fresh/
// Outdated/Unknown handling. fresh=false means the caller's Step
// should return immediately with the accompanying (StateMachine,
// Outcome); fresh=true means the caller should proceed with its own
// phase-specific work using the (possibly just-refreshed) shared.
func probeFreshness(ctx context.Context, io participantio.IO, self StateMachine, shared *SharedState) (next StateMachine, outcome Outcome, fresh bool) {
	params, err := io.GetRoundParams(ctx)
	if err != nil {
		logger.Warn("failed to fetch round parameters", "err", err)
		return self, Pending, false
	}

	if shared.RoundParams.Fresh(params) {
		return nil, 0, true
	}

	logger.Info("fetched fresh round parameters", "round", params.RoundID)
	shared.RoundParams = params
	io.NotifyNewRound()
	return &NewRoundPhase{shared: *shared}, Complete, false
}

// NewRoundPhase awaits the first fresh RoundParameters, then
// deterministically routes to Sum, Update, or Awaiting.
type NewRoundPhase struct {
	shared SharedState
}

func (p *NewRoundPhase) Kind() Kind            { return KindNewRound }
func (p *NewRoundPhase) Shared() SharedState   { return p.shared }

func (p *NewRoundPhase) Step(ctx context.Context, io participantio.IO) (StateMachine, Outcome) {
	next, outcome, fresh := probeFreshness(ctx, io, p, &p.shared)
	if !fresh {
		return next, outcome
	}

	rp := p.shared.RoundParams
	switch {
	case isEligible(rp.Seed, p.shared.Keys.Public, rp.SumFraction):
		return &SumPhase{shared: p.shared}, Complete
	case isEligible(rp.Seed, p.shared.Keys.Public, rp.UpdateFraction):
		return &UpdatePhase{shared: p.shared}, Complete
	default:
		return &AwaitingPhase{shared: p.shared}, Complete
	}
}

// AwaitingPhase is idle: its only action is freshness probing (§4.6).
type AwaitingPhase struct {
	shared SharedState
}

func (p *AwaitingPhase) Kind() Kind          { return KindAwaiting }
func (p *AwaitingPhase) Shared() SharedState { return p.shared }

func (p *AwaitingPhase) Step(ctx context.Context, io participantio.IO) (StateMachine, Outcome) {
	next, outcome, fresh := probeFreshness(ctx, io, p, &p.shared)
	if !fresh {
		return next, outcome
	}
	return p, Pending
}

// SumPhase builds and submits a sum message carrying the participant's
// signing public key. On success it advances to Sum2Phase, not Awaiting: a sum
// participant owes the coordinator a second, Sum2 submission (§4.6).
type SumPhase struct {
	shared SharedState
}

func (p *SumPhase) Kind() Kind          { return KindSum }
func (p *SumPhase) Shared() SharedState { return p.shared }

func (p *SumPhase) Step(ctx context.Context, io participantio.IO) (StateMachine, Outcome) {
	next, outcome, fresh := probeFreshness(ctx, io, p, &p.shared)
	if !fresh {
		return next, outcome
	}

	keyBytes, err := p.shared.Keys.Public.MarshalBinary()
	if err != nil {
		logger.Error("failed to marshal signing key", "err", err)
		return p, Pending
	}

	payload := message.Payload{Kind: message.KindSum, Data: keyBytes}
	if err := sendPayload(ctx, io, p.shared, payload); err != nil {
		logger.Warn("failed to send sum message", "err", err)
		return p, Pending
	}
	return &Sum2Phase{shared: p.shared}, Complete
}

// UpdatePhase loads the current model and submits its bytes as the
// update message; no masking is applied to them here.
type UpdatePhase struct {
	shared SharedState
}

func (p *UpdatePhase) Kind() Kind          { return KindUpdate }
func (p *UpdatePhase) Shared() SharedState { return p.shared }

func (p *UpdatePhase) Step(ctx context.Context, io participantio.IO) (StateMachine, Outcome) {
	next, outcome, fresh := probeFreshness(ctx, io, p, &p.shared)
	if !fresh {
		return next, outcome
	}

	model, err := io.LoadModel(ctx)
	if err != nil {
		logger.Warn("failed to load model", "err", err)
		return p, Pending
	}

	payload := message.Payload{Kind: message.KindUpdate, Data: model}
	if err := sendPayload(ctx, io, p.shared, payload); err != nil {
		logger.Warn("failed to send update message", "err", err)
		return p, Pending
	}
	return &AwaitingPhase{shared: p.shared}, Complete
}

// Sum2Phase submits the participant's masking scalar (8 bytes,
// big-endian float64 bits) as its final sum contribution.
type Sum2Phase struct {
	shared SharedState
}

func (p *Sum2Phase) Kind() Kind          { return KindSum2 }
func (p *Sum2Phase) Shared() SharedState { return p.shared }

func (p *Sum2Phase) Step(ctx context.Context, io participantio.IO) (StateMachine, Outcome) {
	next, outcome, fresh := probeFreshness(ctx, io, p, &p.shared)
	if !fresh {
		return next, outcome
	}

	var scalarBytes [8]byte
	binary.BigEndian.PutUint64(scalarBytes[:], math.Float64bits(p.shared.Scalar))

	payload := message.Payload{Kind: message.KindSum2, Data: scalarBytes[:]}
	if err := sendPayload(ctx, io, p.shared, payload); err != nil {
		logger.Warn("failed to send sum2 message", "err", err)
		return p, Pending
	}
	return &AwaitingPhase{shared: p.shared}, Complete
}

// SendMessageError wraps a non-fatal send failure (§7): the caller
// stays in the current phase so the next Step call can retry.
type SendMessageError struct {
	Err error
}

func (e *SendMessageError) Error() string { return fmt.Sprintf("failed to send a PET message: %v", e.Err) }
func (e *SendMessageError) Unwrap() error { return e.Err }

// sendPayload chunks and encrypts payload, sending every chunk through
// io tagged with the submitting phase the coordinator should match it
// against. It mirrors Phase::send_message looping over the encoder
// within a single call.
func sendPayload(ctx context.Context, io participantio.IO, shared SharedState, payload message.Payload) error {
	enc, err := message.NewEncoder(payload, shared.MessageSize.MaxPayloadSize())
	if err != nil {
		// Unreachable by construction (§7 EncoderRejected): this
		// package never builds a Chunk payload itself.
		panic("phase: " + err.Error())
	}

	phase := submitPhaseFor(payload.Kind)

	for {
		chunk, ok := enc.Next()
		if !ok {
			return nil
		}

		encrypted, err := box.SealAnonymous(nil, chunk, &shared.RoundParams.PublicKey, rand.Reader)
		if err != nil {
			return &SendMessageError{Err: err}
		}
		if err := io.SendMessage(ctx, phase, encrypted); err != nil {
			return &SendMessageError{Err: err}
		}
	}
}

// submitPhaseFor maps a message kind to the coordinator-side phase it
// must be submitted against, keeping the HTTP X-Phase header and the
// message's own kind from ever drifting apart.
func submitPhaseFor(kind message.Kind) protocol.Phase {
	switch kind {
	case message.KindSum:
		return protocol.PhaseSum
	case message.KindUpdate:
		return protocol.PhaseUpdate
	case message.KindSum2:
		return protocol.PhaseSum2
	default:
		panic(fmt.Sprintf("phase: no submit phase for message kind %d", kind))
	}
}

// isEligible implements the PET eligibility predicate (§4.6): an
// opaque pure function of (round_seed, signing_pk, fraction),
// computed by expanding seed||signing_pk through a keyed XOF and
// comparing the first 8 bytes against fraction's share of the uint64
// range.
func isEligible(seed [32]byte, pk kyber.Point, fraction float64) bool {
	if fraction <= 0 {
		return false
	}
	if fraction >= 1 {
		return true
	}

	pkBytes, err := pk.MarshalBinary()
	if err != nil {
		return false
	}

	seedPK := append(append([]byte{}, seed[:]...), pkBytes...)
	xof := blake2xb.New(seedPK)

	var buf [8]byte
	if _, err := xof.Read(buf[:]); err != nil {
		return false
	}
	v := binary.BigEndian.Uint64(buf[:])

	threshold := uint64(fraction * float64(math.MaxUint64))
	return v < threshold
}
