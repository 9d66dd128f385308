// Package protocol holds the types shared across the coordinator and
// participant sides of the PET protocol boundary: the coordinator's
// phase enum and the per-round parameters it publishes.
package protocol

import "fmt"

// Phase enumerates the coordinator's round phases (§3). It carries no
// round counter itself; that lives alongside it in RoundParameters.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNewRound
	PhaseSum
	PhaseUpdate
	PhaseSum2
	PhaseAggregate
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNewRound:
		return "new_round"
	case PhaseSum:
		return "sum"
	case PhaseUpdate:
		return "update"
	case PhaseSum2:
		return "sum2"
	case PhaseAggregate:
		return "aggregate"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ParseSubmitPhase parses the wire form of a submitting phase
// (Phase.String() for Sum/Update/Sum2), as carried by the
// participant-facing API's X-Phase header. It rejects Idle/NewRound/
// Aggregate, which never submit messages.
func ParseSubmitPhase(s string) (Phase, error) {
	switch s {
	case "sum":
		return PhaseSum, nil
	case "update":
		return PhaseUpdate, nil
	case "sum2":
		return PhaseSum2, nil
	default:
		return 0, fmt.Errorf("protocol: unrecognized submit phase %q", s)
	}
}

// RoundParameters is the immutable, per-round configuration the
// coordinator publishes (§3). It is treated by the participant side
// as an opaque, equality-comparable value: every field here is a
// fixed-size array or scalar so that == implements exact equality,
// which is all RoundFreshness (§4.6) needs.
type RoundParameters struct {
	// PublicKey is the round's encryption public key; participants
	// encrypt PET messages against it.
	PublicKey [32]byte
	// Seed seeds the PET eligibility predicate (sum/update selection)
	// and the masking scheme.
	Seed [32]byte
	// SumFraction and UpdateFraction are the configured selection
	// fractions for the Sum and Update phases.
	SumFraction    float64
	UpdateFraction float64
	// RoundID is the monotone round counter (§3 I3): a new round
	// strictly increments it.
	RoundID uint64
}

// Fresh reports whether held equals current, i.e. the holder's view of
// the round is up to date (§3 I4).
func (held RoundParameters) Fresh(current RoundParameters) bool {
	return held == current
}
