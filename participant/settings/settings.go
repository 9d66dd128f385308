// Package settings holds the per-participant PET configuration (§4.6
// SharedState): signing keys, masking configuration, the masking
// scalar, and the maximum outbound message size. Keys are generated
// over kyber's edwards25519 group, the same kyber dependency the
// participant's NewRound eligibility predicate already pulls in,
// rather than introducing a second crypto stack for one signature
// type.
package settings

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/util/random"
)

var suite = edwards25519.NewBlakeSHA256Ed25519()

// Suite returns the group/cipher suite signing keys and the NewRound
// eligibility predicate are computed over.
func Suite() kyber.Group { return suite }

// SigningKeyPair identifies a participant and signs its PET messages.
type SigningKeyPair struct {
	Public  kyber.Point
	Private kyber.Scalar
}

// NewSigningKeyPair generates a fresh key pair.
func NewSigningKeyPair() SigningKeyPair {
	priv := suite.Scalar().Pick(random.New())
	pub := suite.Point().Mul(priv, nil)
	return SigningKeyPair{Public: pub, Private: priv}
}

// MaskConfig names the group/data/bound/model type quadruple a masking
// scheme is parameterized by. The concrete masking arithmetic is a
// Non-goal; this is metadata kept in the participant's SharedState
// (and its checkpoints); it is neither sent nor executed here.
type MaskConfig struct {
	GroupType string
	DataType  string
	BoundType string
	ModelType string
}

// MaskConfigPair carries the sum and update phase's mask configuration.
type MaskConfigPair struct {
	Sum    MaskConfig
	Update MaskConfig
}

// MaxMessageSize bounds a single PET message before chunking (§4.6).
type MaxMessageSize uint32

// chunkFramingOverhead is the per-chunk header size message.Encoder
// prepends to every chunk (see message.frameHeaderSize).
const chunkFramingOverhead = 4

// MaxPayloadSize returns the largest payload that still fits a single
// chunk after framing overhead, or 0 if the configured size can't fit
// even the framing.
func (m MaxMessageSize) MaxPayloadSize() int {
	if int(m) <= chunkFramingOverhead {
		return 0
	}
	return int(m) - chunkFramingOverhead
}

// PetSettings is the full set of per-participant configuration needed
// to construct a phase.SharedState.
type PetSettings struct {
	Keys           SigningKeyPair
	MaskConfig     MaskConfigPair
	Scalar         float64
	MaxMessageSize MaxMessageSize
}
