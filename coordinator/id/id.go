// Package id implements the opaque participant identifier used
// throughout the coordinator.
package id

import (
	"github.com/google/uuid"
)

// ParticipantId uniquely identifies one participation. It is created
// at registration and discarded once the participant becomes
// permanently inactive (see registry.Registry.Forget).
type ParticipantId uuid.UUID

// New returns a fresh, randomly generated ParticipantId.
func New() ParticipantId {
	return ParticipantId(uuid.New())
}

// String implements fmt.Stringer.
func (id ParticipantId) String() string {
	return uuid.UUID(id).String()
}

// Parse parses the canonical textual representation of a ParticipantId.
func Parse(s string) (ParticipantId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ParticipantId{}, err
	}
	return ParticipantId(u), nil
}
