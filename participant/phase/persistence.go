package phase

import (
	"fmt"

	"github.com/xaynetwork/xaynet-go/coordinator/id"
	"github.com/xaynetwork/xaynet-go/storage/bolt"
)

// Store persists a single participant's current phase checkpoint
// between process restarts (§4.7; see SUPPLEMENTED FEATURES: the
// original SDK persists phase state across app launches, which this
// distillation's wire-encoding Non-goal does not exclude).
type Store struct {
	backend *bolt.Store
	self    id.ParticipantId
}

// OpenStore opens (creating if necessary) a bolt-backed checkpoint
// store at path for the given participant id.
func OpenStore(path string, self id.ParticipantId) (*Store, error) {
	backend, err := bolt.New(path)
	if err != nil {
		return nil, fmt.Errorf("phase: open checkpoint store: %w", err)
	}
	return &Store{backend: backend, self: self}, nil
}

// SaveState serializes sm and writes it under the store's participant
// id, overwriting any previous checkpoint.
func (s *Store) SaveState(sm StateMachine) error {
	data, err := Marshal(sm)
	if err != nil {
		return err
	}
	return s.backend.Put(s.self, data)
}

// LoadState reads back the last checkpoint saved for this participant.
// It returns (nil, nil) if none was ever saved, so callers can fall
// back to starting fresh at NewRoundPhase.
func (s *Store) LoadState() (StateMachine, error) {
	data, err := s.backend.Get(s.self)
	if err != nil {
		return nil, fmt.Errorf("phase: load checkpoint: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return Unmarshal(data)
}

// Close releases the underlying bolt database.
func (s *Store) Close() error {
	return s.backend.Cleanup()
}
