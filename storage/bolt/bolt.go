// Package bolt persists participant phase checkpoints (§4.7) to a
// local BoltDB file, adapted from the teacher's storage/bolt backend:
// same New/Cleanup lifecycle and embedded-KV approach, repurposed from
// a general object store keyed by content hash to a small keyed store
// of one checkpoint blob per participant.
package bolt

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/xaynetwork/xaynet-go/coordinator/id"
)

// DBFile is the conventional checkpoint database filename.
const DBFile = "phase_checkpoints.db"

var checkpointsBucket = []byte("phase_checkpoints")

// Store is a BoltDB-backed map from ParticipantId to its last
// serialized phase.Checkpoint.
type Store struct {
	db *bolt.DB
}

// New opens (creating if absent) the checkpoint database at path.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(checkpointsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bolt: init bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Put stores pid's serialized checkpoint, overwriting any prior one.
func (s *Store) Put(pid id.ParticipantId, checkpoint []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointsBucket).Put([]byte(pid.String()), checkpoint)
	})
}

// Get returns pid's last stored checkpoint, or nil if none exists.
func (s *Store) Get(pid id.ParticipantId) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(checkpointsBucket).Get([]byte(pid.String()))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

// Delete removes pid's stored checkpoint, if any.
func (s *Store) Delete(pid id.ParticipantId) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointsBucket).Delete([]byte(pid.String()))
	})
}

// Cleanup closes the underlying database file.
func (s *Store) Cleanup() error {
	return s.db.Close()
}
