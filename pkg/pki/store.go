package pki

import (
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// Store persists the cluster's encrypted root CA material. Disco has
// no other per-node datastore -- cluster state lives entirely in the
// Raft log and the replicated KV FSM -- so this store carries only
// the one bucket the teacher's BoltStore used for CA persistence.
type Store interface {
	SaveCA(data []byte) error
	GetCA() ([]byte, error)
	Close() error
}

var bucketCA = []byte("ca")

// BoltStore is a Store backed by a single-bucket BoltDB file under
// dataDir, mirroring the teacher's BoltStore bucket convention.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) pki.db under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "pki.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCA)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ca bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte("ca"), data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get([]byte("ca"))
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}
