package fsm

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/discoproj/disco/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketHistory = []byte("kv_history")

// Index is a durable secondary index over applied commands, keyed by
// the replicated log index, so an operator can answer "what changed at
// index N" without replaying the whole log. It does not participate in
// consensus; it is rebuilt for free whenever the log is replayed and is
// safe to delete and let repopulate from the next Apply onward.
type Index struct {
	db *bolt.DB
}

// OpenIndex opens (creating if absent) the bbolt-backed index file
// under dataDir.
func OpenIndex(dataDir string) (*Index, error) {
	path := filepath.Join(dataDir, "fsm_index.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open fsm index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

// historyEntry is what Record persists for one applied command.
type historyEntry struct {
	Index uint64            `json:"index"`
	Kind  types.CommandKind `json:"kind"`
	Key   string            `json:"key"`
	Value string            `json:"value"`
}

// Record stores the command applied at logIndex.
func (idx *Index) Record(logIndex uint64, cmd types.Command) error {
	entry := historyEntry{Index: logIndex, Kind: cmd.Kind, Key: cmd.Key, Value: cmd.Value}
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return idx.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		return b.Put(encodeIndexKey(logIndex), buf)
	})
}

// History returns the log index of every recorded change to key, in
// ascending order.
func (idx *Index) History(key string) ([]uint64, error) {
	var indices []uint64
	err := idx.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		return b.ForEach(func(k, v []byte) error {
			var entry historyEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Key == key {
				indices = append(indices, entry.Index)
			}
			return nil
		})
	})
	return indices, err
}

// Close closes the underlying database.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func encodeIndexKey(logIndex uint64) []byte {
	return []byte(fmt.Sprintf("%020d", logIndex))
}
