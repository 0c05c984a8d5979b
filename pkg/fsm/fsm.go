// Package fsm implements the replicated key-value state machine Raft
// drives: it applies committed types.Command entries to an in-memory
// map, answers point reads, and fans out change notifications to
// watchers in commit order.
package fsm

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/discoproj/disco/pkg/events"
	"github.com/discoproj/disco/pkg/types"
	"github.com/hashicorp/raft"
)

// ApplyResult is what Apply returns for a successful command, so RPC
// handlers can report the applied value without a second lookup.
type ApplyResult struct {
	Key   string
	Value string
	Kind  types.CommandKind
}

// KV is the Raft finite state machine for Disco's key-value store.
type KV struct {
	mu     sync.RWMutex
	data   map[string]string
	index  *Index
	broker *events.Broker
}

// New creates a KV FSM. idx may be nil, in which case the secondary
// index is skipped (used by tests that don't care about the per-key
// change history).
func New(idx *Index) *KV {
	b := events.NewBroker()
	b.Start()
	return &KV{
		data:   make(map[string]string),
		index:  idx,
		broker: b,
	}
}

// Get reads the current value for key. Callers needing a linearizable
// read must first complete a raft Barrier(); Get itself does no
// consensus work.
func (k *KV) Get(key string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.data[key]
	return v, ok
}

// Entries returns a copy of the current map, for CLI/debug listing.
func (k *KV) Entries() map[string]string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]string, len(k.data))
	for key, v := range k.data {
		out[key] = v
	}
	return out
}

// Watch returns a subscriber channel of events.Event for every
// subsequent Apply. Call Unwatch with the returned channel when done.
func (k *KV) Watch() events.Subscriber {
	return k.broker.Subscribe()
}

// Unwatch releases a subscription obtained from Watch.
func (k *KV) Unwatch(sub events.Subscriber) {
	k.broker.Unsubscribe(sub)
}

// Apply applies one committed log entry. It is invoked only by
// hashicorp/raft's single apply goroutine, so no lock besides the one
// protecting reads from other goroutines is required around the
// mutation itself.
func (k *KV) Apply(log *raft.Log) interface{} {
	var cmd types.Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("fsm: decode command at index %d: %w", log.Index, err)
	}

	k.mu.Lock()
	switch cmd.Kind {
	case types.CommandSet:
		k.data[cmd.Key] = cmd.Value
	case types.CommandDelete:
		delete(k.data, cmd.Key)
	default:
		k.mu.Unlock()
		return fmt.Errorf("fsm: unknown command kind %q at index %d", cmd.Kind, log.Index)
	}
	k.mu.Unlock()

	if k.index != nil {
		if err := k.index.Record(log.Index, cmd); err != nil {
			return fmt.Errorf("fsm: secondary index write at index %d: %w", log.Index, err)
		}
	}

	evType := events.EventKeySet
	if cmd.Kind == types.CommandDelete {
		evType = events.EventKeyDeleted
	}
	k.broker.Publish(&events.Event{
		ID:    fmt.Sprintf("%d", log.Index),
		Type:  evType,
		Key:   cmd.Key,
		Value: cmd.Value,
	})

	return ApplyResult{Key: cmd.Key, Value: cmd.Value, Kind: cmd.Kind}
}

// kvSnapshot is the raft.FSMSnapshot returned by (*KV).Snapshot.
type kvSnapshot struct {
	kv map[string]string
}

func (s *kvSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.kv); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *kvSnapshot) Release() {}

// Snapshot implements raft.FSM.
func (k *KV) Snapshot() (raft.FSMSnapshot, error) {
	return &kvSnapshot{kv: k.Entries()}, nil
}

// Restore implements raft.FSM, replacing the in-memory map wholesale.
func (k *KV) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var kv map[string]string
	if err := json.NewDecoder(rc).Decode(&kv); err != nil {
		return fmt.Errorf("fsm: decode snapshot: %w", err)
	}

	k.mu.Lock()
	k.data = kv
	k.mu.Unlock()
	return nil
}
