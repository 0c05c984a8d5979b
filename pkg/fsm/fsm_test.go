package fsm

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/discoproj/disco/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

// fakeSink is a minimal raft.SnapshotSink backed by an in-memory buffer,
// used to exercise Snapshot/Restore without touching pkg/store.
type fakeSink struct {
	bytes.Buffer
}

func (f *fakeSink) ID() string      { return "fake" }
func (f *fakeSink) Cancel() error   { return nil }
func (f *fakeSink) Close() error    { return nil }

func applyCmd(t *testing.T, kv *KV, index uint64, cmd types.Command) {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	result := kv.Apply(&raft.Log{Index: index, Data: data})
	if errResult, ok := result.(error); ok {
		t.Fatalf("apply failed: %v", errResult)
	}
}

func TestKVApplySetAndGet(t *testing.T) {
	kv := New(nil)
	applyCmd(t, kv, 1, types.Command{Kind: types.CommandSet, Key: "a", Value: "1"})

	v, ok := kv.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)
}

func TestKVApplyDelete(t *testing.T) {
	kv := New(nil)
	applyCmd(t, kv, 1, types.Command{Kind: types.CommandSet, Key: "a", Value: "1"})
	applyCmd(t, kv, 2, types.Command{Kind: types.CommandDelete, Key: "a"})

	_, ok := kv.Get("a")
	require.False(t, ok)
}

func TestKVSnapshotRestore(t *testing.T) {
	kv := New(nil)
	applyCmd(t, kv, 1, types.Command{Kind: types.CommandSet, Key: "a", Value: "1"})
	applyCmd(t, kv, 2, types.Command{Kind: types.CommandSet, Key: "b", Value: "2"})

	snap, err := kv.Snapshot()
	require.NoError(t, err)

	sink := &fakeSink{}
	require.NoError(t, snap.Persist(sink))

	kv2 := New(nil)
	require.NoError(t, kv2.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	v, ok := kv2.Get("b")
	require.True(t, ok)
	require.Equal(t, "2", v)
}

func TestKVWatchDeliversInOrder(t *testing.T) {
	kv := New(nil)
	sub := kv.Watch()
	defer kv.Unwatch(sub)

	applyCmd(t, kv, 1, types.Command{Kind: types.CommandSet, Key: "x", Value: "1"})
	applyCmd(t, kv, 2, types.Command{Kind: types.CommandSet, Key: "x", Value: "2"})

	select {
	case ev := <-sub:
		require.Equal(t, "1", ev.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first event")
	}
	select {
	case ev := <-sub:
		require.Equal(t, "2", ev.Value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second event")
	}
}
