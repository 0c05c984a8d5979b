package store

import (
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func TestFileSnapshotStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ss := NewFileSnapshotStore(dir)

	cfg := raft.Configuration{Servers: []raft.Server{{ID: "1", Address: "127.0.0.1:5051"}}}
	sink, err := ss.Create(raft.SnapshotVersionMax, 42, 3, cfg, 10, nil)
	require.NoError(t, err)

	payload := []byte(`{"kv":{"foo":"bar"}}`)
	_, err = sink.Write(payload)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	metas, err := ss.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, uint64(42), metas[0].Index)

	meta, rc, err := ss.Open(metas[0].ID)
	require.NoError(t, err)
	defer rc.Close()
	require.Equal(t, uint64(3), meta.Term)

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFileSnapshotStoreCancelRemovesTmp(t *testing.T) {
	dir := t.TempDir()
	ss := NewFileSnapshotStore(dir)

	sink, err := ss.Create(raft.SnapshotVersionMax, 1, 1, raft.Configuration{}, 0, nil)
	require.NoError(t, err)
	_, err = sink.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, sink.Cancel())

	metas, err := ss.List()
	require.NoError(t, err)
	require.Len(t, metas, 0)
}
