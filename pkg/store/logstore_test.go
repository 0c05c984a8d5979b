package store

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func TestFileStoreAppendGetRange(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	defer fs.Close()

	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("a")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("b")},
		{Index: 3, Term: 2, Type: raft.LogCommand, Data: []byte("c")},
	}
	require.NoError(t, fs.StoreLogs(logs))

	first, err := fs.FirstIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(1), first)

	last, err := fs.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	var got raft.Log
	require.NoError(t, fs.GetLog(2, &got))
	require.Equal(t, []byte("b"), got.Data)
	require.Equal(t, uint64(1), got.Term)
}

func TestFileStoreRejectsNonContiguousAppend(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	defer fs.Close()

	require.NoError(t, fs.StoreLog(&raft.Log{Index: 1, Term: 1, Data: []byte("a")}))
	err = fs.StoreLog(&raft.Log{Index: 3, Term: 1, Data: []byte("c")})
	require.Error(t, err)
}

func TestFileStoreTruncateSuffix(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	defer fs.Close()

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, fs.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte{byte(i)}}))
	}
	require.NoError(t, fs.DeleteRange(3, 5))

	last, err := fs.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(2), last)

	var l raft.Log
	require.Error(t, fs.GetLog(3, &l))
}

func TestFileStoreHardStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, fs.SetUint64([]byte("CurrentTerm"), 7))
	require.NoError(t, fs.Set([]byte("LastVoteCand"), []byte("node-1")))
	require.NoError(t, fs.Close())

	fs2, err := NewFileStore(dir)
	require.NoError(t, err)
	defer fs2.Close()

	term, err := fs2.GetUint64([]byte("CurrentTerm"))
	require.NoError(t, err)
	require.Equal(t, uint64(7), term)

	cand, err := fs2.Get([]byte("LastVoteCand"))
	require.NoError(t, err)
	require.Equal(t, []byte("node-1"), cand)
}

func TestFileStoreReplaysSegmentsOnReopen(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, fs.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte{byte(i)}}))
	}
	require.NoError(t, fs.Close())

	fs2, err := NewFileStore(dir)
	require.NoError(t, err)
	defer fs2.Close()

	last, err := fs2.LastIndex()
	require.NoError(t, err)
	require.Equal(t, uint64(3), last)

	var l raft.Log
	require.NoError(t, fs2.GetLog(2, &l))
	require.Equal(t, []byte{2}, l.Data)
}
