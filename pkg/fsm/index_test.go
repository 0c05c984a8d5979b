package fsm

import (
	"testing"

	"github.com/discoproj/disco/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestIndexRecordAndHistory(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(dir)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Record(1, types.Command{Kind: types.CommandSet, Key: "a", Value: "1"}))
	require.NoError(t, idx.Record(2, types.Command{Kind: types.CommandSet, Key: "b", Value: "2"}))
	require.NoError(t, idx.Record(3, types.Command{Kind: types.CommandSet, Key: "a", Value: "3"}))

	history, err := idx.History("a")
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3}, history)
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	idx, err := OpenIndex(dir)
	require.NoError(t, err)
	require.NoError(t, idx.Record(1, types.Command{Kind: types.CommandSet, Key: "a", Value: "1"}))
	require.NoError(t, idx.Close())

	idx2, err := OpenIndex(dir)
	require.NoError(t, err)
	defer idx2.Close()

	history, err := idx2.History("a")
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, history)
}
