package consensus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/discoproj/disco/pkg/fsm"
	"github.com/discoproj/disco/pkg/store"
	"github.com/discoproj/disco/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func newSingleNodeEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	logStore, err := store.NewFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { logStore.Close() })

	snapStore := store.NewFileSnapshotStore(dir)
	kv := fsm.New(nil)

	_, trans := raft.NewInmemTransport("1")
	t.Cleanup(func() { trans.Close() })

	e, err := Open(Config{
		NodeID:        1,
		Addr:          "127.0.0.1:0",
		FSM:           kv,
		LogStore:      logStore,
		StableStore:   logStore,
		SnapshotStore: snapStore,
		Transport:     trans,
	})
	require.NoError(t, err)
	require.NoError(t, e.Bootstrap("127.0.0.1:0"))

	require.Eventually(t, e.IsLeader, 5*time.Second, 10*time.Millisecond)
	return e
}

func TestEngineBootstrapBecomesLeader(t *testing.T) {
	e := newSingleNodeEngine(t)
	require.True(t, e.IsLeader())
}

func TestEngineApplyAndBarrier(t *testing.T) {
	e := newSingleNodeEngine(t)

	cmd := types.Command{Kind: types.CommandSet, Key: "a", Value: "1"}
	data, err := json.Marshal(cmd)
	require.NoError(t, err)

	_, err = e.Apply(data)
	require.NoError(t, err)
	require.NoError(t, e.Barrier())
}

func TestEngineMembershipReportsSelf(t *testing.T) {
	e := newSingleNodeEngine(t)

	m, err := e.Membership()
	require.NoError(t, err)
	require.Len(t, m.Servers, 1)
	require.Equal(t, types.NodeID(1), m.Servers[0].ID)
}
