package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/discoproj/disco/pkg/consensus"
	"github.com/discoproj/disco/pkg/fsm"
	"github.com/discoproj/disco/pkg/store"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	logStore, err := store.NewFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { logStore.Close() })

	snapStore := store.NewFileSnapshotStore(dir)
	kv := fsm.New(nil)

	_, trans := raft.NewInmemTransport("1")
	t.Cleanup(func() { trans.Close() })

	engine, err := consensus.Open(consensus.Config{
		NodeID:        1,
		Addr:          "127.0.0.1:0",
		FSM:           kv,
		LogStore:      logStore,
		StableStore:   logStore,
		SnapshotStore: snapStore,
		Transport:     trans,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Bootstrap("127.0.0.1:0"))
	require.Eventually(t, engine.IsLeader, 5*time.Second, 10*time.Millisecond)

	srv := NewServer(engine, kv, grpc.Creds(insecure.NewCredentials()))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return srv, lis.Addr().String()
}

func dialTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &Client{conn: conn, app: NewAppServiceClient(conn), management: NewManagementServiceClient(conn), creds: insecure.NewCredentials()}
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	_, addr := newTestServer(t)
	c := dialTestClient(t, addr)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "1"))

	v, found, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1", v)

	require.NoError(t, c.Delete(ctx, "a"))

	_, found, err = c.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMetricsReturnsRaftState(t *testing.T) {
	_, addr := newTestServer(t)
	c := dialTestClient(t, addr)

	values, err := c.Metrics(context.Background())
	require.NoError(t, err)
	require.Contains(t, values, "last_log_index")
}

func TestWatchStreamsSetEvents(t *testing.T) {
	_, addr := newTestServer(t)
	c := dialTestClient(t, addr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := c.Watch(ctx, "x")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "x", "1"))

	select {
	case ev := <-events:
		require.Equal(t, "x", ev.Key)
		require.Equal(t, "1", ev.Value)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}
