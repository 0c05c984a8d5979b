package e2e

import (
	"context"
	"testing"

	"github.com/discoproj/disco/test/framework"
)

// TestSingleNodeInit starts one node and checks it becomes leader of a
// one-member cluster within the time the spec's bootstrap timeline
// allows for consensus to settle.
func TestSingleNodeInit(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping cluster formation test in short mode")
	}

	config := framework.DefaultClusterConfig()
	config.NumNodes = 1

	cluster, err := framework.NewCluster(config)
	if err != nil {
		t.Fatalf("Failed to create cluster: %v", err)
	}
	defer func() { _ = cluster.Cleanup() }()

	if err := cluster.Start(); err != nil {
		t.Fatalf("Failed to start cluster: %v", err)
	}
	defer func() { _ = cluster.Stop() }()

	assert := framework.NewAssertions(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	if err := waiter.WaitForLeaderElection(ctx, cluster); err != nil {
		t.Fatalf("Leader election failed: %v", err)
	}

	leader, err := cluster.GetLeader()
	if err != nil {
		t.Fatalf("Failed to get leader: %v", err)
	}

	values, err := leader.Client.Metrics(ctx)
	if err != nil {
		t.Fatalf("Failed to read metrics: %v", err)
	}
	if values["disco_raft_is_leader"] != 1 {
		t.Error("sole node does not report itself as leader")
	}
	if values["disco_raft_term"] < 1 {
		t.Errorf("expected term >= 1, got %v", values["disco_raft_term"])
	}

	assert.PeerCount(ctx, 1, cluster)
	assert.QuorumSize(1, cluster)
}

// TestThreeNodeReplication starts a 3-node cluster, writes a key on
// node 1, and checks nodes 2 and 3 both observe it.
func TestThreeNodeReplication(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping cluster formation test in short mode")
	}

	config := framework.DefaultClusterConfig()
	config.NumNodes = 3

	cluster, err := framework.NewCluster(config)
	if err != nil {
		t.Fatalf("Failed to create cluster: %v", err)
	}
	defer func() { _ = cluster.Cleanup() }()

	if err := cluster.Start(); err != nil {
		t.Fatalf("Failed to start cluster: %v", err)
	}
	defer func() { _ = cluster.Stop() }()

	assert := framework.NewAssertions(t)
	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	if err := waiter.WaitForLeaderElection(ctx, cluster); err != nil {
		t.Fatalf("Leader election failed: %v", err)
	}
	assert.PeerCount(ctx, 3, cluster)

	if err := cluster.Nodes[0].Client.Set(ctx, "foo", "bar"); err != nil {
		t.Fatalf("Set on node 1 failed: %v", err)
	}

	for _, idx := range []int{1, 2} {
		if err := waiter.WaitForKey(ctx, cluster.Nodes[idx].Client, "foo", "bar"); err != nil {
			t.Fatalf("node %d never observed foo=bar: %v", idx+1, err)
		}
	}
}

// TestNotLeaderForwarding writes through a follower and checks the
// write still lands -- the client library resolves the NotLeader hint
// and retries against the real leader transparently.
func TestNotLeaderForwarding(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping cluster formation test in short mode")
	}

	config := framework.DefaultClusterConfig()
	config.NumNodes = 3

	cluster, err := framework.NewCluster(config)
	if err != nil {
		t.Fatalf("Failed to create cluster: %v", err)
	}
	defer func() { _ = cluster.Cleanup() }()

	if err := cluster.Start(); err != nil {
		t.Fatalf("Failed to start cluster: %v", err)
	}
	defer func() { _ = cluster.Stop() }()

	waiter := framework.DefaultWaiter()
	ctx := context.Background()

	if err := waiter.WaitForLeaderElection(ctx, cluster); err != nil {
		t.Fatalf("Leader election failed: %v", err)
	}

	leader, err := cluster.GetLeader()
	if err != nil {
		t.Fatalf("Failed to get leader: %v", err)
	}

	var follower *framework.Node
	for _, node := range cluster.Nodes {
		if node.ID != leader.ID {
			follower = node
			break
		}
	}
	if follower == nil {
		t.Fatal("no follower found")
	}

	if err := follower.Client.Set(ctx, "foo", "x"); err != nil {
		t.Fatalf("Set against follower %d failed: %v", follower.ID, err)
	}

	if err := waiter.WaitForKey(ctx, follower.Client, "foo", "x"); err != nil {
		t.Fatalf("foo never settled to x: %v", err)
	}
}
