package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/discoproj/disco/test/framework"
)

// TestSnapshotCatchUp writes 11,000 entries, more than hashicorp/raft's
// default snapshot threshold, wipes a follower's data directory,
// restarts it, and checks it catches up to the latest write. It does
// not check whether the catch-up came from InstallSnapshot or from log
// replay.
func TestSnapshotCatchUp(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping snapshot catch-up test in short mode")
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

	t.Log("Writing 11,000 keys to force a snapshot...")
	const writes = 11000
	for i := 0; i < writes; i++ {
		key := fmt.Sprintf("load-%d", i)
		if err := leader.Client.Set(ctx, key, "v"); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	lastKey := fmt.Sprintf("load-%d", writes-1)
	t.Log("✓ Bulk writes complete")

	victim := cluster.Nodes[2]
	t.Logf("Stopping node %d and wiping its data directory...", victim.ID)
	if err := cluster.KillNode(victim.ID); err != nil {
		t.Fatalf("Failed to kill node %d: %v", victim.ID, err)
	}
	if err := os.RemoveAll(victim.DataDir); err != nil {
		t.Fatalf("Failed to wipe data dir: %v", err)
	}

	t.Logf("Restarting node %d with an empty data directory...", victim.ID)
	if err := cluster.RestartNode(victim.ID); err != nil {
		t.Fatalf("Failed to restart node %d: %v", victim.ID, err)
	}

	longWaiter := framework.NewWaiter(60*time.Second, time.Second)
	if err := longWaiter.WaitForKey(ctx, victim.Client, lastKey, "v"); err != nil {
		t.Fatalf("restarted node never caught up to latest write: %v", err)
	}
	t.Logf("✓ Node %d caught up to the latest write", victim.ID)
}

// TestScaleUp exercises Orchestrator.Scale's voter-promotion path by
// way of the same Init/AddLearner/ChangeMembership sequence the
// orchestrator drives, checked against a running cluster rather than
// a mocked cloud backend.
func TestScaleUp(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping scale test in short mode")
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
	assert.PeerCount(ctx, 1, cluster)

	for _, target := range []int{2, 3} {
		index := target - 1
		if err := cluster.GrowBy(1); err != nil {
			t.Fatalf("Failed to grow cluster to %d nodes: %v", target, err)
		}
		if err := waiter.WaitForPeerCount(ctx, cluster, target); err != nil {
			t.Fatalf("Peer count never reached %d: %v", target, err)
		}
		t.Logf("✓ Scaled to %d voters (node %d joined)", target, index+1)
	}
}
