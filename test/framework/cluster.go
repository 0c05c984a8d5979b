package framework

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc/credentials"

	"github.com/discoproj/disco/pkg/rpc"
	"github.com/discoproj/disco/pkg/transport"
	"github.com/discoproj/disco/pkg/types"
)

// DefaultClusterConfig returns a default 3-node cluster configuration,
// reading discod's path and the test PKI from environment variables the
// way DefaultClusterConfig reads WARREN_BINARY/WARREN_TEST_DATA_DIR.
func DefaultClusterConfig() *ClusterConfig {
	binary := os.Getenv("DISCOD_BINARY")
	if binary == "" {
		binary = "bin/discod"
	}

	dataDir := os.Getenv("DISCO_TEST_DATA_DIR")
	if dataDir == "" {
		dataDir = "/tmp/disco-test"
	}

	return &ClusterConfig{
		NumNodes:     3,
		DataDir:      dataDir,
		DiscodBinary: binary,
		BasePort:     15051,
		CACert:       envOrDefault("DISCO_TEST_CA_CERT", "test/testdata/ca.pem"),
		ServerCert:   envOrDefault("DISCO_TEST_SERVER_CERT", "test/testdata/server.pem"),
		ServerKey:    envOrDefault("DISCO_TEST_SERVER_KEY", "test/testdata/server.key"),
		ClientCert:   envOrDefault("DISCO_TEST_CLIENT_CERT", "test/testdata/client.pem"),
		ClientKey:    envOrDefault("DISCO_TEST_CLIENT_KEY", "test/testdata/client.key"),
		LogLevel:     "info",
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewCluster creates a new test cluster with the given configuration.
func NewCluster(config *ClusterConfig) (*Cluster, error) {
	if config == nil {
		config = DefaultClusterConfig()
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Cluster{
		Config: config,
		Nodes:  make([]*Node, 0, config.NumNodes),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start starts every node in order: the first node bootstraps a
// single-voter cluster via ManagementService.Init, then every
// subsequent node is started fresh and joined as a learner, then
// promoted to voter -- the same AddLearner-then-ChangeMembership
// sequence pkg/orchestrator.scaleStepLocked drives in production.
func (c *Cluster) Start() error {
	if err := c.startNode(0); err != nil {
		return fmt.Errorf("failed to start node 0: %w", err)
	}

	first := c.Nodes[0]
	if err := first.Client.Init(c.ctx, []types.Server{{ID: first.ID, Addr: first.Addr, Suffrage: types.Voter}}); err != nil {
		return fmt.Errorf("failed to init node 0: %w", err)
	}

	for i := 1; i < c.Config.NumNodes; i++ {
		if err := c.startNode(i); err != nil {
			return fmt.Errorf("failed to start node %d: %w", i, err)
		}
		if err := c.joinNode(i); err != nil {
			return fmt.Errorf("failed to join node %d: %w", i, err)
		}
	}

	return c.WaitForQuorum()
}

// GrowBy starts n additional nodes past the cluster's current size and
// joins each as a learner then promotes it to voter, the same sequence
// Start uses for every node after the first.
func (c *Cluster) GrowBy(n int) error {
	start := len(c.Nodes)
	for i := 0; i < n; i++ {
		index := start + i
		if err := c.startNode(index); err != nil {
			return fmt.Errorf("failed to start node %d: %w", index, err)
		}
		if err := c.joinNode(index); err != nil {
			return fmt.Errorf("failed to join node %d: %w", index, err)
		}
	}
	return nil
}

// Stop stops every node in reverse start order.
func (c *Cluster) Stop() error {
	for i := len(c.Nodes) - 1; i >= 0; i-- {
		if err := c.stopNode(c.Nodes[i]); err != nil {
			return fmt.Errorf("failed to stop node %d: %w", i, err)
		}
	}
	return nil
}

// Cleanup stops the cluster and removes its data directories.
func (c *Cluster) Cleanup() error {
	if err := c.Stop(); err != nil {
		fmt.Printf("Warning: error during stop: %v\n", err)
	}
	if c.cancel != nil {
		c.cancel()
	}
	if !c.Config.KeepOnFailure {
		if err := os.RemoveAll(c.Config.DataDir); err != nil {
			return fmt.Errorf("failed to remove data dir: %w", err)
		}
	}
	return nil
}

// GetLeader returns the node that currently reports itself as Raft
// leader.
func (c *Cluster) GetLeader() (*Node, error) {
	for _, node := range c.Nodes {
		if node.Client == nil {
			continue
		}
		isLeader, err := node.Client.IsLeader(c.ctx)
		if err != nil || !isLeader {
			continue
		}
		return node, nil
	}
	return nil, fmt.Errorf("no leader found in cluster")
}

// WaitForQuorum waits for every live node to report the full voter
// count, meaning the cluster has finished converging membership.
func (c *Cluster) WaitForQuorum() error {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for quorum: %w", ctx.Err())
		case <-ticker.C:
			if c.hasQuorum() {
				return nil
			}
		}
	}
}

// KillNode kills a specific node's process (simulates a crash).
func (c *Cluster) KillNode(id types.NodeID) error {
	for _, node := range c.Nodes {
		if node.ID == id {
			if node.Process == nil {
				return fmt.Errorf("node %d has no process", id)
			}
			return node.Process.Kill()
		}
	}
	return fmt.Errorf("node %d not found", id)
}

// RestartNode stops and restarts a specific node's process in place,
// reusing its existing data directory so raft replays its log.
func (c *Cluster) RestartNode(id types.NodeID) error {
	var index int
	found := false
	for i, node := range c.Nodes {
		if node.ID == id {
			index, found = i, true
			break
		}
	}
	if !found {
		return fmt.Errorf("node %d not found", id)
	}

	if err := c.stopNode(c.Nodes[index]); err != nil {
		return fmt.Errorf("failed to stop node: %w", err)
	}
	time.Sleep(time.Second)
	return c.startNode(index)
}

func (c *Cluster) startNode(index int) error {
	id := types.NodeID(index + 1)
	addr := types.RpcAddr(fmt.Sprintf("127.0.0.1:%d", c.Config.BasePort+2*index))
	dataDir := filepath.Join(c.Config.DataDir, fmt.Sprintf("node-%d", id))

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	process := NewProcess(c.Config.DiscodBinary)
	process.Args = []string{
		fmt.Sprintf("--id=%d", id),
		"--addr=" + string(addr),
		"--ca-cert=" + c.Config.CACert,
		"--server-cert=" + c.Config.ServerCert,
		"--server-key=" + c.Config.ServerKey,
		"--client-cert=" + c.Config.ClientCert,
		"--client-key=" + c.Config.ClientKey,
		"--data-dir=" + dataDir,
		"--log=" + c.Config.LogLevel,
	}

	if err := process.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	node := &Node{ID: id, Addr: addr, DataDir: dataDir, Process: process}

	if err := c.waitForListening(addr, 15*time.Second); err != nil {
		return fmt.Errorf("node %d not listening: %w", id, err)
	}

	client, err := c.dial(addr)
	if err != nil {
		return fmt.Errorf("failed to dial node %d: %w", id, err)
	}
	node.Client = client

	if index < len(c.Nodes) {
		c.Nodes[index] = node
	} else {
		c.Nodes = append(c.Nodes, node)
	}
	return nil
}

func (c *Cluster) joinNode(index int) error {
	leader, err := c.GetLeader()
	if err != nil {
		return fmt.Errorf("no leader to join against: %w", err)
	}
	joining := c.Nodes[index]

	server := types.Server{ID: joining.ID, Addr: joining.Addr, Suffrage: types.Learner}
	if err := leader.Client.AddLearner(c.ctx, server); err != nil {
		return fmt.Errorf("add learner: %w", err)
	}

	server.Suffrage = types.Voter
	if err := leader.Client.ChangeMembership(c.ctx, types.Membership{Servers: []types.Server{server}}); err != nil {
		return fmt.Errorf("promote voter: %w", err)
	}
	return nil
}

func (c *Cluster) stopNode(node *Node) error {
	if node.Client != nil {
		node.Client.Close()
	}
	if node.Process != nil {
		return node.Process.Stop()
	}
	return nil
}

func (c *Cluster) hasQuorum() bool {
	leader, err := c.GetLeader()
	if err != nil {
		return false
	}
	peers, err := leader.Client.PeerCount(c.ctx)
	if err != nil {
		return false
	}
	return peers >= (len(c.Nodes)/2 + 1)
}

func (c *Cluster) waitForListening(addr types.RpcAddr, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s: %w", addr, ctx.Err())
		case <-ticker.C:
			client, err := c.dial(addr)
			if err != nil {
				continue
			}
			client.Close()
			return nil
		}
	}
}

func (c *Cluster) dial(addr types.RpcAddr) (*Client, error) {
	creds, err := clientCreds(c.Config)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	raw, err := rpc.Dial(dialCtx, addr, creds)
	if err != nil {
		return nil, err
	}
	return NewClient(raw), nil
}

// clientCreds builds the mTLS transport credentials every test dial
// uses, from the same CA/client cert pair every node in the cluster was
// started with.
func clientCreds(cfg *ClusterConfig) (credentials.TransportCredentials, error) {
	tlsConfig, err := transport.LoadClientTLS(transport.TLSFiles{
		CACert:     cfg.CACert,
		ClientCert: cfg.ClientCert,
		ClientKey:  cfg.ClientKey,
	})
	if err != nil {
		return nil, fmt.Errorf("load client tls: %w", err)
	}
	return credentials.NewTLS(tlsConfig), nil
}

func validateConfig(config *ClusterConfig) error {
	if config.NumNodes < 1 {
		return fmt.Errorf("NumNodes must be >= 1, got %d", config.NumNodes)
	}
	if config.DiscodBinary == "" {
		return fmt.Errorf("DiscodBinary cannot be empty")
	}
	if config.DataDir == "" {
		return fmt.Errorf("DataDir cannot be empty")
	}
	return nil
}
