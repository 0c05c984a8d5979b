package framework

import (
	"context"
	"time"

	"github.com/discoproj/disco/pkg/types"
)

// ClusterConfig defines the configuration for a test cluster of discod
// processes. Unlike the teacher's manager/worker split, every Disco
// node is a peer: any of them can become the Raft leader.
type ClusterConfig struct {
	// NumNodes is the number of discod processes to start.
	NumNodes int
	// DataDir is the base directory for per-node data directories.
	DataDir string
	// DiscodBinary is the path to the discod binary under test.
	DiscodBinary string
	// BasePort is the first node's gRPC/management port; node i listens
	// on BasePort+2*i (the raft transport takes BasePort+2*i-1, per
	// derivedRaftAddr's port-minus-one convention).
	BasePort int
	// CACert, ServerCert, ServerKey, ClientCert, ClientKey are PEM file
	// paths shared by every node in the test cluster (a single CA signs
	// every node's certificate, same as a real deployment's fixed PKI).
	CACert     string
	ServerCert string
	ServerKey  string
	ClientCert string
	ClientKey  string
	// KeepOnFailure keeps node data directories on disk if tests fail.
	KeepOnFailure bool
	// LogLevel sets discod's --log flag.
	LogLevel string
}

// Cluster represents a test Disco cluster: a set of discod processes
// dialed over the same mTLS client credentials.
type Cluster struct {
	Config *ClusterConfig
	Nodes  []*Node

	ctx    context.Context
	cancel context.CancelFunc
}

// Node represents one discod process in the test cluster.
type Node struct {
	ID      types.NodeID
	Addr    types.RpcAddr
	DataDir string
	Process *Process
	Client  *Client
}

// Process is defined in process.go.

// TestContext provides utilities for test execution.
type TestContext struct {
	T       TestingT
	Ctx     context.Context
	Cancel  context.CancelFunc
	Timeout time.Duration

	cleanup []func()
}

// TestingT is an interface matching testing.T.
type TestingT interface {
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	FailNow()
	Failed() bool
	Name() string
	Helper()
}
