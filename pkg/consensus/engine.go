// Package consensus wraps hashicorp/raft into the shape spec.md §4.3
// names the Consensus Engine: bootstrap, membership changes, leader
// queries, and linearizable-read barriers, all driven against the
// literal on-disk log/snapshot layout pkg/store implements.
package consensus

import (
	"fmt"
	"time"

	"github.com/discoproj/disco/pkg/types"
	"github.com/hashicorp/raft"
)

// Disco pins these two timeouts so hashicorp/raft's own randomized
// election window ([timeout, 2*timeout)) lands inside spec.md's
// mandated [150ms, 300ms] band.
const (
	HeartbeatTimeout = 50 * time.Millisecond
	ElectionTimeout  = 150 * time.Millisecond

	applyTimeout    = 5 * time.Second
	membershipTimeout = 10 * time.Second
	barrierTimeout  = 2 * time.Second
)

// Config configures Engine.Open.
type Config struct {
	NodeID types.NodeID
	Addr   types.RpcAddr

	FSM           raft.FSM
	LogStore      raft.LogStore
	StableStore   raft.StableStore
	SnapshotStore raft.SnapshotStore
	Transport     raft.Transport
}

// Engine owns the *raft.Raft instance for one node.
type Engine struct {
	nodeID types.NodeID
	raft   *raft.Raft
}

// Open constructs the Raft instance but does not bootstrap it; callers
// decide separately whether to Bootstrap a fresh single-node cluster or
// rely on an existing leader to add this node via joint consensus.
func Open(cfg Config) (*Engine, error) {
	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(fmt.Sprintf("%d", cfg.NodeID))
	rc.HeartbeatTimeout = HeartbeatTimeout
	rc.ElectionTimeout = ElectionTimeout
	rc.LeaderLeaseTimeout = HeartbeatTimeout
	rc.CommitTimeout = 50 * time.Millisecond

	r, err := raft.NewRaft(rc, cfg.FSM, cfg.LogStore, cfg.StableStore, cfg.SnapshotStore, cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("consensus: create raft instance: %w", err)
	}

	return &Engine{nodeID: cfg.NodeID, raft: r}, nil
}

// Bootstrap forms a brand new single-node cluster with this node as
// the sole voter. Only called once, by the first node of a cluster.
func (e *Engine) Bootstrap(addr types.RpcAddr) error {
	cfg := raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(fmt.Sprintf("%d", e.nodeID)), Address: raft.ServerAddress(addr)},
		},
	}
	future := e.raft.BootstrapCluster(cfg)
	if err := future.Error(); err != nil {
		return fmt.Errorf("consensus: bootstrap cluster: %w", err)
	}
	return nil
}

// Apply submits a command through the replicated log and blocks until
// it is either committed or times out. The returned value is whatever
// the FSM's Apply returned for this entry.
func (e *Engine) Apply(data []byte) (interface{}, error) {
	future := e.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("consensus: apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, nil
}

// Barrier blocks until all prior committed log entries have been
// applied to the FSM on this node, giving callers a linearizable-read
// guarantee before serving a Get from the in-memory state.
func (e *Engine) Barrier() error {
	future := e.raft.Barrier(barrierTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("consensus: barrier: %w", err)
	}
	return nil
}

// IsLeader reports whether this node currently believes it is leader.
func (e *Engine) IsLeader() bool {
	return e.raft.State() == raft.Leader
}

// LeaderHint returns the last known leader address, or "" if unknown.
// Used to populate discoerr.NotLeader so a client can retry against the
// right node without another round trip.
func (e *Engine) LeaderHint() types.RpcAddr {
	addr, _ := e.raft.LeaderWithID()
	return types.RpcAddr(addr)
}

// AddLearner adds a non-voting member; this is always step one of
// joining a node, per spec.md §4.6 step 7 (AddLearner -> promote once
// caught up).
func (e *Engine) AddLearner(id types.NodeID, addr types.RpcAddr) error {
	future := e.raft.AddNonvoter(raft.ServerID(fmt.Sprintf("%d", id)), raft.ServerAddress(addr), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("consensus: add learner %d: %w", id, err)
	}
	return nil
}

// PromoteVoter converts an existing (caught-up) learner into a voter.
func (e *Engine) PromoteVoter(id types.NodeID, addr types.RpcAddr) error {
	future := e.raft.AddVoter(raft.ServerID(fmt.Sprintf("%d", id)), raft.ServerAddress(addr), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("consensus: promote voter %d: %w", id, err)
	}
	return nil
}

// RemoveServer removes a member from the cluster, whether voter or
// learner.
func (e *Engine) RemoveServer(id types.NodeID) error {
	future := e.raft.RemoveServer(raft.ServerID(fmt.Sprintf("%d", id)), 0, membershipTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("consensus: remove server %d: %w", id, err)
	}
	return nil
}

// Membership returns the current cluster configuration.
func (e *Engine) Membership() (types.Membership, error) {
	future := e.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return types.Membership{}, fmt.Errorf("consensus: get configuration: %w", err)
	}

	cfg := future.Configuration()
	m := types.Membership{Servers: make([]types.Server, 0, len(cfg.Servers))}
	for _, s := range cfg.Servers {
		suffrage := types.Voter
		if s.Suffrage == raft.Nonvoter {
			suffrage = types.Learner
		}
		var id uint64
		fmt.Sscanf(string(s.ID), "%d", &id)
		m.Servers = append(m.Servers, types.Server{
			ID:       types.NodeID(id),
			Addr:     types.RpcAddr(s.Address),
			Suffrage: suffrage,
		})
	}
	return m, nil
}

// Stats mirrors the teacher's GetRaftStats, used to populate the
// Metrics RPC and `disco status`.
func (e *Engine) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"state":           e.raft.State().String(),
		"last_log_index":  e.raft.LastIndex(),
		"applied_index":   e.raft.AppliedIndex(),
		"leader":          string(e.LeaderHint()),
	}
	return stats
}

// Shutdown stops the Raft instance and blocks until it is fully
// stopped.
func (e *Engine) Shutdown() error {
	future := e.raft.Shutdown()
	if err := future.Error(); err != nil {
		return fmt.Errorf("consensus: shutdown: %w", err)
	}
	return nil
}

