package rpc

import (
	"context"
	"encoding/json"
	"net"

	"github.com/discoproj/disco/pkg/consensus"
	"github.com/discoproj/disco/pkg/events"
	"github.com/discoproj/disco/pkg/fsm"
	"github.com/discoproj/disco/pkg/metrics"
	"github.com/discoproj/disco/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server implements AppServiceServer and ManagementServiceServer over a
// single node's consensus engine and state machine, the way the
// teacher's pkg/api.Server wraps one *manager.Manager.
type Server struct {
	UnimplementedAppServiceServer
	UnimplementedManagementServiceServer

	engine *consensus.Engine
	kv     *fsm.KV
	grpc   *grpc.Server
}

// NewServer wires a Server to the node's engine and state machine and
// registers both service descriptors on a fresh grpc.Server using
// creds for mTLS.
func NewServer(engine *consensus.Engine, kv *fsm.KV, creds grpc.ServerOption) *Server {
	s := &Server{engine: engine, kv: kv}
	s.grpc = grpc.NewServer(creds)
	RegisterAppServiceServer(s.grpc, s)
	RegisterManagementServiceServer(s.grpc, s)
	return s
}

// Serve blocks, accepting connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func (s *Server) ensureLeader() error {
	if !s.engine.IsLeader() {
		hint := s.engine.LeaderHint()
		if hint == "" {
			return status.Error(codes.Unavailable, "no leader elected yet")
		}
		return status.Error(codes.FailedPrecondition, hint)
	}
	return nil
}

// Set implements AppServiceServer.
func (s *Server) Set(ctx context.Context, req *SetRequest) (*SetResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	cmd := types.Command{Kind: types.CommandSet, Key: req.Key, Value: req.Value}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal command: %v", err)
	}
	if _, err := s.engine.Apply(data); err != nil {
		return nil, status.Errorf(codes.Internal, "apply: %v", err)
	}
	return &SetResponse{}, nil
}

// Delete implements AppServiceServer.
func (s *Server) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	cmd := types.Command{Kind: types.CommandDelete, Key: req.Key}
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal command: %v", err)
	}
	if _, err := s.engine.Apply(data); err != nil {
		return nil, status.Errorf(codes.Internal, "apply: %v", err)
	}
	return &DeleteResponse{}, nil
}

// Get implements AppServiceServer. It issues a raft Barrier before
// reading the in-memory map so the result reflects every write
// committed before the request arrived (linearizable read).
func (s *Server) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	if err := s.engine.Barrier(); err != nil {
		return nil, status.Errorf(codes.Unavailable, "barrier: %v", err)
	}
	value, found := s.kv.Get(req.Key)
	return &GetResponse{Value: value, Found: found}, nil
}

// Watch implements AppServiceServer, streaming every subsequent change
// to req.Key until the client disconnects.
func (s *Server) Watch(req *WatchRequest, stream AppService_WatchServer) error {
	sub := s.kv.Watch()
	defer s.kv.Unwatch(sub)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if ev.Key != req.Key {
				continue
			}
			out := &WatchEvent{Key: ev.Key, Value: ev.Value, Deleted: ev.Type == events.EventKeyDeleted}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

// ForwardToLeader implements AppServiceServer: on the leader it decodes
// the forwarded Set or Delete and applies it locally. It does not relay
// anything: a node that is not the leader rejects the call through
// ensureLeader, like a direct Set.
func (s *Server) ForwardToLeader(ctx context.Context, req *ForwardToLeaderRequest) (*ForwardToLeaderResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	switch req.Method {
	case "Set":
		var inner SetRequest
		if err := json.Unmarshal(req.Inner, &inner); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode inner Set: %v", err)
		}
		resp, err := s.Set(ctx, &inner)
		if err != nil {
			return nil, err
		}
		out, _ := json.Marshal(resp)
		return &ForwardToLeaderResponse{Inner: out}, nil
	case "Delete":
		var inner DeleteRequest
		if err := json.Unmarshal(req.Inner, &inner); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode inner Delete: %v", err)
		}
		resp, err := s.Delete(ctx, &inner)
		if err != nil {
			return nil, err
		}
		out, _ := json.Marshal(resp)
		return &ForwardToLeaderResponse{Inner: out}, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown forwarded method %q", req.Method)
	}
}

// Init implements ManagementServiceServer, bootstrapping a brand new
// single-node membership with this node as the sole voter at
// req.Nodes[0].Addr. Further entries in req.Nodes are ignored; other
// nodes join later through AddLearner and ChangeMembership.
func (s *Server) Init(ctx context.Context, req *InitRequest) (*InitResponse, error) {
	if len(req.Nodes) == 0 {
		return nil, status.Error(codes.InvalidArgument, "Init requires at least one node")
	}
	if err := s.engine.Bootstrap(req.Nodes[0].Addr); err != nil {
		return nil, status.Errorf(codes.Internal, "bootstrap: %v", err)
	}
	return &InitResponse{}, nil
}

// AddLearner implements ManagementServiceServer.
func (s *Server) AddLearner(ctx context.Context, req *AddLearnerRequest) (*AddLearnerResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	if err := s.engine.AddLearner(req.Node.ID, req.Node.Addr); err != nil {
		return nil, status.Errorf(codes.Internal, "add learner: %v", err)
	}
	return &AddLearnerResponse{}, nil
}

// ChangeMembership implements ManagementServiceServer, promoting every
// learner named in the requested membership to a voter.
func (s *Server) ChangeMembership(ctx context.Context, req *ChangeMembershipRequest) (*ChangeMembershipResponse, error) {
	if err := s.ensureLeader(); err != nil {
		return nil, err
	}
	for _, srv := range req.Membership.Servers {
		if srv.Suffrage != types.Voter {
			continue
		}
		if err := s.engine.PromoteVoter(srv.ID, srv.Addr); err != nil {
			return nil, status.Errorf(codes.Internal, "promote voter %d: %v", srv.ID, err)
		}
	}
	return &ChangeMembershipResponse{}, nil
}

// Metrics implements ManagementServiceServer, returning a flat
// snapshot of the process's prometheus gauges/counters (see
// pkg/metrics), per SPEC_FULL.md's supplemented Metrics RPC note: this
// RPC and the scraped /metrics endpoint read the same registry.
func (s *Server) Metrics(ctx context.Context, req *MetricsRequest) (*MetricsResponse, error) {
	values := metrics.Snapshot()
	for k, v := range s.engine.Stats() {
		if f, ok := toFloat(v); ok {
			values[k] = f
		}
	}
	return &MetricsResponse{Values: values}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
