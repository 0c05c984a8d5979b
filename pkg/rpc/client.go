package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/discoproj/disco/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
)

// Client wraps a single node's gRPC connection for CLI and
// peer-to-peer use, mirroring the teacher's pkg/client.Client shape.
type Client struct {
	conn       *grpc.ClientConn
	app        AppServiceClient
	management ManagementServiceClient
	creds      credentials.TransportCredentials
}

// Dial opens an mTLS connection to addr.
func Dial(ctx context.Context, addr types.RpcAddr, creds credentials.TransportCredentials) (*Client, error) {
	conn, err := grpc.DialContext(ctx, string(addr),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	return &Client{
		conn:       conn,
		app:        NewAppServiceClient(conn),
		management: NewManagementServiceClient(conn),
		creds:      creds,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Set calls AppService.Set, retrying once against the hinted leader if
// this node answers FailedPrecondition (not the leader), matching
// spec.md §7's NotLeader client-retry contract.
func (c *Client) Set(ctx context.Context, key, value string) error {
	_, err := c.app.Set(ctx, &SetRequest{Key: key, Value: value})
	hint, ok := IsNotLeader(err)
	if !ok || hint == "" {
		return err
	}

	leaderConn, dialErr := grpc.DialContext(ctx, hint,
		grpc.WithTransportCredentials(c.creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
		grpc.WithBlock(),
	)
	if dialErr != nil {
		return err
	}
	defer leaderConn.Close()

	_, err = NewAppServiceClient(leaderConn).Set(ctx, &SetRequest{Key: key, Value: value})
	return err
}

// Get calls AppService.Get.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	resp, err := c.app.Get(ctx, &GetRequest{Key: key})
	if err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

// Delete calls AppService.Delete.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.app.Delete(ctx, &DeleteRequest{Key: key})
	return err
}

// Watch opens a Watch stream on key and returns a channel of events
// that is closed when the stream ends.
func (c *Client) Watch(ctx context.Context, key string) (<-chan *WatchEvent, error) {
	stream, err := c.app.Watch(ctx, &WatchRequest{Key: key})
	if err != nil {
		return nil, err
	}
	out := make(chan *WatchEvent, 16)
	go func() {
		defer close(out)
		for {
			ev, err := stream.Recv()
			if err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Init calls ManagementService.Init.
func (c *Client) Init(ctx context.Context, nodes []types.Server) error {
	_, err := c.management.Init(ctx, &InitRequest{Nodes: nodes})
	return err
}

// AddLearner calls ManagementService.AddLearner.
func (c *Client) AddLearner(ctx context.Context, node types.Server) error {
	_, err := c.management.AddLearner(ctx, &AddLearnerRequest{Node: node})
	return err
}

// ChangeMembership calls ManagementService.ChangeMembership.
func (c *Client) ChangeMembership(ctx context.Context, membership types.Membership) error {
	_, err := c.management.ChangeMembership(ctx, &ChangeMembershipRequest{Membership: membership})
	return err
}

// Metrics calls ManagementService.Metrics.
func (c *Client) Metrics(ctx context.Context) (map[string]float64, error) {
	resp, err := c.management.Metrics(ctx, &MetricsRequest{})
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

// IsNotLeader reports whether err is the FailedPrecondition status
// this package's server returns for a non-leader write, and extracts
// the leader hint embedded in the message if present.
func IsNotLeader(err error) (hint string, ok bool) {
	st, isStatus := status.FromError(err)
	if !isStatus || st.Code() != codes.FailedPrecondition {
		return "", false
	}
	return st.Message(), true
}

// DialTimeout bounds Dial's initial handshake.
const DialTimeout = 10 * time.Second
