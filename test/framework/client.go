package framework

import (
	"context"
	"fmt"

	"github.com/discoproj/disco/pkg/rpc"
)

// Client wraps an *rpc.Client with test-friendly helpers, mirroring the
// teacher's test/framework.Client wrapper over pkg/client.Client. Every
// rpc.Client method (Get, Set, Delete, Watch, Init, AddLearner,
// ChangeMembership, Metrics, Close) is promoted through the embedded
// pointer.
type Client struct {
	*rpc.Client
}

// NewClient wraps c for use in test assertions and waiters.
func NewClient(c *rpc.Client) *Client {
	return &Client{Client: c}
}

// SetAndWait writes key=value then reads it back once with Get on the
// same connection, returning an error if that read does not observe
// the value. It does not poll or retry.
func (c *Client) SetAndWait(ctx context.Context, key, value string) error {
	if err := c.Set(ctx, key, value); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	got, found, err := c.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if !found || got != value {
		return fmt.Errorf("set %s=%s then got %q (found=%v)", key, value, got, found)
	}
	return nil
}

// IsLeader reports whether this node currently believes itself leader.
func (c *Client) IsLeader(ctx context.Context) (bool, error) {
	values, err := c.Metrics(ctx)
	if err != nil {
		return false, err
	}
	return values["disco_raft_is_leader"] == 1, nil
}

// PeerCount returns the node's view of its own voting membership size.
func (c *Client) PeerCount(ctx context.Context) (int, error) {
	values, err := c.Metrics(ctx)
	if err != nil {
		return 0, err
	}
	return int(values["disco_raft_peers_total"]), nil
}
