package rpc

import "github.com/discoproj/disco/pkg/types"

// AppService messages.

type SetRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type SetResponse struct {
	LeaderHint types.RpcAddr `json:"leader_hint,omitempty"`
}

type GetRequest struct {
	Key string `json:"key"`
}

type GetResponse struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type DeleteRequest struct {
	Key string `json:"key"`
}

type DeleteResponse struct {
	LeaderHint types.RpcAddr `json:"leader_hint,omitempty"`
}

type WatchRequest struct {
	Key string `json:"key"`
}

// WatchEvent is one message of an AppService.Watch server stream.
type WatchEvent struct {
	Key     string `json:"key"`
	Value   string `json:"value"`
	Deleted bool   `json:"deleted"`
}

// ForwardToLeaderRequest carries an opaque, already-encoded inner
// request (one of SetRequest/DeleteRequest's JSON bytes) so a follower
// can relay a write without decoding it twice.
type ForwardToLeaderRequest struct {
	Method string `json:"method"`
	Inner  []byte `json:"inner"`
}

type ForwardToLeaderResponse struct {
	Inner []byte `json:"inner"`
}

// ManagementService messages.

type InitRequest struct {
	Nodes []types.Server `json:"nodes"`
}

type InitResponse struct{}

type AddLearnerRequest struct {
	Node types.Server `json:"node"`
}

type AddLearnerResponse struct{}

type ChangeMembershipRequest struct {
	Membership types.Membership `json:"membership"`
}

type ChangeMembershipResponse struct{}

type MetricsRequest struct{}

type MetricsResponse struct {
	Values map[string]float64 `json:"values"`
}
