package scripthost

import "context"

// InstanceStatus mirrors the InstanceHandle state machine from spec.md
// §3: Pending, Running, SshReady, Joined, Terminated.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceRunning   InstanceStatus = "running"
	InstanceSshReady  InstanceStatus = "ssh_ready"
	InstanceJoined    InstanceStatus = "joined"
	InstanceTerminated InstanceStatus = "terminated"
)

// ProviderRef, RoleRef, StorageRef and ClusterRef are opaque ids the
// Backend hands back; the Script Host never interprets them, it only
// stores them in the Arena and threads them back into later calls.
type ProviderRef string
type RoleRef string
type StorageRef string
type ClusterRef string

// ProviderSpec is the argument to AwsProvider.init.
type ProviderSpec struct {
	Name    string
	Region  string
	Profile string
}

// ClusterSpec is the argument to `new Cluster(...)`.
type ClusterSpec struct {
	Name     string
	Provider ProviderRef
	Role     RoleRef
	Storage  StorageRef
}

// InstanceState is what a start_instance/attach_ip call resolves to.
type InstanceState struct {
	ID        string
	PublicIP  string
	PrivateIP string
	Status    InstanceStatus
}

// Backend is the Orchestrator's surface as seen by the Script Host:
// every host binding in spec.md §4.5 that does real work dispatches to
// one of these methods from a worker goroutine, never from the Host's
// own goroutine (see Host.asyncCall). pkg/orchestrator.Orchestrator
// implements this interface.
type Backend interface {
	InitProvider(ctx context.Context, spec ProviderSpec) (ProviderRef, error)
	EnsureRole(ctx context.Context, provider ProviderRef, name string) (RoleRef, error)
	EnsureStorage(ctx context.Context, provider ProviderRef, bucket string, role RoleRef) (StorageRef, error)
	NewCluster(ctx context.Context, spec ClusterSpec) (ClusterRef, error)
	Healthy(ctx context.Context, cluster ClusterRef) (bool, error)
	SetKeyPair(ctx context.Context, cluster ClusterRef, privatePath, publicPath string) error
	StartInstance(ctx context.Context, cluster ClusterRef, image, instanceType string) (InstanceState, error)
	AttachIP(ctx context.Context, cluster ClusterRef) (InstanceState, error)
	SSHInstall(ctx context.Context, cluster ClusterRef) error
	Scale(ctx context.Context, cluster ClusterRef, n int) error
}

// KeyChange is one notification delivered to a disco.key(k).on("change")
// subscriber, in commit order (spec.md §5 Ordering guarantees).
type KeyChange struct {
	Key     string
	Value   string
	Deleted bool
}

// Watcher lets the Script Host subscribe to state-machine key changes
// without depending on pkg/fsm directly; pkg/orchestrator wires a
// concrete implementation backed by pkg/rpc.Client.Watch or, on the
// node itself, pkg/fsm.KV.Watch.
type Watcher interface {
	WatchKey(ctx context.Context, key string) (<-chan KeyChange, error)
}
