package orchestrator

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/discoproj/disco/pkg/consensus"
	"github.com/discoproj/disco/pkg/fsm"
	"github.com/discoproj/disco/pkg/metrics"
	"github.com/discoproj/disco/pkg/provider"
	"github.com/discoproj/disco/pkg/rpc"
	"github.com/discoproj/disco/pkg/scripthost"
	"github.com/discoproj/disco/pkg/sshprov"
	"github.com/discoproj/disco/pkg/store"
	"github.com/discoproj/disco/pkg/types"
)

// fakeProvider is a cloudProvider that never touches AWS: every
// instance gets a deterministic, incrementing fake IP.
type fakeProvider struct {
	mu   sync.Mutex
	next int
}

func (p *fakeProvider) EnsureRole(ctx context.Context, name string) (string, error) {
	return "arn:aws:iam::000000000000:role/" + name, nil
}

func (p *fakeProvider) EnsureStorage(ctx context.Context, bucket string) (string, error) {
	return bucket, nil
}

func (p *fakeProvider) StartInstance(ctx context.Context, image, instanceType string) (provider.InstanceState, error) {
	p.mu.Lock()
	p.next++
	n := p.next
	p.mu.Unlock()
	return provider.InstanceState{
		ID:        fmt.Sprintf("i-%d", n),
		PrivateIP: fmt.Sprintf("10.0.0.%d", n),
		Running:   true,
	}, nil
}

func (p *fakeProvider) AttachIP(ctx context.Context, instanceID string) (provider.InstanceState, error) {
	return provider.InstanceState{ID: instanceID, PublicIP: "203.0.113.1", Running: true}, nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	orig := newCloudProvider
	newCloudProvider = func(ctx context.Context, region, profile string) (cloudProvider, error) {
		return &fakeProvider{}, nil
	}
	t.Cleanup(func() { newCloudProvider = orig })

	origInstall := sshInstall
	sshInstall = func(installer *sshprov.Installer, ctx context.Context, host string, payload sshprov.Payload) error {
		return nil
	}
	t.Cleanup(func() { sshInstall = origInstall })

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	o, err := New("disco", keyPEM, insecure.NewCredentials(), testBinaryPath(t))
	require.NoError(t, err)
	return o
}

// testBinaryPath returns a path to a small readable file standing in
// for the discod binary New() reads once at construction.
func testBinaryPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/discod"
	require.NoError(t, os.WriteFile(path, []byte("fake-binary"), 0o644))
	return path
}

// newTestRaftNode boots a single-node raft cluster behind a real
// rpc.Server, mirroring pkg/rpc/server_test.go's harness, so Healthy/
// Scale/Init exercise the real ManagementService surface.
func newTestRaftNode(t *testing.T) types.RpcAddr {
	t.Helper()
	dir := t.TempDir()

	logStore, err := store.NewFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { logStore.Close() })

	snapStore := store.NewFileSnapshotStore(dir)
	kv := fsm.New(nil)

	_, trans := raft.NewInmemTransport("1")
	t.Cleanup(func() { trans.Close() })

	engine, err := consensus.Open(consensus.Config{
		NodeID:        1,
		Addr:          "127.0.0.1:0",
		FSM:           kv,
		LogStore:      logStore,
		StableStore:   logStore,
		SnapshotStore: snapStore,
		Transport:     trans,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Bootstrap("127.0.0.1:0"))
	require.Eventually(t, engine.IsLeader, 5*time.Second, 10*time.Millisecond)
	// cmd/discod's metrics loop keeps this gauge in sync with
	// engine.IsLeader(); set it directly since that loop isn't running here.
	metrics.RaftIsLeader.Set(1)

	srv := rpc.NewServer(engine, kv, grpc.Creds(insecure.NewCredentials()))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return types.RpcAddr(lis.Addr().String())
}

func TestInitProviderAndClusterLifecycle(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	providerRef, err := o.InitProvider(ctx, scripthost.ProviderSpec{Name: "aws", Region: "us-east-1"})
	require.NoError(t, err)

	roleRef, err := o.EnsureRole(ctx, providerRef, "disco-role")
	require.NoError(t, err)
	require.Contains(t, string(roleRef), "disco-role")

	storageRef, err := o.EnsureStorage(ctx, providerRef, "disco-bucket", roleRef)
	require.NoError(t, err)
	require.Equal(t, "disco-bucket", string(storageRef))

	clusterRef, err := o.NewCluster(ctx, scripthost.ClusterSpec{Name: "prod", Provider: providerRef, Role: roleRef, Storage: storageRef})
	require.NoError(t, err)

	require.NoError(t, o.SetKeyPair(ctx, clusterRef, "", ""))

	state, err := o.StartInstance(ctx, clusterRef, "ami-1", "t3.micro")
	require.NoError(t, err)
	require.Equal(t, scripthost.InstanceRunning, state.Status)

	state, err = o.AttachIP(ctx, clusterRef)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.1", state.PublicIP)

	require.NoError(t, o.SSHInstall(ctx, clusterRef))
}

func TestHealthyFalseBeforeInit(t *testing.T) {
	o := newTestOrchestrator(t)
	ctx := context.Background()

	providerRef, err := o.InitProvider(ctx, scripthost.ProviderSpec{Region: "us-east-1"})
	require.NoError(t, err)
	clusterRef, err := o.NewCluster(ctx, scripthost.ClusterSpec{Provider: providerRef})
	require.NoError(t, err)

	healthy, err := o.Healthy(ctx, clusterRef)
	require.NoError(t, err)
	require.False(t, healthy)
}

func TestBootstrapThenScaleJoinsLearnerAsVoter(t *testing.T) {
	o := newTestOrchestrator(t)
	o.creds = insecure.NewCredentials()
	ctx := context.Background()

	raftAddr := newTestRaftNode(t)

	providerRef, err := o.InitProvider(ctx, scripthost.ProviderSpec{Region: "us-east-1"})
	require.NoError(t, err)
	clusterRef, err := o.NewCluster(ctx, scripthost.ClusterSpec{Provider: providerRef})
	require.NoError(t, err)

	_, err = o.StartInstance(ctx, clusterRef, "ami-1", "t3.micro")
	require.NoError(t, err)
	require.NoError(t, o.SSHInstall(ctx, clusterRef))

	// Stand in for a completed Init: point the cluster at the real raft
	// listener and mark the primary joined, the way Init itself would.
	cs, err := o.cluster(clusterRef)
	require.NoError(t, err)
	cs.mu.Lock()
	cs.leaderAddr = raftAddr
	cs.instances[0].state.Status = scripthost.InstanceJoined
	cs.mu.Unlock()

	healthy, err := o.Healthy(ctx, clusterRef)
	require.NoError(t, err)
	require.True(t, healthy)

	require.NoError(t, o.Scale(ctx, clusterRef, 2))

	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.Len(t, cs.instances, 2)
	require.Equal(t, 2, cs.votersLocked())
}
