// Package orchestrator implements scripthost.Backend: it translates
// Script Host bindings into cloud-provider API calls (pkg/provider),
// SSH provisioning (pkg/sshprov), and consensus RPCs (pkg/rpc),
// applying the retry and idempotent-on-state rules spec.md §4.6
// describes for the bootstrap and scale() sequences.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"google.golang.org/grpc/credentials"

	"github.com/discoproj/disco/pkg/metrics"
	"github.com/discoproj/disco/pkg/provider"
	"github.com/discoproj/disco/pkg/rpc"
	"github.com/discoproj/disco/pkg/scripthost"
	"github.com/discoproj/disco/pkg/sshprov"
	"github.com/discoproj/disco/pkg/types"
)

// instanceRecord tracks one launched instance through the InstanceHandle
// state machine spec.md §3 defines.
type instanceRecord struct {
	state  scripthost.InstanceState
	nodeID types.NodeID
}

// clusterState is the orchestrator's authoritative, in-memory view of
// one script-visible Cluster: spec.md §3 says script host objects are
// not replicated, so this bookkeeping lives only as long as the script
// task that created it.
type clusterState struct {
	mu           sync.Mutex
	spec         scripthost.ClusterSpec
	instances    []*instanceRecord
	leaderAddr   types.RpcAddr
	nextNodeID   types.NodeID
	keyPair      keyPairPaths
	image        string
	instanceType string
}

type keyPairPaths struct {
	private string
	public  string
}

// cloudProvider is the subset of *provider.AWS the orchestrator needs.
// It exists so tests can exercise Scale/StartInstance/SSHInstall's
// control flow against a fake instead of live AWS credentials.
type cloudProvider interface {
	EnsureRole(ctx context.Context, name string) (string, error)
	EnsureStorage(ctx context.Context, bucket string) (string, error)
	StartInstance(ctx context.Context, image, instanceType string) (provider.InstanceState, error)
	AttachIP(ctx context.Context, instanceID string) (provider.InstanceState, error)
}

// newCloudProvider is overridden in tests to avoid dialing real AWS.
var newCloudProvider = func(ctx context.Context, region, profile string) (cloudProvider, error) {
	return provider.New(ctx, region, profile)
}

// Orchestrator implements scripthost.Backend.
type Orchestrator struct {
	sshUser   string
	sshKeyPEM []byte
	creds     credentials.TransportCredentials
	binary    []byte // discod binary bytes, read once and shipped to every instance

	mu        sync.Mutex
	providers map[scripthost.ProviderRef]cloudProvider
	clusters  map[scripthost.ClusterRef]*clusterState
	nextID    uint64
}

// New constructs an Orchestrator. creds authenticates outbound RPCs to
// cluster nodes; sshKeyPEM authenticates outbound SSH provisioning
// calls as sshUser. binaryPath is the local discod binary ssh_install
// copies to each new instance.
func New(sshUser string, sshKeyPEM []byte, creds credentials.TransportCredentials, binaryPath string) (*Orchestrator, error) {
	binary, err := os.ReadFile(binaryPath)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read discod binary: %w", err)
	}
	return &Orchestrator{
		sshUser:   sshUser,
		sshKeyPEM: sshKeyPEM,
		creds:     creds,
		binary:    binary,
		providers: make(map[scripthost.ProviderRef]cloudProvider),
		clusters:  make(map[scripthost.ClusterRef]*clusterState),
	}, nil
}

func (o *Orchestrator) allocID() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	return o.nextID
}

// InitProvider implements scripthost.Backend.
func (o *Orchestrator) InitProvider(ctx context.Context, spec scripthost.ProviderSpec) (scripthost.ProviderRef, error) {
	aws, err := newCloudProvider(ctx, spec.Region, spec.Profile)
	if err != nil {
		return "", err
	}
	ref := scripthost.ProviderRef(fmt.Sprintf("provider-%d", o.allocID()))
	o.mu.Lock()
	o.providers[ref] = aws
	o.mu.Unlock()
	return ref, nil
}

func (o *Orchestrator) provider(ref scripthost.ProviderRef) (cloudProvider, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.providers[ref]
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown provider %q", ref)
	}
	return p, nil
}

// EnsureRole implements scripthost.Backend.
func (o *Orchestrator) EnsureRole(ctx context.Context, providerRef scripthost.ProviderRef, name string) (scripthost.RoleRef, error) {
	p, err := o.provider(providerRef)
	if err != nil {
		return "", err
	}
	arn, err := p.EnsureRole(ctx, name)
	if err != nil {
		return "", err
	}
	return scripthost.RoleRef(arn), nil
}

// EnsureStorage implements scripthost.Backend.
func (o *Orchestrator) EnsureStorage(ctx context.Context, providerRef scripthost.ProviderRef, bucket string, role scripthost.RoleRef) (scripthost.StorageRef, error) {
	p, err := o.provider(providerRef)
	if err != nil {
		return "", err
	}
	name, err := p.EnsureStorage(ctx, bucket)
	if err != nil {
		return "", err
	}
	return scripthost.StorageRef(name), nil
}

// NewCluster implements scripthost.Backend. It does no I/O, per
// spec.md §4.5.
func (o *Orchestrator) NewCluster(ctx context.Context, spec scripthost.ClusterSpec) (scripthost.ClusterRef, error) {
	ref := scripthost.ClusterRef(fmt.Sprintf("cluster-%d", o.allocID()))
	o.mu.Lock()
	o.clusters[ref] = &clusterState{spec: spec, nextNodeID: 1}
	o.mu.Unlock()
	return ref, nil
}

func (o *Orchestrator) cluster(ref scripthost.ClusterRef) (*clusterState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cs, ok := o.clusters[ref]
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown cluster %q", ref)
	}
	return cs, nil
}

// Healthy implements scripthost.Backend: true iff the known leader
// answers Metrics and reports itself as leader.
func (o *Orchestrator) Healthy(ctx context.Context, ref scripthost.ClusterRef) (bool, error) {
	cs, err := o.cluster(ref)
	if err != nil {
		return false, err
	}
	cs.mu.Lock()
	addr := cs.leaderAddr
	cs.mu.Unlock()
	if addr == "" {
		return false, nil
	}

	client, err := rpc.Dial(ctx, addr, o.creds)
	if err != nil {
		return false, nil
	}
	defer client.Close()

	values, err := client.Metrics(ctx)
	if err != nil {
		return false, nil
	}
	return values["disco_raft_is_leader"] == 1, nil
}

// SetKeyPair implements scripthost.Backend: records the local key-pair
// paths for ssh_install. The public key is not imported into the
// cluster's provider.
func (o *Orchestrator) SetKeyPair(ctx context.Context, ref scripthost.ClusterRef, private, public string) error {
	cs, err := o.cluster(ref)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	cs.keyPair = keyPairPaths{private: private, public: public}
	cs.mu.Unlock()
	return nil
}

// StartInstance implements scripthost.Backend.
func (o *Orchestrator) StartInstance(ctx context.Context, ref scripthost.ClusterRef, image, instanceType string) (scripthost.InstanceState, error) {
	cs, err := o.cluster(ref)
	if err != nil {
		return scripthost.InstanceState{}, err
	}
	p, err := o.provider(cs.spec.Provider)
	if err != nil {
		return scripthost.InstanceState{}, err
	}

	inst, err := p.StartInstance(ctx, image, instanceType)
	if err != nil {
		return scripthost.InstanceState{}, err
	}

	state := scripthost.InstanceState{ID: inst.ID, PublicIP: inst.PublicIP, PrivateIP: inst.PrivateIP, Status: scripthost.InstanceRunning}
	cs.mu.Lock()
	cs.instances = append(cs.instances, &instanceRecord{state: state, nodeID: cs.nextNodeID})
	cs.nextNodeID++
	cs.image = image
	cs.instanceType = instanceType
	cs.mu.Unlock()
	return state, nil
}

// AttachIP implements scripthost.Backend: allocates and binds an
// elastic IP to the most recently started instance.
func (o *Orchestrator) AttachIP(ctx context.Context, ref scripthost.ClusterRef) (scripthost.InstanceState, error) {
	cs, err := o.cluster(ref)
	if err != nil {
		return scripthost.InstanceState{}, err
	}
	p, err := o.provider(cs.spec.Provider)
	if err != nil {
		return scripthost.InstanceState{}, err
	}

	cs.mu.Lock()
	if len(cs.instances) == 0 {
		cs.mu.Unlock()
		return scripthost.InstanceState{}, fmt.Errorf("orchestrator: attach_ip before start_instance")
	}
	current := cs.instances[len(cs.instances)-1]
	cs.mu.Unlock()

	inst, err := p.AttachIP(ctx, current.state.ID)
	if err != nil {
		return scripthost.InstanceState{}, err
	}

	cs.mu.Lock()
	current.state.PublicIP = inst.PublicIP
	state := current.state
	cs.mu.Unlock()
	return state, nil
}

// SSHInstall implements scripthost.Backend: copies discod and its
// certs to the most recently started instance and starts the service
// (spec.md §4.6 step 5).
func (o *Orchestrator) SSHInstall(ctx context.Context, ref scripthost.ClusterRef) error {
	cs, err := o.cluster(ref)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	if len(cs.instances) == 0 {
		cs.mu.Unlock()
		return fmt.Errorf("orchestrator: ssh_install before start_instance")
	}
	current := cs.instances[len(cs.instances)-1]
	keyPair := cs.keyPair
	cs.mu.Unlock()

	if err := o.sshInstallInstance(ctx, current, keyPair); err != nil {
		return err
	}

	cs.mu.Lock()
	current.state.Status = scripthost.InstanceSshReady
	cs.mu.Unlock()
	return nil
}

func (o *Orchestrator) sshInstallInstance(ctx context.Context, inst *instanceRecord, keyPair keyPairPaths) error {
	keyPEM := o.sshKeyPEM
	if keyPair.private != "" {
		if data, err := os.ReadFile(keyPair.private); err == nil {
			keyPEM = data
		}
	}

	installer, err := sshprov.New(o.sshUser, keyPEM)
	if err != nil {
		return err
	}

	config := fmt.Sprintf("DISCO_ID=%d\nDISCO_ADDR=%s:5051\nDISCO_DATA_DIR=/var/lib/disco\nDISCO_CA_CERT=/etc/disco/ca.pem\nDISCO_SERVER_CERT=/etc/disco/server.pem\nDISCO_SERVER_KEY=/etc/disco/server.key\n",
		inst.nodeID, inst.state.PrivateIP)

	payload := sshprov.Payload{
		BinaryPath:  "/usr/local/bin/discod",
		Binary:      o.binary,
		ConfigPath:  "/etc/disco/disco.conf",
		Config:      []byte(config),
		CertDir:     "/etc/disco",
		ServiceName: "discod",
	}
	return sshInstall(installer, ctx, inst.state.PublicIP, payload)
}

// sshInstall is a seam over (*sshprov.Installer).Install so tests can
// exercise scaleStepLocked/SSHInstall without a real SSH server.
var sshInstall = func(installer *sshprov.Installer, ctx context.Context, host string, payload sshprov.Payload) error {
	return installer.Install(ctx, host, payload)
}

// Scale implements scripthost.Backend, bringing the cluster's voting
// membership to exactly n nodes. Every step checks observed state
// before acting, so a Scale call resumes cleanly after a partial
// failure, and concurrent Scale calls on the same cluster serialize on
// cs.mu (spec.md §9 Open Question: scale() under concurrent
// invocation).
func (o *Orchestrator) Scale(ctx context.Context, ref scripthost.ClusterRef, n int) error {
	cs, err := o.cluster(ref)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for cs.votersLocked() < n {
		timer := metrics.NewTimer()
		if err := o.scaleStepLocked(ctx, cs); err != nil {
			return err
		}
		timer.ObserveDuration(metrics.OrchestratorScaleDuration)
	}
	return nil
}

// votersLocked must be called with cs.mu held.
func (cs *clusterState) votersLocked() int {
	n := 0
	for _, inst := range cs.instances {
		if inst.state.Status == scripthost.InstanceJoined {
			n++
		}
	}
	return n
}

func (cs *clusterState) pendingLearnerLocked() *instanceRecord {
	for _, inst := range cs.instances {
		if inst.state.Status == scripthost.InstanceSshReady {
			return inst
		}
	}
	return nil
}

// scaleStepLocked performs exactly one unit of scale-up progress: it
// resumes a learner stuck at SshReady if one exists, otherwise it
// launches, installs, and joins a brand new instance. cs.mu is held by
// the caller for the whole call, which is why AttachIP/StartInstance
// are not reused here: those lock cs.mu themselves and would deadlock.
func (o *Orchestrator) scaleStepLocked(ctx context.Context, cs *clusterState) error {
	inst := cs.pendingLearnerLocked()
	if inst == nil {
		p, err := o.provider(cs.spec.Provider)
		if err != nil {
			return err
		}
		launched, err := p.StartInstance(ctx, cs.image, cs.instanceType)
		if err != nil {
			return err
		}
		inst = &instanceRecord{
			state:  scripthost.InstanceState{ID: launched.ID, PublicIP: launched.PublicIP, PrivateIP: launched.PrivateIP, Status: scripthost.InstanceRunning},
			nodeID: cs.nextNodeID,
		}
		cs.nextNodeID++
		cs.instances = append(cs.instances, inst)

		if err := o.sshInstallInstance(ctx, inst, cs.keyPair); err != nil {
			return err
		}
		inst.state.Status = scripthost.InstanceSshReady
	}

	client, err := rpc.Dial(ctx, cs.leaderAddr, o.creds)
	if err != nil {
		return fmt.Errorf("orchestrator: dial leader %s: %w", cs.leaderAddr, err)
	}
	defer client.Close()

	server := types.Server{ID: inst.nodeID, Addr: types.RpcAddr(fmt.Sprintf("%s:5051", inst.state.PrivateIP)), Suffrage: types.Learner}
	if err := client.AddLearner(ctx, server); err != nil {
		return fmt.Errorf("orchestrator: add learner %d: %w", inst.nodeID, err)
	}

	server.Suffrage = types.Voter
	if err := client.ChangeMembership(ctx, types.Membership{Servers: []types.Server{server}}); err != nil {
		return fmt.Errorf("orchestrator: promote voter %d: %w", inst.nodeID, err)
	}

	inst.state.Status = scripthost.InstanceJoined
	return nil
}

// Init performs the last step of the bootstrap sequence: the earlier
// cluster.healthy()/set_key_pair/start_instance/attach_ip/ssh_install
// steps are script-driven, but the ManagementService.Init call that
// brings up the first node's voting membership has no corresponding
// Backend method, so the orchestrator exposes it directly for
// cmd/disco to call after ssh_install succeeds.
func (o *Orchestrator) Init(ctx context.Context, ref scripthost.ClusterRef) error {
	cs, err := o.cluster(ref)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	if len(cs.instances) == 0 {
		cs.mu.Unlock()
		return fmt.Errorf("orchestrator: init before ssh_install")
	}
	primary := cs.instances[0]
	leaderAddr := types.RpcAddr(fmt.Sprintf("%s:5051", primary.state.PrivateIP))
	cs.leaderAddr = leaderAddr
	cs.mu.Unlock()

	client, err := rpc.Dial(ctx, leaderAddr, o.creds)
	if err != nil {
		return fmt.Errorf("orchestrator: dial primary %s: %w", leaderAddr, err)
	}
	defer client.Close()

	if err := client.Init(ctx, []types.Server{{ID: primary.nodeID, Addr: leaderAddr, Suffrage: types.Voter}}); err != nil {
		return fmt.Errorf("orchestrator: init: %w", err)
	}

	cs.mu.Lock()
	primary.state.Status = scripthost.InstanceJoined
	cs.mu.Unlock()
	return nil
}

// Attach seeds a cluster's bookkeeping from an already-running cluster's
// observed state, rather than from a sequence of StartInstance calls.
// cmd/disco's scale subcommand runs as a fresh process with no memory of
// the instances a previous bootstrap call provisioned, so it dials the
// known leader, reads its current voter count off Metrics, and replays
// that many synthetic Joined instance records here before calling Scale.
// The records carry no real instance IDs, which is fine: scaleStepLocked
// only ever resumes a record at SshReady, and votersLocked only counts
// Joined ones.
func (o *Orchestrator) Attach(ctx context.Context, spec scripthost.ClusterSpec, leaderAddr types.RpcAddr, currentVoters int, image, instanceType string) (scripthost.ClusterRef, error) {
	ref, err := o.NewCluster(ctx, spec)
	if err != nil {
		return "", err
	}
	cs, err := o.cluster(ref)
	if err != nil {
		return "", err
	}

	cs.mu.Lock()
	cs.leaderAddr = leaderAddr
	cs.image = image
	cs.instanceType = instanceType
	for i := 0; i < currentVoters; i++ {
		cs.instances = append(cs.instances, &instanceRecord{
			state:  scripthost.InstanceState{Status: scripthost.InstanceJoined},
			nodeID: cs.nextNodeID,
		})
		cs.nextNodeID++
	}
	cs.mu.Unlock()
	return ref, nil
}

var _ scripthost.Backend = (*Orchestrator)(nil)
