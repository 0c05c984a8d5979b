// Package main is the disco client CLI: bootstrap drives client.js's
// init/bootstrap entry points through a Script Host exactly once, and
// status/scale/kv talk to a running node's AppService/ManagementService
// directly over mTLS.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/credentials"

	"github.com/discoproj/disco/pkg/orchestrator"
	"github.com/discoproj/disco/pkg/pki"
	"github.com/discoproj/disco/pkg/rpc"
	"github.com/discoproj/disco/pkg/scripthost"
	"github.com/discoproj/disco/pkg/transport"
	"github.com/discoproj/disco/pkg/types"
)

var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "disco: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "disco",
	Short:   "Disco cluster client",
	Version: Version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("addr", envOr("DISCO_ADDR", ""), "host:port of a cluster node")
	flags.String("ca-cert", envOr("DISCO_CA_CERT", ""), "path to the cluster CA certificate")
	flags.String("client-cert", envOr("DISCO_CLIENT_CERT", ""), "path to this client's certificate")
	flags.String("client-key", envOr("DISCO_CLIENT_KEY", ""), "path to this client's key")

	rootCmd.AddCommand(bootstrapCmd, statusCmd, scaleCmd, kvCmd, certCmd)

	bootstrapCmd.Flags().String("script", "client.js", "path to the client.js bootstrap script")
	bootstrapCmd.Flags().String("ssh-user", "disco", "remote SSH user the orchestrator provisions new instances as")
	bootstrapCmd.Flags().String("ssh-key", "", "path to the PEM-encoded private key the orchestrator authenticates SSH as")
	bootstrapCmd.Flags().String("binary", "", "path to the discod binary to ship to the first instance")

	statusCmd.Flags().Bool("watch", false, "repeat every second until interrupted")

	scaleCmd.Flags().String("script", "client.js", "client.js the original bootstrap used, for provider region/profile")
	scaleCmd.Flags().String("ssh-user", "disco", "remote SSH user the orchestrator provisions new instances as")
	scaleCmd.Flags().String("ssh-key", "", "path to the PEM-encoded private key the orchestrator authenticates SSH as")
	scaleCmd.Flags().String("binary", "", "path to the discod binary to ship to new instances")
	scaleCmd.Flags().String("region", "", "cloud provider region new instances launch into")
	scaleCmd.Flags().String("profile", "", "cloud provider credentials profile")
	scaleCmd.Flags().String("image", "", "image id new instances launch from")
	scaleCmd.Flags().String("instance-type", "", "instance type new instances launch as")

	kvCmd.AddCommand(kvGetCmd, kvSetCmd, kvWatchCmd)

	certCmd.AddCommand(certInitCmd, certIssueCmd)

	certInitCmd.Flags().String("cluster-id", "", "cluster identifier used to derive the root key's encryption key")
	certInitCmd.Flags().String("data-dir", "", "directory the CA's BoltDB file and root certificate are written to")
	certInitCmd.MarkFlagRequired("cluster-id")
	certInitCmd.MarkFlagRequired("data-dir")

	certIssueCmd.Flags().String("cluster-id", "", "cluster identifier used to derive the root key's encryption key")
	certIssueCmd.Flags().String("data-dir", "", "directory holding the CA's BoltDB file")
	certIssueCmd.Flags().String("cn", "", "common name of the issued certificate")
	certIssueCmd.Flags().StringSlice("dns", nil, "DNS names the issued server certificate is valid for")
	certIssueCmd.Flags().StringSlice("ip", nil, "IP addresses the issued server certificate is valid for")
	certIssueCmd.Flags().Bool("client", false, "issue a client-auth-only certificate instead of a server certificate")
	certIssueCmd.Flags().String("out-cert", "", "path the issued certificate is written to")
	certIssueCmd.Flags().String("out-key", "", "path the issued private key is written to")
	certIssueCmd.MarkFlagRequired("cluster-id")
	certIssueCmd.MarkFlagRequired("data-dir")
	certIssueCmd.MarkFlagRequired("cn")
	certIssueCmd.MarkFlagRequired("out-cert")
	certIssueCmd.MarkFlagRequired("out-key")
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func clientTLSFromFlags(cmd *cobra.Command) (credentials.TransportCredentials, error) {
	ca, _ := cmd.Flags().GetString("ca-cert")
	cert, _ := cmd.Flags().GetString("client-cert")
	key, _ := cmd.Flags().GetString("client-key")
	tlsConfig, err := transport.LoadClientTLS(transport.TLSFiles{CACert: ca, ClientCert: cert, ClientKey: key})
	if err != nil {
		return nil, err
	}
	return credentials.NewTLS(tlsConfig), nil
}

func dial(ctx context.Context, cmd *cobra.Command) (*rpc.Client, error) {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		return nil, fmt.Errorf("no --addr given and DISCO_ADDR is unset")
	}
	creds, err := clientTLSFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, rpc.DialTimeout)
	defer cancel()
	return rpc.Dial(dialCtx, types.RpcAddr(addr), creds)
}

// bootstrapCmd runs client.js's init() then bootstrap() entry points on
// a throwaway Script Host, then calls ManagementService.Init against
// the first instance that script sequence brought up. init() and
// bootstrap() run in the same goja runtime, so a module-scope variable
// client.js sets in init() is still visible to bootstrap() -- the
// Cluster object itself never has to cross a Go/JS boundary twice.
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Provision and bring up a new cluster from a client.js script",
	RunE: func(cmd *cobra.Command, args []string) error {
		scriptPath, _ := cmd.Flags().GetString("script")
		src, err := os.ReadFile(scriptPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", scriptPath, err)
		}

		sshUser, _ := cmd.Flags().GetString("ssh-user")
		sshKeyPath, _ := cmd.Flags().GetString("ssh-key")
		binaryPath, _ := cmd.Flags().GetString("binary")
		if sshKeyPath == "" || binaryPath == "" {
			return fmt.Errorf("--ssh-key and --binary are required")
		}
		sshKeyPEM, err := os.ReadFile(sshKeyPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", sshKeyPath, err)
		}

		creds, err := clientTLSFromFlags(cmd)
		if err != nil {
			return err
		}
		orch, err := orchestrator.New(sshUser, sshKeyPEM, creds, binaryPath)
		if err != nil {
			return fmt.Errorf("construct orchestrator: %w", err)
		}

		host := scripthost.New(orch, nil, os.Stdin, os.Stdout)
		if err := host.LoadModule(scriptPath, string(src)); err != nil {
			return fmt.Errorf("load %s: %w", scriptPath, err)
		}

		ctx := context.Background()
		if _, err := host.Invoke(ctx, "init"); err != nil {
			return fmt.Errorf("init(): %w", err)
		}
		if _, err := host.Invoke(ctx, "bootstrap"); err != nil {
			return fmt.Errorf("bootstrap(): %w", err)
		}

		ref, ok := host.LastClusterRef()
		if !ok {
			return fmt.Errorf("bootstrap script never constructed a Cluster")
		}
		if err := orch.Init(ctx, ref); err != nil {
			return fmt.Errorf("init cluster: %w", err)
		}

		fmt.Println("✓ cluster bootstrapped")
		return nil
	},
}

// statusCmd prints the leader's raft and application metrics, polling
// once or repeating with --watch.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cluster's raft and KV metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		for {
			if err := printStatus(cmd); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			time.Sleep(time.Second)
			fmt.Println()
		}
	},
}

func printStatus(cmd *cobra.Command) error {
	ctx := context.Background()
	client, err := dial(ctx, cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	values, err := client.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-32s %v\n", name, values[name])
	}
	return nil
}

// scaleCmd brings a previously-bootstrapped cluster's voting membership
// up to n nodes. It has no memory of the instances bootstrap provisioned
// -- this is a fresh process -- so it first re-derives that bookkeeping
// from the live leader's reported peer count via Orchestrator.Attach,
// then drives the same scaleStepLocked machinery bootstrap's script
// triggers through cluster.scale(n).
var scaleCmd = &cobra.Command{
	Use:   "scale <n>",
	Short: "Scale the cluster's voting membership to n nodes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n int
		if _, err := fmt.Sscanf(args[0], "%d", &n); err != nil {
			return fmt.Errorf("invalid node count %q: %w", args[0], err)
		}

		ctx := context.Background()
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = envOr("DISCO_ADDR", "")
		}
		if addr == "" {
			return fmt.Errorf("no --addr given and DISCO_ADDR is unset")
		}

		leaderClient, err := dial(ctx, cmd)
		if err != nil {
			return err
		}
		values, err := leaderClient.Metrics(ctx)
		leaderClient.Close()
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		currentVoters := int(values["disco_raft_peers_total"])

		sshUser, _ := cmd.Flags().GetString("ssh-user")
		sshKeyPath, _ := cmd.Flags().GetString("ssh-key")
		binaryPath, _ := cmd.Flags().GetString("binary")
		if sshKeyPath == "" || binaryPath == "" {
			return fmt.Errorf("--ssh-key and --binary are required")
		}
		sshKeyPEM, err := os.ReadFile(sshKeyPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", sshKeyPath, err)
		}

		creds, err := clientTLSFromFlags(cmd)
		if err != nil {
			return err
		}
		orch, err := orchestrator.New(sshUser, sshKeyPEM, creds, binaryPath)
		if err != nil {
			return fmt.Errorf("construct orchestrator: %w", err)
		}

		region, _ := cmd.Flags().GetString("region")
		profile, _ := cmd.Flags().GetString("profile")
		providerRef, err := orch.InitProvider(ctx, scripthost.ProviderSpec{Name: "aws", Region: region, Profile: profile})
		if err != nil {
			return fmt.Errorf("init provider: %w", err)
		}

		image, _ := cmd.Flags().GetString("image")
		instanceType, _ := cmd.Flags().GetString("instance-type")
		ref, err := orch.Attach(ctx, scripthost.ClusterSpec{Provider: providerRef}, types.RpcAddr(addr), currentVoters, image, instanceType)
		if err != nil {
			return fmt.Errorf("attach: %w", err)
		}

		if err := orch.Scale(ctx, ref, n); err != nil {
			return fmt.Errorf("scale: %w", err)
		}

		fmt.Printf("✓ cluster scaled to %d voters\n", n)
		return nil
	},
}

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Read and write the cluster's replicated key/value store",
}

var kvGetCmd = &cobra.Command{
	Use:   "get <key>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := dial(ctx, cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		value, found, err := client.Get(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("key %q not found", args[0])
		}
		fmt.Println(value)
		return nil
	},
}

var kvSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		client, err := dial(ctx, cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		if err := client.Set(ctx, args[0], args[1]); err != nil {
			if hint, ok := rpc.IsNotLeader(err); ok {
				return fmt.Errorf("not the leader, current leader is at: %s", hint)
			}
			return err
		}
		return nil
	},
}

var kvWatchCmd = &cobra.Command{
	Use:   "watch <key>",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client, err := dial(ctx, cmd)
		if err != nil {
			return err
		}
		defer client.Close()

		events, err := client.Watch(ctx, args[0])
		if err != nil {
			return err
		}
		for ev := range events {
			if ev.Deleted {
				fmt.Printf("%s deleted\n", ev.Key)
				continue
			}
			fmt.Printf("%s = %s\n", ev.Key, ev.Value)
		}
		return nil
	},
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Bootstrap and issue certificates from the cluster's own CA",
}

var certInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a new root CA and persist it under --data-dir",
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterID, _ := cmd.Flags().GetString("cluster-id")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		store, err := pki.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		ca := pki.NewCA(store)
		if err := ca.Init(); err != nil {
			return err
		}
		if err := ca.Save(pki.DeriveKey(clusterID)); err != nil {
			return err
		}

		rootPath := dataDir + "/ca.pem"
		if err := pki.WriteRootPEM(ca, rootPath); err != nil {
			return err
		}
		fmt.Printf("root CA written to %s\n", rootPath)
		return nil
	},
}

var certIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a leaf certificate signed by the cluster's CA",
	RunE: func(cmd *cobra.Command, args []string) error {
		clusterID, _ := cmd.Flags().GetString("cluster-id")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		cn, _ := cmd.Flags().GetString("cn")
		dnsNames, _ := cmd.Flags().GetStringSlice("dns")
		ipStrs, _ := cmd.Flags().GetStringSlice("ip")
		asClient, _ := cmd.Flags().GetBool("client")
		outCert, _ := cmd.Flags().GetString("out-cert")
		outKey, _ := cmd.Flags().GetString("out-key")

		var ips []net.IP
		for _, s := range ipStrs {
			ip := net.ParseIP(s)
			if ip == nil {
				return fmt.Errorf("invalid IP address %q", s)
			}
			ips = append(ips, ip)
		}

		store, err := pki.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		ca := pki.NewCA(store)
		if err := ca.Load(pki.DeriveKey(clusterID)); err != nil {
			return err
		}

		var leaf *tls.Certificate
		if asClient {
			leaf, err = ca.IssueClient(cn)
		} else {
			leaf, err = ca.IssueServer(cn, dnsNames, ips)
		}
		if err != nil {
			return err
		}

		if err := pki.WriteCertPEM(leaf, outCert); err != nil {
			return err
		}
		if err := pki.WriteKeyPEM(leaf, outKey); err != nil {
			return err
		}
		fmt.Printf("certificate written to %s, key written to %s\n", outCert, outKey)
		return nil
	},
}
