// Package main is the Disco node daemon: it resolves configuration,
// opens the three process-wide singletons in the order spec.md §9
// names (Log Store, Consensus Engine, Script Host), serves the
// AppService/ManagementService gRPC surface, and exits with the code
// spec.md §6/§7's error taxonomy calls for.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/discoproj/disco/pkg/config"
	"github.com/discoproj/disco/pkg/consensus"
	"github.com/discoproj/disco/pkg/discoerr"
	"github.com/discoproj/disco/pkg/fsm"
	"github.com/discoproj/disco/pkg/log"
	"github.com/discoproj/disco/pkg/metrics"
	"github.com/discoproj/disco/pkg/orchestrator"
	"github.com/discoproj/disco/pkg/rpc"
	"github.com/discoproj/disco/pkg/scripthost"
	"github.com/discoproj/disco/pkg/store"
	"github.com/discoproj/disco/pkg/transport"
	"github.com/discoproj/disco/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "discod: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy to spec.md §6's exit codes.
func exitCodeFor(err error) int {
	var usage *discoerr.Usage
	if errors.As(err, &usage) {
		return 3
	}
	var durable *discoerr.Durable
	if errors.As(err, &durable) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:     "discod",
	Short:   "Disco cluster node daemon",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("discod version %s\nCommit: %s\n", Version, Commit))

	flags := rootCmd.Flags()
	flags.Uint64("id", 0, "node id, stable for the life of --data-dir")
	flags.String("addr", "", "host:port this node's AppService/ManagementService listen on and peers dial")
	flags.String("ca-cert", "", "path to the cluster CA certificate")
	flags.String("server-cert", "", "path to this node's server certificate")
	flags.String("server-key", "", "path to this node's server key")
	flags.String("client-cert", "", "path to this node's client certificate, used dialing peers (defaults to --server-cert)")
	flags.String("client-key", "", "path to this node's client key (defaults to --server-key)")
	flags.String("data-dir", "", "directory holding the log, snapshot, and state machine index")
	flags.String("config", config.DefaultConfPath, "path to disco.conf")
	flags.String("log", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "emit JSON-formatted logs")
	flags.String("metrics-addr", "", "if set, serve Prometheus metrics on this host:port")
	flags.String("ssh-user", "disco", "remote SSH user the orchestrator provisions new instances as")
	flags.String("ssh-key", "", "path to the PEM-encoded private key the orchestrator authenticates SSH as")
	flags.String("binary", "", "path to the discod binary the orchestrator copies to new instances")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	overrides, err := flagOverrides(flags)
	if err != nil {
		return &discoerr.Usage{Msg: err.Error()}
	}
	confPath, _ := flags.GetString("config")

	cfg, err := config.Load(confPath, overrides)
	if err != nil {
		return &discoerr.Usage{Msg: err.Error()}
	}

	logJSON, _ := flags.GetBool("log-json")
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: logJSON})
	logger := log.WithNode(uint64(cfg.ID))
	logger.Info().Str("addr", string(cfg.Addr)).Msg("starting discod")

	// 1. Log & Snapshot Store.
	logStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return &discoerr.Durable{Op: "open log store", Err: err}
	}
	defer logStore.Close()

	snapStore := store.NewFileSnapshotStore(cfg.DataDir)

	idx, err := fsm.OpenIndex(cfg.DataDir)
	if err != nil {
		return &discoerr.Durable{Op: "open kv index", Err: err}
	}
	defer idx.Close()
	kv := fsm.New(idx)

	files := transport.TLSFiles{
		CACert:     cfg.CACert,
		ServerCert: cfg.ServerCert,
		ServerKey:  cfg.ServerKey,
		ClientCert: firstNonEmpty(cfg.ClientCert, cfg.ServerCert),
		ClientKey:  firstNonEmpty(cfg.ClientKey, cfg.ServerKey),
	}
	serverTLS, err := transport.LoadServerTLS(files)
	if err != nil {
		return fmt.Errorf("load tls: %w", err)
	}
	clientTLS, err := transport.LoadClientTLS(files)
	if err != nil {
		return fmt.Errorf("load tls: %w", err)
	}

	// The raft wire protocol and the AppService/ManagementService gRPC
	// surface are distinct listeners; --addr names the gRPC/management
	// address (the same one sshInstallInstance writes as DISCO_ADDR and
	// peers dial for Init/AddLearner/ChangeMembership), and the raft
	// transport binds the port directly below it by convention, so
	// operators only reason about one address per node.
	raftAddr, err := derivedRaftAddr(cfg.Addr)
	if err != nil {
		return &discoerr.Usage{Msg: err.Error()}
	}

	raftLn, err := net.Listen("tcp", string(raftAddr))
	if err != nil {
		return fmt.Errorf("listen raft %s: %w", raftAddr, err)
	}
	streamLayer := transport.NewStreamLayer(raftLn, serverTLS, clientTLS)
	raftTransport := raft.NewNetworkTransport(streamLayer, 3, 10*time.Second, os.Stderr)
	defer raftTransport.Close()

	// 2. Consensus Engine.
	engine, err := consensus.Open(consensus.Config{
		NodeID:        cfg.ID,
		Addr:          raftAddr,
		FSM:           kv,
		LogStore:      logStore,
		StableStore:   logStore,
		SnapshotStore: snapStore,
		Transport:     raftTransport,
	})
	if err != nil {
		return fmt.Errorf("open consensus engine: %w", err)
	}
	defer engine.Shutdown()
	metrics.SetVersion(Version)
	metrics.RegisterComponent("consensus", true, "")

	grpcLn, err := net.Listen("tcp", string(cfg.Addr))
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	srv := rpc.NewServer(engine, kv, grpc.Creds(credentials.NewTLS(serverTLS)))
	metrics.RegisterComponent("rpc", true, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Script Host. Optional: a node without provisioning credentials
	// still serves AppService/ManagementService, it just never drives
	// cluster.js itself.
	host := buildScriptHost(flags, clientTLS, kv, logger)
	if host != nil {
		go host.Pump(ctx)
	}

	if metricsAddr, _ := flags.GetString("metrics-addr"); metricsAddr != "" {
		go serveMetrics(metricsAddr, logger)
	}
	go metricsLoop(ctx, engine)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(grpcLn) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rpc server: %w", err)
		}
	}

	srv.Stop()
	return nil
}

// flagOverrides builds the config.Node flagOverrides config.Load merges
// on top of file and environment settings. Only explicitly-set flags
// participate, so an unset flag never clobbers a file/env value with a
// zero value.
func flagOverrides(flags *pflag.FlagSet) (config.Node, error) {
	var n config.Node
	if flags.Changed("id") {
		id, err := flags.GetUint64("id")
		if err != nil {
			return n, err
		}
		n.ID = types.NodeID(id)
	}
	strFields := map[string]*string{
		"addr":        (*string)(&n.Addr),
		"ca-cert":     &n.CACert,
		"server-cert": &n.ServerCert,
		"server-key":  &n.ServerKey,
		"client-cert": &n.ClientCert,
		"client-key":  &n.ClientKey,
		"data-dir":    &n.DataDir,
		"log":         &n.LogLevel,
	}
	for name, dst := range strFields {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return n, err
		}
		*dst = v
	}
	return n, nil
}

// derivedRaftAddr computes the raft transport's listen address from the
// gRPC/management address: same host, port minus one.
func derivedRaftAddr(addr types.RpcAddr) (types.RpcAddr, error) {
	host, portStr, err := net.SplitHostPort(string(addr))
	if err != nil {
		return "", fmt.Errorf("parse --addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("parse --addr %q: %w", addr, err)
	}
	return types.RpcAddr(net.JoinHostPort(host, strconv.Itoa(port-1))), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildScriptHost wires an Orchestrator-backed Script Host if the
// daemon was given provisioning credentials (--ssh-key and --binary);
// returns nil otherwise, which is the expected configuration for a node
// that never provisions peers itself (e.g. one joined purely via the
// CLI's scale() calls against a different node).
func buildScriptHost(flags *pflag.FlagSet, clientTLS *tls.Config, kv *fsm.KV, logger zerolog.Logger) *scripthost.Host {
	keyPath, _ := flags.GetString("ssh-key")
	binaryPath, _ := flags.GetString("binary")
	if keyPath == "" || binaryPath == "" {
		return nil
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		logger.Warn().Err(err).Msg("script host disabled: read ssh key")
		return nil
	}

	sshUser, _ := flags.GetString("ssh-user")
	orch, err := orchestrator.New(sshUser, keyPEM, credentials.NewTLS(clientTLS), binaryPath)
	if err != nil {
		logger.Warn().Err(err).Msg("script host disabled: construct orchestrator")
		return nil
	}

	return scripthost.New(orch, kvWatcher{kv}, strings.NewReader(""), io.Discard)
}

// kvWatcher adapts the node's own fsm.KV into scripthost.Watcher, so
// cluster.js running on this node can subscribe to disco.key(k).on
// callbacks against local state without an RPC round trip.
type kvWatcher struct {
	kv *fsm.KV
}

func (w kvWatcher) WatchKey(ctx context.Context, key string) (<-chan scripthost.KeyChange, error) {
	sub := w.kv.Watch()
	out := make(chan scripthost.KeyChange, 16)
	go func() {
		defer close(out)
		defer w.kv.Unwatch(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Key != key {
					continue
				}
				change := scripthost.KeyChange{Key: ev.Key, Value: ev.Value, Deleted: ev.Type == "key.deleted"}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())
	mux.Handle("/readyz", metrics.ReadyHandler())
	mux.Handle("/livez", metrics.LivenessHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

// metricsLoop keeps the prometheus gauges that mirror live raft state
// (disco_raft_is_leader, disco_raft_last_log_index, ...) in sync, since
// pkg/consensus.Engine only exposes them through polling methods.
func metricsLoop(ctx context.Context, engine *consensus.Engine) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if engine.IsLeader() {
				metrics.RaftIsLeader.Set(1)
			} else {
				metrics.RaftIsLeader.Set(0)
			}
			stats := engine.Stats()
			if v, ok := stats["last_log_index"].(uint64); ok {
				metrics.RaftLastLogIndex.Set(float64(v))
			}
			if v, ok := stats["applied_index"].(uint64); ok {
				metrics.RaftAppliedIndex.Set(float64(v))
			}
			if m, err := engine.Membership(); err == nil {
				metrics.RaftPeersTotal.Set(float64(len(m.Servers)))
			}
		}
	}
}
