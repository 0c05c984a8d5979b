// Package metrics exposes Disco's prometheus registry: the same
// gauges/counters/histograms back both the scraped /metrics endpoint
// and the ManagementService.Metrics RPC snapshot.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Consensus metrics
	RaftIsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disco_raft_is_leader",
		Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
	})

	RaftTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disco_raft_term",
		Help: "Current Raft term",
	})

	RaftPeersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disco_raft_peers_total",
		Help: "Total number of Raft peers (voters + learners)",
	})

	RaftLastLogIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disco_raft_last_log_index",
		Help: "Highest log index on this node",
	})

	RaftAppliedIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disco_raft_applied_index",
		Help: "Last log index applied to the state machine",
	})

	RaftApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "disco_raft_apply_duration_seconds",
		Help:    "Time for Apply to return after submitting a command",
		Buckets: prometheus.DefBuckets,
	})

	RaftBarrierDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "disco_raft_barrier_duration_seconds",
		Help:    "Time to complete a linearizable-read barrier",
		Buckets: prometheus.DefBuckets,
	})

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "disco_rpc_requests_total",
		Help: "Total RPC requests by method and status code",
	}, []string{"method", "status"})

	RPCRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "disco_rpc_request_duration_seconds",
		Help:    "RPC request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// KV metrics
	KVKeysTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disco_kv_keys_total",
		Help: "Number of keys currently held in the state machine",
	})

	KVWatchersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "disco_kv_watchers_total",
		Help: "Number of active Watch subscriptions",
	})

	// Orchestrator / provider metrics
	OrchestratorScaleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "disco_orchestrator_scale_duration_seconds",
		Help:    "Time to complete one scale() step (launch, wait, ssh_install, join)",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	ProviderCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "disco_provider_calls_total",
		Help: "Total cloud provider API calls by operation and outcome",
	}, []string{"operation", "outcome"})

	SSHInstallRetriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "disco_ssh_install_retries_total",
		Help: "Total ssh_install retry attempts across all nodes",
	})
)

func init() {
	prometheus.MustRegister(
		RaftIsLeader,
		RaftTerm,
		RaftPeersTotal,
		RaftLastLogIndex,
		RaftAppliedIndex,
		RaftApplyDuration,
		RaftBarrierDuration,
		RPCRequestsTotal,
		RPCRequestDuration,
		KVKeysTotal,
		KVWatchersTotal,
		OrchestratorScaleDuration,
		ProviderCallsTotal,
		SSHInstallRetriesTotal,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation for later recording into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time into a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Snapshot returns every gauge/counter as a flat map, for
// ManagementService.Metrics (see pkg/rpc.Server.Metrics).
func Snapshot() map[string]float64 {
	out := make(map[string]float64)
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return out
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			name := mf.GetName()
			if len(m.GetLabel()) > 0 {
				for _, l := range m.GetLabel() {
					name += "_" + l.GetValue()
				}
			}
			switch {
			case m.GetGauge() != nil:
				out[name] = m.GetGauge().GetValue()
			case m.GetCounter() != nil:
				out[name] = m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()+"_count"] = float64(m.GetHistogram().GetSampleCount())
				out[mf.GetName()+"_sum"] = m.GetHistogram().GetSampleSum()
			}
		}
	}
	return out
}
