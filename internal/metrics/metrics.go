package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "updatr",
			Subsystem: "repo",
			Name:      "probes_total",
			Help:      "Number of repository status probes by outcome.",
		}, []string{"result"},
	)
	repoBehind = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "updatr",
			Subsystem: "repo",
			Name:      "behind_commits",
			Help:      "Commits available upstream at the last probe.",
		},
	)
	repoAhead = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "updatr",
			Subsystem: "repo",
			Name:      "ahead_commits",
			Help:      "Local commits not on the upstream at the last probe.",
		},
	)
	repoDirty = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "updatr",
			Subsystem: "repo",
			Name:      "dirty_paths",
			Help:      "Locally modified paths at the last probe.",
		},
	)
	spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "updatr",
			Subsystem: "console",
			Name:      "spawns_total",
			Help:      "Child processes started, by channel kind (pty or pipe).",
		}, []string{"kind"},
	)
	spawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "updatr",
			Subsystem: "console",
			Name:      "spawn_failures_total",
			Help:      "Spawns that exhausted every interpreter fallback.",
		},
	)
	ptyFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "updatr",
			Subsystem: "console",
			Name:      "pty_fallbacks_total",
			Help:      "PTY allocations that failed and fell back to pipes.",
		},
	)
	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "updatr",
			Subsystem: "console",
			Name:      "exits_total",
			Help:      "Child process exits by exit code.",
		}, []string{"code"},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "updatr",
			Subsystem: "console",
			Name:      "run_duration_seconds",
			Help:      "Wall time of console runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"kind"},
	)
	installerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "updatr",
			Subsystem: "installer",
			Name:      "retries_total",
			Help:      "Reduced-scope installs retried at full scope.",
		},
	)
	updates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "updatr",
			Subsystem: "installer",
			Name:      "operations_total",
			Help:      "Update and install operations by kind and result.",
		}, []string{"operation", "result"},
	)
	childRSS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "updatr",
			Subsystem: "console",
			Name:      "child_rss_bytes",
			Help:      "Resident memory of the running console child at the last sample.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		probes, repoBehind, repoAhead, repoDirty,
		spawns, spawnFailures, ptyFallbacks, exits, runDuration, childRSS,
		installerRetries, updates,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has succeeded.

func ObserveProbe(ok bool, behind, ahead, dirty int) {
	if !regOK.Load() {
		return
	}
	if !ok {
		probes.WithLabelValues("error").Inc()
		return
	}
	probes.WithLabelValues("ok").Inc()
	repoBehind.Set(float64(behind))
	repoAhead.Set(float64(ahead))
	repoDirty.Set(float64(dirty))
}

func IncSpawn(kind string) {
	if regOK.Load() {
		spawns.WithLabelValues(kind).Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		spawnFailures.Inc()
	}
}

func IncPTYFallback() {
	if regOK.Load() {
		ptyFallbacks.Inc()
	}
}

func ObserveExit(kind string, code int, seconds float64) {
	if regOK.Load() {
		exits.WithLabelValues(strconv.Itoa(code)).Inc()
		runDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func IncInstallerRetry() {
	if regOK.Load() {
		installerRetries.Inc()
	}
}

func IncOperation(operation string, ok bool) {
	if regOK.Load() {
		result := "ok"
		if !ok {
			result = "failed"
		}
		updates.WithLabelValues(operation, result).Inc()
	}
}

func SetChildRSS(bytes uint64) {
	if regOK.Load() {
		childRSS.Set(float64(bytes))
	}
}
