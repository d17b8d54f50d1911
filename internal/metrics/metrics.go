// Package metrics exposes migration runs in the Prometheus text format, for
// the node_exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/clereview/dbmigrate/internal/migrator"
)

var (
	registry = prometheus.NewRegistry()

	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dbmigrate_runs_total",
		Help: "Migration runs by result.",
	}, []string{"result"})

	scriptsApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dbmigrate_scripts_applied_total",
		Help: "Scripts applied and recorded in the journal.",
	})

	failuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dbmigrate_failures_total",
		Help: "Failed runs by error kind.",
	}, []string{"kind"})

	pendingScripts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dbmigrate_scripts_pending",
		Help: "Scripts still pending after the last run.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dbmigrate_run_duration_seconds",
		Help:    "Wall time of a migration run.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8), // 10ms → ~3min
	})

	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dbmigrate_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run.",
	})
)

func init() {
	registry.MustRegister(
		runsTotal,
		scriptsApplied,
		failuresTotal,
		pendingScripts,
		runDuration,
		lastSuccess,
	)
}

// ObserveReport records the outcome of one run.
func ObserveReport(rep *migrator.Report) {
	applied := len(rep.AppliedIDs())
	scriptsApplied.Add(float64(applied))
	runDuration.Observe(rep.Duration().Seconds())
	if rep.Successful() {
		runsTotal.WithLabelValues("success").Inc()
		if rep.DryRun() {
			pendingScripts.Set(float64(len(rep.Pending())))
		} else {
			pendingScripts.Set(0)
		}
		lastSuccess.Set(float64(rep.StartedAt().Add(rep.Duration()).Unix()))
		return
	}
	runsTotal.WithLabelValues("failure").Inc()
	if e := rep.Err(); e != nil {
		failuresTotal.WithLabelValues(string(e.Kind)).Inc()
	}
	if n := len(rep.Pending()) - applied; n >= 0 {
		pendingScripts.Set(float64(n))
	}
}

// WriteTextfile atomically writes all metrics to path.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}
