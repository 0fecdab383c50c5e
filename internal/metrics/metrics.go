package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	processStarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duet",
		Name:      "process_starts_total",
		Help:      "Total number of supervised processes launched, by role.",
	}, []string{"process"})

	processEnds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "duet",
		Name:      "process_ends_total",
		Help:      "Total number of supervised processes that reached a terminal state, by role and outcome.",
	}, []string{"process", "outcome"})

	readinessWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "duet",
		Name:      "readiness_wait_seconds",
		Help:      "Time spent waiting for the server readiness probe before the inspector launch.",
	})

	shutdownDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "duet",
		Name:      "shutdown_duration_seconds",
		Help:      "Wall-clock time of session shutdown.",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "duet",
		Name:      "build_info",
		Help:      "Build metadata for the running duet binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(processStarts, processEnds, readinessWait, shutdownDuration, buildInfo)
}

// Registry returns the Prometheus registry containing all duet metrics.
func Registry() *prometheus.Registry {
	return registry
}

// ProcessStarted records a successful process launch.
func ProcessStarted(process string) {
	if process == "" {
		return
	}
	processStarts.WithLabelValues(process).Inc()
}

// ProcessEnded records a process reaching a terminal state. Outcome is
// "exited" or "terminated".
func ProcessEnded(process, outcome string) {
	if process == "" || outcome == "" {
		return
	}
	processEnds.WithLabelValues(process, outcome).Inc()
}

// ObserveReadinessWait records the duration of a readiness probe wait.
func ObserveReadinessWait(d time.Duration) {
	if d < 0 {
		return
	}
	readinessWait.Observe(d.Seconds())
}

// ObserveShutdownDuration records the duration of a session shutdown.
func ObserveShutdownDuration(d time.Duration) {
	if d < 0 {
		return
	}
	shutdownDuration.Observe(d.Seconds())
}

// EmitBuildInfo publishes build metadata gathered from the binary's debug
// information. Safe to call more than once.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
