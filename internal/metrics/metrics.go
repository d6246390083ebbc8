package metrics

import (
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Paintersrp/simlaunch/internal/launcher"
)

var (
	registry = prometheus.NewRegistry()

	childRunning = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "simlaunch",
		Name:      "child_running",
		Help:      "Whether each child is running (1=running, 0=exited).",
	}, []string{"label"})

	childLaunches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simlaunch",
		Name:      "child_launches_total",
		Help:      "Total number of launches per child.",
	}, []string{"label"})

	childExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simlaunch",
		Name:      "child_exits_total",
		Help:      "Total number of reported child exits by exit code.",
	}, []string{"label", "code"})

	childOutputLines = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "simlaunch",
		Name:      "child_output_lines_total",
		Help:      "Total number of output lines echoed per child.",
	}, []string{"label"})

	readyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "simlaunch",
		Name:      "ready_gate_seconds",
		Help:      "Time spent waiting on readiness gates in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"label", "outcome"})

	childRSS = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "simlaunch",
		Name:      "child_resident_memory_bytes",
		Help:      "Last sampled resident memory of each child process group leader.",
	}, []string{"label"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "simlaunch",
		Name:      "build_info",
		Help:      "Build metadata for the running simlaunch binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(childRunning, childLaunches, childExits, childOutputLines, readyLatency, childRSS, buildInfo)
}

// Registry returns the Prometheus registry containing all simlaunch metrics.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveReadyGate records how long the readiness gate of label took.
func ObserveReadyGate(label string, d time.Duration, ready bool) {
	if label == "" {
		label = "unknown"
	}
	outcome := "ready"
	if !ready {
		outcome = "timeout"
	}
	readyLatency.WithLabelValues(label, outcome).Observe(d.Seconds())
}

// SetResidentMemory records the last sampled RSS of a child.
func SetResidentMemory(label string, bytes uint64) {
	if label == "" {
		return
	}
	childRSS.WithLabelValues(label).Set(float64(bytes))
}

// EmitBuildInfo publishes build metadata about the running binary.
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
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
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

// ResetChild clears every series recorded for label.
func ResetChild(label string) {
	if label == "" {
		return
	}
	childRunning.DeleteLabelValues(label)
	childLaunches.DeleteLabelValues(label)
	childOutputLines.DeleteLabelValues(label)
	childRSS.DeleteLabelValues(label)
	childExits.DeletePartialMatch(prometheus.Labels{"label": label})
	readyLatency.DeletePartialMatch(prometheus.Labels{"label": label})
}

// Observer feeds launcher events into the registry.
type Observer struct{}

func (Observer) ChildStarted(info launcher.ChildInfo) {
	childLaunches.WithLabelValues(info.Label).Inc()
	childRunning.WithLabelValues(info.Label).Set(1)
}

func (Observer) ChildOutput(label, _ string) {
	childOutputLines.WithLabelValues(label).Inc()
}

func (Observer) ChildExited(label string, code int) {
	childRunning.WithLabelValues(label).Set(0)
	childExits.WithLabelValues(label, strconv.Itoa(code)).Inc()
}

var _ launcher.Observer = Observer{}
