// Package metrics exposes Prometheus instrumentation for the bootstrap layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rcboot"

var (
	once        sync.Once
	agentStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "starts_total",
			Help:      "Agent start attempts by result.",
		},
		[]string{"result"},
	)
	agentStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "stops_total",
			Help:      "Agent stop requests by whether a signal was sent.",
		},
		[]string{"signalled"},
	)
	agentHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "healthy",
			Help:      "Result of the last agent health probe (1 healthy, 0 unhealthy).",
		},
	)
	agentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "state",
			Help:      "Supervisor state (1 for the current state).",
		},
		[]string{"state"},
	)
	downloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of runtime archives downloaded.",
		},
	)
	provisionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provision",
			Name:      "duration_seconds",
			Help:      "Runtime provisioning duration by result.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)
	installState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "install_state",
			Help:      "Last detected install state (1 for the current state).",
		},
		[]string{"state"},
	)
)

func init() {
	once.Do(func() {
		prometheus.MustRegister(agentStarts, agentStops, agentHealthy, agentState, downloadedBytes, provisionDuration, installState)
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveAgentStart counts a start attempt.
func ObserveAgentStart(err error) { agentStarts.WithLabelValues(result(err)).Inc() }

// ObserveAgentStop counts a stop request.
func ObserveAgentStop(signalled bool) {
	if signalled {
		agentStops.WithLabelValues("true").Inc()
	} else {
		agentStops.WithLabelValues("false").Inc()
	}
}

func SetHealthy(healthy bool) {
	if healthy {
		agentHealthy.Set(1)
	} else {
		agentHealthy.Set(0)
	}
}

// ObserveAgentState sets state to 1 and every other known state to 0.
func ObserveAgentState(state string, known ...string) {
	for _, s := range known {
		agentState.WithLabelValues(s).Set(0)
	}
	agentState.WithLabelValues(state).Set(1)
}

func AddDownloaded(n int64) {
	if n > 0 {
		downloadedBytes.Add(float64(n))
	}
}

func ObserveProvision(seconds float64, err error) {
	provisionDuration.WithLabelValues(result(err)).Observe(seconds)
}

// ObserveInstallState records the detector outcome.
func ObserveInstallState(state string) {
	installState.Reset()
	installState.WithLabelValues(state).Set(1)
}
