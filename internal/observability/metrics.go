package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	serviceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msfcore",
			Subsystem: "session",
			Name:      "calls_total",
			Help:      "Total service calls by command and result.",
		},
		[]string{"cmd", "result"},
	)
	serviceCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "msfcore",
			Subsystem: "session",
			Name:      "call_duration_seconds",
			Help:      "Service call round trip in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"cmd", "result"},
	)
	loginOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msfcore",
			Subsystem: "login",
			Name:      "outcomes_total",
			Help:      "Login handshake outcomes.",
		},
		[]string{"flow", "outcome"},
	)
	heartbeatFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msfcore",
			Subsystem: "session",
			Name:      "heartbeat_failures_total",
			Help:      "Heartbeat calls that failed or timed out.",
		},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msfcore",
			Subsystem: "network",
			Name:      "frames_total",
			Help:      "Frames written and reassembled.",
		},
		[]string{"direction"},
	)
	directoryRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msfcore",
			Subsystem: "network",
			Name:      "directory_refresh_total",
			Help:      "Server list refresh attempts.",
		},
		[]string{"success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			serviceCalls,
			serviceCallDuration,
			loginOutcomes,
			heartbeatFailures,
			frames,
			directoryRefreshes,
		)
	})
}

// RecordCall counts one settled service call. result is "ok", "timeout" or "error".
func RecordCall(cmd, result string, duration time.Duration) {
	RegisterMetrics()
	serviceCalls.WithLabelValues(cmd, result).Inc()
	serviceCallDuration.WithLabelValues(cmd, result).Observe(duration.Seconds())
}

func RecordLogin(flow, outcome string) {
	RegisterMetrics()
	loginOutcomes.WithLabelValues(flow, outcome).Inc()
}

func RecordHeartbeatFailure() {
	RegisterMetrics()
	heartbeatFailures.Inc()
}

func RecordFrame(direction string) {
	RegisterMetrics()
	frames.WithLabelValues(direction).Inc()
}

func RecordDirectoryRefresh(success bool) {
	RegisterMetrics()
	directoryRefreshes.WithLabelValues(strconv.FormatBool(success)).Inc()
}
