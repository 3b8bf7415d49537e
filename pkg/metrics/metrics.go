package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PodsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "libra_pods_total",
			Help: "Total number of pods by phase",
		},
		[]string{"phase"},
	)

	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "libra_containers_total",
			Help: "Total number of containers by state",
		},
		[]string{"state"},
	)

	PodCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_pod_create_duration_seconds",
			Help:    "Time taken to create a pod's bundles and pause container",
			Buckets: prometheus.DefBuckets,
		},
	)

	PodStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_pod_start_duration_seconds",
			Help:    "Time taken to start a pod's pause and worker containers",
			Buckets: prometheus.DefBuckets,
		},
	)

	PodDeleteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_pod_delete_duration_seconds",
			Help:    "Time taken to delete a pod",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_container_start_duration_seconds",
			Help:    "Time taken to start a standalone container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_container_stop_duration_seconds",
			Help:    "Time taken to stop a standalone container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainersRestartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libra_containers_restarted_total",
			Help: "Total number of in-place container restarts by restart policy condition",
		},
		[]string{"condition"},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "libra_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconciliationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "libra_reconciliation_errors_total",
			Help: "Total number of reconciliation cycle failures by kind",
		},
		[]string{"kind"},
	)

	CgroupApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_cgroup_apply_duration_seconds",
			Help:    "Time taken to program cgroup v2 resource limits",
			Buckets: prometheus.DefBuckets,
		},
	)

	NetworkAttachDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "libra_network_attach_duration_seconds",
			Help:    "Time taken for a CNI ADD attach",
			Buckets: prometheus.DefBuckets,
		},
	)

	NetworkAttachFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "libra_network_attach_failures_total",
			Help: "Total number of failed CNI ADD attachments",
		},
	)

	NodeAgentAssignmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "libra_nodeagent_assignments_total",
			Help: "Total number of assignments received from the control plane",
		},
	)

	NodeAgentStreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "libra_nodeagent_stream_reconnects_total",
			Help: "Total number of node agent gRPC stream reconnects",
		},
	)
)

func init() {
	prometheus.MustRegister(PodsTotal)
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(PodCreateDuration)
	prometheus.MustRegister(PodStartDuration)
	prometheus.MustRegister(PodDeleteDuration)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
	prometheus.MustRegister(ContainersRestartedTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationErrorsTotal)
	prometheus.MustRegister(CgroupApplyDuration)
	prometheus.MustRegister(NetworkAttachDuration)
	prometheus.MustRegister(NetworkAttachFailuresTotal)
	prometheus.MustRegister(NodeAgentAssignmentsTotal)
	prometheus.MustRegister(NodeAgentStreamReconnectsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
