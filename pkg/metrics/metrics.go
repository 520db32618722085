package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Inventory metrics
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grove_clusters_total",
			Help: "Total number of clusters by status",
		},
		[]string{"status"},
	)

	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grove_nodes_total",
			Help: "Total number of nodes by status",
		},
		[]string{"status"},
	)

	ProfilesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grove_profiles_total",
			Help: "Total number of profiles",
		},
	)

	PoliciesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grove_policies_total",
			Help: "Total number of policies",
		},
	)

	// Action queue metrics
	ActionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grove_actions_total",
			Help: "Total number of actions by status",
		},
		[]string{"status"},
	)

	ActionsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grove_actions_executed_total",
			Help: "Total number of executed actions by verb and result",
		},
		[]string{"action", "result"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grove_action_duration_seconds",
			Help:    "Action execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"action"},
	)

	WorkersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grove_workers_busy",
			Help: "Number of workers currently executing an action",
		},
	)

	LockSteals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grove_lock_steals_total",
			Help: "Total number of locks stolen from dead engines",
		},
	)

	// Health manager metrics
	HealthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grove_health_checks_total",
			Help: "Total number of health checks by check type",
		},
		[]string{"check_type"},
	)

	NodeRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grove_node_recoveries_total",
			Help: "Total number of recovery actions triggered by health checks",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grove_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grove_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(ProfilesTotal)
	prometheus.MustRegister(PoliciesTotal)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ActionsExecuted)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(WorkersBusy)
	prometheus.MustRegister(LockSteals)
	prometheus.MustRegister(HealthChecks)
	prometheus.MustRegister(NodeRecoveries)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for histogram observations
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into the observer
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time into a labeled histogram
func (t *Timer) ObserveDurationVec(v *prometheus.HistogramVec, labels ...string) {
	v.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
