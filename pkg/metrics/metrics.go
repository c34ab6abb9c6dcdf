package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promagent_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles by event and result",
		},
		[]string{"event", "result"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promagent_reconcile_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promagent_actions_total",
			Help: "Total number of side-effecting actions by kind",
		},
		[]string{"action"},
	)

	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promagent_errors_total",
			Help: "Total number of failed cycles by error kind",
		},
		[]string{"kind"},
	)

	Converged = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promagent_converged",
			Help: "Whether the last cycle converged the daemon (1 = converged, 0 = not)",
		},
	)

	// Daemon state
	InstalledVersion = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "promagent_installed_version_info",
			Help: "Installed daemon version; the value is always 1",
		},
		[]string{"version"},
	)

	ScrapeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promagent_scrape_jobs",
			Help: "Number of peer scrape jobs in the rendered configuration",
		},
	)

	Relations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promagent_relations",
			Help: "Number of related peers with stored payloads",
		},
	)

	ActiveTargets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promagent_active_targets",
			Help: "Active peer targets reported by the daemon",
		},
	)

	DaemonUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "promagent_daemon_up",
			Help: "Whether the daemon answered its readiness probe (1 = ready, 0 = not)",
		},
	)

	// Install metrics
	DownloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promagent_download_duration_seconds",
			Help:    "Release download and verification duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promagent_api_requests_total",
			Help: "Total number of status API requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promagent_api_request_duration_seconds",
			Help:    "Status API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(ActionsTotal)
	prometheus.MustRegister(ErrorsTotal)
	prometheus.MustRegister(Converged)
	prometheus.MustRegister(InstalledVersion)
	prometheus.MustRegister(ScrapeJobs)
	prometheus.MustRegister(Relations)
	prometheus.MustRegister(ActiveTargets)
	prometheus.MustRegister(DaemonUp)
	prometheus.MustRegister(DownloadDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// SetInstalledVersion points the version info gauge at version
func SetInstalledVersion(version string) {
	InstalledVersion.Reset()
	if version != "" {
		InstalledVersion.WithLabelValues(version).Set(1)
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
