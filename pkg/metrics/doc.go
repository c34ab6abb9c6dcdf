/*
Package metrics exposes promagent's own Prometheus metrics and the component
health registry behind /health and /ready.

All collectors are registered on the default registry at init and served by
Handler on the status API.

# Metrics Catalog

Reconciler:

	promagent_reconcile_cycles_total{event,result}   counter
	promagent_reconcile_duration_seconds{event}      histogram
	promagent_actions_total{action}                  counter
	promagent_errors_total{kind}                     counter
	promagent_converged                              gauge (0/1)

Daemon state:

	promagent_installed_version_info{version}        gauge (always 1)
	promagent_scrape_jobs                            gauge
	promagent_relations                              gauge
	promagent_active_targets                         gauge
	promagent_daemon_up                              gauge (0/1)

Install and API:

	promagent_download_duration_seconds              histogram
	promagent_api_requests_total{path,status}        counter
	promagent_api_request_duration_seconds{path}     histogram

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CycleDuration, string(event))

# Component Health

Components report with UpdateComponent. The store and the reconciler are
critical: /ready answers 503 until both are registered and healthy. A
non-critical component such as the daemon probe only moves /health to
"degraded".

	metrics.UpdateComponent(metrics.ComponentDaemon, false, "connection refused")

The Collector refreshes the stored-state gauges on an interval so they are
populated from the first scrape, before any cycle has run.
*/
package metrics
