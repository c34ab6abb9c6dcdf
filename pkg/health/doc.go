/*
Package health probes the managed Prometheus daemon.

Three probes implement Checker:

  - HTTPChecker, usually built with NewReadyChecker, hits /-/ready. The daemon
    answers 503 until its TSDB is open and the configuration is loaded.
  - TCPChecker dials the listen address.
  - TargetsProbe reads /api/v1/targets and counts active targets, leaving out
    the self-monitoring job. It retries a few times since the daemon may
    still be starting after a restart.

# Status Tracking

Status folds probe results into a healthy/unhealthy verdict. One success
restores health; Config.Retries consecutive failures are needed to lose it.
Failures inside Config.StartPeriod are recorded but not counted.

	Probe:   ✓   ✗   ✗   ✗   ✓
	Healthy: yes yes yes no  yes   (Retries = 3)

# Monitor

Monitor runs a Checker on an interval for `promagent run` and reports each
verdict to the metrics package (promagent_daemon_up and the "daemon"
component of /health). Call Restarted after the service controller restarts
the daemon to open a new grace period.

	m := health.NewMonitor(health.NewReadyChecker("http://localhost:9090"), health.DefaultConfig())
	m.Start()
	defer m.Stop()
*/
package health
