package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/promagent/pkg/log"
	"github.com/cuemby/promagent/pkg/metrics"
	"github.com/rs/zerolog"
)

// Monitor probes the daemon on an interval and reports the outcome to the
// metrics health registry
type Monitor struct {
	checker Checker
	config  Config
	logger  zerolog.Logger

	mu     sync.RWMutex
	status *Status

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMonitor creates a daemon monitor
func NewMonitor(checker Checker, config Config) *Monitor {
	return &Monitor{
		checker: checker,
		config:  config,
		logger:  log.WithComponent("health"),
		status:  NewStatus(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins probing in the background
func (m *Monitor) Start() {
	go m.loop()
}

// Stop stops probing and waits for the loop to exit
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

// Restarted opens a new grace period, called after the daemon was restarted
func (m *Monitor) Restarted() {
	m.mu.Lock()
	m.status.Reset()
	m.mu.Unlock()
}

// Status returns a copy of the current probe status
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.status
}

func (m *Monitor) loop() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-m.stopCh
		cancel()
	}()

	m.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-m.stopCh:
			return
		}
	}
}

// RunOnce performs a single probe and reports it
func (m *Monitor) RunOnce(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	res := m.checker.Check(checkCtx)

	m.mu.Lock()
	if !res.Healthy && m.status.InStartPeriod(m.config) {
		m.status.LastCheck = res.CheckedAt
		m.status.LastResult = res
		m.mu.Unlock()
		m.logger.Debug().Str("message", res.Message).Msg("Daemon probe failed during start period")
		return
	}
	wasHealthy := m.status.Healthy
	m.status.Update(res, m.config)
	healthy := m.status.Healthy
	m.mu.Unlock()

	if wasHealthy != healthy {
		if healthy {
			m.logger.Info().Str("message", res.Message).Msg("Daemon is ready")
		} else {
			m.logger.Warn().Str("message", res.Message).Msg("Daemon is not ready")
		}
	}

	metrics.UpdateComponent(metrics.ComponentDaemon, healthy, res.Message)
	if healthy {
		metrics.DaemonUp.Set(1)
	} else {
		metrics.DaemonUp.Set(0)
	}
}
