package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/promagent/pkg/log"
	"github.com/cuemby/promagent/pkg/metrics"
	"github.com/cuemby/promagent/pkg/reconciler"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// StatusSource answers the status endpoints
type StatusSource interface {
	Status(ctx context.Context) (*reconciler.Status, error)
	Endpoint() (string, error)
}

// HealthServer serves the agent's health, status and metrics endpoints
type HealthServer struct {
	source  StatusSource
	mux     *http.ServeMux
	server  *http.Server
	limiter *rateLimiter
	logger  zerolog.Logger
}

// NewHealthServer creates the HTTP server. source may be nil, in which case
// /status and /endpoint answer 503.
func NewHealthServer(source StatusSource) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		source:  source,
		mux:     mux,
		limiter: newRateLimiter(DefaultRequestsPerSecond, DefaultBurst),
		logger:  log.WithComponent("api"),
	}

	mux.Handle("/health", hs.instrument("/health", metrics.HealthHandler()))
	mux.Handle("/ready", hs.instrument("/ready", metrics.ReadyHandler()))
	mux.Handle("/live", hs.instrument("/live", metrics.LivenessHandler()))
	mux.Handle("/status", hs.instrument("/status", http.HandlerFunc(hs.statusHandler)))
	mux.Handle("/endpoint", hs.instrument("/endpoint", http.HandlerFunc(hs.endpointHandler)))
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// WithRateLimit replaces the per-client request budget. rps <= 0 disables
// limiting.
func (hs *HealthServer) WithRateLimit(rps float64, burst int) *HealthServer {
	if rps <= 0 {
		hs.limiter = nil
		return hs
	}
	hs.limiter = newRateLimiter(rps, burst)
	return hs
}

// Start listens on addr and serves until Shutdown
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	hs.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "")

	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
	return err
}

// Shutdown stops the server, waiting for in-flight requests until ctx is done
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

// statusHandler implements /status. ?format=yaml switches the encoding.
func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if hs.source == nil {
		http.Error(w, "reconciler not initialized", http.StatusServiceUnavailable)
		return
	}

	st, err := hs.source.Status(r.Context())
	if err != nil {
		hs.logger.Warn().Err(err).Msg("Status request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		data, err := yaml.Marshal(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// endpointHandler implements /endpoint, the URL peers use to reach the daemon
func (hs *HealthServer) endpointHandler(w http.ResponseWriter, r *http.Request) {
	if hs.source == nil {
		http.Error(w, "reconciler not initialized", http.StatusServiceUnavailable)
		return
	}

	url, err := hs.source.Endpoint()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// statusRecorder captures the response code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument rejects anything but GET, applies the client's rate limit and
// records request metrics
func (hs *HealthServer) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		switch {
		case r.Method != http.MethodGet:
			http.Error(rec, "Method not allowed", http.StatusMethodNotAllowed)
		case hs.limiter != nil && !hs.limiter.allow(r):
			hs.logger.Warn().Str("client", clientIP(r)).Str("path", path).Msg("Rate limit exceeded")
			http.Error(rec, "Too many requests", http.StatusTooManyRequests)
		default:
			next.ServeHTTP(rec, r)
		}

		metrics.APIRequestsTotal.WithLabelValues(path, strconv.Itoa(rec.code)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, path)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
