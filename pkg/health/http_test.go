package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestReadyChecker(t *testing.T) {
	var ready atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/-/ready" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Service Unavailable"))
			return
		}
		_, _ = w.Write([]byte("Prometheus Server is Ready.\n"))
	}))
	defer server.Close()

	checker := NewReadyChecker(server.URL)

	if result := checker.Check(context.Background()); result.Healthy {
		t.Errorf("Expected unhealthy while starting, got healthy: %s", result.Message)
	}

	ready.Store(true)
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}
	if result.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestHTTPChecker_RedirectOutsideReadyRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	if result := NewHTTPChecker(server.URL).Check(context.Background()); !result.Healthy {
		t.Errorf("Expected 304 healthy with default range: %s", result.Message)
	}
	if result := NewReadyChecker(server.URL).Check(context.Background()); result.Healthy {
		t.Error("Expected 304 unhealthy for the ready probe")
	}
}

func TestHTTPChecker_CustomHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Basic YWRtaW46YWRtaW4=" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL).WithHeader("Authorization", "Basic YWRtaW46YWRtaW4=")
	if result := checker.Check(context.Background()); !result.Healthy {
		t.Errorf("Expected healthy with header, got unhealthy: %s", result.Message)
	}
}

func TestHTTPChecker_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL).WithTimeout(50 * time.Millisecond)
	if result := checker.Check(context.Background()); result.Healthy {
		t.Errorf("Expected unhealthy due to timeout, got healthy: %s", result.Message)
	}
}

func TestHTTPChecker_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if result := NewHTTPChecker(server.URL).Check(ctx); result.Healthy {
		t.Errorf("Expected unhealthy due to cancelled context, got healthy: %s", result.Message)
	}
}

func TestTCPChecker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.Listener.Addr().String()

	checker := NewTCPChecker(addr)
	if checker.Type() != CheckTypeTCP {
		t.Errorf("Expected type %s, got %s", CheckTypeTCP, checker.Type())
	}
	if result := checker.Check(context.Background()); !result.Healthy {
		t.Errorf("Expected healthy, got unhealthy: %s", result.Message)
	}

	server.Close()
	if result := checker.Check(context.Background()); result.Healthy {
		t.Error("Expected unhealthy after listener closed")
	}
}
