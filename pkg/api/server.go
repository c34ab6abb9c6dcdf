package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/promagent/pkg/log"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name that tracks convergence.
// The empty service name tracks whether the agent itself is up.
const ServiceName = "promagent.Daemon"

const shutdownTimeout = 5 * time.Second

// Server exposes the standard gRPC health protocol so orchestrators and
// probes like grpc_health_probe can watch the agent
type Server struct {
	mu     sync.Mutex
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewServer creates a gRPC server with the health service registered
func NewServer() *Server {
	s := &Server{
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(MetricsUnaryInterceptor()),
			grpc.ChainStreamInterceptor(MetricsStreamInterceptor()),
		),
		health: health.NewServer(),
		logger: log.WithComponent("grpc"),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// SetConverged reports whether the daemon matches the desired state
func (s *Server) SetConverged(converged bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if converged {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Health returns the health service, mainly for in-process checks
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// Start listens on addr and serves until Stop
func (s *Server) Start(addr string) error {
	lc := &net.ListenConfig{}
	lis, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("gRPC health listening")
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and stops the server, forcing it
// down if in-flight streams do not finish in time
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info().Msg("gRPC server stopped gracefully")
	case <-time.After(shutdownTimeout):
		s.logger.Warn().Msg("gRPC server did not stop in time, forcing")
		s.grpc.Stop()
	}
}
