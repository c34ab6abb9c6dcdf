package api

import (
	"context"

	"github.com/cuemby/promagent/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// MetricsUnaryInterceptor records request counts and latency per method
func MetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		observe(info.FullMethod, err, timer)
		return resp, err
	}
}

// MetricsStreamInterceptor records streams such as health Watch when they end
func MetricsStreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		timer := metrics.NewTimer()
		err := handler(srv, ss)
		observe(info.FullMethod, err, timer)
		return err
	}
}

func observe(method string, err error, timer *metrics.Timer) {
	// status.Code maps a nil error to OK
	metrics.APIRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, method)
}
