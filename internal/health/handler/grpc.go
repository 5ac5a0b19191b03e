package handler

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the service name answered besides the empty (whole server) name.
const ServiceName = "form-builder"

// Server implements grpc.health.v1.Health on top of the Checker.
type Server struct {
	healthpb.UnimplementedHealthServer
	checker *Checker
}

// NewServer returns a gRPC health server. A nil checker always reports SERVING.
func NewServer(checker *Checker) *Server {
	return &Server{checker: checker}
}

// Check returns SERVING when every readiness check passes and NOT_SERVING otherwise. Check failures
// are reported in the status, never as an RPC error.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if s.checker == nil || s.checker.Check(ctx).Healthy() {
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
}
