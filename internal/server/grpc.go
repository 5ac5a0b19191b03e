package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "github.com/Svyat0y/form-builder-backend/internal/health/handler"
)

// NewGRPCServer returns a gRPC server exposing grpc.health.v1, instrumented with otelgrpc.
// Its status follows the same checks as /healthz.
func NewGRPCServer(checker *healthhandler.Checker, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServices(s, checker)
	return s
}

// RegisterServices registers the gRPC services with s.
func RegisterServices(s grpc.ServiceRegistrar, checker *healthhandler.Checker) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(checker))
}
