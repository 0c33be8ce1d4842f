package httpapi

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"payerbook.org/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer answers grpc.health.v1.Health/Check from the same readiness
// probe that backs /readyz.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
}

// NewHealthServer creates the gRPC health service.
func NewHealthServer(r readinessChecker) *HealthServer {
	return &HealthServer{readiness: r}
}

// Check reports SERVING iff every dependency is reachable. Unknown service
// names get NotFound per the health protocol.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != serviceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.Logger().Warn("grpc health: not ready", zap.Error(err))
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}

// NewGRPCServer builds a gRPC server exposing the health service.
func NewGRPCServer(r readinessChecker, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, NewHealthServer(r))
	return srv
}
