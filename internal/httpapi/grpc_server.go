package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"booky.app/internal/obs"
)

// HealthServer answers grpc.health.v1 probes from the same readiness check
// that backs /readyz.
type HealthServer struct {
	healthpb.UnimplementedHealthServer

	readiness readinessChecker
}

// NewHealthServer wraps r. A nil checker always reports serving.
func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &HealthServer{readiness: r}
}

// Register attaches the health service to srv.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s)
}

// Check reports SERVING or NOT_SERVING for the whole process ("") and for
// the accounts service name. Other names are unknown.
func (s *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	switch req.GetService() {
	case "", serviceName:
	default:
		return nil, status.Errorf(codes.NotFound, "unknown service %q", req.GetService())
	}
	if err := s.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		obs.Logger().WarnContext(ctx, "grpc health check failed", "error", err.Error())
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	obs.SetReady(true)
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
