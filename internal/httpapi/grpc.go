package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcServiceName = "clinicore.api"

// GRPCHealthServer exposes the standard gRPC health protocol so orchestrators
// can probe the service over gRPC as well as HTTP.
type GRPCHealthServer struct {
	srv    *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewGRPCHealthServer wires the stock health service to the readiness probe.
func NewGRPCHealthServer(probe ReadyProbe) *GRPCHealthServer {
	s := &GRPCHealthServer{
		srv:    grpc.NewServer(),
		health: health.NewServer(),
		probe:  probe,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	s.health.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections until ctx is cancelled, re-checking readiness
// every few seconds.
func (s *GRPCHealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)
	go func() {
		<-ctx.Done()
		s.srv.GracefulStop()
	}()
	return s.srv.Serve(lis)
}

func (s *GRPCHealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			status := healthpb.HealthCheckResponse_SERVING
			if err := s.probe.Check(ctx); err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			s.health.SetServingStatus(grpcServiceName, status)
		}
	}
}
