// Package grpchealth serves the standard gRPC health protocol, reporting SERVING while the
// metric store answers pings.
package grpchealth

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/latency-dashboard/internal/logging"
)

// ServiceName is the service reported next to the overall ("") status.
const ServiceName = "latency.MetricStore"

const pingTimeout = 5 * time.Second

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server owns a gRPC server exposing grpc.health.v1.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	store    Pinger
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	serving bool
}

// NewServer builds the health server. Statuses start NOT_SERVING until the first check.
func NewServer(store Pinger, interval time.Duration, logger *zap.Logger) *Server {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &Server{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		store:    store,
		interval: interval,
		logger:   logger.Named("grpc_health"),
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Check pings the store once and publishes the result.
func (s *Server) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	err := s.store.Ping(ctx)
	serving := err == nil
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.mu.Lock()
	changed := serving != s.serving
	s.serving = serving
	s.mu.Unlock()

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	if changed {
		if serving {
			s.logger.Info("metric store reachable, reporting SERVING")
		} else {
			s.logger.Warn("metric store unreachable, reporting NOT_SERVING",
				zap.Error(logging.NewOperationError("grpchealth.check", "", err)))
		}
	}
	return serving
}

// Serve checks the store on an interval and serves on lis until ctx ends.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	s.Check(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			return <-errCh
		case err := <-errCh:
			return err
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}
