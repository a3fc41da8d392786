// Package grpcserver runs the operational gRPC endpoint: liveness of the
// process and per-subsystem health for the registered background jobs.
// The document API is a separate deployment consuming this module's services.
package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// drainTimeout bounds graceful shutdown before in-flight calls are cut.
const drainTimeout = 5 * time.Second

// Server hosts the health service behind logging and panic-recovery
// interceptors.
type Server struct {
	log    *zap.Logger
	grpc   *grpc.Server
	health *health.Server
}

// New constructs the ops server.
func New(log *zap.Logger) *Server {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
	))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &Server{log: log, grpc: gs, health: hs}
}

// SetServing flips the health status of a named subsystem. The empty name is
// the overall process status.
func (s *Server) SetServing(name string, up bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if up {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(name, st)
}

// Run serves on addr until ctx is cancelled, then drains gracefully. A
// listener or serve failure is returned as-is.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("grpc listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			s.grpc.Stop()
		}
		return nil
	case err := <-errCh:
		return err
	}
}
