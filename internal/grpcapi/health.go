// Package grpcapi exposes the process's liveness over gRPC using the
// standard health-checking protocol, alongside the REST /healthz endpoint.
// No hand-authored service stubs: the standard health package is the
// entire surface.
package grpcapi

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server wraps a gRPC server exposing only grpc.health.v1.Health.
type Server struct {
	grpcServer *grpc.Server
	healthSrv  *health.Server
	log        *slog.Logger
}

// New builds a Server. Call SetServing once dependencies (db, detector)
// are confirmed reachable, and Serve to start accepting connections.
func New(log *slog.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpcServer: gs, healthSrv: hs, log: log}
}

// SetServing flips the overall health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthSrv.SetServingStatus("", status)
}

// Serve blocks accepting connections on addr until the listener errors or
// GracefulStop/Stop is called from another goroutine.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.log.Info("grpcapi: health server listening", "addr", addr)
	return s.grpcServer.Serve(lis)
}

// GracefulStop stops accepting new RPCs and waits for in-flight ones.
func (s *Server) GracefulStop() {
	s.healthSrv.Shutdown()
	s.grpcServer.GracefulStop()
}

// Stop forcibly terminates the server.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}
