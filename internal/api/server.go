// Package api hosts the daemon's gRPC listener. It exposes the standard
// health service, which reports SERVING while the trading session runs.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// SessionService is the health service name reporting the session state.
const SessionService = "brokerhub.Session"

// Server is the gRPC server of brokerd.
type Server struct {
	addr   string
	gs     *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// NewServer creates a Server that will listen on host:port. Both the overall
// and the session status start as NOT_SERVING.
func NewServer(host string, port int, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(SessionService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		gs:     gs,
		health: hs,
		log:    log.With("component", "grpc"),
	}
}

// GRPC returns the underlying server so more services can be registered
// before serving.
func (s *Server) GRPC() *grpc.Server { return s.gs }

// SetServing flips the overall and session health status.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(SessionService, status)
	s.log.Info("health status changed", "status", status.String())
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errc := make(chan error, 1)
	go func() { errc <- s.gs.Serve(lis) }()
	s.log.Info("grpc listening", "addr", lis.Addr().String())

	select {
	case <-ctx.Done():
		s.Shutdown()
		<-errc
		return nil
	case err := <-errc:
		return err
	}
}

// Shutdown marks every service NOT_SERVING and stops the server after
// in-flight calls finish.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.gs.GracefulStop()
}
