// Package health exposes the standard gRPC health service.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	serverconfig "github.com/fujin-io/stompbridge/public/server/config"
)

// Service is the name reported for the STOMP endpoints. The empty name
// reports the overall server status.
const Service = "stompbridge.stomp"

type Server struct {
	conf serverconfig.HealthServerConfig
	hs   *health.Server

	addrMu sync.RWMutex
	addr   net.Addr

	ready chan struct{}

	l *slog.Logger
}

func NewServer(conf serverconfig.HealthServerConfig, l *slog.Logger) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{
		conf:  conf,
		hs:    hs,
		ready: make(chan struct{}),
		l:     l.With("server", "health"),
	}
}

// SetServing flips every reported service between SERVING and NOT_SERVING.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.hs.SetServingStatus("", status)
	s.hs.SetServingStatus(Service, status)
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.conf.Addr, err)
	}

	s.addrMu.Lock()
	s.addr = lis.Addr()
	s.addrMu.Unlock()

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, s.hs)

	errCh := make(chan error, 1)
	go func() {
		if err := gs.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	close(s.ready)
	s.l.Info("health server started", "addr", lis.Addr())

	select {
	case <-ctx.Done():
		s.l.Info("shutting down health server")
		s.hs.Shutdown()
		gs.GracefulStop()
		s.l.Info("health server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

func (s *Server) ReadyForConnections(timeout time.Duration) bool {
	select {
	case <-time.After(timeout):
		return false
	case <-s.ready:
		return true
	}
}
