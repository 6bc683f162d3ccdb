package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fujin-io/stompbridge/internal/api/health"
	"github.com/fujin-io/stompbridge/internal/api/stomp/quic"
	"github.com/fujin-io/stompbridge/internal/api/stomp/tcp"
	"github.com/fujin-io/stompbridge/internal/api/stomp/ws"
	"github.com/fujin-io/stompbridge/internal/connectors"
	obs "github.com/fujin-io/stompbridge/internal/observability"
	"github.com/fujin-io/stompbridge/internal/stomp/dispatcher"
	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/internal/stomp/registry"
	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	"github.com/fujin-io/stompbridge/public/server/config"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	conf config.Config

	managers   *connectors.Managers
	gateway    *gateway.ConnectorGateway
	dispatcher *dispatcher.Dispatcher

	wsServer     *ws.Server
	tcpServer    *tcp.Server
	quicServer   *quic.Server
	healthServer *health.Server

	ready chan struct{}
	done  chan struct{}

	l *slog.Logger
}

// Transport is implemented by every listener the server runs.
type Transport interface {
	ListenAndServe(ctx context.Context) error
	ReadyForConnections(timeout time.Duration) bool
}

// Event and HandlerFunc are re-exported for embedders registering handlers.
type (
	Event       = dispatcher.Event
	HandlerFunc = dispatcher.HandlerFunc
)

// NewServer creates a new server instance
func NewServer(conf config.Config, l *slog.Logger) (*Server, error) {
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := conf.Connectors.Validate(); err != nil {
		return nil, fmt.Errorf("validate connectors config: %w", err)
	}

	managers, err := connectors.NewManagers(conf.Connectors, l)
	if err != nil {
		return nil, fmt.Errorf("init connectors: %w", err)
	}

	gw, err := gateway.New(conf.Gateway, managers, l)
	if err != nil {
		_ = managers.Close()
		return nil, fmt.Errorf("init gateway: %w", err)
	}

	auth, err := authenticator.New(conf.Auth, l)
	if err != nil {
		_ = managers.Close()
		return nil, fmt.Errorf("init authenticator: %w", err)
	}

	d, err := dispatcher.New(conf.STOMP, gw, auth, l)
	if err != nil {
		_ = managers.Close()
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}

	s := &Server{
		conf:       conf,
		managers:   managers,
		gateway:    gw,
		dispatcher: d,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		l:          l,
	}

	if conf.WS.Enabled {
		s.wsServer = ws.NewServer(conf.WS, d, l)
	}
	if conf.TCP.Enabled {
		s.tcpServer = tcp.NewServer(conf.TCP, d, l)
	}
	if conf.QUIC.Enabled {
		s.quicServer = quic.NewServer(conf.QUIC, d, l)
	}
	if conf.Health.Enabled {
		s.healthServer = health.NewServer(conf.Health, l)
	}

	return s, nil
}

// Handle registers fn for applied frames of the given command whose
// destination matches pattern. It must be called before ListenAndServe.
func (s *Server) Handle(cmd frame.Command, pattern string, fn HandlerFunc) {
	s.dispatcher.Handle(cmd, pattern, fn)
}

// Subscribers returns the live subscriptions matching a concrete destination.
func (s *Server) Subscribers(dest string) []registry.Entry {
	return s.dispatcher.Subscribers(dest)
}

// WSHandler serves STOMP over WebSocket on an existing HTTP server. It works
// only when the ws transport is enabled.
func (s *Server) WSHandler(ctx context.Context) (http.Handler, error) {
	if s.wsServer == nil {
		return nil, errors.New("ws transport is disabled")
	}
	return s.wsServer.Handler(ctx), nil
}

func (s *Server) transports() []Transport {
	var ts []Transport
	if s.wsServer != nil {
		ts = append(ts, s.wsServer)
	}
	if s.tcpServer != nil {
		ts = append(ts, s.tcpServer)
	}
	if s.quicServer != nil {
		ts = append(ts, s.quicServer)
	}
	return ts
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	defer close(s.done)

	shutdown, err := obs.Init(ctx, s.conf.Observability, s.l)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(stopCtx); err != nil {
			s.l.Error("shutdown observability", "err", err)
		}
	}()

	eg, eCtx := errgroup.WithContext(ctx)

	transports := s.transports()
	for _, t := range transports {
		eg.Go(func() error {
			return t.ListenAndServe(eCtx)
		})
	}
	if s.healthServer != nil {
		eg.Go(func() error {
			return s.healthServer.ListenAndServe(eCtx)
		})
	}

	eg.Go(func() error {
		for _, t := range transports {
			for !t.ReadyForConnections(100 * time.Millisecond) {
				if eCtx.Err() != nil {
					return nil
				}
			}
		}
		if s.healthServer != nil {
			s.healthServer.SetServing(true)
		}
		close(s.ready)
		s.l.Info("server ready")

		<-eCtx.Done()

		if s.healthServer != nil {
			s.healthServer.SetServing(false)
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.dispatcher.Close(closeCtx); err != nil {
			s.l.Error("close dispatcher", "err", err)
		}
		return nil
	})

	err = eg.Wait()

	if closeErr := s.gateway.Close(); closeErr != nil {
		s.l.Error("close gateway", "err", closeErr)
	}
	if closeErr := s.managers.Close(); closeErr != nil {
		s.l.Error("close connectors", "err", closeErr)
	}
	s.l.Info("server stopped")
	return err
}

func (s *Server) ReadyForConnections(timeout time.Duration) bool {
	select {
	case <-time.After(timeout):
		return false
	case <-s.ready:
		return true
	}
}

func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) TCPAddr() net.Addr {
	if s.tcpServer == nil {
		return nil
	}
	return s.tcpServer.Addr()
}

func (s *Server) WSAddr() net.Addr {
	if s.wsServer == nil {
		return nil
	}
	return s.wsServer.Addr()
}

func (s *Server) QUICAddr() net.Addr {
	if s.quicServer == nil {
		return nil
	}
	return s.quicServer.Addr()
}

func (s *Server) HealthAddr() net.Addr {
	if s.healthServer == nil {
		return nil
	}
	return s.healthServer.Addr()
}
