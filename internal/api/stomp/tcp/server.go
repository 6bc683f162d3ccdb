// Package tcp serves STOMP over plain TCP or TLS.
package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/fujin-io/stompbridge/internal/api/stomp/conn"
	serverconfig "github.com/fujin-io/stompbridge/public/server/config"
)

type Server struct {
	conf serverconfig.TCPServerConfig
	h    conn.Handler

	addrMu sync.RWMutex
	addr   net.Addr

	ready chan struct{}
	done  chan struct{}

	l *slog.Logger
}

func NewServer(conf serverconfig.TCPServerConfig, h conn.Handler, l *slog.Logger) *Server {
	return &Server{
		conf:  conf,
		h:     h,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		l:     l.With("server", "tcp"),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	var (
		ln  net.Listener
		err error
	)
	if s.conf.TLS != nil {
		ln, err = tls.Listen("tcp", s.conf.Addr, s.conf.TLS)
	} else {
		s.l.Warn("tls not configured, this is not recommended for production environment")
		ln, err = net.Listen("tcp", s.conf.Addr)
	}
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	var (
		connWg sync.WaitGroup
		connMu sync.Mutex
		conns  = make(map[*conn.Conn]struct{})
	)
	connCtx, cancelConns := context.WithCancel(context.Background())

	stop := context.AfterFunc(ctx, func() {
		if err := ln.Close(); err != nil {
			s.l.Error("close tcp listener", "err", err)
		}
	})
	defer stop()

	defer func() {
		done := make(chan struct{})
		go func() {
			connWg.Wait()
			close(done)
		}()

		// give clients the chance to DISCONNECT before forcing them out
		select {
		case <-done:
			s.l.Info("closing tcp listener after all connections done")
		case <-time.After(s.conf.ForceTerminateTimeout):
			s.l.Error("closing tcp listener after timeout")
			cancelConns()
			connMu.Lock()
			for c := range conns {
				_ = c.Close("server shutting down")
			}
			connMu.Unlock()
			<-done
		}
		cancelConns()

		close(s.done)
		s.l.Info("tcp server stopped")
	}()

	close(s.ready)
	s.l.Info("tcp server started", "addr", ln.Addr())

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.l.Error(fmt.Errorf("accept conn: %w", err).Error())
			continue
		}

		c := conn.New(conn.Stream{ReadWriteCloser: nc}, s.h, s.l,
			conn.WithWriteDeadline(s.conf.WriteDeadline))

		connMu.Lock()
		conns[c] = struct{}{}
		connMu.Unlock()

		connWg.Add(1)
		go func() {
			defer func() {
				connMu.Lock()
				delete(conns, c)
				connMu.Unlock()
				connWg.Done()
			}()
			c.Serve(connCtx)
		}()
	}
}

// Addr returns the bound address once the server is ready.
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

func (s *Server) Done() <-chan struct{} {
	return s.done
}
