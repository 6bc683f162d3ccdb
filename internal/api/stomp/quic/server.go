// Package quic serves STOMP over QUIC. Every bidirectional stream opened by
// a client is one STOMP connection.
package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/metrics"

	"github.com/fujin-io/stompbridge/internal/api/stomp/conn"
	serverconfig "github.com/fujin-io/stompbridge/public/server/config"
)

const (
	ALPN = "stomp"

	connErr   quic.ApplicationErrorCode = 0x1
	streamErr quic.StreamErrorCode      = 0x1
)

var NextProtos = []string{ALPN}

type Server struct {
	conf serverconfig.QUICServerConfig
	h    conn.Handler

	addrMu sync.RWMutex
	addr   net.Addr

	ready chan struct{}
	done  chan struct{}

	l *slog.Logger
}

func NewServer(conf serverconfig.QUICServerConfig, h conn.Handler, l *slog.Logger) *Server {
	return &Server{
		conf:  conf,
		h:     h,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		l:     l.With("server", "quic"),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.conf.Addr)
	if err != nil {
		return fmt.Errorf("resolve udp addr: %w", err)
	}

	udpConn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	tr := &quic.Transport{
		Conn: udpConn,
	}

	quicConf := s.conf.QUIC
	if quicConf == nil {
		quicConf = &quic.Config{}
	} else {
		quicConf = quicConf.Clone()
	}

	if s.conf.ObservabilityEnabled {
		tr.Tracer = metrics.NewTracer()
		quicConf.Tracer = metrics.DefaultConnectionTracer
	}

	tlsConf := s.conf.TLS.Clone()
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	}
	tlsConf.NextProtos = NextProtos

	if len(tlsConf.Certificates) == 0 || tlsConf.ClientCAs == nil {
		s.l.Warn("tls not configured, this is not recommended for production environment")
	}

	ln, err := tr.Listen(tlsConf, quicConf)
	if err != nil {
		return fmt.Errorf("listen quic: %w", err)
	}

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	connWg := &sync.WaitGroup{}
	streamCtx, cancelStreams := context.WithCancel(context.Background())

	defer func() {
		if err := ln.Close(); err != nil {
			s.l.Error("close quic listener", "err", err)
		}

		done := make(chan struct{})
		go func() {
			connWg.Wait()
			close(done)
		}()

		select {
		case <-time.After(s.conf.ForceTerminateTimeout):
			s.l.Error("closing quic listener after timeout")
			cancelStreams()
			<-done
		case <-done:
			s.l.Info("closing quic listener after all connections done")
		}
		cancelStreams()

		if err := tr.Close(); err != nil {
			s.l.Error("close quic transport", "err", err)
		}
		if err := udpConn.Close(); err != nil {
			s.l.Error("close udp listener", "err", err)
		}

		close(s.done)
		s.l.Info("quic server stopped")
	}()

	close(s.ready)
	s.l.Info("quic server started", "addr", ln.Addr())

	for {
		qc, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.l.Error(fmt.Errorf("accept conn: %w", err).Error())
			continue
		}

		if negotiated := qc.ConnectionState().TLS.NegotiatedProtocol; negotiated != ALPN {
			s.l.Warn("rejecting connection: unsupported ALPN", "alpn", negotiated)
			_ = qc.CloseWithError(connErr, "unsupported protocol: "+negotiated)
			continue
		}

		connWg.Add(1)
		go func() {
			defer connWg.Done()
			s.serveConn(ctx, streamCtx, qc, connWg)
		}()
	}
}

func (s *Server) serveConn(ctx, streamCtx context.Context, qc *quic.Conn, wg *sync.WaitGroup) {
	for {
		str, err := qc.AcceptStream(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.l.Debug("accept stream", "err", err)
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			c := conn.New(&stream{str}, s.h, s.l, conn.WithWriteDeadline(s.conf.WriteDeadline))
			c.Serve(streamCtx)
		}()
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

func (s *Server) Done() <-chan struct{} {
	return s.done
}

type stream struct {
	str *quic.Stream
}

func (s *stream) Read(p []byte) (int, error) {
	return s.str.Read(p)
}

func (s *stream) WriteFrame(b []byte) error {
	_, err := s.str.Write(b)
	return err
}

func (s *stream) SetWriteDeadline(t time.Time) error {
	return s.str.SetWriteDeadline(t)
}

// Close ends both directions. Close on a quic stream only ends the send
// side.
func (s *stream) Close() error {
	s.str.CancelRead(streamErr)
	return s.str.Close()
}
