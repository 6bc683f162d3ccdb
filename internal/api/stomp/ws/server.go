// Package ws serves STOMP over WebSocket. Every WebSocket message carries one
// frame or heart-beat.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/fujin-io/stompbridge/internal/api/stomp/conn"
	serverconfig "github.com/fujin-io/stompbridge/public/server/config"
)

// Subprotocols lists the STOMP WebSocket subprotocols in preference order.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

type Server struct {
	conf     serverconfig.WSServerConfig
	h        conn.Handler
	upgrader websocket.Upgrader

	wg sync.WaitGroup

	addrMu sync.RWMutex
	addr   net.Addr

	ready chan struct{}
	done  chan struct{}

	l *slog.Logger
}

func NewServer(conf serverconfig.WSServerConfig, h conn.Handler, l *slog.Logger) *Server {
	s := &Server{
		conf:  conf,
		h:     h,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
		l:     l.With("server", "ws"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  conf.ReadBufferSize,
		WriteBufferSize: conf.WriteBufferSize,
		Subprotocols:    Subprotocols,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.conf.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.ContainsFunc(s.conf.AllowedOrigins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}

// Handler upgrades requests and serves STOMP on them until ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.l.Debug("upgrade", "err", err, "remote", r.RemoteAddr)
			return
		}

		s.wg.Add(1)
		defer s.wg.Done()

		c := conn.New(newTransport(wc), s.h, s.l, conn.WithWriteDeadline(s.conf.WriteDeadline))
		s.l.Debug("connection accepted", "remote", r.RemoteAddr, "subprotocol", wc.Subprotocol())
		c.Serve(ctx)
	})
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return fmt.Errorf("listen ws: %w", err)
	}

	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(s.conf.Path, s.Handler(ctx))
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         s.conf.TLS,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.conf.TLS != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			s.l.Warn("tls not configured, this is not recommended for production environment")
			err = srv.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	close(s.ready)
	s.l.Info("ws server started", "addr", ln.Addr(), "path", s.conf.Path)

	defer func() {
		close(s.done)
		s.l.Info("ws server stopped")
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// hijacked connections are not tracked by Shutdown, they end with ctx
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.l.Error("shutdown ws server", "err", err)
		}
		s.wg.Wait()
		return nil
	case err := <-errCh:
		return fmt.Errorf("serve ws: %w", err)
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

// transport turns a message oriented WebSocket into the byte stream the
// frame decoder reads from.
type transport struct {
	wc  *websocket.Conn
	cur io.Reader
}

func newTransport(wc *websocket.Conn) *transport {
	return &transport{wc: wc}
}

func (t *transport) Read(p []byte) (int, error) {
	for {
		if t.cur == nil {
			_, r, err := t.wc.NextReader()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					return 0, io.EOF
				}
				return 0, err
			}
			t.cur = r
		}
		n, err := t.cur.Read(p)
		if errors.Is(err, io.EOF) {
			t.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (t *transport) WriteFrame(b []byte) error {
	typ := websocket.TextMessage
	if !utf8.Valid(b) {
		typ = websocket.BinaryMessage
	}
	return t.wc.WriteMessage(typ, b)
}

func (t *transport) SetWriteDeadline(d time.Time) error {
	return t.wc.SetWriteDeadline(d)
}

func (t *transport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.wc.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.wc.Close()
}
