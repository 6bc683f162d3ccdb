// Package dispatcher connects transports to sessions. It validates inbound
// frames, runs them against the connection's Session and turns outcomes into
// CONNECTED, RECEIPT, MESSAGE and ERROR frames.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/internal/stomp/registry"
	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

var ErrClosed = errors.New("dispatcher closed")

// Connection is a transport connection able to carry whole STOMP frames.
type Connection interface {
	SessionID() string
	Send(f *frame.Frame) error
	Close(reason string) error
}

// HeartbeatSender is implemented by connections that can send a bare EOL.
type HeartbeatSender interface {
	SendHeartbeat() error
}

type Dispatcher struct {
	conf     Config
	versions []frame.Version
	gw       gateway.Gateway
	reg      *registry.Registry
	auth     authenticator.Authenticator
	pool     *ants.Pool
	handlers handlers

	mu     sync.Mutex
	conns  map[string]*worker
	closed bool
	wg     sync.WaitGroup

	l *slog.Logger
}

// New creates a dispatcher. auth may be nil.
func New(conf Config, gw gateway.Gateway, auth authenticator.Authenticator, l *slog.Logger) (*Dispatcher, error) {
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(conf.MaxSessions, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Dispatcher{
		conf:     conf,
		versions: conf.versions(),
		gw:       gw,
		reg:      registry.New(),
		auth:     auth,
		pool:     pool,
		conns:    make(map[string]*worker),
		l:        l.With("component", "dispatcher"),
	}, nil
}

// Limits are the frame decoding limits transports should apply.
func (d *Dispatcher) Limits() frame.Limits {
	return d.conf.Limits
}

// OnFrame queues an inbound frame for the connection's worker. The first
// frame of a connection starts the worker.
func (d *Dispatcher) OnFrame(conn Connection, f *frame.Frame) {
	if isClosed(conn) {
		return
	}
	w, err := d.worker(conn)
	if err != nil {
		d.reject(conn, f, err)
		return
	}
	w.touch()
	w.push(event{kind: evFrame, frame: f})
}

// OnDecodeError reports bytes the transport could not decode into a frame.
// The connection gets one ERROR frame and is closed.
func (d *Dispatcher) OnDecodeError(conn Connection, err error) {
	if isClosed(conn) {
		return
	}
	w, werr := d.worker(conn)
	if werr != nil {
		d.reject(conn, nil, werr)
		return
	}
	w.push(event{kind: evDecodeError, err: err})
}

// OnHeartbeat records inbound activity without a frame.
func (d *Dispatcher) OnHeartbeat(conn Connection) {
	d.mu.Lock()
	w, ok := d.conns[conn.SessionID()]
	d.mu.Unlock()
	if ok {
		w.touch()
	}
}

// OnClose tells the dispatcher the transport is gone. err is nil on a clean
// close.
func (d *Dispatcher) OnClose(conn Connection, err error) {
	d.mu.Lock()
	w, ok := d.conns[conn.SessionID()]
	d.mu.Unlock()
	if !ok {
		return
	}
	reason := "transport closed"
	if err != nil {
		reason = err.Error()
	}
	w.push(event{kind: evClose, reason: reason, transportGone: true})
}

// isClosed reports whether a connection exposing Done was already closed.
// Frames read after a close must not start a new session.
func isClosed(conn Connection) bool {
	dc, ok := conn.(interface{ Done() <-chan struct{} })
	if !ok {
		return false
	}
	select {
	case <-dc.Done():
		return true
	default:
		return false
	}
}

// Subscribers returns the subscriptions matching a concrete destination.
func (d *Dispatcher) Subscribers(dest string) []registry.Entry {
	return d.reg.Match(dest)
}

// Sessions returns the number of live connections.
func (d *Dispatcher) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *Dispatcher) worker(conn Connection) (*worker, error) {
	id := conn.SessionID()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if w, ok := d.conns[id]; ok {
		return w, nil
	}

	w := newWorker(d, conn)
	d.wg.Add(1)
	if err := d.pool.Submit(w.run); err != nil {
		d.wg.Done()
		return nil, fmt.Errorf("too many sessions: %w", err)
	}
	d.conns[id] = w
	return w, nil
}

func (d *Dispatcher) remove(w *worker) {
	d.mu.Lock()
	if cur, ok := d.conns[w.conn.SessionID()]; ok && cur == w {
		delete(d.conns, w.conn.SessionID())
	}
	d.mu.Unlock()
	d.wg.Done()
}

// reject answers a connection that never got a worker.
func (d *Dispatcher) reject(conn Connection, f *frame.Frame, err error) {
	d.l.Warn("reject connection", "session_id", conn.SessionID(), "err", err)
	if sendErr := conn.Send(errorFrame(err, f)); sendErr != nil {
		d.l.Debug("send error frame", "err", sendErr)
	}
	if closeErr := conn.Close(err.Error()); closeErr != nil {
		d.l.Debug("close connection", "err", closeErr)
	}
}

// Close ends every connection and waits for the workers until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, w := range d.conns {
		w.push(event{kind: evClose, reason: "server shutting down"})
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	d.pool.Release()
	return nil
}
