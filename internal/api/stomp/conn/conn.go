// Package conn runs STOMP over any byte transport. It decodes inbound frames
// for a Handler and serializes outbound frames and heart-beats.
package conn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fujin-io/stompbridge/internal/stomp/dispatcher"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

var ErrClosed = errors.New("connection closed")

// Handler consumes connection events. *dispatcher.Dispatcher implements it.
type Handler interface {
	Limits() frame.Limits
	OnFrame(c dispatcher.Connection, f *frame.Frame)
	OnHeartbeat(c dispatcher.Connection)
	OnDecodeError(c dispatcher.Connection, err error)
	OnClose(c dispatcher.Connection, err error)
}

// Transport is the byte level side of a connection. Every WriteFrame call
// carries exactly one encoded frame or one heart-beat.
type Transport interface {
	io.Reader
	WriteFrame(b []byte) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is one STOMP connection.
type Conn struct {
	id string
	t  Transport
	h  Handler

	writeDeadline time.Duration

	wmu sync.Mutex
	buf []byte

	closeOnce sync.Once
	closed    chan struct{}
	reason    string

	l *slog.Logger
}

type Option func(c *Conn)

// WithWriteDeadline bounds every write on transports that support deadlines.
func WithWriteDeadline(d time.Duration) Option {
	return func(c *Conn) {
		c.writeDeadline = d
	}
}

func New(t Transport, h Handler, l *slog.Logger, opts ...Option) *Conn {
	id := uuid.NewString()
	c := &Conn{
		id:     id,
		t:      t,
		h:      h,
		closed: make(chan struct{}),
		l:      l.With("session_id", id),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Conn) SessionID() string {
	return c.id
}

func (c *Conn) Send(f *frame.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.buf = frame.Append(c.buf[:0], f)
	return c.writeLocked(c.buf)
}

var heartbeat = []byte{'\n'}

func (c *Conn) SendHeartbeat() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.writeLocked(heartbeat)
}

func (c *Conn) writeLocked(b []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if c.writeDeadline > 0 {
		if wd, ok := c.t.(writeDeadliner); ok {
			if err := wd.SetWriteDeadline(time.Now().Add(c.writeDeadline)); err != nil {
				return err
			}
		}
	}
	return c.t.WriteFrame(b)
}

// Close closes the transport. Only the first reason is kept.
func (c *Conn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.closed)
		c.l.Debug("closing connection", "reason", reason)
		err = c.t.Close()
	})
	return err
}

// CloseReason returns the reason given to the first Close call.
func (c *Conn) CloseReason() string {
	select {
	case <-c.closed:
		return c.reason
	default:
		return ""
	}
}

// Done is closed once Close was called.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Serve reads frames until the transport fails, ctx is done or the
// connection is closed. It always reports the end through OnClose.
func (c *Conn) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close("server shutting down")
	})
	defer stop()

	r := frame.NewReaderLimits(c.t, c.h.Limits())
	var readErr error
	for {
		f, err := r.Read()
		if err != nil {
			readErr = err
			break
		}
		if f == nil {
			c.h.OnHeartbeat(c)
			continue
		}
		c.h.OnFrame(c, f)
	}

	select {
	case <-c.closed:
		// closed by us, the read error is the consequence
		readErr = nil
	default:
		switch {
		case errors.Is(readErr, frame.ErrMalformedFrame):
			c.h.OnDecodeError(c, readErr)
			// the dispatcher closes the connection after the ERROR frame
			<-c.closed
			readErr = nil
		case errors.Is(readErr, io.EOF), errors.Is(readErr, net.ErrClosed):
			readErr = nil
		}
		_ = c.Close("transport closed")
	}

	if readErr != nil {
		c.l.Debug("read frame", "err", readErr)
	}
	c.h.OnClose(c, readErr)
}

// Stream adapts a byte stream such as a TCP connection or a QUIC stream.
type Stream struct {
	io.ReadWriteCloser
}

func (s Stream) WriteFrame(b []byte) error {
	_, err := s.Write(b)
	return err
}

func (s Stream) SetWriteDeadline(t time.Time) error {
	if wd, ok := s.ReadWriteCloser.(writeDeadliner); ok {
		return wd.SetWriteDeadline(t)
	}
	return nil
}
