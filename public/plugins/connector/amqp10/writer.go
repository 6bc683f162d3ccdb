package amqp10

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Azure/go-amqp"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Writer keeps one sender link per target address, opened on first use.
type Writer struct {
	conf Config

	conn    *amqp.Conn
	session *amqp.Session

	mu      sync.Mutex
	senders map[string]*amqp.Sender

	l *slog.Logger
}

func NewWriter(conf Config, l *slog.Logger) (connector.WriteCloser, error) {
	conn, session, err := dial(context.Background(), conf)
	if err != nil {
		return nil, err
	}

	return &Writer{
		conf:    conf,
		conn:    conn,
		session: session,
		senders: make(map[string]*amqp.Sender),
		l:       l.With("writer_type", "amqp10"),
	}, nil
}

func (w *Writer) sender(ctx context.Context, target string) (*amqp.Sender, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if s, ok := w.senders[target]; ok {
		return s, nil
	}

	opts := &amqp.SenderOptions{
		Durability:   w.conf.Sender.Durability,
		Capabilities: w.conf.Sender.Capabilities,
	}
	if w.conf.Sender.Settled {
		mode := amqp.SenderSettleModeSettled
		opts.SettlementMode = &mode
	}

	s, err := w.session.NewSender(ctx, target, opts)
	if err != nil {
		return nil, fmt.Errorf("amqp10: new sender for %q: %w", target, err)
	}
	w.senders[target] = s
	return s, nil
}

func (w *Writer) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	s, err := w.sender(ctx, topic)
	if err != nil {
		callback(err)
		return
	}

	m := amqp.NewMessage(msg)
	m.ApplicationProperties = toProperties(headers)
	callback(s.Send(ctx, m, &amqp.SendOptions{Settled: w.conf.Sender.Settled}))
}

func (w *Writer) Flush(_ context.Context) error {
	return nil
}

func (w *Writer) BeginTx(_ context.Context) error {
	return cerr.ErrNotSupported
}

func (w *Writer) CommitTx(_ context.Context) error {
	return cerr.ErrNotSupported
}

func (w *Writer) RollbackTx(_ context.Context) error {
	return cerr.ErrNotSupported
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx := context.Background()
	for target, s := range w.senders {
		if err := s.Close(ctx); err != nil {
			w.l.Error("close sender", "target", target, "err", err)
		}
	}
	clear(w.senders)
	if err := w.session.Close(ctx); err != nil {
		w.l.Error("close session", "err", err)
	}
	return w.conn.Close()
}
