package amqp091

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Writer publishes to the configured exchange with the destination as
// routing key. Transactions map to AMQP channel transactions.
type Writer struct {
	conf Config

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	inTx    bool

	l *slog.Logger
}

func NewWriter(conf Config, l *slog.Logger) (connector.WriteCloser, error) {
	conn, ch, err := dial(conf)
	if err != nil {
		return nil, err
	}

	return &Writer{
		conf:    conf,
		conn:    conn,
		channel: ch,
		l:       l.With("writer_type", "amqp091"),
	}, nil
}

func (w *Writer) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	callback(w.channel.PublishWithContext(
		ctx,
		w.conf.Exchange.Name,
		topic,
		w.conf.Publish.Mandatory,
		w.conf.Publish.Immediate,
		amqp.Publishing{
			ContentType:     w.conf.Publish.ContentType,
			ContentEncoding: w.conf.Publish.ContentEncoding,
			DeliveryMode:    w.conf.Publish.DeliveryMode,
			Priority:        w.conf.Publish.Priority,
			AppId:           w.conf.Publish.AppId,
			Headers:         toTable(headers),
			Body:            msg,
		},
	))
}

func (w *Writer) Flush(_ context.Context) error {
	return nil
}

// BeginTx switches the channel into transactional mode once. AMQP starts
// the next transaction right after every commit or rollback.
func (w *Writer) BeginTx(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inTx {
		return nil
	}
	if err := w.channel.Tx(); err != nil {
		return fmt.Errorf("amqp091: tx select: %w", err)
	}
	w.inTx = true
	return nil
}

func (w *Writer) CommitTx(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.channel.TxCommit(); err != nil {
		return fmt.Errorf("amqp091: tx commit: %w", err)
	}
	return nil
}

func (w *Writer) RollbackTx(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.channel.TxRollback(); err != nil {
		return fmt.Errorf("amqp091: tx rollback: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.channel.Close(); err != nil && !w.conn.IsClosed() {
		w.l.Error("close channel", "err", err)
	}
	if err := w.conn.Close(); err != nil && err != amqp.ErrClosed {
		return fmt.Errorf("close conn: %w", err)
	}
	return nil
}
