package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

type Writer struct {
	cl *kgo.Client
	tx bool
	l  *slog.Logger
}

func NewWriter(conf Config, tlsConf *tls.Config, l *slog.Logger) (connector.WriteCloser, error) {
	var txID string
	if conf.TransactionalIDPrefix != "" {
		txID = conf.TransactionalIDPrefix + "-" + uuid.NewString()
	}

	cl, err := kgo.NewClient(writerOpts(conf, tlsConf, txID)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}

	w := &Writer{
		cl: cl,
		tx: txID != "",
		l:  l.With("writer_type", "kafka"),
	}
	if w.tx {
		w.l = w.l.With("transactional_id", txID)
	}
	return w, nil
}

func (w *Writer) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	w.cl.Produce(ctx, &kgo.Record{
		Topic:   topic,
		Value:   msg,
		Headers: recordHeaders(headers),
	}, func(_ *kgo.Record, err error) {
		callback(err)
	})
}

func (w *Writer) Flush(ctx context.Context) error {
	return w.cl.Flush(ctx)
}

func (w *Writer) BeginTx(_ context.Context) error {
	if !w.tx {
		return cerr.ErrNotSupported
	}
	return w.cl.BeginTransaction()
}

func (w *Writer) CommitTx(ctx context.Context) error {
	if !w.tx {
		return cerr.ErrNotSupported
	}
	if err := w.cl.Flush(ctx); err != nil {
		return fmt.Errorf("kafka: flush: %w", err)
	}

	switch err := w.cl.EndTransaction(ctx, kgo.TryCommit); {
	case err == nil:
	case errors.Is(err, kerr.OperationNotAttempted):
		if rbErr := w.RollbackTx(ctx); rbErr != nil {
			return rbErr
		}
		return fmt.Errorf("kafka: commit transaction: %w", err)
	default:
		return fmt.Errorf("kafka: commit transaction: %w", err)
	}
	return nil
}

func (w *Writer) RollbackTx(ctx context.Context) error {
	if !w.tx {
		return cerr.ErrNotSupported
	}
	if err := w.cl.AbortBufferedRecords(ctx); err != nil {
		return fmt.Errorf("kafka: abort buffered records: %w", err)
	}
	if err := w.cl.EndTransaction(ctx, kgo.TryAbort); err != nil {
		return fmt.Errorf("kafka: rollback transaction: %w", err)
	}
	return nil
}

func (w *Writer) Close() error {
	w.cl.Close()
	return nil
}
