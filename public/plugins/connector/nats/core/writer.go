package core

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Writer implements connector.WriteCloser for NATS Core
type Writer struct {
	nc *nats.Conn
	l  *slog.Logger
}

// NewWriter creates a new NATS Core writer
func NewWriter(conf Config, l *slog.Logger) (connector.WriteCloser, error) {
	nc, err := connect(conf)
	if err != nil {
		return nil, err
	}

	return &Writer{
		nc: nc,
		l:  l.With("writer_type", "nats_core"),
	}, nil
}

func (w *Writer) Produce(_ context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	natsMsg := &nats.Msg{
		Subject: topic,
		Data:    msg,
	}

	if len(headers) > 0 {
		natsMsg.Header = make(nats.Header)
		for i := 0; i+1 < len(headers); i += 2 {
			natsMsg.Header.Add(string(headers[i]), string(headers[i+1]))
		}
	}

	callback(w.nc.PublishMsg(natsMsg))
}

func (w *Writer) Flush(ctx context.Context) error {
	return w.nc.FlushWithContext(ctx)
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
	if err := w.nc.Flush(); err != nil {
		w.l.Error("flush on close", "err", err)
	}
	w.nc.Close()
	return nil
}
