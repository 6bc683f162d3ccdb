package streams

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/rueidis"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Writer appends to streams with XADD. Inside a transaction the commands
// are queued and sent as one MULTI/EXEC block on commit.
type Writer struct {
	conf   Config
	client rueidis.Client

	mu   sync.Mutex
	inTx bool
	tx   []rueidis.Completed

	l *slog.Logger
}

func NewWriter(conf Config, l *slog.Logger) (connector.WriteCloser, error) {
	client, err := conf.NewClient()
	if err != nil {
		return nil, fmt.Errorf("resp_streams: %w", err)
	}

	return &Writer{
		conf:   conf,
		client: client,
		l:      l.With("writer_type", "resp_streams"),
	}, nil
}

func (w *Writer) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	cmd := w.client.B().Arbitrary("XADD").Keys(topic).Args(xaddArgs(w.conf.MaxLen, msg, headers)...).Build()

	w.mu.Lock()
	if w.inTx {
		w.tx = append(w.tx, cmd)
		w.mu.Unlock()
		callback(nil)
		return
	}
	w.mu.Unlock()

	callback(w.client.Do(ctx, cmd).Error())
}

func (w *Writer) Flush(_ context.Context) error {
	return nil
}

func (w *Writer) BeginTx(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inTx {
		return fmt.Errorf("resp_streams: transaction already started")
	}
	w.inTx = true
	w.tx = w.tx[:0]
	return nil
}

func (w *Writer) CommitTx(ctx context.Context) error {
	w.mu.Lock()
	cmds := w.tx
	w.inTx = false
	w.tx = nil
	w.mu.Unlock()

	if len(cmds) == 0 {
		return nil
	}

	return w.client.Dedicated(func(dc rueidis.DedicatedClient) error {
		multi := make(rueidis.Commands, 0, len(cmds)+2)
		multi = append(multi, dc.B().Multi().Build())
		multi = append(multi, cmds...)
		multi = append(multi, dc.B().Exec().Build())

		resps := dc.DoMulti(ctx, multi...)
		for _, resp := range resps {
			if err := resp.Error(); err != nil {
				return fmt.Errorf("resp_streams: exec: %w", err)
			}
		}
		return nil
	})
}

func (w *Writer) RollbackTx(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inTx = false
	w.tx = nil
	return nil
}

func (w *Writer) Close() error {
	w.client.Close()
	return nil
}
