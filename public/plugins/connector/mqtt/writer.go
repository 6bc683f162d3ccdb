package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/panjf2000/ants/v2"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Writer implements connector.WriteCloser for MQTT using paho.golang.
// Publishes run on an ants pool so QoS 1 and 2 round trips overlap.
type Writer struct {
	conf Config
	cm   *autopaho.ConnectionManager
	pool *ants.Pool
	l    *slog.Logger
	wg   sync.WaitGroup
}

// NewWriter creates a new MQTT writer using paho.golang
func NewWriter(conf Config, l *slog.Logger) (connector.WriteCloser, error) {
	l = l.With("writer_type", "mqtt")

	cm, err := connect(conf, paho.ClientConfig{}, l)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(conf.Pool.Size, ants.WithPreAlloc(conf.Pool.PreAlloc))
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	return &Writer{
		conf: conf,
		cm:   cm,
		pool: pool,
		l:    l,
	}, nil
}

func (w *Writer) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	w.wg.Add(1)

	publish := &paho.Publish{
		Topic:   topic,
		QoS:     w.conf.QoS,
		Retain:  w.conf.Retain,
		Payload: msg,
	}
	if len(headers) > 0 {
		props := &paho.PublishProperties{}
		for i := 0; i+1 < len(headers); i += 2 {
			props.User = append(props.User, paho.UserProperty{
				Key:   string(headers[i]),
				Value: string(headers[i+1]),
			})
		}
		publish.Properties = props
	}

	err := w.pool.Submit(func() {
		defer w.wg.Done()
		_, err := w.cm.Publish(ctx, publish)
		callback(err)
	})
	if err != nil {
		callback(err)
		w.wg.Done()
	}
}

func (w *Writer) Flush(_ context.Context) error {
	w.wg.Wait()
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
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), w.conf.DisconnectTimeout)
	defer cancel()

	if err := w.cm.Disconnect(ctx); err != nil {
		w.l.Error("mqtt: disconnect error", "err", err)
	}

	if w.conf.Pool.ReleaseTimeout != 0 {
		if err := w.pool.ReleaseTimeout(w.conf.Pool.ReleaseTimeout); err != nil {
			return fmt.Errorf("release pool: %w", err)
		}
	} else {
		w.pool.Release()
	}
	return nil
}
