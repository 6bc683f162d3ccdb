package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Reader implements connector.ReadCloser for NATS Core. NATS Core delivers
// at most once, so Ack and Nack only complete the client side bookkeeping.
type Reader struct {
	group      string
	autoCommit bool
	nc         *nats.Conn

	mu  sync.Mutex
	sub *nats.Subscription

	l *slog.Logger
}

// NewReader creates a new NATS Core reader
func NewReader(conf Config, group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	nc, err := connect(conf)
	if err != nil {
		return nil, err
	}

	return &Reader{
		group:      group,
		autoCommit: autoCommit,
		nc:         nc,
		l:          l.With("reader_type", "nats_core"),
	}, nil
}

func (r *Reader) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return fmt.Errorf("nats: reader already subscribed to %q", r.sub.Subject)
	}

	cb := func(msg *nats.Msg) {
		h(connector.Message{
			Topic:   msg.Subject,
			Body:    msg.Data,
			Headers: headers(msg.Header),
		})
	}

	var (
		sub *nats.Subscription
		err error
	)
	if r.group != "" {
		sub, err = r.nc.QueueSubscribe(topic, r.group, cb)
	} else {
		sub, err = r.nc.Subscribe(topic, cb)
	}
	if err != nil {
		return fmt.Errorf("nats: subscribe: %w", err)
	}

	// the server has registered the interest once the flush round trip returns
	if err := r.nc.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats: flush subscription: %w", err)
	}
	r.sub = sub
	return nil
}

func (r *Reader) Ack(ctx context.Context, msgID []byte) error {
	return nil
}

func (r *Reader) Nack(ctx context.Context, msgID []byte) error {
	r.l.Debug("nack ignored, nats core does not redeliver")
	return nil
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoCommit
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil && r.nc.IsConnected() {
			r.l.Error("unsubscribe", "err", err)
		}
		r.sub = nil
	}
	r.nc.Close()
	return nil
}

// headers flattens NATS headers into key/value pairs, one pair per value.
func headers(h nats.Header) [][]byte {
	if len(h) == 0 {
		return nil
	}
	hs := make([][]byte, 0, 2*len(h))
	for k, vals := range h {
		for _, v := range vals {
			hs = append(hs, []byte(k), []byte(v))
		}
	}
	return hs
}
