package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/rueidis"

	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Reader subscribes a dedicated connection to one channel or pattern.
// PubSub delivery is at most once, so Ack and Nack have nothing to settle.
type Reader struct {
	client     rueidis.Client
	autoCommit bool

	mu      sync.Mutex
	dc      rueidis.DedicatedClient
	release func()
	topic   string
	wait    <-chan error

	l *slog.Logger
}

func NewReader(conf Config, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	client, err := conf.NewClient()
	if err != nil {
		return nil, fmt.Errorf("resp_pubsub: %w", err)
	}

	return &Reader{
		client:     client,
		autoCommit: autoCommit,
		l:          l.With("reader_type", "resp_pubsub"),
	}, nil
}

func isPattern(topic string) bool {
	return strings.ContainsAny(topic, "*?[")
}

func (r *Reader) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dc != nil {
		return fmt.Errorf("resp_pubsub: reader already subscribed to %q", r.topic)
	}

	dc, release := r.client.Dedicate()
	wait := dc.SetPubSubHooks(rueidis.PubSubHooks{
		OnMessage: func(m rueidis.PubSubMessage) {
			h(connector.Message{
				Topic: m.Channel,
				Body:  []byte(m.Message),
			})
		},
	})

	var cmd rueidis.Completed
	if isPattern(topic) {
		cmd = dc.B().Psubscribe().Pattern(topic).Build()
	} else {
		cmd = dc.B().Subscribe().Channel(topic).Build()
	}
	if err := dc.Do(ctx, cmd).Error(); err != nil {
		release()
		return fmt.Errorf("resp_pubsub: subscribe: %w", err)
	}

	r.dc = dc
	r.release = release
	r.topic = topic
	r.wait = wait
	return nil
}

func (r *Reader) Ack(_ context.Context, _ []byte) error {
	return nil
}

func (r *Reader) Nack(_ context.Context, _ []byte) error {
	r.l.Debug("nack ignored, pubsub does not redeliver")
	return nil
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoCommit
}

func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dc != nil {
		// closing the dedicated connection drops the subscription with it
		r.dc.Close()
		<-r.wait
		r.release()
		r.dc = nil
	}
	r.client.Close()
	return nil
}
