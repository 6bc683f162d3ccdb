package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/rueidis"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Writer implements connector.WriteCloser for Redis PubSub. Publishes are
// pipelined in batches of BatchSize or every Linger, whichever comes first.
// PubSub messages carry no headers, so they are dropped.
type Writer struct {
	conf   Config
	client rueidis.Client
	l      *slog.Logger

	mu       sync.Mutex
	buffer   []rueidis.Completed
	callback []func(err error)

	batchSize int
	linger    time.Duration
	flushCh   chan struct{}
	closeCh   chan struct{}

	wg sync.WaitGroup

	bufPool sync.Pool
}

// NewWriter creates a new Redis PubSub writer
func NewWriter(conf Config, l *slog.Logger) (connector.WriteCloser, error) {
	client, err := conf.NewClient()
	if err != nil {
		return nil, fmt.Errorf("resp_pubsub: %w", err)
	}

	w := &Writer{
		conf:      conf,
		client:    client,
		l:         l.With("writer_type", "resp_pubsub"),
		batchSize: conf.BatchSize,
		linger:    conf.Linger,
		flushCh:   make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		bufPool: sync.Pool{
			New: func() any {
				return make([]rueidis.Completed, 0, conf.BatchSize)
			},
		},
	}

	go w.flusher()
	return w, nil
}

func (w *Writer) Produce(_ context.Context, topic string, msg []byte, _ [][]byte, callback func(err error)) {
	w.wg.Add(1)

	cmd := w.client.B().
		Publish().
		Channel(topic).
		Message(string(msg)).
		Build()

	w.mu.Lock()
	w.buffer = append(w.buffer, cmd)
	w.callback = append(w.callback, func(err error) {
		callback(err)
		w.wg.Done()
	})
	bufLen := len(w.buffer)
	w.mu.Unlock()

	if bufLen >= w.batchSize {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

func (w *Writer) flusher() {
	ticker := time.NewTicker(w.linger)
	defer ticker.Stop()

	for {
		select {
		case <-w.flushCh:
			w.flush()
		case <-ticker.C:
			w.flush()
		case <-w.closeCh:
			w.flush()
			return
		}
	}
}

func (w *Writer) flush() {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return
	}

	cmds := w.buffer
	cbs := w.callback

	w.buffer = w.bufPool.Get().([]rueidis.Completed)[:0]
	w.callback = nil
	w.mu.Unlock()

	results := w.client.DoMulti(context.Background(), cmds...)
	for i, r := range results {
		cbs[i](r.Error())
	}

	w.bufPool.Put(cmds)
}

func (w *Writer) Flush(_ context.Context) error {
	select {
	case w.flushCh <- struct{}{}:
	default:
	}
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
	close(w.closeCh)
	w.wg.Wait()
	w.client.Close()
	return nil
}
