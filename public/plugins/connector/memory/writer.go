package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fujin-io/stompbridge/public/cerr"
)

var (
	ErrTxInProgress = errors.New("memory: transaction already in progress")
	ErrNoTx         = errors.New("memory: no transaction in progress")
)

type pendingMsg struct {
	topic   string
	body    []byte
	headers [][]byte
}

// Writer implements connector.WriteCloser for the in-process broker.
// Messages produced inside a transaction are buffered until CommitTx.
type Writer struct {
	broker *Broker

	mu      sync.Mutex
	inTx    bool
	pending []pendingMsg
	closed  bool

	l *slog.Logger
}

func newWriter(b *Broker, l *slog.Logger) *Writer {
	return &Writer{
		broker: b,
		l:      l.With("writer_type", "memory"),
	}
}

func (w *Writer) Produce(ctx context.Context, topic string, msg []byte, headers [][]byte, callback func(err error)) {
	if err := ctx.Err(); err != nil {
		callback(err)
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		callback(cerr.ErrClosed)
		return
	}
	if w.inTx {
		w.pending = append(w.pending, pendingMsg{
			topic:   topic,
			body:    append([]byte(nil), msg...),
			headers: cloneHeaders(headers),
		})
		w.mu.Unlock()
		callback(nil)
		return
	}
	w.mu.Unlock()

	w.broker.Publish(topic, msg, headers)
	callback(nil)
}

func (w *Writer) Flush(ctx context.Context) error {
	return nil
}

func (w *Writer) BeginTx(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return cerr.ErrClosed
	}
	if w.inTx {
		return ErrTxInProgress
	}
	w.inTx = true
	return nil
}

func (w *Writer) CommitTx(ctx context.Context) error {
	w.mu.Lock()
	if !w.inTx {
		w.mu.Unlock()
		return ErrNoTx
	}
	pending := w.pending
	w.pending = nil
	w.inTx = false
	w.mu.Unlock()

	for _, m := range pending {
		w.broker.Publish(m.topic, m.body, m.headers)
	}
	return nil
}

func (w *Writer) RollbackTx(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.inTx {
		return ErrNoTx
	}
	w.pending = nil
	w.inTx = false
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.pending = nil
	w.inTx = false
	return nil
}
