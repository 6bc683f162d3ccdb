package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fujin-io/stompbridge/internal/common/queue"
	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/stomp/destination"
)

var ErrAlreadySubscribed = errors.New("memory: reader already subscribed")

// Reader implements connector.ReadCloser for the in-process broker
type Reader struct {
	broker     *Broker
	group      string
	autoCommit bool

	key   groupKey
	inbox *queue.Queue[connector.Message]

	mu         sync.Mutex
	subscribed bool
	closed     bool
	unacked    map[string]connector.Message

	done chan struct{}
	wg   sync.WaitGroup

	l *slog.Logger
}

func newReader(b *Broker, group string, autoCommit bool, l *slog.Logger) *Reader {
	return &Reader{
		broker:     b,
		group:      group,
		autoCommit: autoCommit,
		inbox:      queue.New[connector.Message](),
		unacked:    make(map[string]connector.Message),
		done:       make(chan struct{}),
		l:          l.With("reader_type", "memory"),
	}
}

func (r *Reader) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	if err := destination.Validate(topic); err != nil {
		return fmt.Errorf("memory: subscribe: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return cerr.ErrClosed
	}
	if r.subscribed {
		r.mu.Unlock()
		return ErrAlreadySubscribed
	}
	r.subscribed = true
	r.key = groupKey{name: r.group, pattern: topic}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(h)

	r.broker.add(r.key, r)
	return nil
}

func (r *Reader) loop(h func(msg connector.Message)) {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case <-r.inbox.Signal():
			for _, msg := range r.inbox.Drain() {
				select {
				case <-r.done:
					r.requeue(msg)
					continue
				default:
				}
				if !r.autoCommit {
					r.mu.Lock()
					r.unacked[string(msg.MsgID)] = msg
					r.mu.Unlock()
				} else {
					msg.MsgID = nil
				}
				h(msg)
			}
		}
	}
}

// enqueue reports whether the reader accepted msg.
func (r *Reader) enqueue(msg connector.Message) bool {
	return r.inbox.Push(msg)
}

func (r *Reader) Ack(ctx context.Context, msgID []byte) error {
	if r.autoCommit {
		return cerr.ErrNotSupported
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.unacked[string(msgID)]; !ok {
		return fmt.Errorf("%w: %s", cerr.ErrUnknownMsgID, msgID)
	}
	delete(r.unacked, string(msgID))
	return nil
}

// Nack hands the message back to the broker for redelivery.
func (r *Reader) Nack(ctx context.Context, msgID []byte) error {
	if r.autoCommit {
		return cerr.ErrNotSupported
	}

	r.mu.Lock()
	msg, ok := r.unacked[string(msgID)]
	delete(r.unacked, string(msgID))
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", cerr.ErrUnknownMsgID, msgID)
	}
	r.requeue(msg)
	return nil
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoCommit
}

func (r *Reader) requeue(msg connector.Message) {
	if r.autoCommit {
		return
	}
	r.broker.requeue(r.key, r, msg)
}

// Close unbinds the reader. Messages that were delivered but not settled
// are requeued to the rest of the group.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subscribed := r.subscribed
	r.mu.Unlock()

	if !subscribed {
		return nil
	}

	r.broker.remove(r.key, r)
	close(r.done)
	r.wg.Wait()

	pending := r.inbox.Close()

	r.mu.Lock()
	for _, msg := range r.unacked {
		pending = append(pending, msg)
	}
	r.unacked = nil
	r.mu.Unlock()

	for _, msg := range pending {
		r.requeue(msg)
	}
	return nil
}
