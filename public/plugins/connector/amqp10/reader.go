package amqp10

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Azure/go-amqp"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// Reader receives from one source address. Unsettled messages are kept
// until acked or nacked; the message id is a reader local sequence number.
type Reader struct {
	conf       Config
	group      string
	autoCommit bool

	conn    *amqp.Conn
	session *amqp.Session

	mu       sync.Mutex
	receiver *amqp.Receiver
	seq      uint64
	pending  map[uint64]*amqp.Message
	cancel   context.CancelFunc
	done     chan struct{}

	l *slog.Logger
}

func NewReader(conf Config, group string, autoCommit bool, l *slog.Logger) (connector.ReadCloser, error) {
	conn, session, err := dial(context.Background(), conf)
	if err != nil {
		return nil, err
	}

	return &Reader{
		conf:       conf,
		group:      group,
		autoCommit: autoCommit,
		conn:       conn,
		session:    session,
		pending:    make(map[uint64]*amqp.Message),
		l:          l.With("reader_type", "amqp10"),
	}, nil
}

func (r *Reader) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.receiver != nil {
		return fmt.Errorf("amqp10: reader already subscribed to %q", r.receiver.Address())
	}

	mode := amqp.ReceiverSettleModeFirst
	if !r.autoCommit {
		mode = amqp.ReceiverSettleModeSecond
	}
	receiver, err := r.session.NewReceiver(ctx, topic, &amqp.ReceiverOptions{
		Credit:         r.conf.Receiver.Credit,
		Durability:     r.conf.Receiver.Durability,
		Capabilities:   r.conf.Receiver.Capabilities,
		Name:           r.group,
		SettlementMode: &mode,
	})
	if err != nil {
		return fmt.Errorf("amqp10: new receiver: %w", err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	r.receiver = receiver
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.receive(rctx, receiver, topic, h)
	return nil
}

func (r *Reader) receive(ctx context.Context, receiver *amqp.Receiver, topic string, h func(msg connector.Message)) {
	defer close(r.done)

	for {
		m, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() == nil {
				r.l.Error("receive", "err", err)
			}
			return
		}

		msg := connector.Message{
			Topic:   topic,
			Body:    m.GetData(),
			Headers: fromProperties(m.ApplicationProperties),
		}
		if m.Properties != nil && m.Properties.To != nil {
			msg.Topic = *m.Properties.To
		}

		if r.autoCommit {
			if err := receiver.AcceptMessage(ctx, m); err != nil {
				r.l.Error("accept", "err", err)
			}
		} else {
			r.mu.Lock()
			r.seq++
			r.pending[r.seq] = m
			msg.MsgID = binary.BigEndian.AppendUint64(nil, r.seq)
			r.mu.Unlock()
		}
		h(msg)
	}
}

func (r *Reader) take(msgID []byte) (*amqp.Receiver, *amqp.Message, error) {
	if len(msgID) != 8 {
		return nil, nil, cerr.ErrUnknownMsgID
	}
	id := binary.BigEndian.Uint64(msgID)

	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.pending[id]
	if !ok {
		return nil, nil, cerr.ErrUnknownMsgID
	}
	delete(r.pending, id)
	return r.receiver, m, nil
}

func (r *Reader) Ack(ctx context.Context, msgID []byte) error {
	receiver, m, err := r.take(msgID)
	if err != nil {
		return err
	}
	return receiver.AcceptMessage(ctx, m)
}

func (r *Reader) Nack(ctx context.Context, msgID []byte) error {
	receiver, m, err := r.take(msgID)
	if err != nil {
		return err
	}
	if r.conf.Receiver.Reject {
		return receiver.RejectMessage(ctx, m, nil)
	}
	return receiver.ReleaseMessage(ctx, m)
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoCommit
}

func (r *Reader) Close() error {
	r.mu.Lock()
	receiver, cancel, done := r.receiver, r.cancel, r.done
	r.receiver = nil
	clear(r.pending)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	ctx := context.Background()
	if receiver != nil {
		if err := receiver.Close(ctx); err != nil {
			r.l.Error("close receiver", "err", err)
		}
	}
	if err := r.session.Close(ctx); err != nil {
		r.l.Error("close session", "err", err)
	}
	if err := r.conn.Close(); err != nil {
		var connErr *amqp.ConnError
		if !errors.As(err, &connErr) {
			return fmt.Errorf("amqp10: close conn: %w", err)
		}
	}
	return nil
}
