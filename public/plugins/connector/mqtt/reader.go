package mqtt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
)

// pendingMsg stores a message awaiting acknowledgment with TTL tracking
type pendingMsg struct {
	publish   *paho.Publish
	client    *paho.Client
	createdAt time.Time
}

// Reader implements connector.ReadCloser for MQTT using paho.golang.
// Message ids are reader local sequence numbers.
type Reader struct {
	conf    Config
	group   string
	autoAck bool
	cm      *autopaho.ConnectionManager
	l       *slog.Logger

	seq    uint64
	msgs   map[uint64]pendingMsg
	msgsMu sync.Mutex

	cleanupStop chan struct{}
	cleanupDone chan struct{}

	handlerMu sync.RWMutex
	handler   func(connector.Message)
	filter    string
}

// NewReader creates a new MQTT reader using paho.golang
func NewReader(conf Config, group string, autoAck bool, l *slog.Logger) (connector.ReadCloser, error) {
	r := &Reader{
		conf:        conf,
		group:       group,
		autoAck:     autoAck,
		l:           l.With("reader_type", "mqtt"),
		msgs:        make(map[uint64]pendingMsg),
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	cm, err := connect(conf, paho.ClientConfig{
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			r.handlePublish,
		},
		EnableManualAcknowledgment: !autoAck,
		SendAcksInterval:           conf.SendAcksInterval,
	}, r.l)
	if err != nil {
		return nil, err
	}
	r.cm = cm

	if !autoAck {
		go r.cleanupExpiredMessages()
	} else {
		close(r.cleanupDone)
	}
	return r, nil
}

func (r *Reader) handlePublish(pr paho.PublishReceived) (bool, error) {
	r.handlerMu.RLock()
	h := r.handler
	r.handlerMu.RUnlock()

	if h == nil {
		return false, nil
	}

	pb := pr.Packet
	msg := connector.Message{
		Topic:   pb.Topic,
		Body:    pb.Payload,
		Headers: extractHeaders(pb),
	}

	if !r.autoAck {
		r.msgsMu.Lock()
		r.seq++
		r.msgs[r.seq] = pendingMsg{
			publish:   pb,
			client:    pr.Client,
			createdAt: time.Now(),
		}
		msg.MsgID = binary.BigEndian.AppendUint64(nil, r.seq)
		r.msgsMu.Unlock()
	}

	h(msg)
	return true, nil
}

// extractHeaders extracts user properties as headers
func extractHeaders(pb *paho.Publish) [][]byte {
	if pb.Properties == nil || len(pb.Properties.User) == 0 {
		return nil
	}
	hs := make([][]byte, 0, 2*len(pb.Properties.User))
	for _, prop := range pb.Properties.User {
		hs = append(hs, []byte(prop.Key), []byte(prop.Value))
	}
	return hs
}

func (r *Reader) cleanupExpiredMessages() {
	defer close(r.cleanupDone)

	ticker := time.NewTicker(r.conf.AckTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.cleanupStop:
			return
		case <-ticker.C:
			r.msgsMu.Lock()
			now := time.Now()
			for id, msg := range r.msgs {
				if now.Sub(msg.createdAt) > r.conf.AckTTL {
					r.l.Warn("mqtt: message TTL expired, removing from pending", "msg_id", id)
					delete(r.msgs, id)
				}
			}
			r.msgsMu.Unlock()
		}
	}
}

func filterFor(group, topic string) string {
	if group == "" {
		return topic
	}
	return "$share/" + group + "/" + topic
}

func (r *Reader) Subscribe(ctx context.Context, topic string, h func(msg connector.Message)) error {
	r.handlerMu.Lock()
	if r.handler != nil {
		r.handlerMu.Unlock()
		return fmt.Errorf("mqtt: reader already subscribed to %q", r.filter)
	}
	r.handler = h
	r.filter = filterFor(r.group, topic)
	r.handlerMu.Unlock()

	_, err := r.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{
				Topic: r.filter,
				QoS:   r.conf.QoS,
			},
		},
	})
	if err != nil {
		r.handlerMu.Lock()
		r.handler = nil
		r.handlerMu.Unlock()
		return fmt.Errorf("mqtt: subscribe: %w", err)
	}
	return nil
}

func (r *Reader) take(msgID []byte) (pendingMsg, error) {
	if len(msgID) != 8 {
		return pendingMsg{}, cerr.ErrUnknownMsgID
	}
	id := binary.BigEndian.Uint64(msgID)

	r.msgsMu.Lock()
	defer r.msgsMu.Unlock()
	msg, ok := r.msgs[id]
	if !ok {
		return pendingMsg{}, cerr.ErrUnknownMsgID
	}
	delete(r.msgs, id)
	return msg, nil
}

func (r *Reader) Ack(_ context.Context, msgID []byte) error {
	msg, err := r.take(msgID)
	if err != nil {
		return err
	}
	return msg.client.Ack(msg.publish)
}

// Nack drops the message from the pending set without acknowledging it.
// MQTT has no negative acknowledgement; the broker redelivers unacknowledged
// QoS 1 and 2 messages when the session resumes.
func (r *Reader) Nack(_ context.Context, msgID []byte) error {
	_, err := r.take(msgID)
	return err
}

func (r *Reader) IsAutoCommit() bool {
	return r.autoAck
}

func (r *Reader) Close() error {
	if !r.autoAck {
		close(r.cleanupStop)
	}
	<-r.cleanupDone

	ctx, cancel := context.WithTimeout(context.Background(), r.conf.DisconnectTimeout)
	defer cancel()

	r.handlerMu.RLock()
	filter := r.filter
	r.handlerMu.RUnlock()
	if filter != "" {
		if _, err := r.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{filter}}); err != nil {
			r.l.Debug("mqtt: unsubscribe", "err", err)
		}
	}

	if err := r.cm.Disconnect(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("mqtt: disconnect: %w", err)
	}
	return nil
}
