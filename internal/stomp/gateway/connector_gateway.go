package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fujin-io/stompbridge/internal/connectors"
	"github.com/fujin-io/stompbridge/public/plugins/connector"
	"github.com/fujin-io/stompbridge/public/stomp/destination"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

// Headers owned by the STOMP layer. They are never forwarded to brokers and
// never taken from broker messages.
var transportHeaders = []string{
	frame.HdrDestination,
	frame.HdrTransaction,
	frame.HdrReceipt,
	frame.HdrContentLength,
	frame.HdrMessageID,
	frame.HdrSubscription,
	frame.HdrAck,
}

// ConnectorGateway routes destinations to connector plugins.
type ConnectorGateway struct {
	conf     Config
	managers *connectors.Managers

	nextHandle atomic.Uint64

	mu     sync.Mutex
	subs   map[uint64]*subscription
	tokens map[string]ackEntry

	l *slog.Logger
}

type subscription struct {
	handle *Handle
	route  *Route
	reader connector.ReadCloser
	seq    atomic.Uint64
}

type ackEntry struct {
	handleID uint64
	reader   connector.Reader
	msgID    []byte
}

func New(conf Config, managers *connectors.Managers, l *slog.Logger) (*ConnectorGateway, error) {
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	for _, r := range conf.Routes {
		if _, err := managers.Get(r.Connector); err != nil {
			return nil, fmt.Errorf("gateway route %q: %w", r.Prefix, err)
		}
	}

	return &ConnectorGateway{
		conf:     conf,
		managers: managers,
		subs:     make(map[uint64]*subscription),
		tokens:   make(map[string]ackEntry),
		l:        l.With("component", "gateway"),
	}, nil
}

func (g *ConnectorGateway) route(dest string) (*Route, *connectors.Manager, error) {
	r, err := g.conf.resolve(dest)
	if err != nil {
		return nil, nil, err
	}
	m, err := g.managers.Get(r.Connector)
	if err != nil {
		return nil, nil, err
	}
	return r, m, nil
}

func (g *ConnectorGateway) Producer(sessionID string) (Producer, error) {
	return &producer{
		gw:      g,
		writers: make(map[string]*boundWriter),
		l:       g.l.With("session_id", sessionID),
	}, nil
}

func (g *ConnectorGateway) BeginSubscription(
	ctx context.Context,
	sessionID, subID, dest string,
	mode frame.AckMode,
	sink func(Delivery),
) (*Handle, error) {
	route, m, err := g.route(dest)
	if err != nil {
		return nil, err
	}
	topic, err := route.topic(dest)
	if err != nil {
		return nil, err
	}

	group := route.Group
	if grp, ok := groupFromContext(ctx); ok {
		group = grp
	}

	r, err := m.GetReader(group, !mode.RequiresAck())
	if err != nil {
		return nil, fmt.Errorf("get reader: %w", err)
	}

	h := &Handle{
		ID:          g.nextHandle.Add(1),
		SessionID:   sessionID,
		SubID:       subID,
		Destination: dest,
	}
	sub := &subscription{handle: h, route: route, reader: r}

	g.mu.Lock()
	g.subs[h.ID] = sub
	g.mu.Unlock()

	if err := r.Subscribe(ctx, topic, func(msg connector.Message) {
		g.deliver(sub, msg, sink)
	}); err != nil {
		g.mu.Lock()
		delete(g.subs, h.ID)
		g.mu.Unlock()
		if closeErr := r.Close(); closeErr != nil {
			g.l.Error("close reader", "err", closeErr)
		}
		return nil, fmt.Errorf("subscribe %q: %w", dest, err)
	}

	g.l.Debug("subscription started", "session_id", sessionID, "sub_id", subID,
		"destination", dest, "connector", route.Connector, "group", group)
	return h, nil
}

func (g *ConnectorGateway) deliver(sub *subscription, msg connector.Message, sink func(Delivery)) {
	id := strconv.FormatUint(sub.handle.ID, 10) + "-" + strconv.FormatUint(sub.seq.Add(1), 10)

	d := Delivery{
		Handle:      sub.handle,
		Destination: sub.handle.Destination,
		Headers:     fromConnectorHeaders(msg.Headers),
		Body:        msg.Body,
		MessageID:   id,
	}
	// Topics published outside the bridge may not map back into the
	// subscription; those keep the subscribed destination.
	if msg.Topic != "" {
		if dest := sub.route.destination(msg.Topic); destination.Match(sub.handle.Destination, dest) {
			d.Destination = dest
		}
	}

	if !sub.reader.IsAutoCommit() {
		g.mu.Lock()
		if _, live := g.subs[sub.handle.ID]; !live {
			g.mu.Unlock()
			return
		}
		g.tokens[id] = ackEntry{handleID: sub.handle.ID, reader: sub.reader, msgID: msg.MsgID}
		g.mu.Unlock()
		d.AckToken = id
	}

	sink(d)
}

func (g *ConnectorGateway) EndSubscription(ctx context.Context, h *Handle) error {
	g.mu.Lock()
	sub, ok := g.subs[h.ID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h.ID)
	}

	if err := sub.reader.Close(); err != nil {
		return fmt.Errorf("close reader: %w", err)
	}

	g.mu.Lock()
	delete(g.subs, h.ID)
	for token, e := range g.tokens {
		if e.handleID == h.ID {
			delete(g.tokens, token)
		}
	}
	g.mu.Unlock()

	g.l.Debug("subscription ended", "session_id", h.SessionID, "sub_id", h.SubID)
	return nil
}

func (g *ConnectorGateway) Acknowledge(ctx context.Context, token string, positive bool) error {
	g.mu.Lock()
	e, ok := g.tokens[token]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}

	var err error
	if positive {
		err = e.reader.Ack(ctx, e.msgID)
	} else {
		err = e.reader.Nack(ctx, e.msgID)
	}
	if err != nil {
		return err
	}

	g.mu.Lock()
	delete(g.tokens, token)
	g.mu.Unlock()
	return nil
}

// Subscriptions returns the number of live broker subscriptions.
func (g *ConnectorGateway) Subscriptions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// Close ends every subscription that is still open.
func (g *ConnectorGateway) Close() error {
	g.mu.Lock()
	subs := make([]*subscription, 0, len(g.subs))
	for _, s := range g.subs {
		subs = append(subs, s)
	}
	g.mu.Unlock()

	for _, s := range subs {
		if err := g.EndSubscription(context.Background(), s.handle); err != nil {
			g.l.Error("end subscription", "sub_id", s.handle.SubID, "err", err)
		}
	}
	return nil
}

type groupCtxKey struct{}

// WithGroup attaches the consumer group requested by a SUBSCRIBE frame.
func WithGroup(ctx context.Context, group string) context.Context {
	if group == "" {
		return ctx
	}
	return context.WithValue(ctx, groupCtxKey{}, group)
}

func groupFromContext(ctx context.Context) (string, bool) {
	grp, ok := ctx.Value(groupCtxKey{}).(string)
	return grp, ok
}

func toConnectorHeaders(h frame.Header) [][]byte {
	fields := h.Without(transportHeaders...).Unique()
	if len(fields) == 0 {
		return nil
	}
	hs := make([][]byte, 0, len(fields)*2)
	for _, f := range fields {
		hs = append(hs, []byte(f.Key), []byte(f.Value))
	}
	return hs
}

func fromConnectorHeaders(hs [][]byte) frame.Header {
	kv := make([]string, 0, len(hs))
	for i := 0; i+1 < len(hs); i += 2 {
		k := string(hs[i])
		if k == "" || isTransportHeader(k) {
			continue
		}
		kv = append(kv, k, string(hs[i+1]))
	}
	return frame.NewHeader(kv...)
}

func isTransportHeader(k string) bool {
	for _, h := range transportHeaders {
		if strings.EqualFold(h, k) {
			return true
		}
	}
	return false
}
