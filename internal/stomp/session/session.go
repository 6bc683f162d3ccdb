// Package session implements the per-connection STOMP state machine.
//
// A Session never produces frames. Every operation returns a typed result
// or an *Error, and the dispatcher turns those into CONNECTED, RECEIPT,
// MESSAGE and ERROR frames.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fujin-io/stompbridge/internal/observability"
	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/internal/stomp/registry"
	"github.com/fujin-io/stompbridge/public/plugins/authenticator"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

type State uint8

const (
	StateUnconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "UNCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

type Config struct {
	Versions   []frame.Version
	HeartBeat  frame.HeartBeat
	ServerName string
}

// Deps are the collaborators a session talks to.
type Deps struct {
	Gateway  gateway.Gateway
	Registry *registry.Registry
	// Authenticator is optional.
	Authenticator authenticator.Authenticator
	// Sink receives broker deliveries. It must not block.
	Sink func(gateway.Delivery)
}

// Connected is the outcome of a successful CONNECT.
type Connected struct {
	SessionID string
	Version   frame.Version
	HeartBeat frame.HeartBeat
	Server    string
}

// Subscription is a live subscription of the session.
type Subscription struct {
	ID          string
	Destination string
	AckMode     frame.AckMode
	handle      *gateway.Handle
}

// Message is a delivery ready to be framed as MESSAGE.
type Message struct {
	SubID       string
	Destination string
	MessageID   string
	// AckToken is set when the client must ACK or NACK the message.
	AckToken string
	Headers  frame.Header
	Body     []byte
}

type pendingAck struct {
	token string
	subID string
	seq   uint64
	// claimedBy is the transaction an ACK or NACK was buffered in.
	claimedBy string
}

type Session struct {
	id   string
	conf Config
	deps Deps

	mu          sync.Mutex
	state       State
	version     frame.Version
	subs        map[string]*Subscription
	subscribing map[string]struct{}
	pending     map[string]*pendingAck
	deliverySeq uint64
	txs         map[string]*transaction
	producer    gateway.Producer

	releaseOnce sync.Once

	l *slog.Logger
}

func New(id string, conf Config, deps Deps, l *slog.Logger) *Session {
	if len(conf.Versions) == 0 {
		conf.Versions = frame.SupportedVersions
	}
	if deps.Sink == nil {
		deps.Sink = func(gateway.Delivery) {}
	}
	return &Session{
		id:          id,
		conf:        conf,
		deps:        deps,
		subs:        make(map[string]*Subscription),
		subscribing: make(map[string]struct{}),
		pending:     make(map[string]*pendingAck),
		txs:         make(map[string]*transaction),
		l:           l.With("session_id", id),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Version is the negotiated protocol version, empty before CONNECT.
func (s *Session) Version() frame.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// checkLocked returns the error for operations that need CONNECTED.
func (s *Session) checkLocked() *Error {
	switch s.state {
	case StateUnconnected:
		return Violation("not connected")
	case StateClosed:
		return newError(KindSessionClosed, "session closed")
	}
	return nil
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(); err != nil {
		return err
	}
	return nil
}

// Connect negotiates the protocol version and heart-beat from the CONNECT
// (or STOMP) headers.
func (s *Session) Connect(ctx context.Context, h frame.Header) (Connected, error) {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return Connected{}, newError(KindAlreadyConnected, "already connected")
	case StateClosed:
		s.mu.Unlock()
		return Connected{}, newError(KindSessionClosed, "session closed")
	}
	s.mu.Unlock()

	version, ok := frame.Negotiate(h.Value(frame.HdrAcceptVersion), s.conf.Versions)
	if !ok {
		return Connected{}, newError(KindVersionMismatch,
			"supported protocol versions are %s", frame.JoinVersions(s.conf.Versions))
	}

	clientHB, err := frame.ParseHeartBeat(h.Value(frame.HdrHeartBeat))
	if err != nil {
		return Connected{}, Malformed(err)
	}

	if s.deps.Authenticator != nil {
		if err := s.deps.Authenticator.Authenticate(ctx, h.Value(frame.HdrLogin), h.Value(frame.HdrPasscode)); err != nil {
			s.l.Info("authentication failed", "login", h.Value(frame.HdrLogin))
			return Connected{}, &Error{Kind: KindProtocolViolation, Msg: "authentication failed", Err: err, Fatal: true}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnconnected {
		return Connected{}, newError(KindAlreadyConnected, "already connected")
	}
	s.state = StateConnected
	s.version = version
	observability.AddSessions(1)

	s.l.Debug("connected", "version", version, "login", h.Value(frame.HdrLogin))
	return Connected{
		SessionID: s.id,
		Version:   version,
		HeartBeat: frame.NegotiateHeartBeat(s.conf.HeartBeat, clientHB),
		Server:    s.conf.ServerName,
	}, nil
}

// Subscribe starts a subscription. It is recorded only after the broker
// confirmed it.
func (s *Session) Subscribe(ctx context.Context, id, dest string, mode frame.AckMode) error {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, ok := s.subs[id]; ok {
		s.mu.Unlock()
		return newError(KindDuplicateSubscription, "subscription %q already exists", id)
	}
	if _, ok := s.subscribing[id]; ok {
		s.mu.Unlock()
		return newError(KindDuplicateSubscription, "subscription %q already exists", id)
	}
	s.subscribing[id] = struct{}{}
	s.mu.Unlock()

	h, err := s.deps.Gateway.BeginSubscription(ctx, s.id, id, dest, mode, s.deps.Sink)

	s.mu.Lock()
	delete(s.subscribing, id)
	if err != nil {
		s.mu.Unlock()
		return brokerError("subscribe failed", err, false)
	}
	if s.state != StateConnected {
		s.mu.Unlock()
		if err := s.deps.Gateway.EndSubscription(context.WithoutCancel(ctx), h); err != nil {
			s.l.Error("end subscription of closed session", "sub_id", id, "err", err)
		}
		return newError(KindSessionClosed, "session closed")
	}
	s.subs[id] = &Subscription{ID: id, Destination: dest, AckMode: mode, handle: h}
	s.mu.Unlock()

	if s.deps.Registry != nil {
		s.deps.Registry.Add(s.id, id, dest)
	}
	observability.AddSubscriptions(1)
	s.l.Debug("subscribed", "sub_id", id, "destination", dest, "ack", mode)
	return nil
}

// Unsubscribe stops a subscription and returns it. Pending acks of the
// subscription are discarded, including those buffered in transactions.
func (s *Session) Unsubscribe(ctx context.Context, id string) (Subscription, error) {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return Subscription{}, err
	}
	sub, ok := s.subs[id]
	s.mu.Unlock()
	if !ok {
		return Subscription{}, newError(KindUnknownSubscription, "no subscription %q", id)
	}

	if err := s.deps.Gateway.EndSubscription(ctx, sub.handle); err != nil {
		return Subscription{}, brokerError("unsubscribe failed", err, false)
	}

	s.mu.Lock()
	delete(s.subs, id)
	s.dropAcksLocked(id)
	s.mu.Unlock()

	if s.deps.Registry != nil {
		s.deps.Registry.Remove(s.id, id)
	}
	observability.AddSubscriptions(-1)
	s.l.Debug("unsubscribed", "sub_id", id)
	return *sub, nil
}

func (s *Session) dropAcksLocked(subID string) {
	for token, pa := range s.pending {
		if pa.subID == subID {
			delete(s.pending, token)
		}
	}
	for _, tx := range s.txs {
		tx.dropAcks(subID)
	}
}

// Subscriptions returns a snapshot of the live subscriptions.
func (s *Session) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, *sub)
	}
	return out
}

// Send publishes body to dest, or buffers it when txID names an open
// transaction.
func (s *Session) Send(ctx context.Context, dest string, h frame.Header, body []byte, txID string) error {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if txID != "" {
		tx, ok := s.txs[txID]
		if !ok {
			s.mu.Unlock()
			return newError(KindUnknownTransaction, "no transaction %q", txID)
		}
		tx.ops = append(tx.ops, txOp{kind: opSend, dest: dest, headers: h, body: append([]byte(nil), body...)})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	p, err := s.getProducer()
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, dest, h, body); err != nil {
		return brokerError("send failed", err, false)
	}
	return nil
}

func (s *Session) getProducer() (gateway.Producer, error) {
	s.mu.Lock()
	if s.producer != nil {
		p := s.producer
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	p, err := s.deps.Gateway.Producer(s.id)
	if err != nil {
		return nil, brokerError("create producer", err, false)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		p.Release()
		return nil, newError(KindSessionClosed, "session closed")
	}
	if s.producer != nil {
		p.Release()
		return s.producer, nil
	}
	s.producer = p
	return p, nil
}

// Ack settles a delivery positively. With txID the ACK is applied on commit.
func (s *Session) Ack(ctx context.Context, token, txID string) error {
	return s.settle(ctx, token, txID, true)
}

// Nack rejects a delivery. With txID the NACK is applied on commit.
func (s *Session) Nack(ctx context.Context, token, txID string) error {
	return s.settle(ctx, token, txID, false)
}

func (s *Session) settle(ctx context.Context, token, txID string, positive bool) error {
	s.mu.Lock()
	if err := s.checkLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	pa, ok := s.pending[token]
	if !ok || pa.claimedBy != "" {
		s.mu.Unlock()
		return newError(KindUnknownAck, "no pending message %q", token)
	}

	var tx *transaction
	if txID != "" {
		if tx, ok = s.txs[txID]; !ok {
			s.mu.Unlock()
			return newError(KindUnknownTransaction, "no transaction %q", txID)
		}
	}

	entries := s.coveredLocked(pa)
	if tx != nil {
		for _, e := range entries {
			e.claimedBy = txID
		}
		tx.ops = append(tx.ops, txOp{kind: opAck, positive: positive, acks: entries})
		s.mu.Unlock()
		return nil
	}
	for _, e := range entries {
		delete(s.pending, e.token)
	}
	s.mu.Unlock()

	for i, e := range entries {
		if err := s.deps.Gateway.Acknowledge(ctx, e.token, positive); err != nil {
			s.restore(entries[i:])
			return brokerError("acknowledge failed", err, false)
		}
	}
	return nil
}

// coveredLocked returns the deliveries settled by acknowledging pa, oldest
// first. In cumulative mode these are all unclaimed earlier deliveries of
// the same subscription.
func (s *Session) coveredLocked(pa *pendingAck) []*pendingAck {
	sub, ok := s.subs[pa.subID]
	if !ok || !sub.AckMode.Cumulative() {
		return []*pendingAck{pa}
	}

	var out []*pendingAck
	for _, e := range s.pending {
		if e.subID == pa.subID && e.seq <= pa.seq && e.claimedBy == "" {
			out = append(out, e)
		}
	}
	sortBySeq(out)
	return out
}

// restore puts entries that were not applied back into the pending set,
// unclaimed, unless their subscription has gone meanwhile.
func (s *Session) restore(entries []*pendingAck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		e.claimedBy = ""
		if _, ok := s.subs[e.subID]; ok && s.state == StateConnected {
			s.pending[e.token] = e
		}
	}
}

// Deliver turns a gateway delivery into a MESSAGE outcome. It reports false
// when the subscription the delivery belongs to no longer exists.
func (s *Session) Deliver(d gateway.Delivery) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || d.Handle == nil {
		return Message{}, false
	}
	sub, ok := s.subs[d.Handle.SubID]
	if !ok || sub.handle != d.Handle {
		return Message{}, false
	}

	msg := Message{
		SubID:       sub.ID,
		Destination: d.Destination,
		MessageID:   d.MessageID,
		Headers:     d.Headers,
		Body:        d.Body,
	}
	if msg.Destination == "" {
		msg.Destination = sub.Destination
	}

	if sub.AckMode.RequiresAck() && d.AckToken != "" {
		s.deliverySeq++
		s.pending[d.AckToken] = &pendingAck{token: d.AckToken, subID: sub.ID, seq: s.deliverySeq}
		msg.AckToken = d.AckToken
	}
	return msg, true
}

// Pending returns the number of deliveries waiting for ACK or NACK.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Disconnect ends a connected session on client request.
func (s *Session) Disconnect(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Close(ctx)
}

// Close cancels all subscriptions, aborts open transactions and releases
// the producer. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasConnected := s.state == StateConnected
	s.state = StateClosed

	subs := s.subs
	s.subs = make(map[string]*Subscription)
	aborted := len(s.txs)
	s.txs = make(map[string]*transaction)
	s.pending = make(map[string]*pendingAck)
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for id, sub := range subs {
		if err := s.deps.Gateway.EndSubscription(ctx, sub.handle); err != nil {
			errs = append(errs, err)
			s.l.Error("end subscription", "sub_id", id, "err", err)
		}
	}
	if s.deps.Registry != nil {
		s.deps.Registry.RemoveSession(s.id)
	}

	s.releaseProducer()

	if wasConnected {
		observability.AddSessions(-1)
		observability.AddSubscriptions(-len(subs))
	}
	s.l.Debug("session closed", "subscriptions", len(subs), "aborted_transactions", aborted)
	return errors.Join(errs...)
}

func (s *Session) releaseProducer() {
	s.releaseOnce.Do(func() {
		s.mu.Lock()
		p := s.producer
		s.mu.Unlock()
		if p == nil {
			return
		}

		start := time.Now()
		p.Release()
		s.l.Debug("producer released", "took", time.Since(start))
	})
}
