// Package gateway is the boundary between STOMP sessions and message brokers.
package gateway

import (
	"context"
	"errors"

	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

var (
	ErrNoRoute        = errors.New("no route for destination")
	ErrBadDestination = errors.New("destination cannot be mapped to a broker topic")
	ErrUnknownToken   = errors.New("unknown ack token")
	ErrUnknownHandle  = errors.New("unknown subscription handle")
	ErrReleased       = errors.New("producer released")
	ErrTxInProgress   = errors.New("broker transaction already in progress")
	ErrNoTxInProgress = errors.New("no broker transaction in progress")
)

// Gateway is what a session needs from the broker side.
type Gateway interface {
	// Producer returns a producer owned by the session. No broker I/O happens
	// until the first publish.
	Producer(sessionID string) (Producer, error)
	// BeginSubscription starts delivery of messages for destination to sink.
	// It returns once the broker has confirmed the binding.
	BeginSubscription(ctx context.Context, sessionID, subID, destination string, mode frame.AckMode, sink func(Delivery)) (*Handle, error)
	EndSubscription(ctx context.Context, h *Handle) error
	// Acknowledge settles one delivery. positive false requests redelivery.
	Acknowledge(ctx context.Context, token string, positive bool) error
}

// Producer publishes on behalf of one session.
type Producer interface {
	Publish(ctx context.Context, destination string, headers frame.Header, body []byte) error
	// Begin opens a broker transaction covering destinations. It returns an
	// error wrapping cerr.ErrNotSupported when the brokers behind them cannot
	// make the publishes atomic.
	Begin(ctx context.Context, destinations []string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Release rolls back an open transaction and hands the writers back.
	// Calling it more than once is a no-op.
	Release()
}

// Handle identifies one live subscription inside the gateway.
type Handle struct {
	ID          uint64
	SessionID   string
	SubID       string
	Destination string
}

// Delivery is one broker message addressed to a subscription.
type Delivery struct {
	Handle      *Handle
	Destination string
	Headers     frame.Header
	Body        []byte
	MessageID   string
	// AckToken is empty when the subscription settles messages itself.
	AckToken string
}
