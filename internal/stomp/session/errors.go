package session

import (
	"errors"
	"fmt"
)

// Kind classifies protocol errors.
type Kind uint8

const (
	KindMalformedFrame Kind = iota + 1
	KindProtocolViolation
	KindVersionMismatch
	KindAlreadyConnected
	KindDuplicateSubscription
	KindUnknownSubscription
	KindUnknownTransaction
	KindUnknownAck
	KindDuplicateTransaction
	KindSessionClosed
	KindBrokerError
)

var kindNames = map[Kind]string{
	KindMalformedFrame:        "malformed_frame",
	KindProtocolViolation:     "protocol_violation",
	KindVersionMismatch:       "version_mismatch",
	KindAlreadyConnected:      "already_connected",
	KindDuplicateSubscription: "duplicate_subscription",
	KindUnknownSubscription:   "unknown_subscription",
	KindUnknownTransaction:    "unknown_transaction",
	KindUnknownAck:            "unknown_ack",
	KindDuplicateTransaction:  "duplicate_transaction",
	KindSessionClosed:         "session_closed",
	KindBrokerError:           "broker_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is returned by every Session operation that fails.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
	// Fatal errors end the session.
	Fatal bool
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrMalformedFrame        = &Error{Kind: KindMalformedFrame}
	ErrProtocolViolation     = &Error{Kind: KindProtocolViolation}
	ErrVersionMismatch       = &Error{Kind: KindVersionMismatch}
	ErrAlreadyConnected      = &Error{Kind: KindAlreadyConnected}
	ErrDuplicateSubscription = &Error{Kind: KindDuplicateSubscription}
	ErrUnknownSubscription   = &Error{Kind: KindUnknownSubscription}
	ErrUnknownTransaction    = &Error{Kind: KindUnknownTransaction}
	ErrUnknownAck            = &Error{Kind: KindUnknownAck}
	ErrDuplicateTransaction  = &Error{Kind: KindDuplicateTransaction}
	ErrSessionClosed         = &Error{Kind: KindSessionClosed}
	ErrBroker                = &Error{Kind: KindBrokerError}
)

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Terminal reports whether err must end the session. Errors that are not
// *Error are always terminal.
func Terminal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal
	}
	return err != nil
}

// KindOf returns the kind of err, or KindBrokerError for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBrokerError
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Fatal: true}
}

// Malformed wraps a frame validation failure.
func Malformed(err error) *Error {
	return &Error{Kind: KindMalformedFrame, Err: err, Fatal: true}
}

// Violation reports a frame that is well formed but not allowed here.
func Violation(format string, args ...any) *Error {
	return newError(KindProtocolViolation, format, args...)
}

func brokerError(msg string, err error, fatal bool) *Error {
	return &Error{Kind: KindBrokerError, Msg: msg, Err: err, Fatal: fatal}
}
