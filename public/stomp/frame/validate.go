package frame

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame is matched by every *MalformedError.
var ErrMalformedFrame = errors.New("malformed frame")

// MalformedError describes the first field that makes a frame illegal.
type MalformedError struct {
	Command Command
	Field   string
	Reason  string
}

func (e *MalformedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed frame: %s", e.Reason)
	}
	if e.Command == "" {
		return fmt.Sprintf("malformed frame: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed %s frame: %s: %s", e.Command, e.Field, e.Reason)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedFrame
}

// Origin is the side of the connection that produced a frame.
type Origin uint8

const (
	FromClient Origin = iota
	FromServer
)

func (o Origin) String() string {
	if o == FromServer {
		return "server"
	}
	return "client"
}

// Validate checks f against the command table for the given origin.
func Validate(f *Frame, origin Origin) error {
	cmd := f.Command()
	if !cmd.Valid() {
		return &MalformedError{Command: cmd, Field: "command", Reason: "unknown command"}
	}

	if cmd.Server() != (origin == FromServer) {
		return &MalformedError{
			Command: cmd,
			Field:   "command",
			Reason:  fmt.Sprintf("not allowed from %s", origin),
		}
	}

	if cmd.Destination() && f.Value(HdrDestination) == "" {
		return &MalformedError{Command: cmd, Field: HdrDestination, Reason: "required"}
	}

	if cmd.SubscriptionID() {
		if hdr := cmd.SubscriptionHeader(); f.Value(hdr) == "" {
			return &MalformedError{Command: cmd, Field: hdr, Reason: "required"}
		}
	}

	if !cmd.Body() && f.BodyLen() > 0 {
		return &MalformedError{Command: cmd, Field: "body", Reason: "not allowed"}
	}

	return nil
}
