// Package frame implements the STOMP frame model, the command table and
// the text wire codec.
package frame

import (
	"bytes"
	"fmt"
)

// Frame is one STOMP message. It is immutable once constructed.
type Frame struct {
	command Command
	header  Header
	body    []byte
}

// New builds a frame. The header and body are copied.
func New(cmd Command, h Header, body []byte) *Frame {
	var b []byte
	if len(body) > 0 {
		b = bytes.Clone(body)
	}
	return &Frame{
		command: cmd,
		header:  HeaderFromFields(h.fields),
		body:    b,
	}
}

// Newf is a convenience for frames without a body built from alternating key/value strings.
func Newf(cmd Command, kv ...string) *Frame {
	return &Frame{command: cmd, header: NewHeader(kv...)}
}

func (f *Frame) Command() Command { return f.command }

// Header returns the frame headers. Header is a value type and cannot be
// used to modify the frame.
func (f *Frame) Header() Header { return f.header }

// Get returns the first value of a header.
func (f *Frame) Get(key string) (string, bool) { return f.header.Get(key) }

// Value returns the first value of a header or "".
func (f *Frame) Value(key string) string { return f.header.Value(key) }

// Body returns a copy of the frame body.
func (f *Frame) Body() []byte {
	if len(f.body) == 0 {
		return nil
	}
	return bytes.Clone(f.body)
}

// BodyLen returns the body size without copying it.
func (f *Frame) BodyLen() int { return len(f.body) }

func (f *Frame) String() string {
	return fmt.Sprintf("%s [%s] (%d bytes)", f.command, f.header, len(f.body))
}
