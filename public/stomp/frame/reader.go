package frame

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Limits bound the size of decoded frames. Zero fields use the defaults.
type Limits struct {
	MaxHeaderLines int `yaml:"max_header_lines"`
	MaxHeaderSize  int `yaml:"max_header_size"`
	MaxBodySize    int `yaml:"max_body_size"`
}

var DefaultLimits = Limits{
	MaxHeaderLines: 64,
	MaxHeaderSize:  8 * 1024,
	MaxBodySize:    1 << 20,
}

func (l Limits) withDefaults() Limits {
	if l.MaxHeaderLines <= 0 {
		l.MaxHeaderLines = DefaultLimits.MaxHeaderLines
	}
	if l.MaxHeaderSize <= 0 {
		l.MaxHeaderSize = DefaultLimits.MaxHeaderSize
	}
	if l.MaxBodySize <= 0 {
		l.MaxBodySize = DefaultLimits.MaxBodySize
	}
	return l
}

// Reader decodes frames from a byte stream.
type Reader struct {
	r      *bufio.Reader
	limits Limits
}

func NewReader(r io.Reader) *Reader {
	return NewReaderLimits(r, DefaultLimits)
}

func NewReaderLimits(r io.Reader, limits Limits) *Reader {
	return &Reader{
		r:      bufio.NewReaderSize(r, 4096),
		limits: limits.withDefaults(),
	}
}

// Read returns the next frame. A heart-beat (a bare EOL between frames)
// yields a nil frame and a nil error so that callers can account for
// activity. io.EOF is returned only on a clean frame boundary.
func (r *Reader) Read() (*Frame, error) {
	line, err := r.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, unexpected(err)
	}
	if len(line) == 0 {
		return nil, nil
	}

	cmd, ok := ParseCommand(string(line))
	if !ok {
		return nil, &MalformedError{Field: "command", Reason: fmt.Sprintf("unknown command %q", line)}
	}

	var fields []Field
	for {
		line, err = r.readLine()
		if err != nil {
			return nil, unexpected(err)
		}
		if len(line) == 0 {
			break
		}
		if len(fields) >= r.limits.MaxHeaderLines {
			return nil, &MalformedError{Command: cmd, Field: "headers", Reason: "too many header lines"}
		}
		f, err := parseField(cmd, line)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}

	h := Header{fields: fields}
	body, err := r.readBody(cmd, h)
	if err != nil {
		return nil, err
	}

	return &Frame{command: cmd, header: h, body: body}, nil
}

func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > r.limits.MaxHeaderSize {
			return nil, &MalformedError{Field: "headers", Reason: "header line too long"}
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, err
	}

	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return line, nil
}

func parseField(cmd Command, line []byte) (Field, error) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return Field{}, &MalformedError{Command: cmd, Field: "headers", Reason: fmt.Sprintf("missing colon in %q", line)}
	}
	rawKey, rawValue := line[:i], line[i+1:]
	if !escapes(cmd) {
		return Field{Key: unescapeLenient(rawKey), Value: unescapeLenient(rawValue)}, nil
	}

	key, err := unescape(rawKey)
	if err != nil {
		return Field{}, &MalformedError{Command: cmd, Field: "headers", Reason: err.Error()}
	}
	value, err := unescape(rawValue)
	if err != nil {
		return Field{}, &MalformedError{Command: cmd, Field: key, Reason: err.Error()}
	}
	return Field{Key: key, Value: value}, nil
}

func (r *Reader) readBody(cmd Command, h Header) ([]byte, error) {
	if cl, ok := h.Get(HdrContentLength); ok {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, &MalformedError{Command: cmd, Field: HdrContentLength, Reason: fmt.Sprintf("invalid value %q", cl)}
		}
		if n > r.limits.MaxBodySize {
			return nil, &MalformedError{Command: cmd, Field: "body", Reason: "too large"}
		}
		body := make([]byte, n+1)
		if _, err := io.ReadFull(r.r, body); err != nil {
			return nil, unexpected(err)
		}
		if body[n] != 0 {
			return nil, &MalformedError{Command: cmd, Field: "body", Reason: "missing NUL terminator"}
		}
		if n == 0 {
			return nil, nil
		}
		return body[:n], nil
	}

	var body []byte
	for {
		chunk, err := r.r.ReadSlice(0)
		body = append(body, chunk...)
		if len(body) > r.limits.MaxBodySize+1 {
			return nil, &MalformedError{Command: cmd, Field: "body", Reason: "too large"}
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, unexpected(err)
	}
	body = body[:len(body)-1]
	if len(body) == 0 {
		return nil, nil
	}
	return body, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
