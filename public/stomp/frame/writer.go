package frame

import (
	"bufio"
	"io"
	"strconv"
)

// Writer encodes frames onto a byte stream. It is not safe for concurrent use.
type Writer struct {
	w   *bufio.Writer
	buf []byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 4096)}
}

// Write encodes f and flushes it.
func (w *Writer) Write(f *Frame) error {
	w.buf = Append(w.buf[:0], f)
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	return w.w.Flush()
}

// WriteHeartbeat writes a single EOL.
func (w *Writer) WriteHeartbeat() error {
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

// Encode returns the wire form of f.
func Encode(f *Frame) []byte {
	return Append(nil, f)
}

// Append appends the wire form of f to dst. A content-length header is
// emitted for every non-empty body; a caller supplied one is replaced.
func Append(dst []byte, f *Frame) []byte {
	dst = append(dst, f.command...)
	dst = append(dst, '\n')

	esc := escapes(f.command)
	for _, fld := range f.header.fields {
		if fld.Key == HdrContentLength {
			continue
		}
		dst = appendEscaped(dst, fld.Key, true)
		dst = append(dst, ':')
		dst = appendEscaped(dst, fld.Value, esc)
		dst = append(dst, '\n')
	}
	if len(f.body) > 0 {
		dst = append(dst, HdrContentLength...)
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, int64(len(f.body)), 10)
		dst = append(dst, '\n')
	}

	dst = append(dst, '\n')
	dst = append(dst, f.body...)
	return append(dst, 0)
}
