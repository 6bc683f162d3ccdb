package frame

import (
	"errors"
	"strings"
)

var errInvalidEscape = errors.New("invalid escape sequence")

// escapes reports whether header values of cmd are fully escaped on the
// wire. CONNECT and CONNECTED keep ':' raw in values so that 1.0 peers can
// read them, but still escape the bytes that would break the line.
func escapes(cmd Command) bool {
	return cmd != CONNECT && cmd != CONNECTED
}

// appendEscaped escapes s. With colon false a ':' is written raw, which the
// reader accepts because a header line splits on its first colon.
func appendEscaped(dst []byte, s string, colon bool) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\n':
			dst = append(dst, '\\', 'n')
		case ':':
			if colon {
				dst = append(dst, '\\', 'c')
			} else {
				dst = append(dst, c)
			}
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// unescapeLenient decodes CONNECT and CONNECTED headers. Unknown sequences
// are kept verbatim since 1.0 clients send backslashes unescaped.
func unescapeLenient(b []byte) string {
	if !containsByte(b, '\\') {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\\' || i+1 >= len(b) {
			sb.WriteByte(c)
			continue
		}
		switch b[i+1] {
		case '\\':
			sb.WriteByte('\\')
		case 'r':
			sb.WriteByte('\r')
		case 'n':
			sb.WriteByte('\n')
		case 'c':
			sb.WriteByte(':')
		default:
			sb.WriteByte(c)
			continue
		}
		i++
	}
	return sb.String()
}

func unescape(b []byte) (string, error) {
	if !containsByte(b, '\\') {
		return string(b), nil
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(b) {
			return "", errInvalidEscape
		}
		i++
		switch b[i] {
		case '\\':
			sb.WriteByte('\\')
		case 'r':
			sb.WriteByte('\r')
		case 'n':
			sb.WriteByte('\n')
		case 'c':
			sb.WriteByte(':')
		default:
			return "", errInvalidEscape
		}
	}
	return sb.String(), nil
}

func containsByte(b []byte, c byte) bool {
	for _, x := range b {
		if x == c {
			return true
		}
	}
	return false
}
