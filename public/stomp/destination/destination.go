// Package destination matches STOMP destinations against subscription patterns.
//
// Destinations are split on "/". In a pattern, "*" matches exactly one
// segment and "**" matches any number of segments, including none.
// Every other segment must match literally.
package destination

import (
	"errors"
	"strings"
)

const (
	Separator   = "/"
	AnySegment  = "*"
	AnySegments = "**"
)

var ErrEmpty = errors.New("empty destination")

// IsPattern reports whether p contains wildcard segments.
func IsPattern(p string) bool {
	for _, s := range strings.Split(p, Separator) {
		if s == AnySegment || s == AnySegments {
			return true
		}
	}
	return false
}

// Validate rejects destinations that can never be routed.
func Validate(d string) error {
	if strings.TrimSpace(d) == "" {
		return ErrEmpty
	}
	return nil
}

// Match reports whether the concrete destination d matches pattern p.
// An empty pattern matches everything.
func Match(p, d string) bool {
	if p == "" || p == d {
		return true
	}
	return match(strings.Split(p, Separator), strings.Split(d, Separator))
}

func match(p, d []string) bool {
	for len(p) > 0 {
		switch p[0] {
		case AnySegments:
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(d); i++ {
				if match(p[1:], d[i:]) {
					return true
				}
			}
			return false
		case AnySegment:
			if len(d) == 0 {
				return false
			}
		default:
			if len(d) == 0 || p[0] != d[0] {
				return false
			}
		}
		p, d = p[1:], d[1:]
	}
	return len(d) == 0
}

// Overlaps reports whether a and b can match a common destination.
// It is exact for patterns without "**" and conservative otherwise.
func Overlaps(a, b string) bool {
	if a == "" || b == "" {
		return true
	}
	if !IsPattern(a) {
		return Match(b, a)
	}
	if !IsPattern(b) {
		return Match(a, b)
	}
	if strings.Contains(a, AnySegments) || strings.Contains(b, AnySegments) {
		return true
	}
	as, bs := strings.Split(a, Separator), strings.Split(b, Separator)
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != AnySegment && bs[i] != AnySegment && as[i] != bs[i] {
			return false
		}
	}
	return true
}
