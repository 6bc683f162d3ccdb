package gateway

import (
	"fmt"
	"strings"

	"github.com/fujin-io/stompbridge/public/cerr"
	"github.com/fujin-io/stompbridge/public/stomp/destination"
)

type Config struct {
	Routes []Route `yaml:"routes"`
}

// Route maps destinations starting with Prefix to a connector.
type Route struct {
	Prefix    string `yaml:"prefix"`
	Connector string `yaml:"connector"`
	// StripPrefix removes Prefix (and a following separator) from the broker topic.
	StripPrefix bool `yaml:"strip_prefix"`
	// Delimiter replaces "/" in broker topics, "." for NATS subjects for example.
	Delimiter string `yaml:"delimiter"`
	// AnySegment and AnySegments are the broker's spellings of "*" and "**".
	AnySegment  string `yaml:"any_segment"`
	AnySegments string `yaml:"any_segments"`
	// Group is the consumer group used when SUBSCRIBE carries no group header.
	Group string `yaml:"group"`
}

func (c *Config) SetDefaults() {
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.Delimiter == "" {
			r.Delimiter = destination.Separator
		}
		if r.AnySegment == "" {
			r.AnySegment = destination.AnySegment
		}
		if r.AnySegments == "" {
			r.AnySegments = destination.AnySegments
		}
	}
}

func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Routes))
	for i, r := range c.Routes {
		if r.Connector == "" {
			return cerr.ValidationErr(fmt.Sprintf("gateway.routes[%d].connector is required", i))
		}
		if _, ok := seen[r.Prefix]; ok {
			return cerr.ValidationErr(fmt.Sprintf("gateway.routes[%d]: duplicate prefix %q", i, r.Prefix))
		}
		seen[r.Prefix] = struct{}{}
	}
	return nil
}

// resolve returns the route with the longest prefix matching dest.
func (c *Config) resolve(dest string) (*Route, error) {
	var best *Route
	for i := range c.Routes {
		r := &c.Routes[i]
		if !strings.HasPrefix(dest, r.Prefix) {
			continue
		}
		if best == nil || len(r.Prefix) > len(best.Prefix) {
			best = r
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoRoute, dest)
	}
	return best, nil
}

// topic converts a STOMP destination (or pattern) to the broker topic.
// A segment holding the route delimiter is rejected, since its topic
// would map back to a different destination.
func (r *Route) topic(dest string) (string, error) {
	t := dest
	if r.StripPrefix {
		t = strings.TrimPrefix(strings.TrimPrefix(t, r.Prefix), destination.Separator)
	}

	segs := strings.Split(t, destination.Separator)
	for i, s := range segs {
		switch s {
		case destination.AnySegment:
			segs[i] = r.AnySegment
		case destination.AnySegments:
			segs[i] = r.AnySegments
		default:
			if r.Delimiter != destination.Separator && strings.Contains(s, r.Delimiter) {
				return "", fmt.Errorf("%w: segment %q of %q contains %q", ErrBadDestination, s, dest, r.Delimiter)
			}
		}
	}
	return strings.Join(segs, r.Delimiter), nil
}

// destination converts a concrete broker topic back to a STOMP destination.
func (r *Route) destination(topic string) string {
	d := topic
	if r.Delimiter != destination.Separator {
		d = strings.ReplaceAll(d, r.Delimiter, destination.Separator)
	}
	if !r.StripPrefix {
		return d
	}
	if r.Prefix == "" || strings.HasSuffix(r.Prefix, destination.Separator) {
		return r.Prefix + d
	}
	return r.Prefix + destination.Separator + d
}
