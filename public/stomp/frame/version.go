package frame

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version is a STOMP protocol version.
type Version string

const (
	V10 Version = "1.0"
	V11 Version = "1.1"
	V12 Version = "1.2"
)

// SupportedVersions lists the versions this package can speak, oldest first.
var SupportedVersions = []Version{V10, V11, V12}

func (v Version) Valid() bool {
	switch v {
	case V10, V11, V12:
		return true
	}
	return false
}

// EscapesHeaders reports whether header values are escaped on the wire.
func (v Version) EscapesHeaders() bool { return v != V10 }

// Negotiate picks the highest version present in both the client's
// accept-version list and supported. An empty list means 1.0.
func Negotiate(acceptVersion string, supported []Version) (Version, bool) {
	offered := map[Version]bool{}
	if strings.TrimSpace(acceptVersion) == "" {
		offered[V10] = true
	} else {
		for _, v := range strings.Split(acceptVersion, ",") {
			offered[Version(strings.TrimSpace(v))] = true
		}
	}

	var best Version
	for _, v := range supported {
		if offered[v] && v > best {
			best = v
		}
	}
	return best, best != ""
}

// JoinVersions renders versions as a comma separated header value.
func JoinVersions(vs []Version) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = string(v)
	}
	return strings.Join(parts, ",")
}

// HeartBeat is a pair of heart-beat intervals. Zero disables a direction.
// Send is how often the emitter will send, Recv how often it wants to receive.
type HeartBeat struct {
	Send time.Duration
	Recv time.Duration
}

// ParseHeartBeat parses "cx,cy" in milliseconds. An empty value is 0,0.
func ParseHeartBeat(s string) (HeartBeat, error) {
	if s == "" {
		return HeartBeat{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return HeartBeat{}, fmt.Errorf("invalid heart-beat %q", s)
	}
	x, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return HeartBeat{}, fmt.Errorf("invalid heart-beat %q: %w", s, err)
	}
	y, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return HeartBeat{}, fmt.Errorf("invalid heart-beat %q: %w", s, err)
	}
	return HeartBeat{
		Send: time.Duration(x) * time.Millisecond,
		Recv: time.Duration(y) * time.Millisecond,
	}, nil
}

func (h HeartBeat) String() string {
	return strconv.FormatInt(h.Send.Milliseconds(), 10) + "," + strconv.FormatInt(h.Recv.Milliseconds(), 10)
}

// NegotiateHeartBeat combines the server's wish with the client's CONNECT value.
// The result is seen from the server: Send is how often the server must
// send heart-beats, Recv how often it should expect them from the client.
func NegotiateHeartBeat(srv, client HeartBeat) HeartBeat {
	var out HeartBeat
	if srv.Send > 0 && client.Recv > 0 {
		out.Send = max(srv.Send, client.Recv)
	}
	if srv.Recv > 0 && client.Send > 0 {
		out.Recv = max(srv.Recv, client.Send)
	}
	return out
}

// AckMode is the acknowledgement mode of a subscription.
type AckMode string

const (
	AckAuto             AckMode = "auto"
	AckClient           AckMode = "client"
	AckClientIndividual AckMode = "client-individual"
)

// ParseAckMode parses the SUBSCRIBE ack header. Empty means auto.
func ParseAckMode(s string) (AckMode, bool) {
	switch AckMode(s) {
	case "", AckAuto:
		return AckAuto, true
	case AckClient:
		return AckClient, true
	case AckClientIndividual:
		return AckClientIndividual, true
	}
	return "", false
}

// RequiresAck reports whether deliveries must be settled by the client.
func (m AckMode) RequiresAck() bool { return m == AckClient || m == AckClientIndividual }

// Cumulative reports whether one ACK settles all earlier deliveries.
func (m AckMode) Cumulative() bool { return m == AckClient }
