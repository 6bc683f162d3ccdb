package dispatcher

import (
	"errors"
	"strings"

	"github.com/fujin-io/stompbridge/internal/stomp/session"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

const textPlain = "text/plain"

func connectedFrame(c session.Connected) *frame.Frame {
	return frame.Newf(frame.CONNECTED,
		frame.HdrVersion, string(c.Version),
		frame.HdrHeartBeat, c.HeartBeat.String(),
		frame.HdrServer, c.Server,
		frame.HdrSession, c.SessionID,
	)
}

func receiptFrame(receipt string) *frame.Frame {
	return frame.Newf(frame.RECEIPT, frame.HdrReceiptID, receipt)
}

// errorFrame describes err. The receipt of the offending frame, if any, is
// echoed so the client can correlate the failure.
func errorFrame(err error, offending *frame.Frame) *frame.Frame {
	kv := []string{
		frame.HdrMessage, summary(err),
		frame.HdrContentType, textPlain,
	}
	if offending != nil {
		if receipt, ok := offending.Get(frame.HdrReceipt); ok {
			kv = append(kv, frame.HdrReceiptID, receipt)
		}
	}

	var body strings.Builder
	body.WriteString(err.Error())
	if offending != nil {
		body.WriteString("\n\nframe: ")
		body.WriteString(offending.Command().String())
	}
	return frame.New(frame.ERROR, frame.NewHeader(kv...), []byte(body.String()))
}

func summary(err error) string {
	var se *session.Error
	if errors.As(err, &se) {
		if se.Msg != "" {
			return firstLine(se.Msg)
		}
		return se.Kind.String()
	}
	return firstLine(err.Error())
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

func messageFrame(msg session.Message, v frame.Version) *frame.Frame {
	kv := []string{
		frame.HdrDestination, msg.Destination,
		frame.HdrMessageID, msg.MessageID,
		frame.HdrSubscription, msg.SubID,
	}
	if msg.AckToken != "" && v == frame.V12 {
		kv = append(kv, frame.HdrAck, msg.AckToken)
	}
	for _, f := range msg.Headers.Unique() {
		kv = append(kv, f.Key, f.Value)
	}
	return frame.New(frame.MESSAGE, frame.NewHeader(kv...), msg.Body)
}
