package dispatcher

import (
	"context"
	"sync"

	"github.com/fujin-io/stompbridge/public/stomp/destination"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

// Event describes a frame that was applied to a session, or a MESSAGE that
// was sent to the client.
type Event struct {
	SessionID string
	Command   frame.Command
	// Destination is the frame's destination. For UNSUBSCRIBE it is the
	// destination of the removed subscription.
	Destination string
	Frame       *frame.Frame
}

// HandlerFunc runs synchronously on the connection's worker.
type HandlerFunc func(ctx context.Context, ev Event)

type handler struct {
	cmd     frame.Command
	pattern string
	fn      HandlerFunc
}

type handlers struct {
	mu   sync.RWMutex
	list []handler
}

// Handle registers fn for frames with the given command whose destination
// matches pattern. An empty pattern matches every frame of that command.
// Handlers whose patterns overlap all run, in registration order.
func (d *Dispatcher) Handle(cmd frame.Command, pattern string, fn HandlerFunc) {
	d.handlers.mu.Lock()
	defer d.handlers.mu.Unlock()
	for _, hd := range d.handlers.list {
		if hd.cmd == cmd && destination.Overlaps(hd.pattern, pattern) {
			d.l.Warn("overlapping frame handlers", "command", cmd,
				"pattern", pattern, "existing", hd.pattern, "wildcard", destination.IsPattern(pattern))
		}
	}
	d.handlers.list = append(d.handlers.list, handler{cmd: cmd, pattern: pattern, fn: fn})
}

func (h *handlers) fire(ctx context.Context, ev Event) {
	h.mu.RLock()
	list := h.list
	h.mu.RUnlock()

	for _, hd := range list {
		if hd.cmd != ev.Command {
			continue
		}
		if hd.pattern != "" && (ev.Destination == "" || !destination.Match(hd.pattern, ev.Destination)) {
			continue
		}
		hd.fn(ctx, ev)
	}
}
