package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fujin-io/stompbridge/internal/common/queue"
	"github.com/fujin-io/stompbridge/internal/observability"
	"github.com/fujin-io/stompbridge/internal/stomp/gateway"
	"github.com/fujin-io/stompbridge/internal/stomp/session"
	"github.com/fujin-io/stompbridge/public/stomp/frame"
)

type eventKind uint8

const (
	evFrame eventKind = iota + 1
	evDelivery
	evIdle
	evSendHeartbeat
	evDecodeError
	evClose
)

type event struct {
	kind     eventKind
	frame    *frame.Frame
	delivery gateway.Delivery
	reason   string
	err      error
	// transportGone is set when the transport reported the close itself.
	transportGone bool
}

// worker owns one connection. All session operations of the connection run
// on its goroutine, in arrival order.
type worker struct {
	d     *Dispatcher
	conn  Connection
	sess  *session.Session
	inbox *queue.Queue[event]

	ctx    context.Context
	cancel context.CancelFunc

	lastActivity atomic.Int64
	idleTimeout  atomic.Int64
	timersMu     sync.Mutex
	idleTimer    *time.Timer
	hbTimer      *time.Timer
	hbInterval   time.Duration
	stopped      bool

	l *slog.Logger
}

func newWorker(d *Dispatcher, conn Connection) *worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		d:           d,
		conn:        conn,
		inbox:       queue.New[event](),
		ctx:         ctx,
		cancel:      cancel,
		l:           d.l.With("session_id", conn.SessionID()),
	}
	w.idleTimeout.Store(int64(d.conf.IdleTimeout))
	w.touch()
	w.armIdle(d.conf.IdleTimeout)
	return w
}

func (w *worker) push(ev event) {
	if !w.inbox.Push(ev) {
		w.l.Debug("event dropped after close", "kind", ev.kind)
	}
}

func (w *worker) touch() {
	w.lastActivity.Store(time.Now().UnixNano())
}

func (w *worker) armIdle(after time.Duration) {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	if w.stopped {
		return
	}
	w.idleTimer = time.AfterFunc(after, w.checkIdle)
}

// extendIdle raises the idle timeout and re-arms the timer for it.
func (w *worker) extendIdle(timeout time.Duration) {
	w.idleTimeout.Store(int64(timeout))

	w.timersMu.Lock()
	if w.idleTimer != nil {
		w.idleTimer.Stop()
	}
	w.timersMu.Unlock()

	idle := time.Since(time.Unix(0, w.lastActivity.Load()))
	w.armIdle(max(timeout-idle, 0))
}

func (w *worker) checkIdle() {
	timeout := time.Duration(w.idleTimeout.Load())
	idle := time.Since(time.Unix(0, w.lastActivity.Load()))
	if idle >= timeout {
		w.push(event{kind: evIdle})
		return
	}
	w.armIdle(timeout - idle)
}

func (w *worker) startHeartbeats(every time.Duration) {
	if _, ok := w.conn.(HeartbeatSender); !ok || every <= 0 {
		return
	}
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	if w.stopped {
		return
	}
	w.hbInterval = every
	w.hbTimer = time.AfterFunc(every, w.heartbeatDue)
}

func (w *worker) heartbeatDue() {
	w.push(event{kind: evSendHeartbeat})

	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	if !w.stopped {
		w.hbTimer.Reset(w.hbInterval)
	}
}

func (w *worker) stopTimers() {
	w.timersMu.Lock()
	defer w.timersMu.Unlock()
	w.stopped = true
	if w.idleTimer != nil {
		w.idleTimer.Stop()
	}
	if w.hbTimer != nil {
		w.hbTimer.Stop()
	}
}

func (w *worker) run() {
	defer w.finish()

	for {
		<-w.inbox.Signal()
		for _, ev := range w.inbox.Drain() {
			if !w.handle(ev) {
				return
			}
		}
	}
}

func (w *worker) finish() {
	w.stopTimers()
	w.inbox.Close()

	if w.sess != nil {
		if err := w.sess.Close(w.ctx); err != nil {
			w.l.Error("close session", "err", err)
		}
	}
	w.cancel()
	w.d.remove(w)
}

// handle processes one event. It returns false once the connection is done.
func (w *worker) handle(ev event) bool {
	switch ev.kind {
	case evFrame:
		return w.handleFrame(ev.frame)
	case evDelivery:
		return w.handleDelivery(ev.delivery)
	case evSendHeartbeat:
		if hs, ok := w.conn.(HeartbeatSender); ok {
			if err := hs.SendHeartbeat(); err != nil {
				w.l.Debug("send heartbeat", "err", err)
				w.closeConn("heartbeat failed")
				return false
			}
		}
		return true
	case evDecodeError:
		return w.fail(session.Malformed(ev.err), nil)
	case evIdle:
		w.l.Info("closing idle connection", "timeout", time.Duration(w.idleTimeout.Load()))
		w.closeConn("idle timeout")
		return false
	case evClose:
		if !ev.transportGone {
			w.closeConn(ev.reason)
		}
		w.l.Debug("connection closed", "reason", ev.reason)
		return false
	}
	return true
}

func (w *worker) handleDelivery(d gateway.Delivery) bool {
	if w.sess == nil {
		return true
	}
	msg, ok := w.sess.Deliver(d)
	if !ok {
		return true
	}

	f := messageFrame(msg, w.sess.Version())
	if !w.send(f) {
		return false
	}
	w.d.handlers.fire(w.ctx, Event{
		SessionID:   w.conn.SessionID(),
		Command:     frame.MESSAGE,
		Destination: msg.Destination,
		Frame:       f,
	})
	return true
}

func (w *worker) send(f *frame.Frame) bool {
	if err := w.conn.Send(f); err != nil {
		w.l.Debug("send frame", "command", f.Command(), "err", err)
		w.closeConn("write failed")
		return false
	}
	observability.IncFrame(f.Command().String(), "out")
	return true
}

// fail sends exactly one ERROR frame and closes the connection.
func (w *worker) fail(err error, offending *frame.Frame) bool {
	kind := session.KindOf(err)
	observability.IncError(kind.String())
	w.l.Info("protocol error", "kind", kind, "err", err)

	if sendErr := w.conn.Send(errorFrame(err, offending)); sendErr == nil {
		observability.IncFrame(frame.ERROR.String(), "out")
	}
	w.closeConn(summary(err))
	return false
}

// report sends an ERROR frame for a non fatal failure and keeps the session.
func (w *worker) report(err error, offending *frame.Frame) bool {
	kind := session.KindOf(err)
	observability.IncError(kind.String())
	w.l.Warn("operation failed", "kind", kind, "err", err)
	return w.send(errorFrame(err, offending))
}

func (w *worker) closeConn(reason string) {
	if err := w.conn.Close(reason); err != nil {
		w.l.Debug("close connection", "err", err)
	}
}

func (w *worker) sink(d gateway.Delivery) {
	w.push(event{kind: evDelivery, delivery: d})
}

func (w *worker) handleFrame(f *frame.Frame) bool {
	cmd := f.Command()
	observability.IncFrame(cmd.String(), "in")

	if w.sess == nil && cmd != frame.CONNECT && cmd != frame.STOMP {
		return w.fail(session.Violation("expected CONNECT, got %s", cmd), f)
	}
	if err := frame.Validate(f, frame.FromClient); err != nil {
		return w.fail(session.Malformed(err), f)
	}
	if err := checkRequired(f); err != nil {
		return w.fail(err, f)
	}

	ev := Event{
		SessionID:   w.conn.SessionID(),
		Command:     cmd,
		Destination: f.Value(frame.HdrDestination),
		Frame:       f,
	}

	var err error
	switch cmd {
	case frame.CONNECT, frame.STOMP:
		return w.connect(f)

	case frame.SUBSCRIBE:
		mode, ok := frame.ParseAckMode(f.Value(frame.HdrAck))
		if !ok {
			return w.fail(session.Violation("invalid ack mode %q", f.Value(frame.HdrAck)), f)
		}
		ctx := gateway.WithGroup(w.ctx, f.Value(frame.HdrGroup))
		err = w.sess.Subscribe(ctx, f.Value(frame.HdrID), ev.Destination, mode)

	case frame.UNSUBSCRIBE:
		var sub session.Subscription
		sub, err = w.sess.Unsubscribe(w.ctx, f.Value(frame.HdrID))
		ev.Destination = sub.Destination

	case frame.SEND:
		err = w.sess.Send(w.ctx, ev.Destination, f.Header(), f.Body(), f.Value(frame.HdrTransaction))

	case frame.ACK:
		err = w.sess.Ack(w.ctx, ackToken(f), f.Value(frame.HdrTransaction))

	case frame.NACK:
		err = w.sess.Nack(w.ctx, ackToken(f), f.Value(frame.HdrTransaction))

	case frame.BEGIN:
		err = w.sess.Begin(f.Value(frame.HdrTransaction))

	case frame.COMMIT:
		err = w.sess.Commit(w.ctx, f.Value(frame.HdrTransaction))

	case frame.ABORT:
		err = w.sess.Abort(f.Value(frame.HdrTransaction))

	case frame.DISCONNECT:
		if err := w.sess.Disconnect(w.ctx); err != nil {
			return w.fail(err, f)
		}
		if receipt, ok := f.Get(frame.HdrReceipt); ok {
			w.send(receiptFrame(receipt))
		}
		w.d.handlers.fire(w.ctx, ev)
		w.closeConn("disconnect")
		return false
	}

	if err != nil {
		if session.Terminal(err) {
			return w.fail(err, f)
		}
		return w.report(err, f)
	}

	w.d.handlers.fire(w.ctx, ev)
	if receipt, ok := f.Get(frame.HdrReceipt); ok {
		return w.send(receiptFrame(receipt))
	}
	return true
}

func (w *worker) connect(f *frame.Frame) bool {
	if w.sess == nil {
		w.sess = session.New(w.conn.SessionID(), session.Config{
			Versions:   w.d.versions,
			HeartBeat:  frame.HeartBeat{Send: w.d.conf.HeartBeat.Send, Recv: w.d.conf.HeartBeat.Recv},
			ServerName: w.d.conf.ServerName,
		}, session.Deps{
			Gateway:       w.d.gw,
			Registry:      w.d.reg,
			Authenticator: w.d.auth,
			Sink:          w.sink,
		}, w.d.l)
	}

	c, err := w.sess.Connect(w.ctx, f.Header())
	if err != nil {
		return w.fail(err, f)
	}

	if c.HeartBeat.Recv > 0 && 2*c.HeartBeat.Recv > time.Duration(w.idleTimeout.Load()) {
		w.extendIdle(2 * c.HeartBeat.Recv)
	}
	w.startHeartbeats(c.HeartBeat.Send)

	if !w.send(connectedFrame(c)) {
		return false
	}
	w.d.handlers.fire(w.ctx, Event{SessionID: c.SessionID, Command: f.Command(), Frame: f})
	if receipt, ok := f.Get(frame.HdrReceipt); ok {
		return w.send(receiptFrame(receipt))
	}
	return true
}

// checkRequired enforces headers that the command table does not cover.
func checkRequired(f *frame.Frame) error {
	switch cmd := f.Command(); {
	case cmd.Transaction():
		if !f.Header().Has(frame.HdrTransaction) {
			return session.Malformed(&frame.MalformedError{Command: cmd, Field: frame.HdrTransaction, Reason: "missing"})
		}
	case cmd == frame.ACK || cmd == frame.NACK:
		if ackToken(f) == "" {
			return session.Malformed(&frame.MalformedError{Command: cmd, Field: frame.HdrID, Reason: "missing"})
		}
	}
	return nil
}

// ackToken reads the id header of STOMP 1.2, falling back to the
// message-id header of older versions.
func ackToken(f *frame.Frame) string {
	if id := f.Value(frame.HdrID); id != "" {
		return id
	}
	return f.Value(frame.HdrMessageID)
}
