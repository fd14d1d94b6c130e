package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hapt-protocol/hapt-go/pkg/log"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// Router errors.
var (
	ErrNothingToSend = errors.New("no messages to send")
	ErrDuplicateID   = errors.New("correlation id already pending")
)

// DefaultRequestTimeout bounds each request when the config leaves
// RequestTimeout unset.
const DefaultRequestTimeout = 30 * time.Second

// Sender is the interface the router needs from the transport.
type Sender interface {
	// Send writes one wire frame. It must fail immediately when the
	// connection is down.
	Send(data []byte) error
}

// EventHandlers receives unsolicited server messages. Nil fields drop
// their events silently.
type EventHandlers struct {
	DeviceList       func(*wire.DeviceList)
	DeviceAdded      func(*wire.DeviceAdded)
	DeviceRemoved    func(*wire.DeviceRemoved)
	ScanningFinished func(*wire.ScanningFinished)
	SensorReading    func(*wire.SensorReading)
	ServerError      func(*wire.Error)
}

// Config configures a Router.
type Config struct {
	// RequestTimeout bounds each request's wait for a response
	// (default: 30s). Every message in a batch gets its own timeout.
	RequestTimeout time.Duration

	// Clock drives request timeouts. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// outcome is how a pending request settles.
type outcome struct {
	msg wire.Message
	err error
}

// pendingRequest tracks one in-flight request.
type pendingRequest struct {
	op    string
	ch    chan outcome
	timer *clock.Timer
}

// Router correlates requests with responses over a Sender and
// dispatches unsolicited events.
type Router struct {
	sender  Sender
	clk     clock.Clock
	timeout time.Duration
	logger  log.Logger

	mu       sync.Mutex
	lastID   uint32
	pending  map[uint32]*pendingRequest
	handlers EventHandlers
}

// New creates a Router on top of the given sender.
func New(config Config, sender Sender) *Router {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Router{
		sender:  sender,
		clk:     clk,
		timeout: config.RequestTimeout,
		logger:  log.OrNoop(config.Logger),
		pending: make(map[uint32]*pendingRequest),
	}
}

// SetEventHandlers installs the unsolicited-event callbacks. Call
// before the first frame arrives.
func (r *Router) SetEventHandlers(handlers EventHandlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = handlers
}

// NextID returns a fresh correlation id. Ids increase monotonically
// and wrap from the protocol maximum back to 1, never emitting 0.
func (r *Router) NextID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIDLocked()
}

func (r *Router) nextIDLocked() uint32 {
	if r.lastID >= wire.MaxMessageID {
		r.lastID = 0
	}
	r.lastID++
	return r.lastID
}

// ResetIDs restarts the id counter so the next id is 1. Called after
// every successful reconnect so fresh requests cannot collide with ids
// the previous connection's in-flight requests might still reference.
func (r *Router) ResetIDs() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID = 0
}

// PendingCount returns the number of in-flight requests.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Send transmits one or more messages as a single frame and waits for
// every one of them to settle. Messages with id 0 are assigned fresh
// correlation ids in argument order. The returned slice holds the
// response whose id matches the n-th request at index n; if any
// request failed, the first failure is returned alongside the partial
// results.
//
// If the underlying send fails synchronously, every pending entry
// registered for this batch is rolled back before the error returns.
func (r *Router) Send(ctx context.Context, msgs ...wire.Message) ([]wire.Message, error) {
	if len(msgs) == 0 {
		return nil, ErrNothingToSend
	}

	ids := make([]uint32, len(msgs))
	entries := make([]*pendingRequest, len(msgs))

	r.mu.Lock()
	for i, msg := range msgs {
		if msg.ID() == wire.EventID {
			msg.SetID(r.nextIDLocked())
		}
		id := msg.ID()
		if _, exists := r.pending[id]; exists {
			// Roll back the entries registered so far.
			for j := 0; j < i; j++ {
				r.removeLocked(ids[j])
			}
			r.mu.Unlock()
			return nil, ErrDuplicateID
		}

		p := &pendingRequest{
			op: string(msg.Kind()),
			ch: make(chan outcome, 1),
		}
		p.timer = r.clk.AfterFunc(r.timeout, func() { r.expire(id) })
		r.pending[id] = p

		ids[i] = id
		entries[i] = p
	}
	r.mu.Unlock()

	frame, err := wire.EncodeFrame(msgs...)
	if err == nil {
		err = r.sender.Send(frame)
	}
	if err != nil {
		r.mu.Lock()
		for _, id := range ids {
			r.removeLocked(id)
		}
		r.mu.Unlock()
		return nil, err
	}

	for _, msg := range msgs {
		r.logMessage(log.DirectionOut, msg, "")
	}

	// Wait for every constituent message to settle. Each entry's
	// channel receives exactly once.
	results := make([]wire.Message, len(msgs))
	var firstErr error
	for i, p := range entries {
		select {
		case out := <-p.ch:
			results[i] = out.msg
			if out.err != nil && firstErr == nil {
				firstErr = out.err
			}

		case <-ctx.Done():
			// Cancel whatever is still outstanding in this batch,
			// then drain so no entry leaks.
			for _, id := range ids[i:] {
				r.CancelPending(id, ctx.Err())
			}
			for _, q := range entries[i:] {
				<-q.ch
			}
			return nil, ctx.Err()
		}
	}
	return results, firstErr
}

// HandleFrame parses an inbound frame and routes each envelope.
// Malformed frames are logged and dropped, never propagated.
func (r *Router) HandleFrame(raw []byte) {
	msgs, err := wire.DecodeFrame(raw)
	if err != nil {
		r.logger.Log(log.Event{
			Timestamp: r.clk.Now(),
			Direction: log.DirectionIn,
			Layer:     log.LayerWire,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Message: "dropping malformed frame: " + err.Error()},
		})
		return
	}

	for _, msg := range msgs {
		r.route(msg)
	}
}

// route settles a pending request or dispatches an unsolicited event.
func (r *Router) route(msg wire.Message) {
	id := msg.ID()

	if id != wire.EventID {
		if r.settle(id, msg) {
			r.logMessage(log.DirectionIn, msg, "")
			return
		}
	}

	// Either an event id, or an id that matches no live request. A
	// recognized event kind is treated as an event regardless.
	if r.dispatchEvent(msg) {
		r.logMessage(log.DirectionIn, msg, "")
		return
	}

	r.logMessage(log.DirectionIn, msg, "no pending request or event handler; dropped")
}

// settle completes the pending request with the given id, if any. The
// table entry is removed and its timer stopped before the waiter is
// released: the waiter may synchronously send again, and the reused id
// range must not collide with a stale entry.
func (r *Router) settle(id uint32, msg wire.Message) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, id)
	p.timer.Stop()
	r.mu.Unlock()

	if e, isErr := msg.(*wire.Error); isErr {
		p.ch <- outcome{err: &ServerError{Code: e.ErrorCode, Message: e.ErrorMessage}}
	} else {
		p.ch <- outcome{msg: msg}
	}
	return true
}

// expire fails the request with the given id on timeout.
func (r *Router) expire(id uint32) {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.pending, id)
	r.mu.Unlock()

	r.logger.Log(log.Event{
		Timestamp: r.clk.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerWire,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: (&TimeoutError{Operation: p.op, Timeout: r.timeout}).Error()},
	})
	p.ch <- outcome{err: &TimeoutError{Operation: p.op, Timeout: r.timeout}}
}

// CancelPending fails the request with the given id, if it is still in
// flight. Returns true if a request was cancelled.
func (r *Router) CancelPending(id uint32, err error) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, id)
	p.timer.Stop()
	r.mu.Unlock()

	p.ch <- outcome{err: err}
	return true
}

// CancelAll fails every in-flight request. Used on disconnect and on
// reconnect so no caller hangs.
func (r *Router) CancelAll(err error) {
	r.mu.Lock()
	cancelled := make([]*pendingRequest, 0, len(r.pending))
	for id, p := range r.pending {
		delete(r.pending, id)
		p.timer.Stop()
		cancelled = append(cancelled, p)
	}
	r.mu.Unlock()

	for _, p := range cancelled {
		p.ch <- outcome{err: err}
	}
}

// removeLocked drops a pending entry without settling it. Callers must
// hold r.mu. Used only for rollback before any waiter exists.
func (r *Router) removeLocked(id uint32) {
	if p, ok := r.pending[id]; ok {
		p.timer.Stop()
		delete(r.pending, id)
	}
}

// dispatchEvent routes an unsolicited message to its callback.
// Returns false when the kind has no event semantics or no handler is
// registered. Handler panics are recovered and logged so one bad
// callback cannot corrupt dispatch for the rest of the frame.
func (r *Router) dispatchEvent(msg wire.Message) bool {
	r.mu.Lock()
	handlers := r.handlers
	r.mu.Unlock()

	var f func()
	switch m := msg.(type) {
	case *wire.DeviceList:
		if handlers.DeviceList != nil {
			f = func() { handlers.DeviceList(m) }
		}
	case *wire.DeviceAdded:
		if handlers.DeviceAdded != nil {
			f = func() { handlers.DeviceAdded(m) }
		}
	case *wire.DeviceRemoved:
		if handlers.DeviceRemoved != nil {
			f = func() { handlers.DeviceRemoved(m) }
		}
	case *wire.ScanningFinished:
		if handlers.ScanningFinished != nil {
			f = func() { handlers.ScanningFinished(m) }
		}
	case *wire.SensorReading:
		if handlers.SensorReading != nil {
			f = func() { handlers.SensorReading(m) }
		}
	case *wire.Error:
		if handlers.ServerError != nil {
			f = func() { handlers.ServerError(m) }
		}
	default:
		return false
	}

	if f == nil {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Log(log.Event{
				Timestamp: r.clk.Now(),
				Direction: log.DirectionIn,
				Layer:     log.LayerWire,
				Category:  log.CategoryError,
				Error:     &log.ErrorEventData{Message: "event handler panic"},
			})
		}
	}()
	f()
	return true
}

func (r *Router) logMessage(dir log.Direction, msg wire.Message, detail string) {
	r.logger.Log(log.Event{
		Timestamp: r.clk.Now(),
		Direction: dir,
		Layer:     log.LayerWire,
		Category:  log.CategoryMessage,
		Message: &log.MessageEvent{
			MessageKind: string(msg.Kind()),
			MessageID:   msg.ID(),
			Detail:      detail,
		},
	})
}
