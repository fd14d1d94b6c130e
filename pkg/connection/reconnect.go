package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hapt-protocol/hapt-go/pkg/log"
)

// Reconnector errors.
var (
	// ErrAttemptsExhausted reports that the attempt limit was reached
	// without a successful connection.
	ErrAttemptsExhausted = errors.New("reconnect attempts exhausted")
)

// Status is the reconnector's lifecycle state.
type Status uint8

const (
	// StatusIdle means no reconnection run is active.
	StatusIdle Status = iota

	// StatusReconnecting means a run is waiting out a delay or
	// attempting to connect.
	StatusReconnecting

	// StatusFailed means the last run gave up after exhausting its
	// attempt limit.
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusReconnecting:
		return "RECONNECTING"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc attempts one full connection, including any cleanup of a
// half-open previous connection. It returns nil once the connection is
// usable.
type ConnectFunc func(ctx context.Context) error

// Config configures a Reconnector.
type Config struct {
	// InitialDelay before the first attempt (default: 1s).
	InitialDelay time.Duration

	// MaxDelay caps the exponential schedule (default: 60s).
	MaxDelay time.Duration

	// MaxAttempts limits a run; 0 retries forever.
	MaxAttempts int

	// Clock drives the delays. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives state-change events. Nil disables logging.
	Logger log.Logger
}

// Reconnector drives reconnection runs against a ConnectFunc.
//
// A run walks the backoff schedule: wait delay(n), attempt, repeat on
// failure. Cancel discards the current run; an attempt already in
// flight for a cancelled run has its outcome swallowed.
type Reconnector struct {
	connect     ConnectFunc
	clk         clock.Clock
	logger      log.Logger
	backoff     *Backoff
	maxAttempts int

	mu         sync.Mutex
	status     Status
	generation uint64
	cancel     context.CancelFunc

	onStatusChange func(old, new Status)
	onAttempt      func(attempt int, delay time.Duration)
	onSuccess      func()
	onGiveUp       func(err error)
}

// NewReconnector creates a reconnector around the given connect
// function.
func NewReconnector(config Config, connect ConnectFunc) *Reconnector {
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Reconnector{
		connect:     connect,
		clk:         clk,
		logger:      log.OrNoop(config.Logger),
		backoff:     NewBackoffWithConfig(config.InitialDelay, config.MaxDelay),
		maxAttempts: config.MaxAttempts,
	}
}

// OnStatusChange sets a callback for status transitions.
func (r *Reconnector) OnStatusChange(fn func(old, new Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStatusChange = fn
}

// OnAttempt sets a callback fired before each attempt's delay.
func (r *Reconnector) OnAttempt(fn func(attempt int, delay time.Duration)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAttempt = fn
}

// OnSuccess sets a callback for a successful reconnection.
func (r *Reconnector) OnSuccess(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSuccess = fn
}

// OnGiveUp sets a callback for a run that exhausted its attempts. The
// error wraps the last attempt's failure.
func (r *Reconnector) OnGiveUp(fn func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onGiveUp = fn
}

// Status returns the current status.
func (r *Reconnector) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Trigger starts a reconnection run. No-op while a run is already
// active; a failed reconnector can be triggered again.
func (r *Reconnector) Trigger(ctx context.Context) {
	r.mu.Lock()
	if r.status == StatusReconnecting {
		r.mu.Unlock()
		return
	}

	r.generation++
	gen := r.generation
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	old := r.status
	r.status = StatusReconnecting
	cb := r.onStatusChange
	r.mu.Unlock()

	r.logStatus(old, StatusReconnecting, "triggered")
	if cb != nil {
		cb(old, StatusReconnecting)
	}

	go r.run(runCtx, gen)
}

// Cancel discards the current run, if any, returning to idle. An
// attempt already in flight finishes but its outcome is ignored.
func (r *Reconnector) Cancel() {
	r.mu.Lock()
	if r.status != StatusReconnecting {
		r.mu.Unlock()
		return
	}

	r.generation++
	cancel := r.cancel
	r.cancel = nil
	r.status = StatusIdle
	cb := r.onStatusChange
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.logStatus(StatusReconnecting, StatusIdle, "cancelled")
	if cb != nil {
		cb(StatusReconnecting, StatusIdle)
	}
}

// run walks the backoff schedule for one generation. Each run starts
// the schedule over; the counter advance happens under the mutex so a
// cancelled run can never bump a successor's schedule.
func (r *Reconnector) run(ctx context.Context, gen uint64) {
	r.backoff.Reset()

	var lastErr error
	for {
		r.mu.Lock()
		if r.generation != gen {
			r.mu.Unlock()
			return
		}
		onAttempt := r.onAttempt
		delay := r.backoff.Next()
		attempt := r.backoff.Attempts()
		r.mu.Unlock()

		if r.maxAttempts > 0 && attempt > r.maxAttempts {
			r.finishFailed(gen, lastErr)
			return
		}

		// The timer exists before the attempt callback fires, so an
		// observer of the callback can rely on the delay being armed.
		timer := r.clk.Timer(delay)
		if onAttempt != nil {
			onAttempt(attempt, delay)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := r.connect(ctx)
		if err == nil {
			r.finishConnected(gen)
			return
		}
		lastErr = err

		r.logError("reconnect attempt failed: " + err.Error())
	}
}

// finishConnected settles a successful run unless it was cancelled
// while the final attempt was in flight.
func (r *Reconnector) finishConnected(gen uint64) {
	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		return
	}
	r.status = StatusIdle
	r.cancel = nil
	r.backoff.Reset()
	statusCb := r.onStatusChange
	successCb := r.onSuccess
	r.mu.Unlock()

	r.logStatus(StatusReconnecting, StatusIdle, "connected")
	if statusCb != nil {
		statusCb(StatusReconnecting, StatusIdle)
	}
	if successCb != nil {
		successCb()
	}
}

// finishFailed settles a run that ran out of attempts.
func (r *Reconnector) finishFailed(gen uint64, lastErr error) {
	err := ErrAttemptsExhausted
	if lastErr != nil {
		err = errors.Join(ErrAttemptsExhausted, lastErr)
	}

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		return
	}
	r.status = StatusFailed
	r.cancel = nil
	statusCb := r.onStatusChange
	giveUpCb := r.onGiveUp
	r.mu.Unlock()

	r.logStatus(StatusReconnecting, StatusFailed, err.Error())
	if statusCb != nil {
		statusCb(StatusReconnecting, StatusFailed)
	}
	if giveUpCb != nil {
		giveUpCb(err)
	}
}

func (r *Reconnector) logStatus(old, new Status, reason string) {
	r.logger.Log(log.Event{
		Timestamp: r.clk.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			From:   old.String(),
			To:     new.String(),
			Reason: reason,
		},
	})
}

func (r *Reconnector) logError(msg string) {
	r.logger.Log(log.Event{
		Timestamp: r.clk.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: msg},
	})
}
