package keepalive

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hapt-protocol/hapt-go/pkg/log"
	"github.com/hapt-protocol/hapt-go/pkg/router"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// Keep-alive constants.
const (
	// IntervalFraction of the server's max ping time at which pings
	// are scheduled, leaving headroom for round-trip latency.
	IntervalFraction = 0.6

	// MinInterval is the floor for the ping interval so a server
	// advertising a tiny max ping time cannot drive the client into a
	// busy loop.
	MinInterval = 100 * time.Millisecond
)

// Interval derives the ping schedule from the server's advertised max
// ping time. A non-positive max ping time disables keep-alive and
// yields 0.
func Interval(maxPingTime time.Duration) time.Duration {
	if maxPingTime <= 0 {
		return 0
	}
	interval := time.Duration(float64(maxPingTime) * IntervalFraction)
	if interval < MinInterval {
		interval = MinInterval
	}
	return interval
}

// Pinger sends a ping request and waits for its response. Satisfied by
// the message router.
type Pinger interface {
	Send(ctx context.Context, msgs ...wire.Message) ([]wire.Message, error)
}

// Config configures a Manager.
type Config struct {
	// MaxPingTime is the server's advertised silence limit from the
	// handshake. Non-positive disables keep-alive.
	MaxPingTime time.Duration

	// Clock drives the ping schedule. Nil uses the wall clock.
	Clock clock.Clock

	// Logger receives keep-alive events. Nil disables logging.
	Logger log.Logger
}

// Stats contains keep-alive statistics.
type Stats struct {
	PingsSent    uint64
	PingsAcked   uint64
	PingsSkipped uint64
	PingsFailed  uint64

	LastPingTime time.Time
	LastAckTime  time.Time

	LastRTT time.Duration
	MinRTT  time.Duration
	MaxRTT  time.Duration
}

// Manager schedules protocol pings for one connection.
type Manager struct {
	pinger      Pinger
	clk         clock.Clock
	logger      log.Logger
	interval    time.Duration
	maxPingTime time.Duration

	// onDead is invoked when a ping times out and the connection must
	// be considered gone.
	onDead func(error)

	// onError is invoked for ping failures that do not imply a dead
	// connection.
	onError func(error)

	mu       sync.Mutex
	running  bool
	inFlight bool
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stats    Stats
}

// New creates a keep-alive manager. onDead must not be nil when
// keep-alive is enabled; onError may be nil.
func New(config Config, pinger Pinger, onDead func(error)) *Manager {
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Manager{
		pinger:      pinger,
		clk:         clk,
		logger:      log.OrNoop(config.Logger),
		interval:    Interval(config.MaxPingTime),
		maxPingTime: config.MaxPingTime,
		onDead:      onDead,
	}
}

// SetErrorCallback sets the callback for non-fatal ping failures.
func (m *Manager) SetErrorCallback(cb func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = cb
}

// Enabled reports whether this manager will send pings at all.
func (m *Manager) Enabled() bool {
	return m.interval > 0
}

// Interval returns the derived ping interval, 0 when disabled.
func (m *Manager) Interval() time.Duration {
	return m.interval
}

// Start begins the ping schedule. No-op when keep-alive is disabled or
// already running.
func (m *Manager) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logKeepalive("disabled", 0)
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	ctx, m.cancel = context.WithCancel(ctx)
	stopCh := m.stopCh
	m.mu.Unlock()

	// The ticker is created here, not in the loop goroutine, so the
	// schedule is live by the time Start returns.
	ticker := m.clk.Ticker(m.interval)

	m.logKeepalive("started", 0)
	go m.loop(ctx, stopCh, ticker)
}

// Stop ends the ping schedule and cancels any in-flight ping.
// Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.logKeepalive("stopped", 0)
}

// IsRunning returns true while the ping schedule is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns a snapshot of the keep-alive statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Manager) loop(ctx context.Context, stopCh chan struct{}, ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.handleTick(ctx)
		}
	}
}

// handleTick sends the next ping unless one is still outstanding.
func (m *Manager) handleTick(ctx context.Context) {
	m.mu.Lock()
	if m.inFlight {
		m.stats.PingsSkipped++
		m.mu.Unlock()
		m.logKeepalive("skipped: ping in flight", 0)
		return
	}
	m.inFlight = true
	m.stats.PingsSent++
	start := m.clk.Now()
	m.stats.LastPingTime = start
	m.mu.Unlock()

	go m.sendPing(ctx, start)
}

// sendPing performs one ping round trip and settles the in-flight
// state.
func (m *Manager) sendPing(ctx context.Context, start time.Time) {
	// The server drops clients silent for longer than maxPingTime, so
	// a ping outstanding past that is already evidence the link is
	// dead; no point waiting out the router's longer request timeout.
	if m.maxPingTime > 0 {
		var cancelPing context.CancelFunc
		ctx, cancelPing = context.WithTimeout(ctx, m.maxPingTime)
		defer cancelPing()
	}

	_, err := m.pinger.Send(ctx, &wire.Ping{})

	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()

	if err == nil {
		m.recordAck(start)
		return
	}

	// A cancelled ping is the manager being stopped, not a failure.
	if errors.Is(err, context.Canceled) {
		return
	}

	var te *router.TimeoutError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		m.mu.Lock()
		m.stats.PingsFailed++
		m.mu.Unlock()
		m.logError("ping timed out: " + err.Error())
		if m.onDead != nil {
			m.onDead(err)
		}
		return
	}

	m.mu.Lock()
	m.stats.PingsFailed++
	cb := m.onError
	m.mu.Unlock()
	m.logError("ping failed: " + err.Error())
	if cb != nil {
		cb(err)
	}
}

func (m *Manager) recordAck(start time.Time) {
	now := m.clk.Now()
	rtt := now.Sub(start)

	m.mu.Lock()
	m.stats.PingsAcked++
	m.stats.LastAckTime = now
	m.stats.LastRTT = rtt
	if m.stats.MinRTT == 0 || rtt < m.stats.MinRTT {
		m.stats.MinRTT = rtt
	}
	if rtt > m.stats.MaxRTT {
		m.stats.MaxRTT = rtt
	}
	m.mu.Unlock()

	m.logKeepalive("acked", rtt)
}

func (m *Manager) logKeepalive(action string, rtt time.Duration) {
	m.logger.Log(log.Event{
		Timestamp: m.clk.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryKeepalive,
		Keepalive: &log.KeepaliveEvent{Action: action, RTT: rtt},
	})
}

func (m *Manager) logError(msg string) {
	m.logger.Log(log.Event{
		Timestamp: m.clk.Now(),
		Direction: log.DirectionNone,
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: msg},
	})
}
