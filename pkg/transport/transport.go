package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hapt-protocol/hapt-go/pkg/log"
)

// Connection states.
type State int

const (
	// StateDisconnected indicates no connection.
	StateDisconnected State = iota

	// StateConnecting indicates connection in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected
)

// String returns the connection state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Transport errors.
var (
	ErrNotConnected   = errors.New("not connected")
	ErrConnectAborted = errors.New("connect aborted by disconnect")
)

// CloseInfo describes why a connection terminated.
type CloseInfo struct {
	// Code is the WebSocket close code, or CloseAbnormalClosure when
	// the connection died without a close handshake.
	Code int

	// Reason is the close reason text or the underlying error string.
	Reason string
}

// Handler receives transport events. All methods are invoked from the
// transport's goroutines; panics are recovered and logged.
type Handler interface {
	// OnOpen is called exactly once per successful connect.
	OnOpen()

	// OnMessage is called for each inbound text frame.
	OnMessage(data []byte)

	// OnClose is called on any termination, including ones the
	// transport itself initiated.
	OnClose(info CloseInfo)

	// OnError is called for transport-level faults.
	OnError(err error)
}

// Config configures a Transport.
type Config struct {
	// HandshakeTimeout bounds the WebSocket dial (default: 10s).
	HandshakeTimeout time.Duration

	// MaxMessageSize is the maximum inbound frame size in bytes
	// (default: 1MB).
	MaxMessageSize int64

	// WriteTimeout bounds each outbound write (default: 10s).
	WriteTimeout time.Duration

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   1 << 20,
		WriteTimeout:     10 * time.Second,
	}
}

// session holds the per-connection state. A fresh session is created
// on every successful connect so a stale read loop can never close a
// newer connection.
type session struct {
	conn      *websocket.Conn
	id        string
	remote    string
	closeOnce sync.Once
}

// Transport owns one WebSocket connection to a HAPT server.
type Transport struct {
	config  Config
	handler Handler
	logger  log.Logger

	mu      sync.Mutex
	state   State
	sess    *session
	writeMu sync.Mutex

	// Connect deduplication: while a connect attempt is in flight,
	// concurrent callers wait on connectDone and share connectErr.
	connectDone chan struct{}
	connectErr  error

	// abort is set by Disconnect while a connect attempt is in
	// flight; the attempt tears down cleanly once the socket opens.
	abort bool
}

// New creates a Transport. The handler must not be nil.
func New(config Config, handler Handler) *Transport {
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = 1 << 20
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &Transport{
		config:  config,
		handler: handler,
		logger:  log.OrNoop(config.Logger),
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected returns true while the socket is open.
func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// ConnectionID returns the id of the current connection, or "" when
// disconnected. A fresh id is assigned on every successful connect.
func (t *Transport) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sess == nil {
		return ""
	}
	return t.sess.id
}

// Connect opens the socket. It is idempotent while already connected,
// and concurrent calls during an in-flight attempt all receive that
// attempt's outcome.
func (t *Transport) Connect(ctx context.Context, url string) error {
	t.mu.Lock()
	switch t.state {
	case StateConnected:
		t.mu.Unlock()
		return nil

	case StateConnecting:
		done := t.connectDone
		t.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		t.mu.Lock()
		err := t.connectErr
		t.mu.Unlock()
		return err
	}

	t.setStateLocked(StateConnecting, "")
	done := make(chan struct{})
	t.connectDone = done
	t.abort = false
	t.mu.Unlock()

	err := t.dial(ctx, url)

	t.mu.Lock()
	t.connectErr = err
	t.connectDone = nil
	close(done)
	sess := t.sess
	t.mu.Unlock()

	if err != nil {
		return err
	}

	go t.readLoop(sess)
	t.dispatch("open", t.handler.OnOpen)
	return nil
}

// dial performs the WebSocket handshake and installs the session, or
// resets the state to disconnected on any failure (including an abort
// requested while the dial was in flight).
func (t *Transport) dial(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.setStateLocked(StateDisconnected, err.Error())
		return fmt.Errorf("dial failed: %w", err)
	}

	if t.abort {
		// Disconnect was requested mid-connect. Tear the socket down
		// instead of leaving an orphaned open connection.
		conn.Close()
		t.setStateLocked(StateDisconnected, ErrConnectAborted.Error())
		return ErrConnectAborted
	}

	conn.SetReadLimit(t.config.MaxMessageSize)
	t.sess = &session{
		conn:   conn,
		id:     uuid.NewString(),
		remote: url,
	}
	t.setStateLocked(StateConnected, "")
	return nil
}

// Disconnect closes the socket gracefully. It is a no-op when already
// disconnected. When called while a connect attempt is in flight, the
// attempt tears down cleanly once the socket opens.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	switch t.state {
	case StateDisconnected:
		t.mu.Unlock()
		return nil

	case StateConnecting:
		t.abort = true
		t.mu.Unlock()
		return nil
	}

	sess := t.sess
	t.mu.Unlock()

	// Best-effort close handshake; the peer may already be gone.
	t.writeMu.Lock()
	deadline := time.Now().Add(t.config.WriteTimeout)
	_ = sess.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	t.writeMu.Unlock()

	err := sess.conn.Close()

	// The read loop observes the closed socket and emits OnClose with
	// a normal-closure code.
	return err
}

// Send writes one text frame. It fails immediately when the socket is
// not connected.
func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	if t.state != StateConnected || t.sess == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	sess := t.sess
	t.mu.Unlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	sess.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.logError(sess, err)
		return fmt.Errorf("send failed: %w", err)
	}

	t.logFrame(sess, log.DirectionOut, data)
	return nil
}

// readLoop reads frames until the connection terminates, then emits
// exactly one OnClose.
func (t *Transport) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			t.teardown(sess, closeInfoFromError(err))
			return
		}

		t.logFrame(sess, log.DirectionIn, data)
		t.dispatch("message", func() { t.handler.OnMessage(data) })
	}
}

// teardown transitions to disconnected and emits OnClose once for
// this session. A newer session is left untouched.
func (t *Transport) teardown(sess *session, info CloseInfo) {
	sess.conn.Close()

	t.mu.Lock()
	if t.sess == sess {
		t.sess = nil
		t.setStateLocked(StateDisconnected, info.Reason)
	}
	t.mu.Unlock()

	sess.closeOnce.Do(func() {
		t.dispatch("close", func() { t.handler.OnClose(info) })
	})
}

// closeInfoFromError maps a read error to a close code and reason.
func closeInfoFromError(err error) CloseInfo {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseInfo{Code: ce.Code, Reason: ce.Text}
	}
	return CloseInfo{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
}

// dispatch invokes a handler callback, recovering panics so one bad
// listener cannot corrupt connection teardown.
func (t *Transport) dispatch(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Log(log.Event{
				Timestamp: time.Now(),
				Direction: log.DirectionNone,
				Layer:     log.LayerTransport,
				Category:  log.CategoryError,
				Error:     &log.ErrorEventData{Message: fmt.Sprintf("%s handler panic: %v", name, r)},
			})
		}
	}()
	f()
}

// setStateLocked updates the state and logs the transition. Callers
// must hold t.mu.
func (t *Transport) setStateLocked(newState State, reason string) {
	if t.state == newState {
		return
	}
	old := t.state
	t.state = newState

	connID := ""
	if t.sess != nil {
		connID = t.sess.id
	}
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionNone,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange:  &log.StateChangeEvent{From: old.String(), To: newState.String(), Reason: reason},
	})
}

func (t *Transport) logFrame(sess *session, dir log.Direction, data []byte) {
	const maxLogged = 512

	frame := &log.FrameEvent{Size: len(data)}
	if len(data) > maxLogged {
		frame.Data = data[:maxLogged]
		frame.Truncated = true
	} else {
		frame.Data = data
	}

	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: sess.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryFrame,
		RemoteAddr:   sess.remote,
		Frame:        frame,
	})
}

func (t *Transport) logError(sess *session, err error) {
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: sess.id,
		Direction:    log.DirectionNone,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   sess.remote,
		Error:        &log.ErrorEventData{Message: err.Error()},
	})
	t.dispatch("error", func() { t.handler.OnError(err) })
}
