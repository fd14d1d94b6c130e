package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hapt-protocol/hapt-go/pkg/log"
)

// echoServer upgrades incoming connections and echoes every text
// frame back to the client.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// recordingHandler collects transport events for assertions.
type recordingHandler struct {
	mu       sync.Mutex
	opened   int
	messages [][]byte
	closed   []CloseInfo
	errors   []error

	onMessage func(data []byte)
	msgCh     chan []byte
	closeCh   chan CloseInfo
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		msgCh:   make(chan []byte, 16),
		closeCh: make(chan CloseInfo, 4),
	}
}

func (h *recordingHandler) OnOpen() {
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
}

func (h *recordingHandler) OnMessage(data []byte) {
	h.mu.Lock()
	h.messages = append(h.messages, data)
	cb := h.onMessage
	h.mu.Unlock()
	if cb != nil {
		cb(data)
	}
	h.msgCh <- data
}

func (h *recordingHandler) OnClose(info CloseInfo) {
	h.mu.Lock()
	h.closed = append(h.closed, info)
	h.mu.Unlock()
	h.closeCh <- info
}

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	h.errors = append(h.errors, err)
	h.mu.Unlock()
}

func (h *recordingHandler) openCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened
}

func (h *recordingHandler) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}

func TestTransportConnect(t *testing.T) {
	srv := echoServer(t)

	t.Run("Lifecycle", func(t *testing.T) {
		h := newRecordingHandler()
		tr := New(DefaultConfig(), h)

		if tr.State() != StateDisconnected {
			t.Fatalf("initial state = %v", tr.State())
		}

		if err := tr.Connect(t.Context(), wsURL(srv)); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		if tr.State() != StateConnected {
			t.Errorf("state = %v, want CONNECTED", tr.State())
		}
		if h.openCount() != 1 {
			t.Errorf("opened = %d, want 1", h.openCount())
		}
		if tr.ConnectionID() == "" {
			t.Error("ConnectionID() empty while connected")
		}

		if err := tr.Send([]byte(`[{"Ping":{"Id":1}}]`)); err != nil {
			t.Fatalf("Send() error = %v", err)
		}

		select {
		case data := <-h.msgCh:
			if string(data) != `[{"Ping":{"Id":1}}]` {
				t.Errorf("echoed frame = %s", data)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for echo")
		}

		if err := tr.Disconnect(); err != nil {
			t.Fatalf("Disconnect() error = %v", err)
		}

		select {
		case info := <-h.closeCh:
			if info.Code != websocket.CloseNormalClosure && info.Code != websocket.CloseAbnormalClosure {
				t.Errorf("close code = %d", info.Code)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for close event")
		}
		if tr.State() != StateDisconnected {
			t.Errorf("state after disconnect = %v", tr.State())
		}
	})

	t.Run("IdempotentWhileConnected", func(t *testing.T) {
		h := newRecordingHandler()
		tr := New(DefaultConfig(), h)

		if err := tr.Connect(t.Context(), wsURL(srv)); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		defer tr.Disconnect()

		if err := tr.Connect(t.Context(), wsURL(srv)); err != nil {
			t.Fatalf("second Connect() error = %v", err)
		}
		if h.openCount() != 1 {
			t.Errorf("opened = %d, want exactly 1", h.openCount())
		}
	})

	t.Run("DialFailure", func(t *testing.T) {
		h := newRecordingHandler()
		cfg := DefaultConfig()
		cfg.HandshakeTimeout = 500 * time.Millisecond
		tr := New(cfg, h)

		if err := tr.Connect(t.Context(), "ws://127.0.0.1:1"); err == nil {
			t.Fatal("expected dial error")
		}
		if tr.State() != StateDisconnected {
			t.Errorf("state = %v after failed dial", tr.State())
		}
	})
}

func TestTransportSend(t *testing.T) {
	t.Run("FailsFastWhenDisconnected", func(t *testing.T) {
		tr := New(DefaultConfig(), newRecordingHandler())
		if err := tr.Send([]byte("x")); err != ErrNotConnected {
			t.Errorf("Send() error = %v, want ErrNotConnected", err)
		}
	})
}

func TestTransportDisconnect(t *testing.T) {
	t.Run("NoopWhenDisconnected", func(t *testing.T) {
		tr := New(DefaultConfig(), newRecordingHandler())
		if err := tr.Disconnect(); err != nil {
			t.Errorf("Disconnect() error = %v", err)
		}
	})

	t.Run("ServerInitiatedCloseEmitsClosed", func(t *testing.T) {
		upgrader := websocket.Upgrader{}
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			conn.Close()
		}))
		defer srv.Close()

		h := newRecordingHandler()
		tr := New(DefaultConfig(), h)
		if err := tr.Connect(t.Context(), wsURL(srv)); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}

		select {
		case info := <-h.closeCh:
			if info.Code != websocket.CloseGoingAway {
				t.Errorf("close code = %d, want %d", info.Code, websocket.CloseGoingAway)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for close")
		}
		if got := h.closeCount(); got != 1 {
			t.Errorf("close events = %d, want 1", got)
		}
	})
}

func TestTransportHandlerPanic(t *testing.T) {
	// A panicking message handler must not take down the read loop or
	// suppress the close event.
	srv := echoServer(t)

	h := newRecordingHandler()
	h.onMessage = func([]byte) { panic("bad listener") }

	tr := New(DefaultConfig(), h)
	if err := tr.Connect(t.Context(), wsURL(srv)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := tr.Send([]byte(`[{"Ping":{"Id":1}}]`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-h.msgCh:
	case <-time.After(2 * time.Second):
		t.Fatal("message never dispatched")
	}

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect() after panic error = %v", err)
	}
	select {
	case <-h.closeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("close event never dispatched")
	}
}

func TestTransportLogsFrames(t *testing.T) {
	srv := echoServer(t)

	rec := &recordingLogger{}
	cfg := DefaultConfig()
	cfg.Logger = rec

	h := newRecordingHandler()
	tr := New(cfg, h)
	if err := tr.Connect(t.Context(), wsURL(srv)); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Send([]byte(`[{"Ping":{"Id":1}}]`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	<-h.msgCh

	var out, in bool
	for _, ev := range rec.events() {
		if ev.Category == log.CategoryFrame && ev.Direction == log.DirectionOut {
			out = true
		}
		if ev.Category == log.CategoryFrame && ev.Direction == log.DirectionIn {
			in = true
		}
	}
	if !out || !in {
		t.Errorf("frame events logged: out=%v in=%v", out, in)
	}
}

type recordingLogger struct {
	mu  sync.Mutex
	evs []log.Event
}

func (r *recordingLogger) Log(ev log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recordingLogger) events() []log.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]log.Event(nil), r.evs...)
}
