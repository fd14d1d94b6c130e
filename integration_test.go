package hapt_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hapt-protocol/hapt-go/pkg/client"
	"github.com/hapt-protocol/hapt-go/pkg/log"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// actuatorServer is an in-process HAPT server for end-to-end tests. It
// speaks the real wire codec over real websockets.
type actuatorServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	conn        *websocket.Conn
	writeMu     sync.Mutex
	conns       int
	maxPingTime uint32
	helloIDs    []uint32
	outputs     []outputRecord
	subscribed  map[uint32]bool
}

type outputRecord struct {
	DeviceIndex uint32
	OutputType  string
	Value       float64
}

func newActuatorServer(t *testing.T, maxPingTime uint32) *actuatorServer {
	t.Helper()
	s := &actuatorServer{
		t:           t,
		maxPingTime: maxPingTime,
		subscribed:  make(map[uint32]bool),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *actuatorServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *actuatorServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.conns++
	s.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msgs, err := wire.DecodeFrame(data)
		if err != nil {
			continue
		}

		var replies []wire.Message
		for _, msg := range msgs {
			replies = append(replies, s.respond(msg)...)
		}
		if len(replies) > 0 {
			s.write(replies...)
		}
	}
}

func (s *actuatorServer) respond(msg wire.Message) []wire.Message {
	switch m := msg.(type) {
	case *wire.ClientHello:
		s.mu.Lock()
		s.helloIDs = append(s.helloIDs, m.ID())
		s.mu.Unlock()
		return []wire.Message{&wire.ServerInfo{
			Header:       wire.Header{Id: m.ID()},
			ServerName:   "bench rig",
			MajorVersion: wire.ProtocolMajor,
			MinorVersion: wire.ProtocolMinor,
			MaxPingTime:  s.maxPingTime,
		}}

	case *wire.RequestDeviceList:
		return []wire.Message{&wire.DeviceList{
			Header: wire.Header{Id: m.ID()},
			Devices: map[uint32]wire.DeviceDescriptor{
				0: testRigDescriptor("Rig Actuator"),
			},
		}}

	case *wire.StartScanning:
		// Ack, then report the scan over.
		return []wire.Message{
			&wire.Ok{Header: wire.Header{Id: m.ID()}},
			&wire.ScanningFinished{},
		}

	case *wire.SensorSubscribe:
		s.mu.Lock()
		s.subscribed[m.FeatureIndex] = true
		s.mu.Unlock()
		return []wire.Message{&wire.Ok{Header: wire.Header{Id: m.ID()}}}

	case *wire.SensorUnsubscribe:
		s.mu.Lock()
		delete(s.subscribed, m.FeatureIndex)
		s.mu.Unlock()
		return []wire.Message{&wire.Ok{Header: wire.Header{Id: m.ID()}}}

	case *wire.OutputCmd:
		s.mu.Lock()
		s.outputs = append(s.outputs, outputRecord{
			DeviceIndex: m.DeviceIndex,
			OutputType:  m.OutputType,
			Value:       m.Value,
		})
		s.mu.Unlock()
		return []wire.Message{&wire.Ok{Header: wire.Header{Id: m.ID()}}}

	default:
		return []wire.Message{&wire.Ok{Header: wire.Header{Id: msg.ID()}}}
	}
}

func (s *actuatorServer) write(msgs ...wire.Message) {
	frame, err := wire.EncodeFrame(msgs...)
	if err != nil {
		s.t.Errorf("encode frame: %v", err)
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.WriteMessage(websocket.TextMessage, frame) //nolint:errcheck
}

func (s *actuatorServer) push(msgs ...wire.Message) {
	s.write(msgs...)
}

func (s *actuatorServer) dropConnection() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (s *actuatorServer) helloCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.helloIDs)
}

func (s *actuatorServer) lastHelloID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.helloIDs) == 0 {
		return 0
	}
	return s.helloIDs[len(s.helloIDs)-1]
}

func (s *actuatorServer) recordedOutputs() []outputRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outputRecord(nil), s.outputs...)
}

func testRigDescriptor(name string) wire.DeviceDescriptor {
	return wire.DeviceDescriptor{
		DeviceName: name,
		DeviceFeatures: map[uint32]wire.FeatureDescriptor{
			0: {
				Output: map[string]wire.CapabilityDescriptor{
					"Vibrate": {ValueRange: [2]float64{0, 1}},
				},
			},
			1: {
				Input: map[string]wire.CapabilityDescriptor{
					"Pressure": {ValueRange: [2]float64{0, 1}},
				},
			},
		},
	}
}

func e2eConfig() client.Config {
	cfg := client.DefaultConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.ReconnectInitialDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 50 * time.Millisecond
	cfg.ReconnectMaxAttempts = 5
	return cfg
}

// waitUntil polls until cond returns true or the deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestE2E_SessionLifecycle runs a full session against an in-process
// server: handshake, scan, sensor stream, output command, disconnect.
func TestE2E_SessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := newActuatorServer(t, 0)
	c := client.New(e2eConfig())

	if err := c.Connect(ctx, srv.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	info := c.ServerInfo()
	if info == nil || info.ServerName != "bench rig" {
		t.Fatalf("ServerInfo() = %+v", info)
	}
	if len(c.Devices()) != 1 {
		t.Fatalf("Devices() = %d, want 1", len(c.Devices()))
	}

	// Scanning: the server acks and immediately reports completion.
	var scanDone sync.WaitGroup
	scanDone.Add(1)
	remove := c.Events().OnScanningFinished(func() { scanDone.Done() })
	defer remove()

	if err := c.StartScanning(ctx); err != nil {
		t.Fatalf("StartScanning() error = %v", err)
	}
	scanDone.Wait()

	// Sensor stream.
	readings := make(chan float64, 4)
	err := c.SubscribeSensor(ctx, 0, 1, "Pressure", func(v float64) {
		readings <- v
	})
	if err != nil {
		t.Fatalf("SubscribeSensor() error = %v", err)
	}

	srv.push(&wire.SensorReading{
		DeviceIndex:  0,
		FeatureIndex: 1,
		Reading:      map[string]wire.SensorValue{"Pressure": {Value: 0.42}},
	})

	select {
	case v := <-readings:
		if v != 0.42 {
			t.Errorf("reading = %v, want 0.42", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no sensor reading delivered")
	}

	// Output command.
	if err := c.SendOutput(ctx, 0, 0, "Vibrate", 0.5); err != nil {
		t.Fatalf("SendOutput() error = %v", err)
	}
	outputs := srv.recordedOutputs()
	if len(outputs) != 1 || outputs[0].OutputType != "Vibrate" || outputs[0].Value != 0.5 {
		t.Errorf("recorded outputs = %+v", outputs)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if c.Connected() {
		t.Error("still connected after Disconnect")
	}
	if len(c.Subscriptions()) != 0 {
		t.Errorf("subscriptions survived explicit disconnect: %v", c.Subscriptions())
	}
}

// TestE2E_Keepalive verifies the ping schedule runs against a real
// connection when the server requests one.
func TestE2E_Keepalive(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 300ms max ping time gives a 180ms ping interval.
	srv := newActuatorServer(t, 300)
	c := client.New(e2eConfig())

	if err := c.Connect(ctx, srv.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect() //nolint:errcheck

	waitUntil(t, "first ping ack", func() bool {
		return c.PingStats().PingsAcked >= 1
	})

	stats := c.PingStats()
	if stats.PingsSent < stats.PingsAcked {
		t.Errorf("stats inconsistent: %+v", stats)
	}
	if stats.LastRTT <= 0 {
		t.Errorf("LastRTT = %v, want > 0", stats.LastRTT)
	}
}

// TestE2E_Reconnect drops the socket and verifies the client comes
// back with a fresh handshake, restarted message ids, and a restored
// inventory.
func TestE2E_Reconnect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := newActuatorServer(t, 0)
	c := client.New(e2eConfig())

	reconnected := make(chan struct{}, 1)
	c.Events().OnReconnected(func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	})

	if err := c.Connect(ctx, srv.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect() //nolint:errcheck

	// Burn a few ids so a stale counter would be visible after the
	// reconnect handshake.
	for i := 0; i < 3; i++ {
		if err := c.Ping(ctx); err != nil {
			t.Fatalf("Ping() error = %v", err)
		}
	}

	srv.dropConnection()

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not reconnect")
	}

	if srv.helloCount() != 2 {
		t.Fatalf("hello count = %d, want 2", srv.helloCount())
	}
	if got := srv.lastHelloID(); got != 1 {
		t.Errorf("handshake after reconnect used id %d, want 1", got)
	}

	waitUntil(t, "inventory restore", func() bool {
		return c.Connected() && len(c.Devices()) == 1
	})
}

// TestE2E_TraceCapture wires a file logger into a session and checks
// the trace file holds readable frame and message events.
func TestE2E_TraceCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tracePath := filepath.Join(t.TempDir(), "session.trace")
	trace, err := log.NewFileLogger(tracePath)
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	srv := newActuatorServer(t, 0)
	cfg := e2eConfig()
	cfg.Logger = trace
	c := client.New(cfg)

	if err := c.Connect(ctx, srv.url()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if err := trace.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reader, err := log.NewReader(tracePath)
	if err != nil {
		t.Fatalf("NewReader() error = %v", err)
	}
	defer reader.Close()

	var frames, messages int
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		switch event.Category {
		case log.CategoryFrame:
			frames++
		case log.CategoryMessage:
			messages++
		}
	}

	if frames == 0 {
		t.Error("trace holds no frame events")
	}
	if messages == 0 {
		t.Error("trace holds no message events")
	}
}
