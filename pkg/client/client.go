package client

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/hapt-protocol/hapt-go/pkg/connection"
	"github.com/hapt-protocol/hapt-go/pkg/device"
	"github.com/hapt-protocol/hapt-go/pkg/keepalive"
	"github.com/hapt-protocol/hapt-go/pkg/log"
	"github.com/hapt-protocol/hapt-go/pkg/router"
	"github.com/hapt-protocol/hapt-go/pkg/sensor"
	"github.com/hapt-protocol/hapt-go/pkg/transport"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// DefaultClientName is announced during the handshake when the config
// leaves ClientName empty.
const DefaultClientName = "hapt-go"

// Config configures a Client.
type Config struct {
	// ClientName is announced to the server during the handshake.
	ClientName string

	// RequestTimeout bounds each request (default: 30s).
	RequestTimeout time.Duration

	// AutoReconnect enables reconnection after unexpected closes.
	AutoReconnect bool

	// ReconnectInitialDelay, ReconnectMaxDelay and
	// ReconnectMaxAttempts shape the backoff schedule.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int

	// Transport configures the underlying socket.
	Transport transport.Config

	// Clock drives every timer the client schedules. Nil uses the
	// wall clock.
	Clock clock.Clock

	// Logger receives events from all layers. Nil disables logging.
	Logger log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ClientName:            DefaultClientName,
		RequestTimeout:        router.DefaultRequestTimeout,
		AutoReconnect:         true,
		ReconnectInitialDelay: connection.DefaultInitialDelay,
		ReconnectMaxDelay:     connection.DefaultMaxDelay,
		ReconnectMaxAttempts:  10,
		Transport:             transport.DefaultConfig(),
	}
}

// Client is one HAPT session.
type Client struct {
	config Config
	clk    clock.Clock
	logger log.Logger

	transport   *transport.Transport
	router      *router.Router
	reconnector *connection.Reconnector
	sensors     *sensor.Handler
	events      *Events

	mu         sync.Mutex
	url        string
	connected  bool
	connecting bool
	closing    bool
	serverInfo *wire.ServerInfo
	devices    map[uint32]*device.Device
	keepalive  *keepalive.Manager
}

// New creates a disconnected client.
func New(config Config) *Client {
	if config.ClientName == "" {
		config.ClientName = DefaultClientName
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Transport.Logger == nil {
		config.Transport.Logger = config.Logger
	}

	c := &Client{
		config:  config,
		clk:     config.Clock,
		logger:  log.OrNoop(config.Logger),
		events:  newEvents(config.Logger),
		sensors: sensor.NewHandler(config.Logger),
		devices: make(map[uint32]*device.Device),
	}

	c.transport = transport.New(config.Transport, &transportHandler{c})
	c.router = router.New(router.Config{
		RequestTimeout: config.RequestTimeout,
		Clock:          config.Clock,
		Logger:         config.Logger,
	}, c.transport)
	c.router.SetEventHandlers(router.EventHandlers{
		DeviceList:       c.handleDeviceList,
		DeviceAdded:      c.handleDeviceAdded,
		DeviceRemoved:    c.handleDeviceRemoved,
		ScanningFinished: c.handleScanningFinished,
		SensorReading:    c.handleSensorReading,
		ServerError:      c.handleServerError,
	})

	c.reconnector = connection.NewReconnector(connection.Config{
		InitialDelay: config.ReconnectInitialDelay,
		MaxDelay:     config.ReconnectMaxDelay,
		MaxAttempts:  config.ReconnectMaxAttempts,
		Clock:        config.Clock,
		Logger:       config.Logger,
	}, c.establish)
	c.reconnector.OnAttempt(func(attempt int, delay time.Duration) {
		c.events.reconnecting.emit(ReconnectAttempt{Attempt: attempt, Delay: delay})
	})
	c.reconnector.OnSuccess(func() {
		c.events.reconnected.emit(struct{}{})
	})
	c.reconnector.OnGiveUp(func(err error) {
		c.events.reconnectFailed.emit(err)
	})

	return c
}

// Events returns the client's event subscription surface.
func (c *Client) Events() *Events {
	return c.events
}

// Connected reports whether the session is up, handshake included.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// ServerInfo returns the negotiated server info, nil while
// disconnected.
func (c *Client) ServerInfo() *wire.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// PingStats returns the current connection's keep-alive statistics.
func (c *Client) PingStats() keepalive.Stats {
	c.mu.Lock()
	ka := c.keepalive
	c.mu.Unlock()
	if ka == nil {
		return keepalive.Stats{}
	}
	return ka.Stats()
}

// Connect dials the server, performs the handshake and loads the
// device inventory. Idempotent while connected.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.url = url
	c.mu.Unlock()

	return c.establish(ctx)
}

// establish runs one full connection attempt. Shared between Connect
// and the reconnector. At most one establishment runs at a time, so
// concurrent Connect calls cannot interleave two handshakes on the
// same socket.
func (c *Client) establish(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return &ConnectionError{Reason: "connection attempt already in progress"}
	}
	c.connecting = true
	url := c.url
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	// A half-open previous connection must be gone before dialing.
	_ = c.transport.Disconnect()

	if err := c.transport.Connect(ctx, url); err != nil {
		return &ConnectionError{Reason: "connect failed", Err: err}
	}

	// Fresh ids per connection: responses meant for the previous
	// socket must never settle this one's requests.
	c.router.ResetIDs()

	info, err := c.handshake(ctx)
	if err != nil {
		_ = c.transport.Disconnect()
		return err
	}

	ka := keepalive.New(keepalive.Config{
		MaxPingTime: time.Duration(info.MaxPingTime) * time.Millisecond,
		Clock:       c.clk,
		Logger:      c.config.Logger,
	}, c.router, c.onPingTimeout)

	c.mu.Lock()
	c.serverInfo = info
	c.connected = true
	old := c.keepalive
	c.keepalive = ka
	c.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	ka.Start(context.Background())

	if _, err := c.RefreshDevices(ctx); err != nil {
		_ = c.transport.Disconnect()
		return err
	}

	c.events.connected.emit(info)
	return nil
}

// Disconnect tears the session down: cancels reconnection, stops
// keep-alive, fails every pending request with a connection error,
// closes the socket and clears subscriptions and inventory.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closing = true
	ka := c.keepalive
	c.keepalive = nil
	c.mu.Unlock()

	c.reconnector.Cancel()
	if ka != nil {
		ka.Stop()
	}
	c.router.CancelAll(&ConnectionError{Reason: "client disconnecting"})

	err := c.transport.Disconnect()

	c.sensors.Clear()
	c.mu.Lock()
	c.connected = false
	c.serverInfo = nil
	c.devices = make(map[uint32]*device.Device)
	c.mu.Unlock()
	return err
}

// StartScanning asks the server to begin device discovery.
func (c *Client) StartScanning(ctx context.Context) error {
	_, err := c.router.Send(ctx, &wire.StartScanning{})
	return err
}

// StopScanning asks the server to end device discovery.
func (c *Client) StopScanning(ctx context.Context) error {
	_, err := c.router.Send(ctx, &wire.StopScanning{})
	return err
}

// RefreshDevices requests the authoritative inventory and reconciles
// it, emitting add/update/remove events for the differences. Returns
// the final inventory sorted by index.
func (c *Client) RefreshDevices(ctx context.Context) ([]*device.Device, error) {
	resp, err := c.router.Send(ctx, &wire.RequestDeviceList{})
	if err != nil {
		return nil, err
	}

	list, ok := resp[0].(*wire.DeviceList)
	if !ok {
		return nil, &ConnectionError{
			Reason: fmt.Sprintf("unexpected %s response to device list request", resp[0].Kind()),
		}
	}
	return c.applyInventory(list.Devices), nil
}

// Devices returns the known inventory sorted by index.
func (c *Client) Devices() []*device.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedDevicesLocked()
}

func (c *Client) sortedDevicesLocked() []*device.Device {
	devices := make([]*device.Device, 0, len(c.devices))
	for _, d := range c.devices {
		devices = append(devices, d)
	}
	slices.SortFunc(devices, func(a, b *device.Device) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
	return devices
}

// Device returns one inventory entry by index.
func (c *Client) Device(index uint32) (*device.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[index]
	return d, ok
}

// SendOutput commands one output feature on a device. The value's
// meaning is device-specific; the client only checks that the feature
// exists.
func (c *Client) SendOutput(ctx context.Context, deviceIndex, featureIndex uint32, outputType string, value float64) error {
	c.mu.Lock()
	d, known := c.devices[deviceIndex]
	c.mu.Unlock()
	if !known {
		return &DeviceError{DeviceIndex: deviceIndex, Reason: "not in inventory"}
	}
	if _, ok := d.Output(featureIndex, outputType); !ok {
		return &DeviceError{
			DeviceIndex: deviceIndex,
			Reason:      fmt.Sprintf("no %s output on feature %d", outputType, featureIndex),
		}
	}

	_, err := c.router.Send(ctx, &wire.OutputCmd{
		DeviceIndex:  deviceIndex,
		FeatureIndex: featureIndex,
		OutputType:   outputType,
		Value:        value,
	})
	return err
}

// SubscribeSensor registers a callback for one sensor and asks the
// server to start streaming it. The registration is rolled back if the
// subscribe request fails.
func (c *Client) SubscribeSensor(ctx context.Context, deviceIndex, featureIndex uint32, sensorType string, cb sensor.Callback) error {
	c.mu.Lock()
	d, known := c.devices[deviceIndex]
	c.mu.Unlock()
	if !known {
		return &DeviceError{DeviceIndex: deviceIndex, Reason: "not in inventory"}
	}
	if _, ok := d.Input(featureIndex, sensorType); !ok {
		return &DeviceError{
			DeviceIndex: deviceIndex,
			Reason:      fmt.Sprintf("no %s input on feature %d", sensorType, featureIndex),
		}
	}

	key := sensor.Key{DeviceIndex: deviceIndex, FeatureIndex: featureIndex, SensorType: sensorType}
	if err := c.sensors.Register(key, cb); err != nil {
		return err
	}

	_, err := c.router.Send(ctx, &wire.SensorSubscribe{
		DeviceIndex:  deviceIndex,
		FeatureIndex: featureIndex,
		SensorType:   sensorType,
	})
	if err != nil {
		_ = c.sensors.Unregister(key)
		return err
	}
	return nil
}

// UnsubscribeSensor removes a subscription and, while connected, tells
// the server to stop streaming it. Local state is cleared even when
// the server request fails.
func (c *Client) UnsubscribeSensor(ctx context.Context, deviceIndex, featureIndex uint32, sensorType string) error {
	key := sensor.Key{DeviceIndex: deviceIndex, FeatureIndex: featureIndex, SensorType: sensorType}
	if err := c.sensors.Unregister(key); err != nil {
		return err
	}

	if !c.Connected() {
		return nil
	}
	_, err := c.router.Send(ctx, &wire.SensorUnsubscribe{
		DeviceIndex:  deviceIndex,
		FeatureIndex: featureIndex,
		SensorType:   sensorType,
	})
	return err
}

// Subscriptions returns the live sensor subscription keys.
func (c *Client) Subscriptions() []sensor.Key {
	return c.sensors.Keys()
}

// Ping sends one manual ping, independent of the keep-alive schedule.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.router.Send(ctx, &wire.Ping{})
	return err
}

// Send transmits raw protocol messages and waits for their responses.
// External collaborators that build their own commands, such as a
// pattern scheduler driving OutputCmd sequences, use this instead of
// the typed helpers. Ids are assigned by the router.
func (c *Client) Send(ctx context.Context, msgs ...wire.Message) ([]wire.Message, error) {
	return c.router.Send(ctx, msgs...)
}

// NextID returns the next correlation id the router would assign.
// Intended for collaborators that pre-build message batches.
func (c *Client) NextID() uint32 {
	return c.router.NextID()
}

// applyInventory reconciles an authoritative inventory snapshot and
// emits the resulting events. Both the explicit request path and the
// unsolicited broadcast path land here, so the outcome is identical
// for the same input either way.
func (c *Client) applyInventory(incoming map[uint32]wire.DeviceDescriptor) []*device.Device {
	c.mu.Lock()
	result := device.Reconcile(c.devices, incoming)
	c.devices = result.Devices
	connected := c.connected
	snapshot := c.sortedDevicesLocked()
	c.mu.Unlock()

	for _, d := range result.Removed {
		c.sensors.UnsubscribeDevice(context.Background(), d.Index, c.router, connected)
		c.events.deviceRemoved.emit(d)
	}
	for _, d := range result.Updated {
		c.events.deviceUpdated.emit(d)
	}
	for _, d := range result.Added {
		c.events.deviceAdded.emit(d)
	}
	c.events.deviceList.emit(snapshot)
	return snapshot
}

// onPingTimeout drops the connection after a ping timed out. The close
// event then decides whether to reconnect.
func (c *Client) onPingTimeout(err error) {
	c.logger.Log(log.Event{
		Timestamp: c.clk.Now(),
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: "ping timeout, dropping connection: " + err.Error()},
	})
	if c.transport.State() == transport.StateConnected {
		_ = c.transport.Disconnect()
	}
}

// Router event handlers.

func (c *Client) handleDeviceList(m *wire.DeviceList) {
	c.applyInventory(m.Devices)
}

func (c *Client) handleDeviceAdded(m *wire.DeviceAdded) {
	d := device.FromDescriptor(m.DeviceIndex, m.DeviceDescriptor)

	c.mu.Lock()
	c.devices[m.DeviceIndex] = d
	c.mu.Unlock()

	c.events.deviceAdded.emit(d)
}

func (c *Client) handleDeviceRemoved(m *wire.DeviceRemoved) {
	c.mu.Lock()
	d, known := c.devices[m.DeviceIndex]
	delete(c.devices, m.DeviceIndex)
	connected := c.connected
	c.mu.Unlock()

	c.sensors.UnsubscribeDevice(context.Background(), m.DeviceIndex, c.router, connected)

	if known {
		c.events.deviceRemoved.emit(d)
	}
}

func (c *Client) handleScanningFinished(*wire.ScanningFinished) {
	c.events.scanningFinished.emit(struct{}{})
}

func (c *Client) handleSensorReading(m *wire.SensorReading) {
	c.sensors.HandleReading(m, func(r *wire.SensorReading) {
		c.events.sensorReading.emit(r)
	})
}

func (c *Client) handleServerError(m *wire.Error) {
	c.events.serverError.emit(m)
}

// transportHandler adapts the Client to the transport's event
// interface without exporting the methods on Client itself.
type transportHandler struct {
	c *Client
}

func (h *transportHandler) OnOpen() {}

func (h *transportHandler) OnMessage(data []byte) {
	h.c.router.HandleFrame(data)
}

func (h *transportHandler) OnClose(info transport.CloseInfo) {
	h.c.handleClose(info)
}

func (h *transportHandler) OnError(err error) {
	h.c.logger.Log(log.Event{
		Timestamp: h.c.clk.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: err.Error()},
	})
}

// handleClose reacts to the socket closing for any reason. Pending
// requests are failed immediately; whether subscriptions survive
// depends on the path: explicit disconnects clear them in Disconnect,
// unexpected closes keep them for the reconnected session.
func (c *Client) handleClose(info transport.CloseInfo) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	closing := c.closing
	ka := c.keepalive
	c.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	c.router.CancelAll(&ConnectionError{
		Reason: fmt.Sprintf("connection closed (%d: %s)", info.Code, info.Reason),
	})

	c.events.disconnected.emit(info)

	if wasConnected && !closing && c.config.AutoReconnect {
		c.reconnector.Trigger(context.Background())
	}
}
