package client

import (
	"sync"
	"time"

	"github.com/hapt-protocol/hapt-go/pkg/device"
	"github.com/hapt-protocol/hapt-go/pkg/log"
	"github.com/hapt-protocol/hapt-go/pkg/transport"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// ReconnectAttempt describes one reconnection attempt about to run.
type ReconnectAttempt struct {
	Attempt int
	Delay   time.Duration
}

// stream fans one event type out to its subscribers.
type stream[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
	logger log.Logger
}

// subscribe adds a callback and returns its removal function.
func (s *stream[T]) subscribe(fn func(T)) func() {
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// emit delivers the value to every subscriber. A panicking subscriber
// is logged and must not disturb the others.
func (s *stream[T]) emit(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		s.dispatch(fn, v)
	}
}

func (s *stream[T]) dispatch(fn func(T), v T) {
	defer func() {
		if rec := recover(); rec != nil {
			log.OrNoop(s.logger).Log(log.Event{
				Timestamp: time.Now(),
				Layer:     log.LayerSession,
				Category:  log.CategoryError,
				Error:     &log.ErrorEventData{Message: "event subscriber panic"},
			})
		}
	}()
	fn(v)
}

// Events is the client's subscription surface. Every OnX call returns
// a function that removes that subscription.
type Events struct {
	connected        stream[*wire.ServerInfo]
	deviceList       stream[[]*device.Device]
	deviceAdded      stream[*device.Device]
	deviceUpdated    stream[*device.Device]
	deviceRemoved    stream[*device.Device]
	scanningFinished stream[struct{}]
	sensorReading    stream[*wire.SensorReading]
	serverError      stream[*wire.Error]
	disconnected     stream[transport.CloseInfo]
	reconnecting     stream[ReconnectAttempt]
	reconnected      stream[struct{}]
	reconnectFailed  stream[error]
}

func newEvents(logger log.Logger) *Events {
	e := &Events{}
	e.connected.logger = logger
	e.deviceList.logger = logger
	e.deviceAdded.logger = logger
	e.deviceUpdated.logger = logger
	e.deviceRemoved.logger = logger
	e.scanningFinished.logger = logger
	e.sensorReading.logger = logger
	e.serverError.logger = logger
	e.disconnected.logger = logger
	e.reconnecting.logger = logger
	e.reconnected.logger = logger
	e.reconnectFailed.logger = logger
	return e
}

// OnConnected fires once a session is usable: socket up, handshake
// done, initial inventory loaded. Fires again after every successful
// reconnect.
func (e *Events) OnConnected(fn func(*wire.ServerInfo)) func() {
	return e.connected.subscribe(fn)
}

// OnDeviceList fires once per inventory reconciliation pass, after the
// individual add/update/remove events, with the resulting inventory
// sorted by index.
func (e *Events) OnDeviceList(fn func([]*device.Device)) func() {
	return e.deviceList.subscribe(fn)
}

// OnDeviceAdded fires when reconciliation sees a new device.
func (e *Events) OnDeviceAdded(fn func(*device.Device)) func() {
	return e.deviceAdded.subscribe(fn)
}

// OnDeviceUpdated fires when a device's capability set changed.
func (e *Events) OnDeviceUpdated(fn func(*device.Device)) func() {
	return e.deviceUpdated.subscribe(fn)
}

// OnDeviceRemoved fires when a device left the inventory.
func (e *Events) OnDeviceRemoved(fn func(*device.Device)) func() {
	return e.deviceRemoved.subscribe(fn)
}

// OnScanningFinished fires when the server ends a scan.
func (e *Events) OnScanningFinished(fn func()) func() {
	return e.scanningFinished.subscribe(func(struct{}) { fn() })
}

// OnSensorReading fires for readings no subscription claimed.
func (e *Events) OnSensorReading(fn func(*wire.SensorReading)) func() {
	return e.sensorReading.subscribe(fn)
}

// OnServerError fires for unsolicited server error messages.
func (e *Events) OnServerError(fn func(*wire.Error)) func() {
	return e.serverError.subscribe(fn)
}

// OnDisconnected fires on every connection close, expected or not.
func (e *Events) OnDisconnected(fn func(transport.CloseInfo)) func() {
	return e.disconnected.subscribe(fn)
}

// OnReconnecting fires before each reconnection attempt's delay.
func (e *Events) OnReconnecting(fn func(ReconnectAttempt)) func() {
	return e.reconnecting.subscribe(fn)
}

// OnReconnected fires after a successful reconnect, once the handshake
// and inventory refresh are done.
func (e *Events) OnReconnected(fn func()) func() {
	return e.reconnected.subscribe(func(struct{}) { fn() })
}

// OnReconnectFailed fires when the reconnector gives up.
func (e *Events) OnReconnectFailed(fn func(error)) func() {
	return e.reconnectFailed.subscribe(fn)
}
