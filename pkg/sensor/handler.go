package sensor

import (
	"context"
	"errors"
	"sync"

	"github.com/hapt-protocol/hapt-go/pkg/log"
	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// Handler errors.
var (
	// ErrAlreadySubscribed reports a second registration for a live
	// key. Callers must unsubscribe first; silently replacing a live
	// callback would lose readings.
	ErrAlreadySubscribed = errors.New("subscription already exists for key")

	// ErrNotSubscribed reports an unsubscribe for an unknown key.
	ErrNotSubscribed = errors.New("no subscription for key")
)

// Key identifies one sensor subscription.
type Key struct {
	DeviceIndex  uint32
	FeatureIndex uint32
	SensorType   string
}

// Callback delivers one unwrapped sensor value.
type Callback func(value float64)

// Sender sends unsubscribe messages on device removal. Satisfied by
// the message router.
type Sender interface {
	Send(ctx context.Context, msgs ...wire.Message) ([]wire.Message, error)
}

// Handler owns the subscription table.
type Handler struct {
	logger log.Logger

	mu   sync.Mutex
	subs map[Key]Callback
}

// NewHandler creates an empty subscription table.
func NewHandler(logger log.Logger) *Handler {
	return &Handler{
		logger: log.OrNoop(logger),
		subs:   make(map[Key]Callback),
	}
}

// Register adds a subscription. Fails with ErrAlreadySubscribed if the
// key is already live, leaving the first registration untouched.
func (h *Handler) Register(key Key, cb Callback) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subs[key]; exists {
		return ErrAlreadySubscribed
	}
	h.subs[key] = cb
	return nil
}

// Unregister removes a subscription.
func (h *Handler) Unregister(key Key) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.subs[key]; !exists {
		return ErrNotSubscribed
	}
	delete(h.subs, key)
	return nil
}

// Count returns the number of live subscriptions.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Keys returns the live subscription keys in unspecified order.
func (h *Handler) Keys() []Key {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]Key, 0, len(h.subs))
	for k := range h.subs {
		keys = append(keys, k)
	}
	return keys
}

// HandleReading routes one inbound reading. Each sensor-type entry in
// the payload that matches a subscription is delivered to exactly that
// callback with the unwrapped value; if nothing matched, the whole
// reading goes to fallback. A nil fallback drops unmatched readings.
func (h *Handler) HandleReading(reading *wire.SensorReading, fallback func(*wire.SensorReading)) {
	matched := false
	for sensorType, value := range reading.Reading {
		key := Key{
			DeviceIndex:  reading.DeviceIndex,
			FeatureIndex: reading.FeatureIndex,
			SensorType:   sensorType,
		}

		h.mu.Lock()
		cb, ok := h.subs[key]
		h.mu.Unlock()
		if !ok {
			continue
		}

		matched = true
		cb(value.Value)
	}

	if !matched && fallback != nil {
		fallback(reading)
	}
}

// UnsubscribeDevice removes every subscription belonging to the given
// device. While connected, it additionally best-effort sends one
// unsubscribe message per removed subscription; the sends run in the
// background and their errors are swallowed, since the device may
// already be gone. The local table is always cleared synchronously.
// Returns the removed keys.
func (h *Handler) UnsubscribeDevice(ctx context.Context, deviceIndex uint32, sender Sender, connected bool) []Key {
	h.mu.Lock()
	var removed []Key
	for key := range h.subs {
		if key.DeviceIndex == deviceIndex {
			removed = append(removed, key)
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()

	if !connected || sender == nil {
		return removed
	}

	// Callers may be running on the read loop; a blocking
	// request/response round trip here would deadlock it.
	go func() {
		for _, key := range removed {
			_, err := sender.Send(ctx, &wire.SensorUnsubscribe{
				DeviceIndex:  key.DeviceIndex,
				FeatureIndex: key.FeatureIndex,
				SensorType:   key.SensorType,
			})
			if err != nil {
				h.logger.Log(log.Event{
					Layer:    log.LayerSession,
					Category: log.CategoryError,
					Error:    &log.ErrorEventData{Message: "unsubscribe on device removal failed: " + err.Error()},
				})
			}
		}
	}()
	return removed
}

// Clear drops every subscription unconditionally. Used at full session
// teardown.
func (h *Handler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = make(map[Key]Callback)
}
