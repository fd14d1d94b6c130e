package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID). Empty
	// for events that happen outside any connection.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the server address (host:port or URL).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (exactly one is set).
	Frame       *FrameEvent       `cbor:"7,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"8,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"9,keyasint,omitempty"`
	Keepalive   *KeepaliveEvent   `cbor:"10,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
	// DirectionNone is used for events with no flow direction.
	DirectionNone Direction = 2
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the socket layer (raw text frames).
	LayerTransport Layer = 0
	// LayerWire is the message layer (decoded envelopes).
	LayerWire Layer = 1
	// LayerSession is the session/orchestration layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a raw frame send or receive.
	CategoryFrame Category = 0
	// CategoryMessage indicates a decoded protocol message.
	CategoryMessage Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryKeepalive indicates keepalive activity.
	CategoryKeepalive Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryKeepalive:
		return "KEEPALIVE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame text (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded protocol message at the wire layer.
type MessageEvent struct {
	// MessageKind is the envelope kind (e.g. "Ok", "DeviceAdded").
	MessageKind string `cbor:"1,keyasint"`

	// MessageID is the correlation id (0 for unsolicited events).
	MessageID uint32 `cbor:"2,keyasint"`

	// Detail is an optional free-form annotation, such as why a
	// message was dropped.
	Detail string `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures a lifecycle transition.
type StateChangeEvent struct {
	From string `cbor:"1,keyasint"`
	To   string `cbor:"2,keyasint"`

	// Reason is set when the transition was caused by an error or a
	// close code.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// KeepaliveEvent captures ping cycle activity.
type KeepaliveEvent struct {
	// Action is one of "start", "stop", "ping", "pong", "skip",
	// "timeout".
	Action string `cbor:"1,keyasint"`

	// RTT is the measured round trip for "pong" actions, nanoseconds.
	RTT time.Duration `cbor:"2,keyasint,omitempty"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Message string `cbor:"1,keyasint"`

	// Code is the server error code for protocol errors, if any.
	Code uint32 `cbor:"2,keyasint,omitempty"`
}
