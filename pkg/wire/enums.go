package wire

// Protocol version implemented by this library.
//
// The handshake compares major versions only; any major mismatch is
// fatal in both directions. Minor versions are informational.
const (
	ProtocolMajor uint32 = 1
	ProtocolMinor uint32 = 1
)

// MaxMessageID is the largest valid correlation id. Correlation ids
// wrap back to 1 past this value; 0 is never a correlation id.
const MaxMessageID uint32 = 0xFFFFFFFF

// EventID is the reserved id carried by unsolicited events.
const EventID uint32 = 0

// Kind identifies a message kind. It is the envelope key on the wire.
type Kind string

// Message kinds.
const (
	KindOk                Kind = "Ok"
	KindError             Kind = "Error"
	KindPing              Kind = "Ping"
	KindClientHello       Kind = "ClientHello"
	KindServerInfo        Kind = "ServerInfo"
	KindStartScanning     Kind = "StartScanning"
	KindStopScanning      Kind = "StopScanning"
	KindScanningFinished  Kind = "ScanningFinished"
	KindRequestDeviceList Kind = "RequestDeviceList"
	KindDeviceList        Kind = "DeviceList"
	KindDeviceAdded       Kind = "DeviceAdded"
	KindDeviceRemoved     Kind = "DeviceRemoved"
	KindSensorReading     Kind = "SensorReading"
	KindSensorSubscribe   Kind = "SensorSubscribe"
	KindSensorUnsubscribe Kind = "SensorUnsubscribe"
	KindOutputCmd         Kind = "OutputCmd"
)

// ErrorCode classifies server-reported errors.
type ErrorCode uint32

const (
	// ErrorCodeUnknown is an unclassified server error.
	ErrorCodeUnknown ErrorCode = 0

	// ErrorCodeInit indicates a handshake failure.
	ErrorCodeInit ErrorCode = 1

	// ErrorCodePing indicates the server missed the ping deadline and
	// will terminate the connection imminently.
	ErrorCodePing ErrorCode = 2

	// ErrorCodeMessage indicates a malformed or unsupported message.
	ErrorCodeMessage ErrorCode = 3

	// ErrorCodeDevice indicates a device-level failure.
	ErrorCodeDevice ErrorCode = 4
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeUnknown:
		return "UNKNOWN"
	case ErrorCodeInit:
		return "INIT"
	case ErrorCodePing:
		return "PING"
	case ErrorCodeMessage:
		return "MESSAGE"
	case ErrorCodeDevice:
		return "DEVICE"
	default:
		return "INVALID"
	}
}
