package client

import "fmt"

// ConnectionError reports an operation that failed because the
// connection was down or went down.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error: %s: %v", e.Reason, e.Err)
	}
	return "connection error: " + e.Reason
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HandshakeError reports a failed version negotiation. The connection
// is unusable and has been torn down.
type HandshakeError struct {
	Reason string

	// ClientMajor and ServerMajor are set for version mismatches.
	ClientMajor uint32
	ServerMajor uint32

	Err error
}

func (e *HandshakeError) Error() string {
	if e.ClientMajor != e.ServerMajor {
		return fmt.Sprintf("handshake failed: %s (client major %d, server major %d)",
			e.Reason, e.ClientMajor, e.ServerMajor)
	}
	if e.Err != nil {
		return fmt.Sprintf("handshake failed: %s: %v", e.Reason, e.Err)
	}
	return "handshake failed: " + e.Reason
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// DeviceError reports an operation against a device the inventory does
// not know, or a feature the device does not have.
type DeviceError struct {
	DeviceIndex uint32
	Reason      string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %d: %s", e.DeviceIndex, e.Reason)
}
