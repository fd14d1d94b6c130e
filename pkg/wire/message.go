package wire

// Message is implemented by every HAPT message kind.
type Message interface {
	// Kind returns the message kind (the envelope key on the wire).
	Kind() Kind

	// ID returns the correlation id, or EventID for unsolicited events.
	ID() uint32

	// SetID assigns the correlation id. Called by the router when a
	// message is sent.
	SetID(id uint32)
}

// Header carries the correlation id common to all messages.
// It is embedded in every concrete message type.
type Header struct {
	Id uint32 `json:"Id"`
}

// ID returns the correlation id.
func (h *Header) ID() uint32 { return h.Id }

// SetID assigns the correlation id.
func (h *Header) SetID(id uint32) { h.Id = id }

// Ok acknowledges a request that produces no other response.
type Ok struct {
	Header
}

// Kind returns KindOk.
func (*Ok) Kind() Kind { return KindOk }

// Error reports a server-side failure. When Id matches a pending
// request it is the response to that request; with Id 0 it is an
// unsolicited server error.
type Error struct {
	Header
	ErrorMessage string    `json:"ErrorMessage"`
	ErrorCode    ErrorCode `json:"ErrorCode"`
}

// Kind returns KindError.
func (*Error) Kind() Kind { return KindError }

// Ping is the keep-alive probe. The server answers with Ok.
type Ping struct {
	Header
}

// Kind returns KindPing.
func (*Ping) Kind() Kind { return KindPing }

// ClientHello opens the handshake. The server must answer with
// ServerInfo; any other response is a fatal handshake error.
type ClientHello struct {
	Header
	ClientName   string `json:"ClientName"`
	MajorVersion uint32 `json:"MajorVersion"`
	MinorVersion uint32 `json:"MinorVersion"`
}

// Kind returns KindClientHello.
func (*ClientHello) Kind() Kind { return KindClientHello }

// ServerInfo is the handshake response.
type ServerInfo struct {
	Header
	ServerName   string `json:"ServerName"`
	MajorVersion uint32 `json:"MajorVersion"`
	MinorVersion uint32 `json:"MinorVersion"`

	// MaxPingTime is the maximum allowed gap between client pings in
	// milliseconds. 0 disables the server-side ping requirement.
	MaxPingTime uint32 `json:"MaxPingTime"`
}

// Kind returns KindServerInfo.
func (*ServerInfo) Kind() Kind { return KindServerInfo }

// StartScanning asks the server to begin device discovery.
type StartScanning struct {
	Header
}

// Kind returns KindStartScanning.
func (*StartScanning) Kind() Kind { return KindStartScanning }

// StopScanning asks the server to end device discovery.
type StopScanning struct {
	Header
}

// Kind returns KindStopScanning.
func (*StopScanning) Kind() Kind { return KindStopScanning }

// ScanningFinished is the unsolicited event the server emits when
// device discovery ends.
type ScanningFinished struct {
	Header
}

// Kind returns KindScanningFinished.
func (*ScanningFinished) Kind() Kind { return KindScanningFinished }

// RequestDeviceList asks for the server's device inventory.
type RequestDeviceList struct {
	Header
}

// Kind returns KindRequestDeviceList.
func (*RequestDeviceList) Kind() Kind { return KindRequestDeviceList }

// DeviceList carries the server's authoritative device inventory,
// keyed by device index. It is sent both as the response to
// RequestDeviceList and as an unsolicited event.
type DeviceList struct {
	Header
	Devices map[uint32]DeviceDescriptor `json:"Devices"`
}

// Kind returns KindDeviceList.
func (*DeviceList) Kind() Kind { return KindDeviceList }

// DeviceAdded is the unsolicited event for a newly available device.
type DeviceAdded struct {
	Header
	DeviceIndex uint32 `json:"DeviceIndex"`
	DeviceDescriptor
}

// Kind returns KindDeviceAdded.
func (*DeviceAdded) Kind() Kind { return KindDeviceAdded }

// DeviceRemoved is the unsolicited event for a device that went away.
type DeviceRemoved struct {
	Header
	DeviceIndex uint32 `json:"DeviceIndex"`
}

// Kind returns KindDeviceRemoved.
func (*DeviceRemoved) Kind() Kind { return KindDeviceRemoved }

// SensorValue wraps a single numeric sensor reading.
type SensorValue struct {
	Value float64 `json:"Value"`
}

// SensorReading delivers one sensor value. Reading is a single-key map
// from sensor type tag to the wrapped value.
type SensorReading struct {
	Header
	DeviceIndex  uint32                 `json:"DeviceIndex"`
	FeatureIndex uint32                 `json:"FeatureIndex"`
	Reading      map[string]SensorValue `json:"Reading"`
}

// Kind returns KindSensorReading.
func (*SensorReading) Kind() Kind { return KindSensorReading }

// SensorSubscribe asks the server to stream readings from one sensor.
type SensorSubscribe struct {
	Header
	DeviceIndex  uint32 `json:"DeviceIndex"`
	FeatureIndex uint32 `json:"FeatureIndex"`
	SensorType   string `json:"SensorType"`
}

// Kind returns KindSensorSubscribe.
func (*SensorSubscribe) Kind() Kind { return KindSensorSubscribe }

// SensorUnsubscribe cancels a sensor subscription.
type SensorUnsubscribe struct {
	Header
	DeviceIndex  uint32 `json:"DeviceIndex"`
	FeatureIndex uint32 `json:"FeatureIndex"`
	SensorType   string `json:"SensorType"`
}

// Kind returns KindSensorUnsubscribe.
func (*SensorUnsubscribe) Kind() Kind { return KindSensorUnsubscribe }

// OutputCmd drives one output feature on a device. Command
// construction and range clamping happen in the per-actuator helpers;
// this message only carries the result.
type OutputCmd struct {
	Header
	DeviceIndex  uint32  `json:"DeviceIndex"`
	FeatureIndex uint32  `json:"FeatureIndex"`
	OutputType   string  `json:"OutputType"`
	Value        float64 `json:"Value"`
}

// Kind returns KindOutputCmd.
func (*OutputCmd) Kind() Kind { return KindOutputCmd }

// Unknown preserves an envelope whose kind this library does not
// recognize. The router logs and drops these.
type Unknown struct {
	Header
	RawKind Kind
	Raw     []byte
}

// Kind returns the unrecognized envelope key.
func (u *Unknown) Kind() Kind { return u.RawKind }
