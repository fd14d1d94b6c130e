package wire

// DeviceDescriptor describes one device in the server's inventory.
type DeviceDescriptor struct {
	// DeviceName is the server-side identifier string.
	DeviceName string `json:"DeviceName"`

	// DeviceDisplayName is the user-facing name, if the server has one.
	DeviceDisplayName string `json:"DeviceDisplayName,omitempty"`

	// DeviceMessageGap is the recommended minimum interval between
	// commands to this device, in milliseconds.
	DeviceMessageGap uint32 `json:"DeviceMessageGap"`

	// DeviceFeatures maps feature index to the feature's capabilities.
	DeviceFeatures map[uint32]FeatureDescriptor `json:"DeviceFeatures"`
}

// FeatureDescriptor describes one addressable feature on a device.
// A feature may expose input capabilities (sensors), output
// capabilities (actuators), or both, keyed by capability type tag.
type FeatureDescriptor struct {
	Description string                          `json:"Description,omitempty"`
	Input       map[string]CapabilityDescriptor `json:"Input,omitempty"`
	Output      map[string]CapabilityDescriptor `json:"Output,omitempty"`
}

// CapabilityDescriptor describes the numeric range of one capability.
type CapabilityDescriptor struct {
	// ValueRange is the [minimum, maximum] accepted or produced value.
	ValueRange [2]float64 `json:"ValueRange"`
}
