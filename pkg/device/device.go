package device

import (
	"slices"
	"time"

	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// Capability is one addressable input or output feature on a device.
type Capability struct {
	// FeatureIndex addresses the feature on the device.
	FeatureIndex uint32

	// Type is the capability type tag, e.g. "Vibrate" or "Pressure".
	Type string

	// Min and Max bound the feature's value range.
	Min float64
	Max float64
}

// Device is an immutable snapshot of one entry in the server's device
// inventory. Holders can read it freely; reconciliation replaces
// records wholesale instead of mutating them.
type Device struct {
	// Index is the server-assigned identifier, stable for the
	// device's lifetime on this connection.
	Index uint32

	// Name is the technical device name.
	Name string

	// DisplayName is the user-facing name, may be empty.
	DisplayName string

	// MessageGap is the recommended minimum interval between
	// commands to this device.
	MessageGap time.Duration

	// Inputs and Outputs are the parsed capability sets, sorted by
	// feature index and type.
	Inputs  []Capability
	Outputs []Capability
}

// FromDescriptor builds a Device snapshot from a wire descriptor.
func FromDescriptor(index uint32, desc wire.DeviceDescriptor) *Device {
	d := &Device{
		Index:       index,
		Name:        desc.DeviceName,
		DisplayName: desc.DeviceDisplayName,
		MessageGap:  time.Duration(desc.DeviceMessageGap) * time.Millisecond,
	}

	for featureIndex, feature := range desc.DeviceFeatures {
		for capType, c := range feature.Input {
			d.Inputs = append(d.Inputs, Capability{
				FeatureIndex: featureIndex,
				Type:         capType,
				Min:          c.ValueRange[0],
				Max:          c.ValueRange[1],
			})
		}
		for capType, c := range feature.Output {
			d.Outputs = append(d.Outputs, Capability{
				FeatureIndex: featureIndex,
				Type:         capType,
				Min:          c.ValueRange[0],
				Max:          c.ValueRange[1],
			})
		}
	}

	sortCapabilities(d.Inputs)
	sortCapabilities(d.Outputs)
	return d
}

func sortCapabilities(caps []Capability) {
	slices.SortFunc(caps, func(a, b Capability) int {
		if a.FeatureIndex != b.FeatureIndex {
			if a.FeatureIndex < b.FeatureIndex {
				return -1
			}
			return 1
		}
		switch {
		case a.Type < b.Type:
			return -1
		case a.Type > b.Type:
			return 1
		default:
			return 0
		}
	})
}

// DisplayLabel returns the display name when set, the technical name
// otherwise.
func (d *Device) DisplayLabel() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.Name
}

// Input returns the input capability with the given feature index and
// type, if present.
func (d *Device) Input(featureIndex uint32, capType string) (Capability, bool) {
	return findCapability(d.Inputs, featureIndex, capType)
}

// Output returns the output capability with the given feature index
// and type, if present.
func (d *Device) Output(featureIndex uint32, capType string) (Capability, bool) {
	return findCapability(d.Outputs, featureIndex, capType)
}

func findCapability(caps []Capability, featureIndex uint32, capType string) (Capability, bool) {
	for _, c := range caps {
		if c.FeatureIndex == featureIndex && c.Type == capType {
			return c, true
		}
	}
	return Capability{}, false
}

// SameCapabilities reports whether two devices expose structurally
// identical capability sets. Display metadata is not compared; an
// inventory entry whose features are unchanged is not an update.
func SameCapabilities(a, b *Device) bool {
	return slices.Equal(a.Inputs, b.Inputs) && slices.Equal(a.Outputs, b.Outputs)
}
