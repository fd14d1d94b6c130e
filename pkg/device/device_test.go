package device

import (
	"testing"
	"time"

	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

func vibrateDescriptor(name string, strength float64) wire.DeviceDescriptor {
	return wire.DeviceDescriptor{
		DeviceName:       name,
		DeviceMessageGap: 100,
		DeviceFeatures: map[uint32]wire.FeatureDescriptor{
			0: {
				Description: "main motor",
				Output: map[string]wire.CapabilityDescriptor{
					"Vibrate": {ValueRange: [2]float64{0, strength}},
				},
			},
			1: {
				Description: "pressure pad",
				Input: map[string]wire.CapabilityDescriptor{
					"Pressure": {ValueRange: [2]float64{0, 1}},
				},
			},
		},
	}
}

func TestFromDescriptor(t *testing.T) {
	t.Run("ParsesMetadataAndCapabilities", func(t *testing.T) {
		desc := vibrateDescriptor("Test Wand", 1)
		desc.DeviceDisplayName = "Bedside Wand"

		d := FromDescriptor(3, desc)
		if d.Index != 3 || d.Name != "Test Wand" || d.DisplayName != "Bedside Wand" {
			t.Errorf("metadata = %+v", d)
		}
		if d.MessageGap != 100*time.Millisecond {
			t.Errorf("MessageGap = %v, want 100ms", d.MessageGap)
		}
		if len(d.Outputs) != 1 || len(d.Inputs) != 1 {
			t.Fatalf("capabilities = %d outputs, %d inputs", len(d.Outputs), len(d.Inputs))
		}
		if d.Outputs[0] != (Capability{FeatureIndex: 0, Type: "Vibrate", Min: 0, Max: 1}) {
			t.Errorf("output = %+v", d.Outputs[0])
		}
	})

	t.Run("CapabilitiesSortedByFeatureThenType", func(t *testing.T) {
		desc := wire.DeviceDescriptor{
			DeviceName: "Multi",
			DeviceFeatures: map[uint32]wire.FeatureDescriptor{
				2: {Output: map[string]wire.CapabilityDescriptor{"Vibrate": {}}},
				0: {Output: map[string]wire.CapabilityDescriptor{
					"Vibrate": {},
					"Rotate":  {},
				}},
			},
		}

		d := FromDescriptor(0, desc)
		want := []Capability{
			{FeatureIndex: 0, Type: "Rotate"},
			{FeatureIndex: 0, Type: "Vibrate"},
			{FeatureIndex: 2, Type: "Vibrate"},
		}
		if len(d.Outputs) != len(want) {
			t.Fatalf("outputs = %+v", d.Outputs)
		}
		for i, w := range want {
			if d.Outputs[i] != w {
				t.Errorf("output[%d] = %+v, want %+v", i, d.Outputs[i], w)
			}
		}
	})

	t.Run("DisplayLabelFallsBackToName", func(t *testing.T) {
		d := FromDescriptor(0, wire.DeviceDescriptor{DeviceName: "Plain"})
		if d.DisplayLabel() != "Plain" {
			t.Errorf("DisplayLabel() = %q", d.DisplayLabel())
		}
		d.DisplayName = "Fancy"
		if d.DisplayLabel() != "Fancy" {
			t.Errorf("DisplayLabel() = %q", d.DisplayLabel())
		}
	})

	t.Run("CapabilityLookup", func(t *testing.T) {
		d := FromDescriptor(0, vibrateDescriptor("Test", 1))
		if _, ok := d.Output(0, "Vibrate"); !ok {
			t.Error("Output(0, Vibrate) not found")
		}
		if _, ok := d.Output(0, "Rotate"); ok {
			t.Error("Output(0, Rotate) unexpectedly found")
		}
		if _, ok := d.Input(1, "Pressure"); !ok {
			t.Error("Input(1, Pressure) not found")
		}
	})
}

func TestReconcile(t *testing.T) {
	t.Run("EmptyIncomingRemovesEverything", func(t *testing.T) {
		current := map[uint32]*Device{
			0: FromDescriptor(0, vibrateDescriptor("A", 1)),
			1: FromDescriptor(1, vibrateDescriptor("B", 1)),
		}

		result := Reconcile(current, map[uint32]wire.DeviceDescriptor{})
		if len(result.Removed) != 2 {
			t.Fatalf("removed = %d, want 2", len(result.Removed))
		}
		if result.Removed[0].Index != 0 || result.Removed[1].Index != 1 {
			t.Errorf("removed order = %d, %d", result.Removed[0].Index, result.Removed[1].Index)
		}
		if len(result.Devices) != 0 {
			t.Errorf("final inventory = %d devices, want 0", len(result.Devices))
		}
		if len(result.Added) != 0 || len(result.Updated) != 0 {
			t.Errorf("added = %d, updated = %d", len(result.Added), len(result.Updated))
		}
	})

	t.Run("IdenticalCapabilitiesEmitNoUpdate", func(t *testing.T) {
		current := map[uint32]*Device{
			0: FromDescriptor(0, vibrateDescriptor("A", 1)),
		}
		// Same capability set delivered again; map ordering cannot
		// matter and the record must be left untouched.
		result := Reconcile(current, map[uint32]wire.DeviceDescriptor{
			0: vibrateDescriptor("A", 1),
		})

		if len(result.Updated) != 0 || len(result.Added) != 0 || len(result.Removed) != 0 {
			t.Errorf("diff = %+v", result)
		}
		if result.Devices[0] != current[0] {
			t.Error("unchanged device was replaced")
		}
	})

	t.Run("ChangedRangeEmitsUpdate", func(t *testing.T) {
		current := map[uint32]*Device{
			0: FromDescriptor(0, vibrateDescriptor("A", 1)),
		}
		result := Reconcile(current, map[uint32]wire.DeviceDescriptor{
			0: vibrateDescriptor("A", 0.5),
		})

		if len(result.Updated) != 1 {
			t.Fatalf("updated = %d, want 1", len(result.Updated))
		}
		if got, _ := result.Updated[0].Output(0, "Vibrate"); got.Max != 0.5 {
			t.Errorf("updated range max = %v, want 0.5", got.Max)
		}
		if result.Devices[0] == current[0] {
			t.Error("record not replaced on update")
		}
	})

	t.Run("NewIndexEmitsAdd", func(t *testing.T) {
		current := map[uint32]*Device{
			0: FromDescriptor(0, vibrateDescriptor("A", 1)),
		}
		result := Reconcile(current, map[uint32]wire.DeviceDescriptor{
			0: vibrateDescriptor("A", 1),
			4: vibrateDescriptor("B", 1),
		})

		if len(result.Added) != 1 || result.Added[0].Index != 4 {
			t.Fatalf("added = %+v", result.Added)
		}
		if len(result.Devices) != 2 {
			t.Errorf("final inventory = %d devices, want 2", len(result.Devices))
		}
	})

	t.Run("MixedDiff", func(t *testing.T) {
		current := map[uint32]*Device{
			0: FromDescriptor(0, vibrateDescriptor("A", 1)),
			1: FromDescriptor(1, vibrateDescriptor("B", 1)),
			2: FromDescriptor(2, vibrateDescriptor("C", 1)),
		}
		result := Reconcile(current, map[uint32]wire.DeviceDescriptor{
			1: vibrateDescriptor("B", 0.25),
			2: vibrateDescriptor("C", 1),
			5: vibrateDescriptor("D", 1),
		})

		if len(result.Removed) != 1 || result.Removed[0].Index != 0 {
			t.Errorf("removed = %+v", result.Removed)
		}
		if len(result.Updated) != 1 || result.Updated[0].Index != 1 {
			t.Errorf("updated = %+v", result.Updated)
		}
		if len(result.Added) != 1 || result.Added[0].Index != 5 {
			t.Errorf("added = %+v", result.Added)
		}
		if len(result.Devices) != 3 {
			t.Errorf("final inventory = %d devices, want 3", len(result.Devices))
		}
	})

	t.Run("DoesNotMutateCurrent", func(t *testing.T) {
		a := FromDescriptor(0, vibrateDescriptor("A", 1))
		current := map[uint32]*Device{0: a}

		Reconcile(current, map[uint32]wire.DeviceDescriptor{})
		if len(current) != 1 || current[0] != a {
			t.Error("current map was mutated")
		}
	})
}
