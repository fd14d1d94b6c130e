package device

import (
	"slices"

	"github.com/hapt-protocol/hapt-go/pkg/wire"
)

// Result describes the outcome of one reconciliation pass.
type Result struct {
	// Added holds devices present only in the incoming inventory.
	Added []*Device

	// Updated holds devices whose capability set changed; each entry
	// is the replacement record.
	Updated []*Device

	// Removed holds devices absent from the incoming inventory.
	Removed []*Device

	// Devices is the final authoritative inventory.
	Devices map[uint32]*Device
}

// Reconcile diffs the incoming inventory against the current one.
//
// Devices missing from incoming are removed. Devices present in both
// are rebuilt from the incoming descriptor and replace the current
// record only when their capability sets differ structurally; feature
// ordering in the raw payload never counts as a change. Devices
// present only in incoming are added. The current map is not mutated;
// Result.Devices is a fresh snapshot.
//
// Removed, Updated and Added are each sorted by device index so the
// same inputs always produce the same result, no matter which caller
// path invoked the pass.
func Reconcile(current map[uint32]*Device, incoming map[uint32]wire.DeviceDescriptor) Result {
	result := Result{
		Devices: make(map[uint32]*Device, len(incoming)),
	}

	for index, existing := range current {
		if _, ok := incoming[index]; !ok {
			result.Removed = append(result.Removed, existing)
		}
	}

	for index, desc := range incoming {
		candidate := FromDescriptor(index, desc)

		existing, known := current[index]
		switch {
		case !known:
			result.Added = append(result.Added, candidate)
			result.Devices[index] = candidate
		case !SameCapabilities(existing, candidate):
			result.Updated = append(result.Updated, candidate)
			result.Devices[index] = candidate
		default:
			result.Devices[index] = existing
		}
	}

	sortByIndex(result.Added)
	sortByIndex(result.Updated)
	sortByIndex(result.Removed)
	return result
}

func sortByIndex(devices []*Device) {
	slices.SortFunc(devices, func(a, b *Device) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
}
