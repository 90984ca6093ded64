package vramarray

// MemMode selects how VirtualMultiArray derives the per-physical-device
// channel multiplier (the number of virtual devices carved from each
// physical device).
type MemMode int

const (
	// UseDefault takes MemMult[i] when provided, else 4.
	UseDefault MemMode = iota
	// UseVramRatios sizes the multiplier to each device's VRAM in GiB,
	// for devices MemMult marks as enabled.
	UseVramRatios
	// UsePcieRatios is not implemented; selecting it fails with NotImplemented.
	UsePcieRatios
)

func (m MemMode) String() string {
	switch m {
	case UseDefault:
		return "UseDefault"
	case UseVramRatios:
		return "UseVramRatios"
	case UsePcieRatios:
		return "UsePcieRatios"
	default:
		return "MemMode(unknown)"
	}
}

// deriveMultipliers computes the channel multiplier per physical device
// per spec.md §4.F. A missing MemMult entry under UseVramRatios is treated
// as "enabled" (SPEC_FULL.md §11 Open Question decision).
func deriveMultipliers(mode MemMode, memMult []int, vramGiB []int) ([]int, error) {
	n := len(vramGiB)
	mult := make([]int, n)

	switch mode {
	case UseDefault:
		for i := 0; i < n; i++ {
			if i < len(memMult) {
				mult[i] = memMult[i]
			} else {
				mult[i] = 4
			}
		}
	case UseVramRatios:
		for i := 0; i < n; i++ {
			enabled := i >= len(memMult) || memMult[i] != 0
			if enabled {
				mult[i] = vramGiB[i]
			}
		}
	case UsePcieRatios:
		return nil, &NotImplemented{Msg: "MemMode UsePcieRatios"}
	default:
		return nil, argErrorf("unknown MemMode %v", mode)
	}

	return mult, nil
}
