package vramarray

import "github.com/tugrul512bit/vramarray/accel"

// DeviceDepot enumerates every accelerator device across all platforms
// once, at construction, and records each device's VRAM size and name.
// It holds no state afterwards; VirtualMultiArray consumes its snapshot.
type DeviceDepot struct {
	devices []accel.DeviceInfo
}

// NewDeviceDepot enumerates platforms and devices through backend.
func NewDeviceDepot(backend accel.Backend) (*DeviceDepot, error) {
	platforms, err := backend.EnumeratePlatforms()
	if err != nil {
		return nil, wrapAccel("EnumeratePlatforms", err)
	}

	var all []accel.DeviceInfo
	for _, p := range platforms {
		infos, err := backend.EnumerateDevices(p)
		if err != nil {
			return nil, wrapAccel("EnumerateDevices", err)
		}
		all = append(all, infos...)
	}

	return &DeviceDepot{devices: all}, nil
}

// Devices returns the snapshot of devices found at construction.
func (d *DeviceDepot) Devices() []accel.DeviceInfo {
	return append([]accel.DeviceInfo(nil), d.devices...)
}

// VRAMGiB returns the VRAM size reported for device i, or 0 if out of range.
func (d *DeviceDepot) VRAMGiB(i int) int {
	if i < 0 || i >= len(d.devices) {
		return 0
	}
	return d.devices[i].VRAMGiB
}
