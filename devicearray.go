package vramarray

import (
	"unsafe"

	"github.com/tugrul512bit/vramarray/accel"
)

// DeviceArray is a thin owning wrapper around one device-resident linear
// buffer of T, sized for one virtual device's share of the logical array.
// Its buffer handle is shared among the virtual device's queue, cache, and
// the find kernel as a transfer/kernel argument.
type DeviceArray[T any] struct {
	backend accel.Backend
	buf     accel.DeviceBuffer
	count   int // number of T elements
}

// NewDeviceArray allocates a device buffer for count elements of T.
func NewDeviceArray[T any](backend accel.Backend, ctx accel.Context, count int) (*DeviceArray[T], error) {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	buf, err := backend.CreateDeviceBuffer(ctx, count*elemSize)
	if err != nil {
		return nil, wrapAccel("CreateDeviceBuffer", err)
	}
	return &DeviceArray[T]{backend: backend, buf: buf, count: count}, nil
}

// Close releases the device buffer.
func (d *DeviceArray[T]) Close() error {
	return wrapAccel("FreeDeviceBuffer", d.backend.FreeDeviceBuffer(d.buf))
}

// Buffer exposes the backing accel.DeviceBuffer for transfer and kernel
// arguments.
func (d *DeviceArray[T]) Buffer() accel.DeviceBuffer { return d.buf }

// Count returns the number of T elements the buffer holds.
func (d *DeviceArray[T]) Count() int { return d.count }

// ElemSize returns sizeof(T) in bytes.
func (d *DeviceArray[T]) ElemSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}
