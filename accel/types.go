// Package accel is the capability layer the rest of vramarray is built on:
// platform/device enumeration, contexts, in-order queues, device buffers,
// pinned host buffers, and blocking/non-blocking transfers and kernels.
//
// It is the seam named "opaque capability layer" by the container this
// package backs: nothing above this package knows or cares whether a
// Backend talks to real hardware or, as with hostBackend, simulates device
// memory in the host process.
package accel

import "unsafe"

// Platform is an opaque accelerator platform handle (a vendor runtime).
type Platform struct {
	id int
}

// PhysicalDevice is an opaque accelerator device handle within a Platform.
type PhysicalDevice struct {
	platform Platform
	id       int
}

// Platform returns the platform a device was enumerated from.
func (d PhysicalDevice) Platform() Platform { return d.platform }

// DeviceInfo is what EnumerateDevices reports about one PhysicalDevice.
type DeviceInfo struct {
	Device  PhysicalDevice
	VRAMGiB int
	Name    string
}

// Context groups queues and buffers that may share device resources.
// Two virtual devices carved from the same physical device may share a
// Context so their queues can overlap transfers.
type Context struct {
	id     int
	device PhysicalDevice
}

// Device returns the physical device a context was created on.
func (c Context) Device() PhysicalDevice { return c.device }

// Queue is an in-order command queue bound to a Context.
type Queue struct {
	id  int
	ctx Context
}

// DeviceBuffer is a linear allocation in device ("VRAM") memory.
type DeviceBuffer struct {
	id   int
	size int
}

// Size reports the buffer's length in bytes.
func (b DeviceBuffer) Size() int { return b.size }

// HostBuffer is a host-resident allocation, optionally page-locked.
// Data gives direct byte access — for a pinned buffer this is the mapped,
// mlock'd region itself; transfers read/write it directly with no
// intermediate copy.
type HostBuffer struct {
	id     int
	data   []byte
	pinned bool
}

// Data returns the backing bytes of the host buffer.
func (b HostBuffer) Data() []byte { return b.data }

// Pinned reports whether the buffer is page-locked.
func (b HostBuffer) Pinned() bool { return b.pinned }

// Ptr returns a raw pointer to the buffer's first byte, for callers that
// need to pass the buffer to code expecting unsafe.Pointer/C interop.
func (b HostBuffer) Ptr() unsafe.Pointer {
	if len(b.data) == 0 {
		return nil
	}
	return unsafe.Pointer(&b.data[0])
}

// Event represents the completion of one enqueued operation.
type Event struct {
	done <-chan struct{}
	err  func() error
}

// Wait blocks the caller until the event completes, spin-yielding so
// sibling queues can make progress on this goroutine's core in the
// meantime. This is the one mechanism used for the "allow other threads to
// overlap their transfers" discipline described by the container's
// design notes — no OS-specific branch is needed for an in-process backend.
func (e Event) Wait() error {
	waitSpinYield(e.done)
	if e.err != nil {
		return e.err()
	}
	return nil
}

// Kernel is a unit of work enqueued to run against device memory. The
// exact kernel source for the search contract is out of scope; Fn stands
// in for a compiled device kernel and is invoked by the backend against
// the raw bytes of the target DeviceBuffer.
type Kernel struct {
	Name string
	Fn   func(mem []byte) error
}
