package vramarray

import (
	"unsafe"

	"github.com/tugrul512bit/vramarray/accel"
)

// UnboundPage is the targetFrozenPage sentinel for a PinnedPage that has
// never been swapped in.
const UnboundPage = -1

// PinnedPage is one page-sized, aligned, optionally page-locked host
// buffer. It carries an edited flag and the logical frozen page it
// currently shadows, expressed in the local numbering of its virtual
// device. PinnedPage has no thread safety of its own; callers (PageCache,
// VirtualDevice) serialize access to it.
type PinnedPage[T any] struct {
	backend  accel.Backend
	host     accel.HostBuffer
	pageSize int

	edited bool
	target int
}

// NewPinnedPage allocates a pageSize-element host buffer through backend,
// page-locked when pinned is true.
func NewPinnedPage[T any](backend accel.Backend, ctx accel.Context, pageSize int, pinned bool) (*PinnedPage[T], error) {
	var zero T
	elemSize := int(unsafe.Sizeof(zero))
	host, err := backend.CreateHostPinnedBuffer(ctx, pageSize*elemSize, pinned)
	if err != nil {
		return nil, wrapAccel("CreateHostPinnedBuffer", err)
	}
	return &PinnedPage[T]{
		backend:  backend,
		host:     host,
		pageSize: pageSize,
		target:   UnboundPage,
	}, nil
}

// Close releases the page's host buffer.
func (p *PinnedPage[T]) Close() error {
	return wrapAccel("FreeHostBuffer", p.backend.FreeHostBuffer(p.host))
}

func (p *PinnedPage[T]) slice() []T {
	return typedSlice[T](p.host.Data())
}

// Bytes exposes the raw page bytes, for transfer APIs that move whole
// pages between host and device without going through T.
func (p *PinnedPage[T]) Bytes() []byte { return p.host.Data() }

// Get returns element i of the page.
func (p *PinnedPage[T]) Get(i int) T { return p.slice()[i] }

// Set writes element i and marks the page edited.
func (p *PinnedPage[T]) Set(i int, v T) {
	p.slice()[i] = v
	p.MarkEdited()
}

// GetRange returns a copy of n elements starting at i.
func (p *PinnedPage[T]) GetRange(i, n int) []T {
	out := make([]T, n)
	copy(out, p.slice()[i:i+n])
	return out
}

// SetRange copies n elements from src[srcOffset:] into the page at i and
// marks the page edited.
func (p *PinnedPage[T]) SetRange(i int, src []T, srcOffset, n int) {
	copy(p.slice()[i:i+n], src[srcOffset:srcOffset+n])
	p.MarkEdited()
}

// ReadInto copies n elements starting at i into dst, without touching the
// edited flag.
func (p *PinnedPage[T]) ReadInto(dst []T, i, n int) {
	copy(dst, p.slice()[i:i+n])
}

// WriteFrom copies n elements from src into the page at i and marks the
// page edited.
func (p *PinnedPage[T]) WriteFrom(src []T, i, n int) {
	copy(p.slice()[i:i+n], src[:n])
	p.MarkEdited()
}

// MarkEdited records that the host shadow is now the authoritative copy.
func (p *PinnedPage[T]) MarkEdited() { p.edited = true }

// Edited reports whether the host shadow has unflushed writes.
func (p *PinnedPage[T]) Edited() bool { return p.edited }

// Reset clears the edited flag, used once a page's content has been
// written back to or freshly downloaded from the device.
func (p *PinnedPage[T]) Reset() { p.edited = false }

// SetFrozenTarget records which logical page (local numbering) this
// shadow now holds.
func (p *PinnedPage[T]) SetFrozenTarget(page int) { p.target = page }

// GetFrozenTarget returns the logical page this shadow currently holds,
// or UnboundPage if it has never been bound.
func (p *PinnedPage[T]) GetFrozenTarget() int { return p.target }

// typedSlice reinterprets a byte buffer as a slice of T, assuming data's
// length is a multiple of sizeof(T). T is expected to be a fixed-size,
// trivially-copyable element type, per the container's element contract.
func typedSlice[T any](data []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if size == 0 || len(data) == 0 {
		return nil
	}
	n := len(data) / size
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}
