package vramarray

import "github.com/tugrul512bit/vramarray/accel"

// MappedRegion is the view MappedReadWriteAccess's callback receives: a
// host buffer covering [base, base+Len()) of the logical array, addressed
// by absolute logical index rather than a 0-based buffer offset.
type MappedRegion[T any] struct {
	buf  []T
	base int
}

// At returns a pointer to the element at absolute logical index i. i must
// lie within [Base(), Base()+Len()).
func (r MappedRegion[T]) At(i int) *T { return &r.buf[i-r.base] }

// Base returns the absolute logical index the region starts at.
func (r MappedRegion[T]) Base() int { return r.base }

// Len returns the number of elements the region covers.
func (r MappedRegion[T]) Len() int { return len(r.buf) }

// MappedReadWriteAccess stages a host buffer covering [i, i+n), optionally
// reading the current contents in, invokes f against it addressed by
// absolute logical index, then optionally writes it back — all per
// spec.md §4.F. Page boundaries within [i, i+n) are walked inclusively
// (SPEC_FULL.md §11): each page's slice is streamed under its own virtual
// device's mutex, so the region is not atomic across pages; the caller
// owns synchronization for that.
//
// userBuf, when non-nil, must have length >= n and is used in place of an
// internally allocated buffer; it is never pinned/unpinned or freed by
// this call unless pin is true, in which case it is unpinned again before
// return.
func (vm *VirtualMultiArray[T]) MappedReadWriteAccess(i, n int, f func(MappedRegion[T]), pin, read, write bool, userBuf []T) error {
	var buf []T
	if userBuf != nil {
		if len(userBuf) < n {
			return argErrorf("userBuf length %d shorter than requested n=%d", len(userBuf), n)
		}
		buf = userBuf[:n]
	} else {
		buf = make([]T, n)
	}

	if pin {
		if err := accel.Pin(byteViewOf(buf)); err != nil {
			return &ResourceError{Msg: "pin mapped region", Err: err}
		}
		defer accel.Unpin(byteViewOf(buf))
	}

	if read {
		if err := vm.streamInto(buf, i); err != nil {
			return err
		}
	}

	f(MappedRegion[T]{buf: buf, base: i})

	if write {
		if err := vm.streamOut(buf, i); err != nil {
			return err
		}
	}

	return nil
}

// streamInto fills dst (length n) with the logical range [i, i+n),
// acquiring each covered virtual device's mutex per page.
func (vm *VirtualMultiArray[T]) streamInto(dst []T, i int) error {
	n := len(dst)
	pos := 0
	for n > 0 {
		vdev, local, take := vm.pageSlice(i, n)
		vm.mutexes[vdev].Lock()
		err := vm.devices[vdev].CopyToBuffer(local, take, dst[pos:pos+take])
		vm.mutexes[vdev].Unlock()
		if err != nil {
			return err
		}
		i += take
		pos += take
		n -= take
	}
	return nil
}

// streamOut writes src (length n) back to the logical range [i, i+n),
// under the same per-page locking discipline as streamInto.
func (vm *VirtualMultiArray[T]) streamOut(src []T, i int) error {
	n := len(src)
	pos := 0
	for n > 0 {
		vdev, local, take := vm.pageSlice(i, n)
		vm.mutexes[vdev].Lock()
		err := vm.devices[vdev].CopyFromBuffer(local, take, src[pos:pos+take])
		vm.mutexes[vdev].Unlock()
		if err != nil {
			return err
		}
		i += take
		pos += take
		n -= take
	}
	return nil
}
