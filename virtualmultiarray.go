package vramarray

import (
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/tugrul512bit/vramarray/accel"
)

// Config carries VirtualMultiArray's construction inputs, matching
// vulkango's *CreateInfo struct convention for grouping constructor
// arguments.
type Config struct {
	N              int
	PageSize       int
	NumActivePages int // A
	MemMult        []int
	MemMode        MemMode
	UsePinned      bool
	UseClock       bool
	Debug          bool
}

// VirtualMultiArray composes virtual devices into one logical array of N
// elements of T, interleaving logical pages across virtual devices and
// guarding each virtual device with its own mutex.
type VirtualMultiArray[T any] struct {
	backend  accel.Backend
	devices  []*VirtualDevice[T]
	mutexes  []*paddedMutex
	pageSize int
	p        int // total pages
	v        int // total virtual devices (channels)
	n        int
	elemSize int

	findMu sync.Mutex
}

// NewVirtualMultiArray validates Config against depot's device inventory,
// derives the channel multiplier per device, and constructs one
// VirtualDevice per channel in the two sweeps described in spec.md §4.F:
// first one fresh-context virtual device per physical device with a
// nonzero multiplier, then the remaining virtual devices for each such
// device sharing that first context.
func NewVirtualMultiArray[T any](backend accel.Backend, depot *DeviceDepot, cfg Config) (*VirtualMultiArray[T], error) {
	if cfg.PageSize <= 0 || cfg.N%cfg.PageSize != 0 {
		return nil, argErrorf("N (%d) must be a positive multiple of pageSize (%d)", cfg.N, cfg.PageSize)
	}
	if cfg.NumActivePages <= 0 {
		return nil, argErrorf("numActivePages must be positive, got %d", cfg.NumActivePages)
	}
	p := cfg.N / cfg.PageSize

	infos := depot.Devices()
	vramGiB := make([]int, len(infos))
	for i, info := range infos {
		vramGiB[i] = info.VRAMGiB
	}

	mult, err := deriveMultipliers(cfg.MemMode, cfg.MemMult, vramGiB)
	if err != nil {
		return nil, err
	}

	v := 0
	for _, m := range mult {
		if m > 0 {
			v += m
		}
	}
	if v <= 0 {
		return nil, argErrorf("no enabled virtual devices (check MemMult/MemMode)")
	}
	if v > p {
		return nil, argErrorf("too many virtual devices (%d) for array of %d pages", v, p)
	}
	if v*cfg.NumActivePages > p {
		return nil, argErrorf("too many active pages (%d per device x %d devices) for array of %d pages", cfg.NumActivePages, v, p)
	}

	// Sweep 1: one virtual device per physical device with a nonzero
	// multiplier, each on a fresh context.
	firstCtx := make([]accel.Context, len(mult))
	for i, m := range mult {
		if m <= 0 {
			continue
		}
		ctx, err := backend.CreateContext(infos[i].Device)
		if err != nil {
			return nil, wrapAccel("CreateContext", err)
		}
		firstCtx[i] = ctx
	}

	// Sweep 2 (planning): build the flat list of (physicalDeviceIndex,
	// context) pairs in the order virtual devices are assigned, first
	// picks before clones, matching the construction order in spec.md §4.F.
	type vdevPlan struct {
		deviceIdx int
		ctx       accel.Context
	}
	var plan []vdevPlan
	for i, m := range mult {
		if m > 0 {
			plan = append(plan, vdevPlan{deviceIdx: i, ctx: firstCtx[i]})
		}
	}
	for i, m := range mult {
		for extra := 1; extra < m; extra++ {
			plan = append(plan, vdevPlan{deviceIdx: i, ctx: firstCtx[i]})
		}
	}

	devices := make([]*VirtualDevice[T], v)
	mutexes := make([]*paddedMutex, v)
	extraPages := p % v
	basePages := p / v

	for idx, pl := range plan {
		numLocalPages := basePages
		if idx < extraPages {
			numLocalPages++
		}
		vd, err := NewVirtualDevice[T](backend, infos[pl.deviceIdx].Device, pl.ctx, VirtualDeviceConfig{
			PageSize:       cfg.PageSize,
			NumActivePages: cfg.NumActivePages,
			NumElements:    numLocalPages * cfg.PageSize,
			UsePinned:      cfg.UsePinned,
			UseClock:       cfg.UseClock,
			Debug:          cfg.Debug,
		})
		if err != nil {
			return nil, err
		}
		devices[idx] = vd
		mutexes[idx] = &paddedMutex{}
	}

	var zero T
	return &VirtualMultiArray[T]{
		backend:  backend,
		devices:  devices,
		mutexes:  mutexes,
		pageSize: cfg.PageSize,
		p:        p,
		v:        v,
		n:        cfg.N,
		elemSize: int(unsafe.Sizeof(zero)),
	}, nil
}

// Close releases every virtual device.
func (vm *VirtualMultiArray[T]) Close() error {
	var first error
	for _, d := range vm.devices {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TotalChannels returns V, the total number of virtual devices.
func (vm *VirtualMultiArray[T]) TotalChannels() int { return vm.v }

// N returns the logical element count.
func (vm *VirtualMultiArray[T]) N() int { return vm.n }

// addr computes the (virtual device, local index) pair for a global
// logical index, per spec.md §4.F's address arithmetic.
func (vm *VirtualMultiArray[T]) addr(i int) (vdev, local int) {
	page := i / vm.pageSize
	interleave := page / vm.v
	vdev = page % vm.v
	local = interleave*vm.pageSize + (i % vm.pageSize)
	return vdev, local
}

// Get returns element i.
func (vm *VirtualMultiArray[T]) Get(i int) (T, error) {
	vdev, local := vm.addr(i)
	vm.mutexes[vdev].Lock()
	defer vm.mutexes[vdev].Unlock()
	return vm.devices[vdev].Get(local)
}

// Set writes element i.
func (vm *VirtualMultiArray[T]) Set(i int, val T) error {
	vdev, local := vm.addr(i)
	vm.mutexes[vdev].Lock()
	defer vm.mutexes[vdev].Unlock()
	return vm.devices[vdev].Set(local, val)
}

// ReadRange returns n elements starting at i. It walks page boundaries,
// acquiring each covered virtual device's mutex only for that page's
// slice; it is not atomic across pages.
func (vm *VirtualMultiArray[T]) ReadRange(i, n int) ([]T, error) {
	out := make([]T, 0, n)
	for n > 0 {
		vdev, local, take := vm.pageSlice(i, n)
		vm.mutexes[vdev].Lock()
		part, err := vm.devices[vdev].GetRange(local, take)
		vm.mutexes[vdev].Unlock()
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
		i += take
		n -= take
	}
	return out, nil
}

// WriteRange writes n elements from src[srcOff:] starting at i, under the
// same per-page locking discipline as ReadRange.
func (vm *VirtualMultiArray[T]) WriteRange(i int, src []T, srcOff, n int) error {
	for n > 0 {
		vdev, local, take := vm.pageSlice(i, n)
		vm.mutexes[vdev].Lock()
		err := vm.devices[vdev].SetRange(local, src, srcOff, take)
		vm.mutexes[vdev].Unlock()
		if err != nil {
			return err
		}
		i += take
		srcOff += take
		n -= take
	}
	return nil
}

// pageSlice returns the virtual device and local index for global index i,
// plus how many elements can be taken before crossing a page boundary
// (capped at n).
func (vm *VirtualMultiArray[T]) pageSlice(i, n int) (vdev, local, take int) {
	vdev, local = vm.addr(i)
	offsetInPage := i % vm.pageSize
	take = vm.pageSize - offsetInPage
	if take > n {
		take = n
	}
	return vdev, local, take
}

// GetUncached forwards to the owning virtual device under its mutex.
// Valid only within a StreamStart/StreamStop bracket.
func (vm *VirtualMultiArray[T]) GetUncached(i int) (T, error) {
	vdev, local := vm.addr(i)
	vm.mutexes[vdev].Lock()
	defer vm.mutexes[vdev].Unlock()
	return vm.devices[vdev].GetUncached(local)
}

// SetUncached forwards to the owning virtual device under its mutex.
func (vm *VirtualMultiArray[T]) SetUncached(i int, val T) error {
	vdev, local := vm.addr(i)
	vm.mutexes[vdev].Lock()
	defer vm.mutexes[vdev].Unlock()
	return vm.devices[vdev].SetUncached(local, val)
}

// StreamStart flushes every active, edited page on every virtual device
// concurrently, one helper goroutine per virtual device, each holding its
// own virtual device's mutex, joining all of them before returning.
// Required before GetUncached/SetUncached so the device content those
// bypass-the-cache calls see is authoritative.
func (vm *VirtualMultiArray[T]) StreamStart() error {
	var g errgroup.Group
	for id, d := range vm.devices {
		id, d := id, d
		g.Go(func() error {
			vm.mutexes[id].Lock()
			defer vm.mutexes[id].Unlock()
			return d.FlushAllPages()
		})
	}
	return g.Wait()
}

// StreamStop reloads every active page on every virtual device from
// device memory concurrently, each under its own virtual device's mutex,
// discarding any buffered edits made outside the StreamStart/StreamStop
// bracket.
func (vm *VirtualMultiArray[T]) StreamStop() error {
	var g errgroup.Group
	for id, d := range vm.devices {
		id, d := id, d
		g.Go(func() error {
			vm.mutexes[id].Lock()
			defer vm.mutexes[id].Unlock()
			return d.ReloadAllPages()
		})
	}
	return g.Wait()
}

// Find takes the byte offset of a member within T's layout (as
// unsafe.Offsetof reports for a field) and the member's bytes, and fans
// out to every virtual device: each locks itself, flushes its active
// pages, scans for elements whose [memberOffset, memberOffset+len(value))
// bytes equal value, and translates local hits back to global indices.
// The merged result holds at most maxHits indices, in unspecified order.
func (vm *VirtualMultiArray[T]) Find(memberOffset int, value []byte, maxHits int) ([]int, error) {
	var merged []int
	var g errgroup.Group
	for id, d := range vm.devices {
		id, d := id, d
		g.Go(func() error {
			vm.mutexes[id].Lock()
			defer vm.mutexes[id].Unlock()

			local, err := d.Find(memberOffset, value, maxHits)
			if err != nil {
				return err
			}

			globals := make([]int, len(local))
			for k, e := range local {
				globals[k] = ((e/vm.pageSize)*vm.v + id) * vm.pageSize + (e % vm.pageSize)
			}

			vm.findMu.Lock()
			if room := maxHits - len(merged); room > 0 {
				if len(globals) > room {
					globals = globals[:room]
				}
				merged = append(merged, globals...)
			}
			vm.findMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return merged, err
	}
	return merged, nil
}
