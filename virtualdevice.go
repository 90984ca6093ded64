package vramarray

import (
	"runtime"
	"sync"

	"github.com/tugrul512bit/vramarray/accel"
)

// VirtualDevice is a single virtual accelerator: it owns a DeviceArray, a
// queue, a pool of active pages and the PageCache fronting them, and
// exposes element get/set, bulk get/set, copy-to/from an external buffer,
// uncached single-element get/set, flush/reload, and accelerated find.
// All operations here take local indices; VirtualMultiArray translates
// from global logical indices.
type VirtualDevice[T any] struct {
	backend accel.Backend
	device  accel.PhysicalDevice
	ctx     accel.Context
	queue   accel.Queue

	array    *DeviceArray[T]
	pages    []*PinnedPage[T]
	cache    *PageCache[T]
	pageSize int
}

// VirtualDeviceConfig carries construction options that do not fit the
// positional-argument constructor without becoming unreadable.
type VirtualDeviceConfig struct {
	PageSize       int
	NumActivePages int
	NumElements    int // N_v
	UsePinned      bool
	UseClock       bool
	Debug          bool
}

// NewVirtualDevice allocates the device buffer, active page pool and cache
// for one virtual device on ctx (which may be shared with sibling virtual
// devices carved from the same physical device).
func NewVirtualDevice[T any](backend accel.Backend, device accel.PhysicalDevice, ctx accel.Context, cfg VirtualDeviceConfig) (*VirtualDevice[T], error) {
	queue, err := backend.CreateQueue(ctx)
	if err != nil {
		return nil, wrapAccel("CreateQueue", err)
	}

	array, err := NewDeviceArray[T](backend, ctx, cfg.NumElements)
	if err != nil {
		return nil, err
	}

	pages := make([]*PinnedPage[T], cfg.NumActivePages)
	for i := range pages {
		pg, err := NewPinnedPage[T](backend, ctx, cfg.PageSize, cfg.UsePinned)
		if err != nil {
			return nil, err
		}
		pages[i] = pg
	}

	cache := NewPageCache[T](backend, queue, array, cfg.PageSize, pages, cfg.UseClock, cfg.Debug)

	return &VirtualDevice[T]{
		backend:  backend,
		device:   device,
		ctx:      ctx,
		queue:    queue,
		array:    array,
		pages:    pages,
		cache:    cache,
		pageSize: cfg.PageSize,
	}, nil
}

// Close releases the device buffer, every active page, and the device's
// queue (and its backing worker goroutine).
func (vd *VirtualDevice[T]) Close() error {
	var first error
	for _, p := range vd.pages {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := vd.array.Close(); err != nil && first == nil {
		first = err
	}
	if err := vd.backend.DestroyQueue(vd.queue); err != nil && first == nil {
		first = wrapAccel("DestroyQueue", err)
	}
	return first
}

// Count returns N_v, the number of elements this virtual device holds.
func (vd *VirtualDevice[T]) Count() int { return vd.array.Count() }

// Cache exposes the page cache, mainly for debug-instrumentation reads.
func (vd *VirtualDevice[T]) Cache() *PageCache[T] { return vd.cache }

// Get returns element i (local index).
func (vd *VirtualDevice[T]) Get(i int) (T, error) {
	page, err := vd.cache.Access(i / vd.pageSize)
	if err != nil {
		var zero T
		return zero, err
	}
	return page.Get(i % vd.pageSize), nil
}

// Set writes element i (local index) and marks its page edited.
func (vd *VirtualDevice[T]) Set(i int, v T) error {
	page, err := vd.cache.Access(i / vd.pageSize)
	if err != nil {
		return err
	}
	page.Set(i%vd.pageSize, v)
	return nil
}

// GetRange returns n elements starting at local index i. The caller
// guarantees i+n <= pageSize within one page.
func (vd *VirtualDevice[T]) GetRange(i, n int) ([]T, error) {
	page, err := vd.cache.Access(i / vd.pageSize)
	if err != nil {
		return nil, err
	}
	return page.GetRange(i%vd.pageSize, n), nil
}

// SetRange writes n elements from src[srcOff:] starting at local index i.
func (vd *VirtualDevice[T]) SetRange(i int, src []T, srcOff, n int) error {
	page, err := vd.cache.Access(i / vd.pageSize)
	if err != nil {
		return err
	}
	page.SetRange(i%vd.pageSize, src, srcOff, n)
	return nil
}

// CopyToBuffer reads n elements starting at local index i directly from
// the active page's shadow into out.
func (vd *VirtualDevice[T]) CopyToBuffer(i, n int, out []T) error {
	page, err := vd.cache.Access(i / vd.pageSize)
	if err != nil {
		return err
	}
	page.ReadInto(out, i%vd.pageSize, n)
	return nil
}

// CopyFromBuffer writes n elements from in directly into the active
// page's shadow starting at local index i.
func (vd *VirtualDevice[T]) CopyFromBuffer(i, n int, in []T) error {
	page, err := vd.cache.Access(i / vd.pageSize)
	if err != nil {
		return err
	}
	page.WriteFrom(in, i%vd.pageSize, n)
	return nil
}

// GetUncached transfers exactly sizeof(T) from the device for element i,
// bypassing the cache. Well-defined only between a FlushAllPages and a
// ReloadAllPages bracket (VirtualMultiArray's streamStart/streamStop).
func (vd *VirtualDevice[T]) GetUncached(i int) (T, error) {
	var v T
	scratch := typedSlice[T](make([]byte, vd.array.ElemSize()))
	offset := i * vd.array.ElemSize()
	if _, err := vd.backend.EnqueueRead(vd.queue, vd.array.Buffer(), offset, byteViewOf(scratch), true); err != nil {
		return v, wrapAccel("EnqueueRead(uncached)", err)
	}
	return scratch[0], nil
}

// SetUncached transfers exactly sizeof(T) to the device for element i,
// bypassing the cache.
func (vd *VirtualDevice[T]) SetUncached(i int, v T) error {
	scratch := []T{v}
	offset := i * vd.array.ElemSize()
	if _, err := vd.backend.EnqueueWrite(vd.queue, vd.array.Buffer(), offset, byteViewOf(scratch), true); err != nil {
		return wrapAccel("EnqueueWrite(uncached)", err)
	}
	return nil
}

// FlushPage writes back slot if it is dirty and resets its edited flag.
func (vd *VirtualDevice[T]) FlushPage(slot int) error { return vd.cache.FlushSlot(slot) }

// ReloadPage unconditionally re-downloads slot's currently bound page.
func (vd *VirtualDevice[T]) ReloadPage(slot int) error { return vd.cache.ReloadSlot(slot) }

// FlushAllPages writes back every dirty active page.
func (vd *VirtualDevice[T]) FlushAllPages() error { return vd.cache.FlushDirty() }

// ReloadAllPages re-downloads every bound active page, discarding buffered
// edits made outside a stream bracket.
func (vd *VirtualDevice[T]) ReloadAllPages() error { return vd.cache.ReloadAll() }

// Find scans all N_v elements in parallel for byte equality between each
// element's [memberOffset, memberOffset+len(value)) bytes and value,
// returning up to maxHits matching local indices in unspecified order.
// All active pages are flushed first so device content is authoritative.
// The exact kernel this stands in for is out of scope; the contract
// (scan everything, atomically cap matches at maxHits) is what's specified.
func (vd *VirtualDevice[T]) Find(memberOffset int, value []byte, maxHits int) ([]int, error) {
	if err := vd.FlushAllPages(); err != nil {
		return nil, err
	}

	elemSize := vd.array.ElemSize()
	count := vd.array.Count()

	var mu sync.Mutex
	results := make([]int, 0, maxHits)

	kernel := accel.Kernel{
		Name: "find",
		Fn: func(mem []byte) error {
			scanMemberEquality(mem, count, elemSize, memberOffset, value, maxHits, &mu, &results)
			return nil
		},
	}

	ev, err := vd.backend.EnqueueKernel(vd.queue, kernel, vd.array.Buffer())
	if err != nil {
		return nil, wrapAccel("EnqueueKernel", err)
	}
	if err := ev.Wait(); err != nil {
		return nil, wrapAccel("WaitEvent(find)", err)
	}

	return results, nil
}

// scanMemberEquality is the host-executed stand-in for the device kernel:
// it partitions [0,count) across worker goroutines, comparing each
// element's member bytes against value with a 32-bit-aligned fast path,
// and appends matches under mu until maxHits is reached.
func scanMemberEquality(mem []byte, count, elemSize, memberOffset int, value []byte, maxHits int, mu *sync.Mutex, results *[]int) {
	workers := runtime.GOMAXPROCS(0)
	if workers > count {
		workers = count
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (count + workers - 1) / workers

	fastWord := len(value) == 4 && memberOffset%4 == 0

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > count {
			end = count
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			var local []int
			for i := start; i < end; i++ {
				base := i*elemSize + memberOffset
				var eq bool
				if fastWord {
					eq = mem[base] == value[0] && mem[base+1] == value[1] &&
						mem[base+2] == value[2] && mem[base+3] == value[3]
				} else {
					eq = bytesEqual(mem[base:base+len(value)], value)
				}
				if eq {
					local = append(local, i)
				}
			}
			if len(local) == 0 {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, idx := range local {
				if len(*results) >= maxHits {
					break
				}
				*results = append(*results, idx)
			}
		}(start, end)
	}
	wg.Wait()
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
