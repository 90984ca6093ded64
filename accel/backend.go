package accel

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Backend is the capability layer the rest of vramarray depends on. It is
// the narrow surface specified for the accelerator API: platform/device
// enumeration, context/queue/buffer lifecycle, transfers, kernels and
// event waits. Every method either succeeds or returns an *Error.
type Backend interface {
	EnumeratePlatforms() ([]Platform, error)
	EnumerateDevices(p Platform) ([]DeviceInfo, error)

	CreateContext(d PhysicalDevice) (Context, error)
	CreateQueue(c Context) (Queue, error)
	DestroyQueue(q Queue) error

	CreateDeviceBuffer(c Context, bytes int) (DeviceBuffer, error)
	FreeDeviceBuffer(b DeviceBuffer) error

	CreateHostPinnedBuffer(c Context, bytes int, pinned bool) (HostBuffer, error)
	FreeHostBuffer(b HostBuffer) error

	EnqueueRead(q Queue, buf DeviceBuffer, offset int, dst []byte, blocking bool) (Event, error)
	EnqueueWrite(q Queue, buf DeviceBuffer, offset int, src []byte, blocking bool) (Event, error)
	EnqueueKernel(q Queue, k Kernel, target DeviceBuffer) (Event, error)

	Flush(q Queue) error
	Finish(q Queue) error
}

// hostBackend simulates device memory as host process memory, one byte
// slab per DeviceBuffer, with each Queue a single goroutine draining a
// command channel in submission order — an in-order queue without a real
// device behind it. This is the concrete Backend the opaque capability
// layer resolves to in this module; a real cgo-backed implementation
// (Vulkan/OpenCL, in vulkango's own style) satisfies the same interface.
type hostBackend struct {
	log *slog.Logger

	mu         sync.Mutex
	nextID     int
	platforms  []Platform
	devices    map[Platform][]DeviceInfo
	deviceMem  map[int][]byte // DeviceBuffer.id -> backing slab
	queueWorks map[int]chan func()
}

// NewHostBackend builds a Backend reporting the given per-platform device
// inventory. Passing no platforms yields a single synthetic platform with
// one synthetic device, which is enough for tests and for single-GPU use.
func NewHostBackend(platformDeviceCounts ...int) Backend {
	if len(platformDeviceCounts) == 0 {
		platformDeviceCounts = []int{1}
	}
	b := &hostBackend{
		log:        slog.Default().With("component", "accel.hostBackend"),
		devices:    make(map[Platform][]DeviceInfo),
		deviceMem:  make(map[int][]byte),
		queueWorks: make(map[int]chan func()),
	}
	for _, n := range platformDeviceCounts {
		p := Platform{id: b.nextID}
		b.nextID++
		b.platforms = append(b.platforms, p)
		infos := make([]DeviceInfo, 0, n)
		for i := 0; i < n; i++ {
			pd := PhysicalDevice{platform: p, id: b.nextID}
			b.nextID++
			infos = append(infos, DeviceInfo{
				Device:  pd,
				VRAMGiB: 8,
				Name:    fmt.Sprintf("host-simulated-gpu-%d-%d", p.id, pd.id),
			})
		}
		b.devices[p] = infos
	}
	return b
}

func (b *hostBackend) EnumeratePlatforms() ([]Platform, error) {
	return append([]Platform(nil), b.platforms...), nil
}

func (b *hostBackend) EnumerateDevices(p Platform) ([]DeviceInfo, error) {
	infos, ok := b.devices[p]
	if !ok {
		return nil, newError(StatusInvalidContext, "EnumerateDevices", nil)
	}
	return append([]DeviceInfo(nil), infos...), nil
}

func (b *hostBackend) CreateContext(d PhysicalDevice) (Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	return Context{id: id, device: d}, nil
}

func (b *hostBackend) CreateQueue(c Context) (Queue, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	work := make(chan func(), 64)
	b.queueWorks[id] = work
	b.mu.Unlock()

	go func() {
		for fn := range work {
			fn()
		}
	}()

	return Queue{id: id, ctx: c}, nil
}

// DestroyQueue stops the queue's worker goroutine and releases its command
// channel. Any work already submitted drains before the goroutine exits.
func (b *hostBackend) DestroyQueue(q Queue) error {
	b.mu.Lock()
	work, ok := b.queueWorks[q.id]
	if ok {
		delete(b.queueWorks, q.id)
	}
	b.mu.Unlock()
	if !ok {
		return newError(StatusInvalidQueue, "DestroyQueue", fmt.Errorf("unknown queue %d", q.id))
	}
	close(work)
	return nil
}

func (b *hostBackend) CreateDeviceBuffer(c Context, bytes int) (DeviceBuffer, error) {
	if bytes < 0 {
		return DeviceBuffer{}, newError(StatusInvalidBuffer, "CreateDeviceBuffer", fmt.Errorf("negative size"))
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.deviceMem[id] = make([]byte, bytes)
	b.mu.Unlock()
	return DeviceBuffer{id: id, size: bytes}, nil
}

func (b *hostBackend) FreeDeviceBuffer(buf DeviceBuffer) error {
	b.mu.Lock()
	delete(b.deviceMem, buf.id)
	b.mu.Unlock()
	return nil
}

func (b *hostBackend) FreeHostBuffer(hb HostBuffer) error {
	return freeHostBuffer(hb)
}

func (b *hostBackend) memFor(buf DeviceBuffer) ([]byte, error) {
	b.mu.Lock()
	mem, ok := b.deviceMem[buf.id]
	b.mu.Unlock()
	if !ok {
		return nil, newError(StatusInvalidBuffer, "memFor", fmt.Errorf("unknown device buffer %d", buf.id))
	}
	return mem, nil
}

func (b *hostBackend) submit(q Queue, fn func() error) (Event, error) {
	b.mu.Lock()
	work, ok := b.queueWorks[q.id]
	b.mu.Unlock()
	if !ok {
		return Event{}, newError(StatusInvalidQueue, "submit", fmt.Errorf("unknown queue %d", q.id))
	}

	done := make(chan struct{})
	var failed atomic.Pointer[error]
	work <- func() {
		if err := fn(); err != nil {
			failed.Store(&err)
		}
		close(done)
	}

	return Event{
		done: done,
		err: func() error {
			if p := failed.Load(); p != nil {
				return *p
			}
			return nil
		},
	}, nil
}

func (b *hostBackend) EnqueueRead(q Queue, buf DeviceBuffer, offset int, dst []byte, blocking bool) (Event, error) {
	ev, err := b.submit(q, func() error {
		mem, err := b.memFor(buf)
		if err != nil {
			return err
		}
		if offset < 0 || offset+len(dst) > len(mem) {
			return newError(StatusInvalidBuffer, "EnqueueRead", fmt.Errorf("range [%d,%d) out of bounds for buffer of size %d", offset, offset+len(dst), len(mem)))
		}
		copy(dst, mem[offset:offset+len(dst)])
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	if blocking {
		if werr := ev.Wait(); werr != nil {
			return Event{}, werr
		}
	}
	return ev, nil
}

func (b *hostBackend) EnqueueWrite(q Queue, buf DeviceBuffer, offset int, src []byte, blocking bool) (Event, error) {
	ev, err := b.submit(q, func() error {
		mem, err := b.memFor(buf)
		if err != nil {
			return err
		}
		if offset < 0 || offset+len(src) > len(mem) {
			return newError(StatusInvalidBuffer, "EnqueueWrite", fmt.Errorf("range [%d,%d) out of bounds for buffer of size %d", offset, offset+len(src), len(mem)))
		}
		copy(mem[offset:offset+len(src)], src)
		return nil
	})
	if err != nil {
		return Event{}, err
	}
	if blocking {
		if werr := ev.Wait(); werr != nil {
			return Event{}, werr
		}
	}
	return ev, nil
}

func (b *hostBackend) EnqueueKernel(q Queue, k Kernel, target DeviceBuffer) (Event, error) {
	return b.submit(q, func() error {
		mem, err := b.memFor(target)
		if err != nil {
			return err
		}
		if err := k.Fn(mem); err != nil {
			return newError(StatusKernelFailed, "EnqueueKernel:"+k.Name, err)
		}
		return nil
	})
}

func (b *hostBackend) Flush(q Queue) error {
	// The in-order channel already preserves submission order; Flush is a
	// no-op synchronization point for a backend with no separate driver
	// buffer to push.
	return nil
}

func (b *hostBackend) Finish(q Queue) error {
	ev, err := b.submit(q, func() error { return nil })
	if err != nil {
		return err
	}
	return ev.Wait()
}
