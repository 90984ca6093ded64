package vramarray

import (
	"container/list"
	"sort"
	"sync/atomic"

	"github.com/tugrul512bit/vramarray/accel"
)

// PageCache is the N-way associative cache of active host pages fronting
// one VirtualDevice's DeviceArray. It maps a local logical page index to
// one of A active-page slots, with at most one slot per local page index.
// PageCache has no locking of its own; VirtualMultiArray serializes all
// access to it through the owning virtual device's mutex.
type PageCache[T any] struct {
	backend accel.Backend
	queue   accel.Queue
	device  *DeviceArray[T]

	pageSize int
	elemSize int
	slots    []*PinnedPage[T]
	pol      policy

	debug     bool
	hitCount  atomic.Int64
	missCount atomic.Int64
}

// policy picks a slot for a logical page, on hit or miss, without itself
// knowing how to perform the device transfer — that is PageCache.swap.
type policy interface {
	// access returns the slot index currently (or about to be) bound to
	// logicalPage, and whether that was a cache hit.
	access(logicalPage int) (slot int, hit bool)
}

// NewPageCache builds the policy selected by len(slots) per spec: a single
// slot is Direct, 2..12 is the small-array LRU, 13+ is the scalable
// map+list LRU. useClock swaps in the CLOCK-2-hand eviction variant for
// whichever size class is selected; debug enables hit/miss instrumentation.
func NewPageCache[T any](backend accel.Backend, queue accel.Queue, device *DeviceArray[T], pageSize int, slots []*PinnedPage[T], useClock, debug bool) *PageCache[T] {
	pc := &PageCache[T]{
		backend:  backend,
		queue:    queue,
		device:   device,
		pageSize: pageSize,
		elemSize: device.ElemSize(),
		slots:    slots,
		debug:    debug,
	}

	a := len(slots)
	switch {
	case useClock:
		pc.pol = newClockPolicy(a)
	case a <= 1:
		pc.pol = newDirectPolicy()
	case a <= 12:
		pc.pol = newSmallArrayPolicy(a)
	default:
		pc.pol = newScalablePolicy(a)
	}

	return pc
}

// Access is PageCache's one operation: after it returns, the page's
// targetFrozenPage equals logicalPage and its host shadow matches the
// device's content for that page (up to in-flight edits made after the
// call returns). On a hit, no device I/O occurs.
func (pc *PageCache[T]) Access(logicalPage int) (*PinnedPage[T], error) {
	slot, hit := pc.pol.access(logicalPage)
	if pc.debug {
		if hit {
			pc.hitCount.Add(1)
		} else {
			pc.missCount.Add(1)
		}
	}
	if hit {
		return pc.slots[slot], nil
	}
	if err := pc.swap(slot, logicalPage); err != nil {
		return nil, err
	}
	return pc.slots[slot], nil
}

// HitCount and MissCount are populated only when the cache was built with
// debug instrumentation enabled.
func (pc *PageCache[T]) HitCount() int64  { return pc.hitCount.Load() }
func (pc *PageCache[T]) MissCount() int64 { return pc.missCount.Load() }

// swap performs the five-step victim handling sequence: write back the
// victim if dirty, rebind the slot, download the new page, and clear
// edited only once the download has completed.
func (pc *PageCache[T]) swap(slot, newLogicalPage int) error {
	page := pc.slots[slot]
	byteOffset := func(logicalPage int) int { return logicalPage * pc.pageSize * pc.elemSize }

	if page.Edited() {
		_, err := pc.backend.EnqueueWrite(pc.queue, pc.device.Buffer(), byteOffset(page.GetFrozenTarget()), page.Bytes(), false)
		if err != nil {
			return wrapAccel("EnqueueWrite(writeback)", err)
		}
	}

	page.SetFrozenTarget(newLogicalPage)

	ev, err := pc.backend.EnqueueRead(pc.queue, pc.device.Buffer(), byteOffset(newLogicalPage), page.Bytes(), false)
	if err != nil {
		return wrapAccel("EnqueueRead", err)
	}

	if err := pc.backend.Flush(pc.queue); err != nil {
		return wrapAccel("Flush", err)
	}
	if err := ev.Wait(); err != nil {
		return wrapAccel("WaitEvent", err)
	}

	page.Reset()
	return nil
}

// FlushSlot writes back one slot if it is dirty, leaving its target
// binding untouched.
func (pc *PageCache[T]) FlushSlot(slot int) error {
	page := pc.slots[slot]
	if !page.Edited() || page.GetFrozenTarget() == UnboundPage {
		return nil
	}
	offset := page.GetFrozenTarget() * pc.pageSize * pc.elemSize
	if _, err := pc.backend.EnqueueWrite(pc.queue, pc.device.Buffer(), offset, page.Bytes(), true); err != nil {
		return wrapAccel("EnqueueWrite(flushSlot)", err)
	}
	page.Reset()
	return nil
}

// ReloadSlot unconditionally re-downloads one slot's currently-bound page.
func (pc *PageCache[T]) ReloadSlot(slot int) error {
	page := pc.slots[slot]
	if page.GetFrozenTarget() == UnboundPage {
		return nil
	}
	offset := page.GetFrozenTarget() * pc.pageSize * pc.elemSize
	if _, err := pc.backend.EnqueueRead(pc.queue, pc.device.Buffer(), offset, page.Bytes(), true); err != nil {
		return wrapAccel("EnqueueRead(reloadSlot)", err)
	}
	page.Reset()
	return nil
}

// FlushDirty writes back every slot that is currently edited, without
// changing which logical page each slot targets. Used by
// flushAllPages/streamStart and before find, which requires VRAM to be
// authoritative.
func (pc *PageCache[T]) FlushDirty() error {
	for _, page := range pc.slots {
		if !page.Edited() || page.GetFrozenTarget() == UnboundPage {
			continue
		}
		offset := page.GetFrozenTarget() * pc.pageSize * pc.elemSize
		if _, err := pc.backend.EnqueueWrite(pc.queue, pc.device.Buffer(), offset, page.Bytes(), true); err != nil {
			return wrapAccel("EnqueueWrite(flush)", err)
		}
		page.Reset()
	}
	return nil
}

// ReloadAll unconditionally re-downloads every bound slot from the
// device, discarding any buffered edits. Used by streamStop.
func (pc *PageCache[T]) ReloadAll() error {
	for _, page := range pc.slots {
		if page.GetFrozenTarget() == UnboundPage {
			continue
		}
		offset := page.GetFrozenTarget() * pc.pageSize * pc.elemSize
		if _, err := pc.backend.EnqueueRead(pc.queue, pc.device.Buffer(), offset, page.Bytes(), true); err != nil {
			return wrapAccel("EnqueueRead(reload)", err)
		}
		page.Reset()
	}
	return nil
}

// --- direct policy: A == 1 ---

type directPolicy struct {
	bound bool
	page  int
}

func newDirectPolicy() *directPolicy { return &directPolicy{} }

func (p *directPolicy) access(logicalPage int) (slot int, hit bool) {
	if p.bound && p.page == logicalPage {
		return 0, true
	}
	p.bound = true
	p.page = logicalPage
	return 0, false
}

// --- small-array LRU: 2 <= A <= 12, linear scan + insertion sort ---

type lruRecord struct {
	key   int
	ts    uint64
	slot  int
	bound bool
}

type smallArrayPolicy struct {
	records []*lruRecord
	clock   uint64
}

func newSmallArrayPolicy(a int) *smallArrayPolicy {
	recs := make([]*lruRecord, a)
	for i := range recs {
		recs[i] = &lruRecord{slot: i}
	}
	return &smallArrayPolicy{records: recs}
}

func (p *smallArrayPolicy) access(logicalPage int) (slot int, hit bool) {
	p.clock++
	for _, r := range p.records {
		if r.bound && r.key == logicalPage {
			r.ts = p.clock
			p.resort()
			return r.slot, true
		}
	}

	// Miss: evict the lowest-timestamp record, which insertion sort keeps
	// at index 0 (unbound records sort first with ts == 0).
	p.resort()
	victim := p.records[0]
	victim.bound = true
	victim.key = logicalPage
	victim.ts = p.clock
	p.resort()
	return victim.slot, false
}

// resort is a plain insertion sort by ascending ts — the record count is
// small (<=12) so this is cheaper than maintaining a heap.
func (p *smallArrayPolicy) resort() {
	sort.SliceStable(p.records, func(i, j int) bool {
		return p.records[i].ts < p.records[j].ts
	})
}

// --- scalable LRU: A >= 13, doubly-linked list + map ---

type scalableEntry struct {
	key  int
	slot int
}

type scalablePolicy struct {
	order *list.List
	index map[int]*list.Element
	free  []int
}

func newScalablePolicy(a int) *scalablePolicy {
	free := make([]int, a)
	for i := range free {
		free[i] = a - 1 - i // pop from the end gives slot 0 first
	}
	return &scalablePolicy{
		order: list.New(),
		index: make(map[int]*list.Element, a),
		free:  free,
	}
}

func (p *scalablePolicy) access(logicalPage int) (slot int, hit bool) {
	if el, ok := p.index[logicalPage]; ok {
		p.order.MoveToFront(el)
		return el.Value.(*scalableEntry).slot, true
	}

	var chosenSlot int
	if n := len(p.free); n > 0 {
		chosenSlot = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		tail := p.order.Back()
		victim := tail.Value.(*scalableEntry)
		chosenSlot = victim.slot
		delete(p.index, victim.key)
		p.order.Remove(tail)
	}

	el := p.order.PushFront(&scalableEntry{key: logicalPage, slot: chosenSlot})
	p.index[logicalPage] = el
	return chosenSlot, false
}

// --- CLOCK-2-hand variant: same correctness, different eviction curve ---

type clockPolicy struct {
	ref   []bool
	bound []bool
	key   []int
	index map[int]int
	use   int
	evict int
}

func newClockPolicy(a int) *clockPolicy {
	return &clockPolicy{
		ref:   make([]bool, a),
		bound: make([]bool, a),
		key:   make([]int, a),
		index: make(map[int]int, a),
	}
}

func (p *clockPolicy) access(logicalPage int) (slot int, hit bool) {
	if s, ok := p.index[logicalPage]; ok {
		p.ref[s] = true
		return s, true
	}

	n := len(p.ref)
	for {
		if !p.bound[p.use] {
			victim := p.use
			p.use = (p.use + 1) % n
			p.bindSlot(victim, logicalPage)
			return victim, false
		}
		p.ref[p.use] = false
		p.use = (p.use + 1) % n

		if !p.ref[p.evict] {
			victim := p.evict
			p.evict = (p.evict + 1) % n
			p.bindSlot(victim, logicalPage)
			return victim, false
		}
		p.evict = (p.evict + 1) % n
	}
}

func (p *clockPolicy) bindSlot(slot, logicalPage int) {
	if p.bound[slot] {
		delete(p.index, p.key[slot])
	}
	p.bound[slot] = true
	p.key[slot] = logicalPage
	p.ref[slot] = true
	p.index[logicalPage] = slot
}
