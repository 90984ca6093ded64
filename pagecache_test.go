package vramarray

import (
	"testing"

	"github.com/tugrul512bit/vramarray/accel"
)

type cacheFixture struct {
	backend accel.Backend
	ctx     accel.Context
	queue   accel.Queue
	array   *DeviceArray[int32]
}

func newCacheFixture(t *testing.T, pages, pageSize int) *cacheFixture {
	t.Helper()
	backend := accel.NewHostBackend(1)
	platforms, err := backend.EnumeratePlatforms()
	if err != nil || len(platforms) == 0 {
		t.Fatalf("EnumeratePlatforms: %v", err)
	}
	infos, err := backend.EnumerateDevices(platforms[0])
	if err != nil || len(infos) == 0 {
		t.Fatalf("EnumerateDevices: %v", err)
	}
	ctx, err := backend.CreateContext(infos[0].Device)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	queue, err := backend.CreateQueue(ctx)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	array, err := NewDeviceArray[int32](backend, ctx, pages*pageSize)
	if err != nil {
		t.Fatalf("NewDeviceArray: %v", err)
	}
	// Seed VRAM with a distinct value per page so misses are observable.
	for p := 0; p < pages; p++ {
		buf := make([]int32, pageSize)
		for k := range buf {
			buf[k] = int32(p*1000 + k)
		}
		if _, err := backend.EnqueueWrite(queue, array.Buffer(), p*pageSize*4, byteViewOf(buf), true); err != nil {
			t.Fatalf("seed EnqueueWrite: %v", err)
		}
	}
	return &cacheFixture{backend: backend, ctx: ctx, queue: queue, array: array}
}

func (f *cacheFixture) newPages(t *testing.T, n, pageSize int) []*PinnedPage[int32] {
	t.Helper()
	pages := make([]*PinnedPage[int32], n)
	for i := range pages {
		pg, err := NewPinnedPage[int32](f.backend, f.ctx, pageSize, false)
		if err != nil {
			t.Fatalf("NewPinnedPage: %v", err)
		}
		pages[i] = pg
	}
	return pages
}

func runEvictionCorrectness(t *testing.T, activePages int, useClock bool) {
	const pageSize = 8
	const totalPages = 32

	f := newCacheFixture(t, totalPages, pageSize)
	pages := f.newPages(t, activePages, pageSize)
	pc := NewPageCache[int32](f.backend, f.queue, f.array, pageSize, pages, useClock, true)

	// Touch `activePages` distinct pages in order: no eviction should be
	// necessary, and page 0, touched first and never again, becomes the
	// least-recently-used entry every policy here agrees on.
	var lruPage *PinnedPage[int32]
	for p := 0; p < activePages; p++ {
		page, err := pc.Access(p)
		if err != nil {
			t.Fatalf("Access(%d): %v", p, err)
		}
		if got, want := page.Get(0), int32(p*1000); got != want {
			t.Fatalf("page %d element 0 = %d, want %d", p, got, want)
		}
		if p == 0 {
			lruPage = page
		}
	}
	missesBeforeEviction := pc.MissCount()
	if missesBeforeEviction != int64(activePages) {
		t.Fatalf("misses before eviction = %d, want %d", missesBeforeEviction, activePages)
	}

	// Dirty the LRU page's shadow directly, without going back through
	// Access (which would make it most-recently-used instead), then touch
	// one more distinct page, forcing exactly one eviction of that page.
	lruPage.Set(0, 999999)

	if _, err := pc.Access(activePages); err != nil {
		t.Fatalf("Access(%d) forcing eviction: %v", activePages, err)
	}

	if got, want := pc.MissCount(), missesBeforeEviction+1; got != want {
		t.Fatalf("misses after one more distinct page = %d, want %d", got, want)
	}

	// The dirty LRU victim (page 0) must have been written back before its
	// slot was reused: VRAM's copy of page 0 should now hold the edit.
	var raw [pageSize]int32
	if _, err := f.backend.EnqueueRead(f.queue, f.array.Buffer(), 0, byteViewOf(raw[:]), true); err != nil {
		t.Fatalf("verify EnqueueRead: %v", err)
	}
	if raw[0] != 999999 {
		t.Fatalf("dirty victim not written back: VRAM page 0 element 0 = %d, want 999999", raw[0])
	}
}

func TestPageCacheDirectEviction(t *testing.T) {
	runEvictionCorrectness(t, 1, false)
}

func TestPageCacheSmallArrayEviction(t *testing.T) {
	runEvictionCorrectness(t, 4, false)
}

func TestPageCacheScalableEviction(t *testing.T) {
	runEvictionCorrectness(t, 16, false)
}

func TestPageCacheClockEviction(t *testing.T) {
	runEvictionCorrectness(t, 4, true)
}

func TestPageCacheHitPerformsNoTransfer(t *testing.T) {
	const pageSize = 8
	f := newCacheFixture(t, 4, pageSize)
	pages := f.newPages(t, 2, pageSize)
	pc := NewPageCache[int32](f.backend, f.queue, f.array, pageSize, pages, false, true)

	if _, err := pc.Access(0); err != nil {
		t.Fatal(err)
	}
	before := pc.MissCount()
	for i := 0; i < 5; i++ {
		if _, err := pc.Access(0); err != nil {
			t.Fatal(err)
		}
	}
	if pc.MissCount() != before {
		t.Fatalf("repeated access to the same page recorded new misses: %d -> %d", before, pc.MissCount())
	}
	if pc.HitCount() != 5 {
		t.Fatalf("HitCount = %d, want 5", pc.HitCount())
	}
}
