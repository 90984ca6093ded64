package vramarray

import (
	"testing"

	"github.com/tugrul512bit/vramarray/accel"
)

func newTestContext(t *testing.T) (accel.Backend, accel.Context) {
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
	return backend, ctx
}

func TestPinnedPageGetSet(t *testing.T) {
	backend, ctx := newTestContext(t)
	page, err := NewPinnedPage[int32](backend, ctx, 16, false)
	if err != nil {
		t.Fatalf("NewPinnedPage: %v", err)
	}
	defer page.Close()

	if page.Edited() {
		t.Fatalf("freshly allocated page reports Edited")
	}
	if page.GetFrozenTarget() != UnboundPage {
		t.Fatalf("freshly allocated page target = %d, want UnboundPage", page.GetFrozenTarget())
	}

	page.Set(3, 42)
	if !page.Edited() {
		t.Fatalf("Set did not mark the page edited")
	}
	if got := page.Get(3); got != 42 {
		t.Fatalf("Get(3) = %d, want 42", got)
	}

	page.Reset()
	if page.Edited() {
		t.Fatalf("Reset did not clear the edited flag")
	}
}

func TestPinnedPageRangeOps(t *testing.T) {
	backend, ctx := newTestContext(t)
	page, err := NewPinnedPage[int32](backend, ctx, 16, false)
	if err != nil {
		t.Fatalf("NewPinnedPage: %v", err)
	}
	defer page.Close()

	src := []int32{10, 20, 30, 40}
	page.SetRange(2, src, 0, len(src))
	got := page.GetRange(2, len(src))
	for i, v := range src {
		if got[i] != v {
			t.Fatalf("GetRange()[%d] = %d, want %d", i, got[i], v)
		}
	}

	dst := make([]int32, len(src))
	page.ReadInto(dst, 2, len(src))
	for i, v := range src {
		if dst[i] != v {
			t.Fatalf("ReadInto()[%d] = %d, want %d", i, dst[i], v)
		}
	}
}

func TestPinnedPagePinned(t *testing.T) {
	backend, ctx := newTestContext(t)
	page, err := NewPinnedPage[int32](backend, ctx, 8, true)
	if err != nil {
		t.Fatalf("NewPinnedPage(pinned): %v", err)
	}
	defer page.Close()

	page.Set(0, 7)
	if got := page.Get(0); got != 7 {
		t.Fatalf("Get(0) on pinned page = %d, want 7", got)
	}
}
