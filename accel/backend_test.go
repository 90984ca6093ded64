package accel_test

import (
	"testing"

	"github.com/tugrul512bit/vramarray/accel"
)

func TestHostBackendReadWriteRoundTrip(t *testing.T) {
	backend := accel.NewHostBackend(1)
	platforms, err := backend.EnumeratePlatforms()
	if err != nil || len(platforms) != 1 {
		t.Fatalf("EnumeratePlatforms: %v, %d platforms", err, len(platforms))
	}
	infos, err := backend.EnumerateDevices(platforms[0])
	if err != nil || len(infos) != 1 {
		t.Fatalf("EnumerateDevices: %v, %d devices", err, len(infos))
	}
	ctx, err := backend.CreateContext(infos[0].Device)
	if err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	queue, err := backend.CreateQueue(ctx)
	if err != nil {
		t.Fatalf("CreateQueue: %v", err)
	}
	buf, err := backend.CreateDeviceBuffer(ctx, 64)
	if err != nil {
		t.Fatalf("CreateDeviceBuffer: %v", err)
	}

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(i)
	}
	if _, err := backend.EnqueueWrite(queue, buf, 0, src, true); err != nil {
		t.Fatalf("EnqueueWrite: %v", err)
	}

	dst := make([]byte, 64)
	if _, err := backend.EnqueueRead(queue, buf, 0, dst, true); err != nil {
		t.Fatalf("EnqueueRead: %v", err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("byte %d = %d, want %d", i, dst[i], src[i])
		}
	}
}

func TestHostBackendTransferOutOfBounds(t *testing.T) {
	backend := accel.NewHostBackend(1)
	infos, _ := backend.EnumerateDevices(mustPlatform(t, backend))
	ctx, _ := backend.CreateContext(infos[0].Device)
	queue, _ := backend.CreateQueue(ctx)
	buf, _ := backend.CreateDeviceBuffer(ctx, 16)

	if _, err := backend.EnqueueRead(queue, buf, 8, make([]byte, 16), true); err == nil {
		t.Fatalf("expected an out-of-bounds error")
	}
}

func TestHostBackendKernelSeesBufferContents(t *testing.T) {
	backend := accel.NewHostBackend(1)
	infos, _ := backend.EnumerateDevices(mustPlatform(t, backend))
	ctx, _ := backend.CreateContext(infos[0].Device)
	queue, _ := backend.CreateQueue(ctx)
	buf, _ := backend.CreateDeviceBuffer(ctx, 4)

	if _, err := backend.EnqueueWrite(queue, buf, 0, []byte{1, 2, 3, 4}, true); err != nil {
		t.Fatalf("EnqueueWrite: %v", err)
	}

	var observed []byte
	kernel := accel.Kernel{
		Name: "observe",
		Fn: func(mem []byte) error {
			observed = append([]byte(nil), mem...)
			return nil
		},
	}
	ev, err := backend.EnqueueKernel(queue, kernel, buf)
	if err != nil {
		t.Fatalf("EnqueueKernel: %v", err)
	}
	if err := ev.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observed[%d] = %d, want %d", i, observed[i], want[i])
		}
	}
}

func TestCreateHostPinnedBuffer(t *testing.T) {
	backend := accel.NewHostBackend(1)
	infos, _ := backend.EnumerateDevices(mustPlatform(t, backend))
	ctx, _ := backend.CreateContext(infos[0].Device)

	hb, err := backend.CreateHostPinnedBuffer(ctx, 256, true)
	if err != nil {
		t.Fatalf("CreateHostPinnedBuffer: %v", err)
	}
	if len(hb.Data()) != 256 {
		t.Fatalf("Data() length = %d, want 256", len(hb.Data()))
	}
	if err := backend.FreeHostBuffer(hb); err != nil {
		t.Fatalf("FreeHostBuffer: %v", err)
	}
}

func mustPlatform(t *testing.T, backend accel.Backend) accel.Platform {
	t.Helper()
	platforms, err := backend.EnumeratePlatforms()
	if err != nil || len(platforms) == 0 {
		t.Fatalf("EnumeratePlatforms: %v", err)
	}
	return platforms[0]
}
