package fence

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/syncfw"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

func newTestDevice(t *testing.T) *device.Device {
	t.Helper()
	dev, err := device.New(device.Config{Slots: 256, EventTimeout: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *device.Device) {
	t.Helper()
	dev := newTestDevice(t)
	e, err := New(dev, cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Errorf("close engine: %v", err)
		}
	})
	return e, dev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// pendingFence allocates on tl, queries the allocation for an update and
// creates a fence from it. The fence is unsignaled until its prim is met.
func pendingFence(t *testing.T, e *Engine, tl *Timeline, name string) (*syncfw.Fence, Query) {
	t.Helper()
	a, err := tl.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer a.Put()

	q := Query{Update: true, MaxEntries: DefaultMaxQueryFencePoints}
	if err := e.QueryUpdate(&q, a); err != nil {
		t.Fatalf("query update: %v", err)
	}
	f, err := tl.Create(a, name)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return f, q
}

func fencePrim(f *syncfw.Fence, i int) *SyncPrim {
	return f.Points()[i].Driver.(*syncData).kernel.fence
}

type faultyServices struct {
	*device.Device
	failAlloc atomic.Bool
}

func (s *faultyServices) AllocSyncPrim(class string) (device.Prim, error) {
	if s.failAlloc.Load() {
		return nil, device.ErrOutOfSyncMemory
	}
	return s.Device.AllocSyncPrim(class)
}

func TestEndToEnd(t *testing.T) {
	t.Parallel()
	e, dev := newTestEngine(t, Config{})

	tl, err := e.Open("e2e")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tl.Close()

	a, err := tl.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if !a.TimelineIdle() {
		t.Fatalf("fresh timeline should report idle")
	}

	q := Query{Update: true, MaxEntries: 14}
	if err := e.QueryUpdate(&q, a); err != nil {
		t.Fatalf("query update: %v", err)
	}
	prim := a.data.kernel.fence
	wantUpdates := []ufo.UFO{{Addr: prim.Addr(), Value: 1}, {Addr: tl.Prim().Addr(), Value: 0}}
	wantWaits := []ufo.UFO{{Addr: tl.Prim().Addr(), Value: 0}}
	assertUFOs(t, "updates", wantUpdates, q.Updates)
	assertUFOs(t, "waits", wantWaits, q.Waits)

	f, err := tl.Create(a, "e2e-fence")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a.Put()
	pt := f.Points()[0]
	if got := tl.HasSignaled(pt); got != syncfw.StatusActive {
		t.Fatalf("new point signaled: %d", got)
	}

	if err := dev.Submit(device.Command{Queue: "3d", Name: "e2e", Waits: q.Waits, Updates: q.Updates}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := tl.HasSignaled(pt); got != syncfw.StatusSignaled {
		t.Fatalf("point not signaled after completion: %d", got)
	}
	if f.Status() != syncfw.StatusSignaled {
		t.Fatalf("fence not signaled by completion sweep")
	}

	f.Put()
	waitFor(t, "prim pair reclaim", func() bool { return e.Stats().PairsReclaimed == 1 })
	if prim.Value() != ValueUnmet {
		t.Fatalf("reclaimed prim value = %#x, want unmet sentinel", prim.Value())
	}
}

func TestForceCompleteSignals(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tl, err := e.Open("nohw")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tl.Close()

	f, _ := pendingFence(t, e, tl, "f")
	defer f.Put()
	if f.Status() != syncfw.StatusActive {
		t.Fatalf("fence signaled before completion")
	}
	e.CompleteFence(f)
	if f.Status() != syncfw.StatusSignaled {
		t.Fatalf("fence not signaled after force completion")
	}
	if e.Stats().TimelinesSignaled == 0 {
		t.Fatalf("expected the sweep to signal the timeline")
	}
}

func TestDuplicatesReclaimOnce(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tl, err := e.Open("dup")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tl.Close()

	f, _ := pendingFence(t, e, tl, "f")
	dup, err := syncfw.Merge("dup", f, f)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := dup.Points()[0].Driver.(*syncData).refs.Load(); got != 2 {
		t.Fatalf("shared refs = %d, want 2", got)
	}
	e.CompleteFence(f)

	f.Put()
	if got := e.Stats().DeferredFrees; got != 0 {
		t.Fatalf("deferred frees after first put = %d, want 0", got)
	}
	dup.Put()
	if got := e.Stats().DeferredFrees; got != 1 {
		t.Fatalf("deferred frees after last put = %d, want 1", got)
	}
	waitFor(t, "reclaim", func() bool { return e.Stats().PairsReclaimed == 1 })
}

func TestCloseWaitsForHardware(t *testing.T) {
	t.Parallel()
	dev := newTestDevice(t)
	e, err := New(dev, Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	tl, err := e.Open("slow")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f, _ := pendingFence(t, e, tl, "f")
	prim := fencePrim(f, 0)
	f.Put()

	go func() {
		time.Sleep(20 * time.Millisecond)
		prim.complete()
	}()
	tl.Close()
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := e.Stats().PairsReclaimed; got != 1 {
		t.Fatalf("pairs reclaimed = %d, want 1", got)
	}
	if got := e.Stats().Pool.Free; got != 0 {
		t.Fatalf("pool not drained, %d free", got)
	}
	if got := dev.Stats().SlotsInUse; got != 0 {
		t.Fatalf("device slots in use after close = %d", got)
	}
}

func TestOpenOnClosedDevice(t *testing.T) {
	t.Parallel()
	dev := newTestDevice(t)
	_ = dev.Close()

	e, err := New(dev, Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer e.Close()
	_, err = e.Open("late")
	if !errors.Is(err, ErrOutOfMemory) || !errors.Is(err, device.ErrClosed) {
		t.Fatalf("open on closed device: %v", err)
	}
}

func TestAllocationFailureUnwinds(t *testing.T) {
	t.Parallel()
	svc := &faultyServices{Device: newTestDevice(t)}
	e, err := New(svc, Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	defer e.Close()

	svc.failAlloc.Store(true)
	if _, err := e.Open("broken"); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("open with failing allocator: %v", err)
	}
	if got := e.Stats().Timelines; got != 0 {
		t.Fatalf("partially opened timeline registered")
	}

	svc.failAlloc.Store(false)
	tl, err := e.Open("ok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tl.Close()
	tl.SetFencingEnabled(true)

	svc.failAlloc.Store(true)
	if _, err := tl.Alloc(); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("alloc with failing allocator: %v", err)
	}
	if got := tl.Prim().Next(); got != 0 {
		t.Fatalf("timeline next = %d after failed alloc, want 0", got)
	}
	if !tl.FencingEnabled() {
		t.Fatalf("failed alloc cleared the fencing flag")
	}
}
