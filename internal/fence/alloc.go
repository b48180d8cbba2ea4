package fence

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/gpufence/internal/syncfw"
)

// syncData is the state shared by every duplicate of one sync point.
type syncData struct {
	// kernel is nil for points that never carry a hardware dependency.
	kernel *kernelPair
	// fenceValue is the timeline value the point's work waits for.
	fenceValue uint32
	// updateValue is the timeline value the point's work advances to.
	updateValue uint32
	refs        atomic.Int32
}

func (e *Engine) newSyncData(t *Timeline) (*syncData, error) {
	fence, err := e.acquirePrim(t.base.Name(), TypeFence)
	if err != nil {
		return nil, err
	}
	sd := &syncData{kernel: &kernelPair{fence: fence}}
	sd.refs.Store(1)
	return sd, nil
}

func (e *Engine) putSyncData(sd *syncData) {
	switch n := sd.refs.Add(-1); {
	case n > 0:
		return
	case n < 0:
		panic("fence: sync data reference count underflow")
	}
	if sd.kernel != nil {
		e.deferFree(sd.kernel)
	}
}

// AllocHandle reserves the next point on a timeline before the work that
// will signal it exists. It is either turned into a fence by Create or
// released unused.
type AllocHandle struct {
	tl   *Timeline
	idle bool
	refs atomic.Int32

	mu sync.Mutex
	// data is handed to the point on Create.
	data *syncData
}

// Alloc reserves a point on t. When the timeline prim is met and fencing
// is disabled the timeline is idle: no timeline update is reserved and the
// handle reports TimelineIdle. Alloc always clears the fencing flag.
func (t *Timeline) Alloc() (*AllocHandle, error) {
	if t.base.Destroyed() {
		return nil, fmt.Errorf("alloc on %q: %w", t.base.Name(), syncfw.ErrTimelineDestroyed)
	}
	sd, err := t.e.newSyncData(t)
	if err != nil {
		return nil, fmt.Errorf("alloc on %q: %w", t.base.Name(), err)
	}

	t.mu.Lock()
	idle := t.prim.Met() && !t.fencingEnabled
	sd.fenceValue = t.prim.Next()
	if !idle {
		t.prim.bumpNext()
	}
	sd.updateValue = t.prim.Next()
	t.fencingEnabled = false
	t.mu.Unlock()

	t.Get()
	a := &AllocHandle{tl: t, idle: idle, data: sd}
	a.refs.Store(1)
	t.e.log.Debug("fence allocated", "timeline", t.base.Name(), "idle", idle,
		"fence_value", sd.fenceValue, "update_value", sd.updateValue)
	return a, nil
}

func (a *AllocHandle) Timeline() *Timeline { return a.tl }

// TimelineIdle reports whether the timeline was idle at allocation.
func (a *AllocHandle) TimelineIdle() bool { return a.idle }

// Values returns the reserved timeline baseline and update values.
func (a *AllocHandle) Values() (fenceValue, updateValue uint32, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		return 0, 0, false
	}
	return a.data.fenceValue, a.data.updateValue, true
}

// Created reports whether the reservation has been handed to a fence.
func (a *AllocHandle) Created() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data == nil
}

func (a *AllocHandle) Get() { a.refs.Add(1) }

// Put drops a reference. On the last one an uncreated reservation is
// released. If it was never queried for an update the timeline's target is
// rolled back to the reserved baseline; that is only correct when no other
// point was allocated on the timeline since, which callers must ensure.
func (a *AllocHandle) Put() {
	switch n := a.refs.Add(-1); {
	case n > 0:
		return
	case n < 0:
		panic("fence: alloc handle reference count underflow")
	}

	a.mu.Lock()
	sd := a.data
	a.data = nil
	a.mu.Unlock()

	t := a.tl
	if sd != nil {
		if sd.kernel.fence.Next() == 0 {
			t.mu.Lock()
			t.prim.setNext(sd.fenceValue)
			t.mu.Unlock()
			t.e.log.Debug("rolled back unused allocation", "timeline", t.base.Name(), "next", sd.fenceValue)
		}
		t.e.putSyncData(sd)
	}
	t.Put()
}

// Create turns the reservation held by a into a fence on t.
func (t *Timeline) Create(a *AllocHandle, name string) (*syncfw.Fence, error) {
	if a.tl != t {
		return nil, fmt.Errorf("create %q on %q from alloc of %q: %w",
			name, t.base.Name(), a.tl.base.Name(), ErrTimelineMismatch)
	}

	a.mu.Lock()
	sd := a.data
	a.data = nil
	a.mu.Unlock()
	if sd == nil {
		return nil, fmt.Errorf("create %q: alloc handle already used: %w", name, ErrResourceUnavailable)
	}

	pt, err := t.base.NewPoint(sd)
	if err != nil {
		t.e.log.Error("failed to create sync point", "timeline", t.base.Name(), "error", err)
		if sd.kernel != nil {
			// Nothing will ever run the update reserved on the timeline.
			t.prim.complete()
			t.e.releasePrim(sd.kernel.fence)
		}
		return nil, fmt.Errorf("create %q: %w", name, err)
	}

	f, err := syncfw.NewFence(name, pt)
	if err != nil {
		pt.Free()
		return nil, fmt.Errorf("create %q: %w", name, err)
	}
	t.e.log.Debug("fence created", "fence", name, "timeline", t.base.Name(), "update_value", sd.updateValue)
	return f, nil
}
