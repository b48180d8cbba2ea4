package fence

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/syncfw"
)

// Timeline is an engine timeline: a syncfw timeline whose points are backed
// by sync prims, plus a dedicated prim the hardware advances as work
// submitted on the timeline completes.
type Timeline struct {
	e    *Engine
	base *syncfw.Timeline
	// prim is nil when Open failed after the base timeline existed.
	prim   *SyncPrim
	closed atomic.Bool

	// mu guards fencingEnabled and reservations on prim's target.
	mu             sync.Mutex
	fencingEnabled bool
}

var _ syncfw.TimelineOps = (*Timeline)(nil)

// Open creates a timeline and registers it for completion sweeps. Fencing
// starts disabled, so an allocation on a fresh timeline reports it idle.
func (e *Engine) Open(name string) (*Timeline, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	t := &Timeline{e: e}
	t.base = syncfw.NewTimeline(t, name)

	prim, err := e.acquirePrim(name, TypeTimeline)
	if err != nil {
		t.base.Destroy()
		return nil, fmt.Errorf("open timeline %q: %w", name, err)
	}
	t.prim = prim

	e.tlMu.Lock()
	e.timelines = append(e.timelines, t)
	e.tlMu.Unlock()

	e.log.Debug("timeline opened", "timeline", name, "id", prim.id, "fw", prim.addr)
	return t, nil
}

// Close destroys the timeline. Once its last point is gone it blocks until
// the hardware has reached the timeline prim's target, then frees the prim.
func (t *Timeline) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.e.log.Debug("timeline closing", "timeline", t.base.Name())
	t.base.Destroy()
}

func (t *Timeline) Name() string { return t.base.Name() }

// Base returns the syncfw timeline this engine timeline drives.
func (t *Timeline) Base() *syncfw.Timeline { return t.base }

// Prim returns the timeline's own sync prim.
func (t *Timeline) Prim() *SyncPrim { return t.prim }

// Get and Put manage references on the underlying timeline.
func (t *Timeline) Get() { t.base.Get() }

func (t *Timeline) Put() { t.base.Put() }

// SetFencingEnabled toggles idle detection. While enabled, allocations
// always reserve a real timeline update.
func (t *Timeline) SetFencingEnabled(enabled bool) {
	t.mu.Lock()
	t.fencingEnabled = enabled
	t.mu.Unlock()
}

func (t *Timeline) FencingEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fencingEnabled
}

// Signal re-evaluates the timeline's active points.
func (t *Timeline) Signal() { t.base.Signal() }

func (t *Timeline) DriverName() string { return DriverName }

func (t *Timeline) Dup(pt *syncfw.Point) (*syncfw.Point, error) {
	sd := pt.Driver.(*syncData)
	np, err := t.base.NewPoint(sd)
	if err != nil {
		t.e.log.Error("failed to dup sync point", "timeline", t.base.Name(), "error", err)
		return nil, err
	}
	sd.refs.Add(1)
	return np, nil
}

// HasSignaled treats idle points as signaled; otherwise the fence prim
// must have reached its target.
func (t *Timeline) HasSignaled(pt *syncfw.Point) int {
	sd := pt.Driver.(*syncData)
	if sd.kernel == nil || sd.kernel.fence.Met() {
		return syncfw.StatusSignaled
	}
	return syncfw.StatusActive
}

// Compare orders points by the timeline value they update to, allowing for
// counter wraparound.
func (t *Timeline) Compare(a, b *syncfw.Point) int {
	av := a.Driver.(*syncData).updateValue
	bv := b.Driver.(*syncData).updateValue
	if av == bv {
		return 0
	}
	if int32(av-bv) < 0 {
		return -1
	}
	return 1
}

// FreePoint drops the point's share of its sync data. The last share hands
// the prims to deferred reclaim.
func (t *Timeline) FreePoint(pt *syncfw.Point) {
	t.e.putSyncData(pt.Driver.(*syncData))
}

func (t *Timeline) ReleaseTimeline(*syncfw.Timeline) {
	e := t.e
	e.waitForSync(t.prim)
	if t.prim == nil {
		return
	}

	e.tlMu.Lock()
	for i, x := range e.timelines {
		if x == t {
			e.timelines = append(e.timelines[:i], e.timelines[i+1:]...)
			break
		}
	}
	e.tlMu.Unlock()

	e.releasePrim(t.prim)
	e.log.Debug("timeline released", "timeline", t.base.Name())
}

func (t *Timeline) PrintTimeline(w io.Writer, _ *syncfw.Timeline) {
	if t.prim == nil {
		return
	}
	fmt.Fprintf(w, "id=%d fw=%s curr=%d next=%d",
		t.prim.id, t.prim.addr, t.prim.Value(), t.prim.Next())
}

func (t *Timeline) PrintPoint(w io.Writer, pt *syncfw.Point) {
	sd, ok := pt.Driver.(*syncData)
	if !ok || sd == nil {
		return
	}
	k := sd.kernel
	if k == nil {
		fmt.Fprintf(w, "tl_taken=%d ref=%d # sync: idle", sd.updateValue, sd.refs.Load())
		return
	}
	fmt.Fprintf(w, "tl_taken=%d ref=%d # sync: id=%d fw=%s curr=%d next=%d",
		sd.updateValue, sd.refs.Load(), k.fence.id, k.fence.addr, k.fence.Value(), k.fence.Next())
	if c := k.cleanup.Load(); c != nil {
		fmt.Fprintf(w, "\n   cleanup: id=%d fw=%s curr=%d next=%d",
			c.id, c.addr, c.Value(), c.Next())
	}
}

// waitForSync blocks until s is met, waking on the device event object.
func (e *Engine) waitForSync(s *SyncPrim) {
	var l device.Listener
	for s != nil && !s.Met() {
		if l == nil {
			var err error
			l, err = e.svc.OpenEvent()
			if err != nil {
				e.log.Error("error opening event object", "error", err)
				break
			}
		}
		err := l.Wait()
		switch {
		case err == nil, errors.Is(err, device.ErrTimeout):
		case errors.Is(err, device.ErrClosed):
			e.log.Error("event object closed while waiting for sync", "id", s.id, "fw", s.addr)
			_ = l.Close()
			return
		default:
			e.warn.Warn("error waiting on event object", "error", err)
		}
	}
	if l != nil {
		_ = l.Close()
	}
}
