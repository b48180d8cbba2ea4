package fence

import (
	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/syncfw"
)

// NoHWComplete stands in for the hardware when none is present. For a
// fence it writes every engine point's fence and cleanup prims to their
// targets and moves each timeline prim up to the point's update value. For
// an alloc handle it does the same for the reservation. Affected timelines
// are then signaled.
func (e *Engine) NoHWComplete(id uuid.UUID) error {
	if a, err := e.LookupAlloc(id); err == nil {
		defer a.Put()
		a.mu.Lock()
		sd := a.data
		a.mu.Unlock()
		if sd != nil {
			completeSyncData(a.tl, sd)
		}
		e.updateAllTimelines()
		return nil
	}

	f, err := e.LookupFence(id)
	if err != nil {
		return err
	}
	defer f.Put()
	e.CompleteFence(f)
	return nil
}

// CompleteFence is NoHWComplete for a fence the caller holds.
func (e *Engine) CompleteFence(f *syncfw.Fence) {
	for _, pt := range f.Points() {
		t, ok := e.owns(pt)
		if !ok {
			continue
		}
		completeSyncData(t, pt.Driver.(*syncData))
	}
	e.updateAllTimelines()
}

func completeSyncData(t *Timeline, sd *syncData) {
	if k := sd.kernel; k != nil {
		k.fence.complete()
		if c := k.cleanup.Load(); c != nil {
			c.complete()
		}
	}
	t.mu.Lock()
	if !after(t.prim.Value(), sd.updateValue) {
		t.prim.client.SetValue(sd.updateValue)
	}
	t.mu.Unlock()
}
