package fence

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/syncfw"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

// Query accumulates the wait and update UFOs for a GPU command across
// several fences. Neither list grows past MaxEntries. When a fence runs
// out of room its remaining points are dropped, the entries already added
// for it stay, and Overflowed is set.
type Query struct {
	// Update selects update mode, which runs on alloc handles. Otherwise
	// the query runs in check mode on fences.
	Update     bool
	MaxEntries int

	Waits      ufo.List
	Updates    ufo.List
	Overflowed bool
}

func (q *Query) room(waits, updates int) bool {
	return q.MaxEntries-q.Waits.Len() >= waits && q.MaxEntries-q.Updates.Len() >= updates
}

func (e *Engine) overflow(q *Query, name string) {
	q.Overflowed = true
	e.stats.overflows.Add(1)
	e.warn.Warn("too little space on fence query for all the sync points in this fence",
		"fence", name, "max_entries", q.MaxEntries, "waits", q.Waits.Len(), "updates", q.Updates.Len())
}

// QueryUpdate adds the entries a command needs to signal the point
// reserved by a: an update of the point's fence prim, a wait for the
// timeline baseline and an update of the timeline to the reserved value.
// It also clears the timeline's fencing flag.
func (e *Engine) QueryUpdate(q *Query, a *AllocHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sd := a.data
	if sd == nil {
		return fmt.Errorf("query update: alloc handle already created: %w", ErrResourceUnavailable)
	}
	t := a.tl
	if !q.room(1, 2) {
		e.overflow(q, t.base.Name())
		return nil
	}

	k := sd.kernel
	q.Updates.Append(k.fence.addr, k.fence.bumpNext())
	q.Waits.Append(t.prim.addr, sd.fenceValue)
	q.Updates.Append(t.prim.addr, sd.updateValue)

	t.SetFencingEnabled(false)
	return nil
}

// QueryCheck adds the entries a command needs to wait on f. Signaled
// points are skipped. Each pending engine point gets a wait on its fence
// prim and an update of its cleanup prim, which is allocated on first
// use. Pending points from other drivers share one shadow wait.
func (e *Engine) QueryCheck(q *Query, f *syncfw.Fence) error {
	haveForeign := false
	for _, pt := range f.Points() {
		t, ok := e.owns(pt)
		if !ok {
			if pt.Status() == syncfw.StatusActive {
				haveForeign = true
			}
			continue
		}

		k := pt.Driver.(*syncData).kernel
		if k == nil || k.fence.Met() {
			continue
		}
		if !q.room(1, 1) {
			e.overflow(q, f.Name())
			return nil
		}

		cleanup, err := e.cleanupPrim(k, t.base.Name())
		if err != nil {
			return fmt.Errorf("query check %q: %w", f.Name(), err)
		}
		q.Waits.Append(k.fence.addr, k.fence.Next())
		q.Updates.Append(cleanup.addr, cleanup.bumpNext())
	}

	if !haveForeign {
		return nil
	}
	if !q.room(1, 1) {
		e.overflow(q, f.Name())
		return nil
	}
	k, err := e.shadowForeign(f)
	if err != nil {
		return fmt.Errorf("query check %q: %w", f.Name(), err)
	}
	if k != nil {
		cleanup := k.cleanup.Load()
		q.Waits.Append(k.fence.addr, k.fence.Next())
		q.Updates.Append(cleanup.addr, cleanup.Next())
	}
	return nil
}

func (e *Engine) cleanupPrim(k *kernelPair, class string) (*SyncPrim, error) {
	if c := k.cleanup.Load(); c != nil {
		return c, nil
	}
	c, err := e.acquirePrim(class, TypeCleanup)
	if err != nil {
		return nil, fmt.Errorf("cleanup prim: %w", err)
	}
	if !k.cleanup.CompareAndSwap(nil, c) {
		e.releasePrim(c)
		return k.cleanup.Load(), nil
	}
	return c, nil
}

// QueryFences runs q over the handles in order. Update mode expects alloc
// handles, check mode fence handles.
func (e *Engine) QueryFences(q *Query, ids ...uuid.UUID) error {
	for _, id := range ids {
		if err := e.queryHandle(q, id); err != nil {
			e.log.Error("query fence failed", "handle", id, "update", q.Update, "error", err)
			return err
		}
	}
	return nil
}

func (e *Engine) queryHandle(q *Query, id uuid.UUID) error {
	if q.Update {
		a, err := e.LookupAlloc(id)
		if err != nil {
			return err
		}
		defer a.Put()
		return e.QueryUpdate(q, a)
	}
	f, err := e.LookupFence(id)
	if err != nil {
		return err
	}
	defer f.Put()
	return e.QueryCheck(q, f)
}

// MergeFences queries the handles with room for MaxQueryFencePoints
// entries each and appends the results to waits and updates, replacing
// each with a newly allocated list.
func (e *Engine) MergeFences(name string, update bool, waits, updates *ufo.List, ids ...uuid.UUID) (overflowed bool, err error) {
	if len(ids) == 0 {
		return false, fmt.Errorf("merge fences %q: no handles: %w", name, ErrInvalidParams)
	}
	q := Query{Update: update, MaxEntries: e.cfg.MaxQueryFencePoints * len(ids)}
	if err := e.QueryFences(&q, ids...); err != nil {
		return false, fmt.Errorf("merge fences %q: %w", name, err)
	}

	if q.Waits.Len() > 0 {
		*waits = ufo.Merge(*waits, q.Waits)
	}
	if q.Updates.Len() > 0 {
		*updates = ufo.Merge(*updates, q.Updates)
	}
	e.log.Debug("merged fences", "name", name, "update", update,
		"fence_syncs", q.Waits.Len(), "update_syncs", q.Updates.Len(),
		"total_fence_syncs", waits.Len(), "total_update_syncs", updates.Len())
	return q.Overflowed, nil
}
