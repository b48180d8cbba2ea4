package fence

import "github.com/samcharles93/gpufence/internal/syncfw"

// shadowForeign backs the foreign points of f with a fence/cleanup prim
// pair that the fence's completion callback satisfies. It returns nil and
// no error when f has already signaled or failed; the caller then has
// nothing to wait on.
func (e *Engine) shadowForeign(f *syncfw.Fence) (*kernelPair, error) {
	f.Get()

	fence, err := e.acquirePrim(f.Name(), TypeForeignFence)
	if err != nil {
		f.Put()
		return nil, err
	}
	fence.bumpNext()

	cleanup, err := e.acquirePrim(f.Name(), TypeForeignCleanup)
	if err != nil {
		e.releasePrim(fence)
		f.Put()
		return nil, err
	}
	cleanup.bumpNext()

	k := &kernelPair{fence: fence}
	k.cleanup.Store(cleanup)

	w := syncfw.NewWaiter(func(f *syncfw.Fence, _ *syncfw.Waiter) {
		e.foreignSignaled(f, k)
	})
	if st := f.WaitAsync(w); st != 0 {
		if st < 0 {
			e.log.Error("fence was in error state", "fence", f.Name(), "status", st)
		}
		e.releasePrim(cleanup)
		e.releasePrim(fence)
		f.Put()
		return nil, nil
	}

	e.stats.foreignShadows.Add(1)
	e.log.Debug("foreign fence shadowed", "fence", f.Name(), "fw", fence.addr, "cleanup_fw", cleanup.addr)
	return k, nil
}

// foreignSignaled runs from whichever goroutine signaled the foreign
// timeline. It only completes the shadow prim, queues the fence reference
// and the prims for the reclaim worker, and kicks the device.
func (e *Engine) foreignSignaled(f *syncfw.Fence, k *kernelPair) {
	k.fence.complete()

	e.putMu.Lock()
	e.putList = append(e.putList, f)
	e.putMu.Unlock()

	e.deferFree(k)
	e.checkStatusWQ.Queue()
}
