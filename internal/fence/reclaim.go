package fence

import (
	"errors"

	"github.com/samcharles93/gpufence/internal/device"
)

// deferFree queues k until the hardware is done with both its prims.
func (e *Engine) deferFree(k *kernelPair) {
	e.freeMu.Lock()
	e.freeList = append(e.freeList, k)
	e.freeMu.Unlock()

	e.stats.deferredFrees.Add(1)
	e.deferFreeWQ.Queue()
}

// cleanFreeList frees every queued pair whose prims are met and drops the
// queued fence references. It reports whether unmet pairs remain.
func (e *Engine) cleanFreeList() bool {
	var ready []*kernelPair

	e.freeMu.Lock()
	keep := e.freeList[:0]
	for _, k := range e.freeList {
		if k.met() {
			ready = append(ready, k)
		} else {
			keep = append(keep, k)
		}
	}
	clear(e.freeList[len(keep):])
	e.freeList = keep
	pending := len(keep) > 0
	e.freeMu.Unlock()

	if len(ready) > 0 {
		e.svc.AcquireBridgeLock()
		for _, k := range ready {
			e.pool.Release(k.fence)
			if c := k.cleanup.Load(); c != nil {
				e.pool.Release(c)
			}
		}
		e.svc.ReleaseBridgeLock()
		e.stats.pairsReclaimed.Add(uint64(len(ready)))
	}

	e.putMu.Lock()
	puts := e.putList
	e.putList = nil
	e.putMu.Unlock()

	for _, f := range puts {
		f.Put()
	}
	e.stats.fencePuts.Add(uint64(len(puts)))
	return pending
}

// runDeferFree retries cleanFreeList on every device event until nothing
// is left waiting on the hardware. It reports false if it could not wait.
func (e *Engine) runDeferFree() bool {
	l, err := e.svc.OpenEvent()
	if err != nil {
		e.log.Error("error opening event object", "error", err)
		return false
	}
	defer l.Close()

	for e.cleanFreeList() {
		err := l.Wait()
		switch {
		case err == nil, errors.Is(err, device.ErrTimeout):
		case errors.Is(err, device.ErrClosed):
			e.log.Error("event object closed with prims pending free")
			return false
		default:
			e.warn.Warn("error waiting for event object", "error", err)
		}
	}
	return true
}

// drainDeferFree runs at shutdown until both reclaim lists are empty.
func (e *Engine) drainDeferFree() {
	for e.runDeferFree() {
		e.freeMu.Lock()
		n := len(e.freeList)
		e.freeMu.Unlock()
		e.putMu.Lock()
		n += len(e.putList)
		e.putMu.Unlock()
		if n == 0 {
			return
		}
	}
}
