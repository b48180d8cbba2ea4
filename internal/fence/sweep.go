package fence

import "github.com/samcharles93/gpufence/internal/syncfw"

// updateAllTimelines is the command-complete notifier. It finds timelines
// with a newly met point and signals them once no engine lock is held,
// since signaling can free points and release timelines.
func (e *Engine) updateAllTimelines() {
	e.stats.sweeps.Add(1)

	var toSignal []*Timeline
	e.tlMu.Lock()
	for _, t := range e.timelines {
		signal := false
		t.base.ForEachActive(func(pt *syncfw.Point) bool {
			if t.HasSignaled(pt) == syncfw.StatusActive {
				return true
			}
			// The active point still pins the timeline here. The extra
			// reference keeps it alive until Signal returns.
			t.Get()
			signal = true
			return false
		})
		if signal {
			toSignal = append(toSignal, t)
		}
	}
	e.tlMu.Unlock()

	for _, t := range toSignal {
		t.base.Signal()
		t.Put()
	}
	e.stats.timelinesSignaled.Add(uint64(len(toSignal)))
}
