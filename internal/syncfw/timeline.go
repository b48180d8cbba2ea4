package syncfw

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

const (
	StatusActive   = 0
	StatusSignaled = 1
)

var (
	ErrTimelineDestroyed = errors.New("syncfw: timeline destroyed")
	ErrPointInFence      = errors.New("syncfw: point already belongs to a fence")
	ErrFenceFailed       = errors.New("syncfw: fence signaled with error")
)

// TimelineOps is the operation table a driver implements for its timelines.
type TimelineOps interface {
	DriverName() string
	// Dup returns a new point on pt's timeline sharing pt's state.
	Dup(pt *Point) (*Point, error)
	// HasSignaled returns 1 when signaled, 0 while active, a negative
	// value when the point failed.
	HasSignaled(pt *Point) int
	// Compare orders two points of the same timeline.
	Compare(a, b *Point) int
	FreePoint(pt *Point)
	ReleaseTimeline(tl *Timeline)
	PrintTimeline(w io.Writer, tl *Timeline)
	PrintPoint(w io.Writer, pt *Point)
}

// PointValuer is optionally implemented by TimelineOps to describe a point's
// value in debug output.
type PointValuer interface {
	PointValueString(pt *Point) string
}

type Timeline struct {
	ops       TimelineOps
	name      string
	refs      atomic.Int32
	destroyed atomic.Bool

	// mu guards the active point list.
	mu     sync.Mutex
	active []*Point
}

// NewTimeline creates a timeline holding one reference for its creator.
func NewTimeline(ops TimelineOps, name string) *Timeline {
	t := &Timeline{ops: ops, name: name}
	t.refs.Store(1)
	return t
}

func (t *Timeline) Name() string { return t.name }

func (t *Timeline) Ops() TimelineOps { return t.ops }

func (t *Timeline) Destroyed() bool { return t.destroyed.Load() }

// Get takes a reference.
func (t *Timeline) Get() { t.refs.Add(1) }

// Put drops a reference, releasing the timeline on the last one.
func (t *Timeline) Put() {
	switch n := t.refs.Add(-1); {
	case n == 0:
		t.ops.ReleaseTimeline(t)
	case n < 0:
		panic(fmt.Sprintf("syncfw: timeline %q reference count underflow", t.name))
	}
}

// Destroy marks the timeline dead to new points, signals what can be
// signaled, and drops the creator reference.
func (t *Timeline) Destroy() {
	t.destroyed.Store(true)
	t.Signal()
	t.Put()
}

// NewPoint creates an unattached point carrying driver state.
func (t *Timeline) NewPoint(driver any) (*Point, error) {
	if t.destroyed.Load() {
		return nil, ErrTimelineDestroyed
	}
	t.Get()
	return &Point{parent: t, Driver: driver}, nil
}

// Signal re-evaluates every active point and propagates newly signaled ones
// to their fences. Fence callbacks run after the active list lock is released.
func (t *Timeline) Signal() {
	t.mu.Lock()
	var fences []*Fence
	keep := t.active[:0]
	for _, pt := range t.active {
		st := t.ops.HasSignaled(pt)
		if st == StatusActive {
			keep = append(keep, pt)
			continue
		}
		pt.status.Store(int32(st))
		pt.active = false
		if pt.fence != nil {
			fences = append(fences, pt.fence)
		}
	}
	for i := len(keep); i < len(t.active); i++ {
		t.active[i] = nil
	}
	t.active = keep
	t.mu.Unlock()

	for _, f := range fences {
		f.check()
	}
}

// ForEachActive calls fn for each active point under the active list lock
// until fn returns false. fn must not call back into the timeline.
func (t *Timeline) ForEachActive(fn func(pt *Point) bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pt := range t.active {
		if !fn(pt) {
			return
		}
	}
}

// ActiveCount returns the number of unsignaled points attached to fences.
func (t *Timeline) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *Timeline) activate(pt *Point) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.ops.HasSignaled(pt)
	pt.status.Store(int32(st))
	if st == StatusActive {
		pt.active = true
		t.active = append(t.active, pt)
	}
}

func (t *Timeline) deactivate(pt *Point) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !pt.active {
		return
	}
	pt.active = false
	for i, p := range t.active {
		if p == pt {
			t.active = append(t.active[:i], t.active[i+1:]...)
			return
		}
	}
}

// Print writes the timeline header and its active points.
func (t *Timeline) Print(w io.Writer) {
	fmt.Fprintf(w, "%s %s: ", t.name, t.ops.DriverName())
	t.ops.PrintTimeline(w, t)
	fmt.Fprintln(w)
	t.ForEachActive(func(pt *Point) bool {
		fmt.Fprint(w, "  ")
		t.ops.PrintPoint(w, pt)
		fmt.Fprintln(w)
		return true
	})
}

// Point is one waitable unit on a timeline.
type Point struct {
	parent *Timeline
	status atomic.Int32
	fence  *Fence
	// active is guarded by parent.mu.
	active bool

	// Driver holds the owning driver's per-point state.
	Driver any
}

func (p *Point) Timeline() *Timeline { return p.parent }

// Status returns the last status observed for the point.
func (p *Point) Status() int { return int(p.status.Load()) }

func (p *Point) Fence() *Fence { return p.fence }

// Free releases a point that was never attached to a fence.
func (p *Point) Free() {
	if p.fence != nil {
		panic("syncfw: Free on a point owned by a fence")
	}
	p.parent.ops.FreePoint(p)
	p.parent.Put()
}
