package syncfw

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Waiter is an asynchronous fence callback. The callback may run on any
// goroutine, including the one signaling the timeline.
type Waiter struct {
	fn func(f *Fence, w *Waiter)
}

func NewWaiter(fn func(f *Fence, w *Waiter)) *Waiter {
	return &Waiter{fn: fn}
}

type Fence struct {
	name   string
	points []*Point
	refs   atomic.Int32

	mu      sync.Mutex
	status  int
	waiters []*Waiter
	done    chan struct{}
}

// NewFence wraps pt in a new fence holding one reference.
func NewFence(name string, pt *Point) (*Fence, error) {
	if pt.fence != nil {
		return nil, ErrPointInFence
	}
	return newFence(name, []*Point{pt}), nil
}

func newFence(name string, pts []*Point) *Fence {
	f := &Fence{
		name:   name,
		points: pts,
		done:   make(chan struct{}),
	}
	f.refs.Store(1)
	for _, pt := range pts {
		pt.fence = f
	}
	for _, pt := range pts {
		pt.parent.activate(pt)
	}
	f.check()
	return f
}

// Merge builds a fence covering the points of a and b. When both contain
// points of the same timeline only the later one is kept. Every kept point
// is duplicated through its timeline's Dup op.
func Merge(name string, a, b *Fence) (*Fence, error) {
	var chosen []*Point
	add := func(pt *Point) {
		for i, c := range chosen {
			if c.parent == pt.parent {
				if pt.parent.ops.Compare(pt, c) > 0 {
					chosen[i] = pt
				}
				return
			}
		}
		chosen = append(chosen, pt)
	}
	for _, pt := range a.points {
		add(pt)
	}
	for _, pt := range b.points {
		add(pt)
	}

	dups := make([]*Point, 0, len(chosen))
	for _, pt := range chosen {
		d, err := pt.parent.ops.Dup(pt)
		if err != nil {
			for _, done := range dups {
				done.Free()
			}
			return nil, fmt.Errorf("merge %q: dup point on %q: %w", name, pt.parent.name, err)
		}
		dups = append(dups, d)
	}
	return newFence(name, dups), nil
}

func (f *Fence) Name() string { return f.name }

// Points returns the fence's points. The slice must not be modified.
func (f *Fence) Points() []*Point { return f.points }

// Status returns 1 once every point signaled, a negative value if any point
// failed, 0 otherwise.
func (f *Fence) Status() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Fence) Get() { f.refs.Add(1) }

// Put drops a reference. The last one frees every point.
func (f *Fence) Put() {
	switch n := f.refs.Add(-1); {
	case n == 0:
		f.free()
	case n < 0:
		panic(fmt.Sprintf("syncfw: fence %q reference count underflow", f.name))
	}
}

func (f *Fence) free() {
	for _, pt := range f.points {
		pt.parent.deactivate(pt)
	}
	for _, pt := range f.points {
		pt.parent.ops.FreePoint(pt)
		pt.parent.Put()
	}
}

// WaitAsync registers w. It returns 0 when registered, 1 when the fence has
// already signaled, or the fence's negative error status; in the last two
// cases the callback will never run.
func (f *Fence) WaitAsync(w *Waiter) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != StatusActive {
		return f.status
	}
	f.waiters = append(f.waiters, w)
	return 0
}

// CancelAsync removes w if it has not fired yet.
func (f *Fence) CancelAsync(w *Waiter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, x := range f.waiters {
		if x == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Wait blocks until the fence signals or ctx is done.
func (f *Fence) Wait(ctx context.Context) error {
	select {
	case <-f.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if st := f.Status(); st < 0 {
		return fmt.Errorf("%w: fence %q status %d", ErrFenceFailed, f.name, st)
	}
	return nil
}

func (f *Fence) check() {
	f.mu.Lock()
	if f.status != StatusActive {
		f.mu.Unlock()
		return
	}
	status := StatusSignaled
	for _, pt := range f.points {
		st := pt.Status()
		if st < 0 {
			status = st
			break
		}
		if st == StatusActive {
			status = StatusActive
		}
	}
	if status == StatusActive {
		f.mu.Unlock()
		return
	}
	f.status = status
	waiters := f.waiters
	f.waiters = nil
	close(f.done)
	f.mu.Unlock()

	for _, w := range waiters {
		w.fn(f, w)
	}
}

// Print writes the fence, its status and each point.
func (f *Fence) Print(w io.Writer) {
	fmt.Fprintf(w, "fence %s: status=%d\n", f.name, f.Status())
	for _, pt := range f.points {
		ops := pt.parent.ops
		fmt.Fprintf(w, "  %s_pt %s status=%d ", ops.DriverName(), pt.parent.name, pt.Status())
		ops.PrintPoint(w, pt)
		fmt.Fprintln(w)
	}
}
