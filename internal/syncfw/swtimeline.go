package syncfw

import (
	"fmt"
	"io"
	"sync/atomic"
)

// SWTimeline is a counter-driven timeline owned by software. Its points
// signal once the counter reaches their value; it is the usual source of
// fences from outside a GPU driver's own domain.
type SWTimeline struct {
	tl    *Timeline
	value atomic.Uint32
	err   atomic.Int32
}

var (
	_ TimelineOps = (*SWTimeline)(nil)
	_ PointValuer = (*SWTimeline)(nil)
)

func NewSWTimeline(name string) *SWTimeline {
	s := &SWTimeline{}
	s.tl = NewTimeline(s, name)
	return s
}

func (s *SWTimeline) Timeline() *Timeline { return s.tl }

func (s *SWTimeline) Value() uint32 { return s.value.Load() }

// CreateFence returns a fence that signals when the counter reaches value.
func (s *SWTimeline) CreateFence(name string, value uint32) (*Fence, error) {
	pt, err := s.tl.NewPoint(value)
	if err != nil {
		return nil, err
	}
	return NewFence(name, pt)
}

// Inc advances the counter and signals.
func (s *SWTimeline) Inc(n uint32) {
	s.value.Add(n)
	s.tl.Signal()
}

// SetError fails every pending point with code, which must be negative.
func (s *SWTimeline) SetError(code int) {
	if code >= 0 {
		panic("syncfw: SetError needs a negative code")
	}
	s.err.Store(int32(code))
	s.tl.Signal()
}

func (s *SWTimeline) Destroy() { s.tl.Destroy() }

func (s *SWTimeline) DriverName() string { return "sw_sync" }

func (s *SWTimeline) Dup(pt *Point) (*Point, error) {
	return s.tl.NewPoint(pt.Driver.(uint32))
}

func (s *SWTimeline) HasSignaled(pt *Point) int {
	if int32(s.value.Load()-pt.Driver.(uint32)) >= 0 {
		return StatusSignaled
	}
	if code := s.err.Load(); code < 0 {
		return int(code)
	}
	return StatusActive
}

func (s *SWTimeline) Compare(a, b *Point) int {
	av, bv := a.Driver.(uint32), b.Driver.(uint32)
	if av == bv {
		return 0
	}
	if int32(av-bv) < 0 {
		return -1
	}
	return 1
}

func (s *SWTimeline) FreePoint(*Point) {}

func (s *SWTimeline) ReleaseTimeline(*Timeline) {}

func (s *SWTimeline) PrintTimeline(w io.Writer, _ *Timeline) {
	fmt.Fprintf(w, "%d", s.value.Load())
}

func (s *SWTimeline) PrintPoint(w io.Writer, pt *Point) {
	fmt.Fprint(w, s.PointValueString(pt))
}

func (s *SWTimeline) PointValueString(pt *Point) string {
	return fmt.Sprintf("%d", pt.Driver.(uint32))
}
