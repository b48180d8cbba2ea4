package fence

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/syncfw"
)

func TestHandleLifecycle(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tl, err := e.OpenTimeline("handles")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := e.HandleKind(tl); got != "timeline" {
		t.Fatalf("kind = %q", got)
	}

	res, err := e.AllocFence(tl)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if !res.TimelineIdle {
		t.Fatalf("fresh timeline should be idle")
	}
	fence, err := e.CreateFence(tl, res.Handle, "out")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := e.HandleKind(fence); got != "fence" {
		t.Fatalf("kind = %q", got)
	}
	if _, err := e.CreateFence(tl, res.Handle, "twice"); !errors.Is(err, ErrResourceUnavailable) {
		t.Fatalf("second create: %v", err)
	}
	if _, err := e.CreateFence(tl, fence, "bad"); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("create from a fence handle: %v", err)
	}

	for _, id := range []uuid.UUID{fence, res.Handle, tl} {
		if err := e.CloseHandle(id); err != nil {
			t.Fatalf("close %s: %v", id, err)
		}
	}
	if err := e.CloseHandle(tl); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("double close: %v", err)
	}
	if err := e.EnableFencing(tl, true); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("enable fencing on closed timeline: %v", err)
	}

	st := e.Stats()
	if st.Handles != 0 || st.Timelines != 0 {
		t.Fatalf("handles=%d timelines=%d after closing everything", st.Handles, st.Timelines)
	}
}

func TestDebugFenceReportsPoints(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{MaxQueryFencePoints: 2})

	tlID, err := e.OpenTimeline("dbg")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.CloseHandle(tlID)
	if err := e.EnableFencing(tlID, true); err != nil {
		t.Fatalf("enable fencing: %v", err)
	}
	res, err := e.AllocFence(tlID)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer e.CloseHandle(res.Handle)
	own, err := e.CreateFence(tlID, res.Handle, "own")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer e.CloseHandle(own)
	defer e.NoHWComplete(own)

	sw := syncfw.NewSWTimeline("sw")
	defer sw.Destroy()
	sf, err := sw.CreateFence("foreign", 5)
	if err != nil {
		t.Fatalf("sw fence: %v", err)
	}
	foreign := e.InstallFence(sf)
	defer e.CloseHandle(foreign)

	merged, err := e.MergeHandles("mixed", own, foreign)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	defer e.CloseHandle(merged)

	d, err := e.DebugFence(merged)
	if err != nil {
		t.Fatalf("debug fence: %v", err)
	}
	if d.Name != "mixed" || d.Status != syncfw.StatusActive || len(d.Points) != 2 || d.Truncated {
		t.Fatalf("unexpected report %+v", d)
	}

	var ownPt, foreignPt PointDebug
	for _, p := range d.Points {
		if p.Foreign {
			foreignPt = p
		} else {
			ownPt = p
		}
	}
	if ownPt.Parent != "dbg" || ownPt.TimelineTaken != 1 || ownPt.FWAddr == 0 || ownPt.ID == 0 {
		t.Fatalf("unexpected engine point %+v", ownPt)
	}
	if foreignPt.Parent != "sw" || foreignPt.ForeignValue != "5" {
		t.Fatalf("unexpected foreign point %+v", foreignPt)
	}

	if _, err := e.DebugFence(uuid.New()); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("debug unknown fence: %v", err)
	}
}

func TestDebugFenceTruncates(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{MaxQueryFencePoints: 1})

	a := syncfw.NewSWTimeline("a")
	b := syncfw.NewSWTimeline("b")
	defer a.Destroy()
	defer b.Destroy()
	fa, _ := a.CreateFence("fa", 1)
	fb, _ := b.CreateFence("fb", 1)
	ida := e.InstallFence(fa)
	idb := e.InstallFence(fb)
	defer e.CloseHandle(ida)
	defer e.CloseHandle(idb)

	m, err := e.MergeHandles("m", ida, idb)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	defer e.CloseHandle(m)

	d, err := e.DebugFence(m)
	if err != nil {
		t.Fatalf("debug fence: %v", err)
	}
	if !d.Truncated || len(d.Points) != 1 {
		t.Fatalf("expected a truncated report with one point, got %+v", d)
	}
}

func TestCloseHandleKindLeavesOtherKindsOpen(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tl, err := e.OpenTimeline("kinds")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	res, err := e.AllocFence(tl)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	fence, err := e.CreateFence(tl, res.Handle, "kinds")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		id   uuid.UUID
		kind string
		want string
	}{
		{fence, "timeline", "fence"},
		{fence, "alloc", "fence"},
		{tl, "fence", "timeline"},
		{res.Handle, "timeline", "alloc"},
		{uuid.New(), "fence", ""},
	}
	for _, tt := range tests {
		if err := e.CloseHandleKind(tt.id, tt.kind); !errors.Is(err, ErrHandleNotFound) {
			t.Fatalf("close %s as %s: %v", tt.want, tt.kind, err)
		}
		if got := e.HandleKind(tt.id); got != tt.want {
			t.Fatalf("handle kind after rejected close = %q, want %q", got, tt.want)
		}
	}

	if err := e.CloseHandleKind(fence, "fence"); err != nil {
		t.Fatalf("close fence: %v", err)
	}
	if err := e.CloseHandleKind(res.Handle, "alloc"); err != nil {
		t.Fatalf("close alloc: %v", err)
	}
	if err := e.CloseHandleKind(tl, "timeline"); err != nil {
		t.Fatalf("close timeline: %v", err)
	}
	if st := e.Stats(); st.Handles != 0 {
		t.Fatalf("handles = %d after closing everything", st.Handles)
	}
}
