package fence

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/syncfw"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

func assertUFOs(t *testing.T, what string, want []ufo.UFO, got ufo.List) {
	t.Helper()
	if diff := cmp.Diff(want, got.Pairs()); diff != "" {
		t.Fatalf("%s mismatch (-want +got):\n%s", what, diff)
	}
}

func kernelOn(f *syncfw.Fence, tl *Timeline) *kernelPair {
	for _, pt := range f.Points() {
		if pt.Timeline() == tl.Base() {
			return pt.Driver.(*syncData).kernel
		}
	}
	return nil
}

func TestQueryCheckSkipsSignaledPoints(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tlA, err := e.Open("a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tlA.Close()
	tlB, err := e.Open("b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tlB.Close()

	done, _ := pendingFence(t, e, tlA, "done")
	e.CompleteFence(done)
	pending, _ := pendingFence(t, e, tlB, "pending")

	m, err := syncfw.Merge("m", done, pending)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	done.Put()
	pending.Put()
	defer m.Put()
	defer e.CompleteFence(m)

	q := Query{MaxEntries: 14}
	if err := e.QueryCheck(&q, m); err != nil {
		t.Fatalf("query check: %v", err)
	}

	k := kernelOn(m, tlB)
	cleanup := k.cleanup.Load()
	if cleanup == nil {
		t.Fatalf("check query did not allocate a cleanup prim")
	}
	if cleanup.Type() != TypeCleanup {
		t.Fatalf("cleanup prim type = %s", cleanup.Type())
	}
	assertUFOs(t, "waits", []ufo.UFO{{Addr: k.fence.Addr(), Value: 1}}, q.Waits)
	assertUFOs(t, "updates", []ufo.UFO{{Addr: cleanup.Addr(), Value: 1}}, q.Updates)
	if kernelOn(m, tlA).cleanup.Load() != nil {
		t.Fatalf("signaled point got a cleanup prim")
	}

	// A second check reuses the cleanup prim and advances it again.
	q2 := Query{MaxEntries: 14}
	if err := e.QueryCheck(&q2, m); err != nil {
		t.Fatalf("query check: %v", err)
	}
	assertUFOs(t, "second updates", []ufo.UFO{{Addr: cleanup.Addr(), Value: 2}}, q2.Updates)
}

func TestQueryTruncatesAtCapacity(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tlA, err := e.Open("a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tlA.Close()
	tlB, err := e.Open("b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tlB.Close()

	fa, _ := pendingFence(t, e, tlA, "fa")
	fb, _ := pendingFence(t, e, tlB, "fb")
	m, err := syncfw.Merge("m", fa, fb)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	fa.Put()
	fb.Put()
	defer m.Put()
	defer e.CompleteFence(m)

	q := Query{MaxEntries: 1}
	if err := e.QueryCheck(&q, m); err != nil {
		t.Fatalf("query check: %v", err)
	}
	if !q.Overflowed {
		t.Fatalf("expected overflow")
	}
	if q.Waits.Len() != 1 || q.Updates.Len() != 1 {
		t.Fatalf("got %d waits, %d updates; want 1 each", q.Waits.Len(), q.Updates.Len())
	}
	if got := e.Stats().QueryOverflows; got != 1 {
		t.Fatalf("overflows = %d, want 1", got)
	}
}

func TestQueryUpdateNeedsRoomForTriple(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tl, err := e.Open("tight")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tl.Close()

	a, err := tl.Alloc()
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer a.Put()
	tl.SetFencingEnabled(true)

	q := Query{Update: true, MaxEntries: 1}
	if err := e.QueryUpdate(&q, a); err != nil {
		t.Fatalf("query update: %v", err)
	}
	if !q.Overflowed || q.Waits.Len() != 0 || q.Updates.Len() != 0 {
		t.Fatalf("expected an empty overflowed query, got %+v", q)
	}
	if !tl.FencingEnabled() {
		t.Fatalf("overflowed update query cleared the fencing flag")
	}
	if a.data.kernel.fence.Next() != 0 {
		t.Fatalf("overflowed update query advanced the fence prim")
	}
}

func TestQueryFencesContinuesPastOverflow(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tl, err := e.OpenTimeline("multi")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.CloseHandle(tl)

	var allocs []uuid.UUID
	for i := 0; i < 2; i++ {
		res, err := e.AllocFence(tl)
		if err != nil {
			t.Fatalf("alloc: %v", err)
		}
		allocs = append(allocs, res.Handle)
	}

	q := Query{Update: true, MaxEntries: 3}
	if err := e.QueryFences(&q, allocs...); err != nil {
		t.Fatalf("query: %v", err)
	}
	if !q.Overflowed {
		t.Fatalf("second alloc should not fit")
	}
	if q.Waits.Len() != 1 || q.Updates.Len() != 2 {
		t.Fatalf("got %d waits, %d updates; want 1/2", q.Waits.Len(), q.Updates.Len())
	}

	for _, id := range allocs {
		if err := e.NoHWComplete(id); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	for i := len(allocs) - 1; i >= 0; i-- {
		if err := e.CloseHandle(allocs[i]); err != nil {
			t.Fatalf("close alloc: %v", err)
		}
	}
}

func TestQueryFencesRejectsWrongHandles(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	tl, err := e.OpenTimeline("kinds")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.CloseHandle(tl)

	res, err := e.AllocFence(tl)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer e.CloseHandle(res.Handle)

	check := Query{MaxEntries: 14}
	if err := e.QueryFences(&check, res.Handle); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("check query on alloc handle: %v", err)
	}
	update := Query{Update: true, MaxEntries: 14}
	if err := e.QueryFences(&update, uuid.New()); !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("update query on unknown handle: %v", err)
	}
}

func TestMergeFencesAppendsToCallerLists(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t, Config{})

	var waits, updates ufo.List
	if _, err := e.MergeFences("empty", false, &waits, &updates); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("merge with no handles: %v", err)
	}

	tl, err := e.OpenTimeline("merge")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.CloseHandle(tl)
	res, err := e.AllocFence(tl)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	defer e.CloseHandle(res.Handle)
	defer e.NoHWComplete(res.Handle)

	waits.Append(0x100, 1)
	updates.Append(0x200, 2)
	prior := waits

	overflowed, err := e.MergeFences("kick", true, &waits, &updates, res.Handle)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if overflowed {
		t.Fatalf("unexpected overflow")
	}
	if waits.Len() != 2 || updates.Len() != 3 {
		t.Fatalf("got %d waits, %d updates; want 2/3", waits.Len(), updates.Len())
	}
	if waits.At(0) != (ufo.UFO{Addr: 0x100, Value: 1}) || updates.At(0) != (ufo.UFO{Addr: 0x200, Value: 2}) {
		t.Fatalf("prior entries not kept first")
	}
	if &prior.Addrs[0] == &waits.Addrs[0] {
		t.Fatalf("merged list shares storage with the prior list")
	}
}
