package fence

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/syncfw"
)

// Handles are opaque ids for timelines, alloc handles and fences. The table
// owns one reference on each installed object; lookups return a further
// reference the caller must drop.

func (e *Engine) install(obj any) uuid.UUID {
	id := uuid.New()
	e.hMu.Lock()
	e.handles[id] = obj
	e.hMu.Unlock()
	return id
}

// InstallTimeline hands t to the table. Closing the handle closes t.
func (e *Engine) InstallTimeline(t *Timeline) uuid.UUID { return e.install(t) }

// InstallAlloc hands the caller's reference on a to the table.
func (e *Engine) InstallAlloc(a *AllocHandle) uuid.UUID { return e.install(a) }

// InstallFence hands the caller's reference on f to the table.
func (e *Engine) InstallFence(f *syncfw.Fence) uuid.UUID { return e.install(f) }

// LookupTimeline returns the timeline with a reference held; call Put.
func (e *Engine) LookupTimeline(id uuid.UUID) (*Timeline, error) {
	e.hMu.Lock()
	defer e.hMu.Unlock()
	t, ok := e.handles[id].(*Timeline)
	if !ok {
		return nil, fmt.Errorf("timeline %s: %w", id, ErrHandleNotFound)
	}
	t.Get()
	return t, nil
}

// LookupAlloc returns the alloc handle with a reference held; call Put.
func (e *Engine) LookupAlloc(id uuid.UUID) (*AllocHandle, error) {
	e.hMu.Lock()
	defer e.hMu.Unlock()
	a, ok := e.handles[id].(*AllocHandle)
	if !ok {
		return nil, fmt.Errorf("alloc handle %s: %w", id, ErrHandleNotFound)
	}
	a.Get()
	return a, nil
}

// LookupFence returns the fence with a reference held; call Put.
func (e *Engine) LookupFence(id uuid.UUID) (*syncfw.Fence, error) {
	e.hMu.Lock()
	defer e.hMu.Unlock()
	f, ok := e.handles[id].(*syncfw.Fence)
	if !ok {
		return nil, fmt.Errorf("fence %s: %w", id, ErrHandleNotFound)
	}
	f.Get()
	return f, nil
}

// CloseHandle removes id and drops the table's reference. Closing a
// timeline may block until its hardware work is done.
func (e *Engine) CloseHandle(id uuid.UUID) error {
	return e.closeHandle(id, "")
}

// CloseHandleKind is CloseHandle for a handle that must be of the given
// kind. A handle of another kind is left open and reported as not found.
func (e *Engine) CloseHandleKind(id uuid.UUID, kind string) error {
	return e.closeHandle(id, kind)
}

func (e *Engine) closeHandle(id uuid.UUID, kind string) error {
	e.hMu.Lock()
	obj, ok := e.handles[id]
	if ok && kind != "" && handleKind(obj) != kind {
		ok = false
	}
	if ok {
		delete(e.handles, id)
	}
	e.hMu.Unlock()
	if !ok {
		if kind != "" {
			return fmt.Errorf("%s %s: %w", kind, id, ErrHandleNotFound)
		}
		return fmt.Errorf("handle %s: %w", id, ErrHandleNotFound)
	}

	switch v := obj.(type) {
	case *Timeline:
		v.Close()
	case *AllocHandle:
		v.Put()
	case *syncfw.Fence:
		v.Put()
	}
	return nil
}

// HandleKind names the object behind id, or "" when there is none.
func (e *Engine) HandleKind(id uuid.UUID) string {
	e.hMu.Lock()
	defer e.hMu.Unlock()
	return handleKind(e.handles[id])
}

func handleKind(obj any) string {
	switch obj.(type) {
	case *Timeline:
		return "timeline"
	case *AllocHandle:
		return "alloc"
	case *syncfw.Fence:
		return "fence"
	}
	return ""
}

// AllocResult is what allocate-fence reports.
type AllocResult struct {
	Handle       uuid.UUID `json:"handle"`
	TimelineIdle bool      `json:"timeline_idle"`
	FenceValue   uint32    `json:"fence_value"`
	UpdateValue  uint32    `json:"update_value"`
}

// OpenTimeline opens a timeline and installs it.
func (e *Engine) OpenTimeline(name string) (uuid.UUID, error) {
	t, err := e.Open(name)
	if err != nil {
		return uuid.Nil, err
	}
	return e.InstallTimeline(t), nil
}

// AllocFence reserves a point on the timeline behind tlID.
func (e *Engine) AllocFence(tlID uuid.UUID) (AllocResult, error) {
	t, err := e.LookupTimeline(tlID)
	if err != nil {
		return AllocResult{}, err
	}
	defer t.Put()

	a, err := t.Alloc()
	if err != nil {
		return AllocResult{}, err
	}
	fv, uv, _ := a.Values()
	return AllocResult{
		Handle:       e.InstallAlloc(a),
		TimelineIdle: a.TimelineIdle(),
		FenceValue:   fv,
		UpdateValue:  uv,
	}, nil
}

// CreateFence materialises the alloc handle allocID on tlID into a fence.
func (e *Engine) CreateFence(tlID, allocID uuid.UUID, name string) (uuid.UUID, error) {
	t, err := e.LookupTimeline(tlID)
	if err != nil {
		return uuid.Nil, err
	}
	defer t.Put()
	a, err := e.LookupAlloc(allocID)
	if err != nil {
		return uuid.Nil, err
	}
	defer a.Put()

	f, err := t.Create(a, name)
	if err != nil {
		return uuid.Nil, err
	}
	return e.InstallFence(f), nil
}

// EnableFencing sets the fencing flag on the timeline behind tlID.
func (e *Engine) EnableFencing(tlID uuid.UUID, enabled bool) error {
	t, err := e.LookupTimeline(tlID)
	if err != nil {
		return err
	}
	defer t.Put()
	t.SetFencingEnabled(enabled)
	return nil
}

// MergeHandles installs a fence covering the points of fences a and b.
func (e *Engine) MergeHandles(name string, a, b uuid.UUID) (uuid.UUID, error) {
	fa, err := e.LookupFence(a)
	if err != nil {
		return uuid.Nil, err
	}
	defer fa.Put()
	fb, err := e.LookupFence(b)
	if err != nil {
		return uuid.Nil, err
	}
	defer fb.Put()

	f, err := syncfw.Merge(name, fa, fb)
	if err != nil {
		return uuid.Nil, err
	}
	return e.InstallFence(f), nil
}
