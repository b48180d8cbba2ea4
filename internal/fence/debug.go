package fence

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/internal/syncfw"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

// DumpDebug is the engine's debug-request notifier. At high verbosity it
// writes pool usage and every active prim still waiting on the hardware.
func (e *Engine) DumpDebug(w io.Writer, v device.Verbosity) {
	if v != device.VerbosityHigh {
		return
	}
	e.pool.dump(w)
}

// PointDebug describes one point of a fence.
type PointDebug struct {
	Parent  string `json:"parent"`
	Status  int    `json:"status"`
	Foreign bool   `json:"foreign"`
	// ForeignValue is set for foreign points whose timeline can describe
	// its points.
	ForeignValue string `json:"foreign_value,omitempty"`

	// Engine points with a fence prim.
	ID            uint32   `json:"id,omitempty"`
	CurrOp        uint32   `json:"curr_op,omitempty"`
	NextOp        uint32   `json:"next_op,omitempty"`
	FWAddr        ufo.Addr `json:"fw_addr,omitempty"`
	TimelineTaken uint32   `json:"timeline_taken,omitempty"`
}

type FenceDebug struct {
	Name      string       `json:"name"`
	Status    int          `json:"status"`
	Points    []PointDebug `json:"points"`
	Truncated bool         `json:"truncated,omitempty"`
}

// DebugFence reports the state of the fence behind id.
func (e *Engine) DebugFence(id uuid.UUID) (FenceDebug, error) {
	f, err := e.LookupFence(id)
	if err != nil {
		return FenceDebug{}, err
	}
	defer f.Put()
	return e.describeFence(f), nil
}

func (e *Engine) describeFence(f *syncfw.Fence) FenceDebug {
	out := FenceDebug{
		Name:   f.Name(),
		Status: f.Status(),
		Points: make([]PointDebug, 0, len(f.Points())),
	}
	for _, pt := range f.Points() {
		if len(out.Points) == e.cfg.MaxQueryFencePoints {
			e.warn.Warn("too little space on fence query for all the sync points in this fence",
				"fence", f.Name(), "points", len(f.Points()))
			out.Truncated = true
			break
		}

		d := PointDebug{
			Parent: pt.Timeline().Name(),
			Status: pt.Status(),
		}
		if _, ok := e.owns(pt); ok {
			sd := pt.Driver.(*syncData)
			if k := sd.kernel; k != nil {
				d.ID = k.fence.id
				d.CurrOp = k.fence.Value()
				d.NextOp = k.fence.Next()
				d.FWAddr = k.fence.addr
				d.TimelineTaken = sd.updateValue
			}
		} else {
			d.Foreign = true
			if pv, ok := pt.Timeline().Ops().(syncfw.PointValuer); ok {
				d.ForeignValue = pv.PointValueString(pt)
			}
		}
		out.Points = append(out.Points, d)
	}
	return out
}

func (d PointDebug) String() string {
	if d.Foreign {
		return fmt.Sprintf("%s status=%d foreign value=%s", d.Parent, d.Status, d.ForeignValue)
	}
	return fmt.Sprintf("%s status=%d id=%d fw=%s curr=%d next=%d tl_taken=%d",
		d.Parent, d.Status, d.ID, d.FWAddr, d.CurrOp, d.NextOp, d.TimelineTaken)
}
