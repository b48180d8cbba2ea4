package fence

import (
	"container/list"
	"fmt"
	"sync/atomic"

	"github.com/samcharles93/gpufence/internal/device"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

// PrimType records what a sync prim is used for.
type PrimType uint8

const (
	TypeTimeline PrimType = iota
	TypeFence
	TypeCleanup
	TypeForeignFence
	TypeForeignCleanup
)

var primTypeNames = [...]string{
	TypeTimeline:       "Timeline",
	TypeFence:          "Fence",
	TypeCleanup:        "Cleanup",
	TypeForeignFence:   "Foreign Fence",
	TypeForeignCleanup: "Foreign Cleanup",
}

func (t PrimType) String() string {
	if int(t) < len(primTypeNames) {
		return primTypeNames[t]
	}
	return fmt.Sprintf("PrimType(%d)", uint8(t))
}

const (
	// ValueUnmet is written to prims parked on the pool's free list so no
	// stale wait on them can be satisfied.
	ValueUnmet uint32 = 0xffffffff
	// ValuePoison is written to prims before they are returned to the device.
	ValuePoison uint32 = 0xdeadbeef
)

// SyncPrim is a pooled firmware sync counter together with the value
// software expects it to reach.
type SyncPrim struct {
	client device.Prim
	addr   ufo.Addr

	// Set by the pool on every acquire, under its lock.
	id    uint32
	typ   PrimType
	class string
	elem  *list.Element

	next atomic.Uint32
}

func (s *SyncPrim) ID() uint32 { return s.id }

func (s *SyncPrim) Addr() ufo.Addr { return s.addr }

func (s *SyncPrim) Type() PrimType { return s.typ }

func (s *SyncPrim) Class() string { return s.class }

// Value is the counter as last written by firmware.
func (s *SyncPrim) Value() uint32 { return s.client.Value() }

// Next is the value the counter must reach to be met.
func (s *SyncPrim) Next() uint32 { return s.next.Load() }

// Met reports whether the counter equals its target.
func (s *SyncPrim) Met() bool { return s.client.Value() == s.next.Load() }

// complete writes the target value, as firmware would.
func (s *SyncPrim) complete() { s.client.SetValue(s.next.Load()) }

func (s *SyncPrim) bumpNext() uint32 { return s.next.Add(1) }

func (s *SyncPrim) setNext(v uint32) { s.next.Store(v) }

// kernelPair is the fence prim of a point plus the cleanup prim that tells
// when the last hardware wait on it has executed.
type kernelPair struct {
	fence   *SyncPrim
	cleanup atomic.Pointer[SyncPrim]
}

func (k *kernelPair) met() bool {
	if !k.fence.Met() {
		return false
	}
	c := k.cleanup.Load()
	return c == nil || c.Met()
}

// after reports whether a is at or past b on a wrapping 32-bit counter.
func after(a, b uint32) bool { return int32(a-b) >= 0 }
