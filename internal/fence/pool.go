package fence

import (
	"container/list"
	"fmt"
	"io"
	"sync"

	"github.com/samcharles93/gpufence/internal/logger"
)

// Pool recycles sync prims. Up to capacity released prims are parked on a
// free list and handed out again before new ones are allocated from the
// device.
type Pool struct {
	svc      Services
	log      logger.Logger
	capacity int

	mu        sync.Mutex
	free      []*SyncPrim
	active    *list.List
	nextID    uint32
	created   uint32
	reused    uint32
	destroyed uint32
}

type PoolStats struct {
	Capacity  int    `json:"capacity"`
	Free      int    `json:"free"`
	Active    int    `json:"active"`
	Created   uint32 `json:"created"`
	Reused    uint32 `json:"reused"`
	Destroyed uint32 `json:"destroyed"`
}

func newPool(svc Services, capacity int, log logger.Logger) *Pool {
	return &Pool{
		svc:      svc,
		log:      log,
		capacity: capacity,
		free:     make([]*SyncPrim, 0, capacity),
		active:   list.New(),
	}
}

// Acquire returns a prim with value and target reset to 0 and a fresh id.
// The most recently released prim is reused first.
func (p *Pool) Acquire(class string, typ PrimType) (*SyncPrim, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s *SyncPrim
	if n := len(p.free); n > 0 {
		s = p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.reused++
	} else {
		client, err := p.svc.AllocSyncPrim(class)
		if err != nil {
			p.log.Error("failed to allocate sync prim", "class", class, "type", typ, "error", err)
			return nil, fmt.Errorf("%w: sync prim: %w", ErrOutOfMemory, err)
		}
		s = &SyncPrim{client: client, addr: client.FirmwareAddr()}
		p.created++
	}

	p.nextID++
	s.id = p.nextID
	s.typ = typ
	s.class = class
	s.elem = p.active.PushBack(s)
	s.client.SetValue(0)
	s.next.Store(0)
	return s, nil
}

// Release parks s on the free list, or returns it to the device poisoned
// when the free list is full.
func (p *Pool) Release(s *SyncPrim) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.elem == nil {
		p.log.Warn("sync prim released twice", "id", s.id, "addr", s.addr)
		return
	}
	p.active.Remove(s.elem)
	s.elem = nil

	if len(p.free) < p.capacity {
		s.client.SetValue(ValueUnmet)
		p.free = append(p.free, s)
		return
	}
	s.client.SetValue(ValuePoison)
	p.svc.FreeSyncPrim(s.client)
	p.destroyed++
}

// Drain returns every parked prim to the device and reports how many.
func (p *Pool) Drain() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	for i, s := range p.free {
		s.client.SetValue(ValuePoison)
		p.svc.FreeSyncPrim(s.client)
		p.free[i] = nil
	}
	p.free = p.free[:0]
	p.destroyed += uint32(n)
	return n
}

func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:  p.capacity,
		Free:      len(p.free),
		Active:    p.active.Len(),
		Created:   p.created,
		Reused:    p.reused,
		Destroyed: p.destroyed,
	}
}

// usagePercent is the share of acquires served from the free list.
func usagePercent(created, reused uint32) uint32 {
	total := uint64(created) + uint64(reused)
	if total == 0 {
		return 0
	}
	return uint32(uint64(reused) * 100 / total)
}

// dump writes pool usage and every active prim that is not yet met.
func (p *Pool) dump(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(w, "Dumping all pending sync prims (Pool usage: %d%% - %d %d)\n",
		usagePercent(p.created, p.reused), p.created, p.reused)
	for el := p.active.Front(); el != nil; el = el.Next() {
		s := el.Value.(*SyncPrim)
		if s.Met() {
			continue
		}
		fmt.Fprintf(w, "\tID = %d, FWAddr = 0x%08x: Current = 0x%08x, Next = 0x%08x, %s (%s)\n",
			s.id, uint32(s.addr), s.Value(), s.Next(), s.class, s.typ)
	}
}
