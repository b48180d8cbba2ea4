package fence

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/logger"
	"github.com/samcharles93/gpufence/internal/syncfw"
)

const (
	DefaultPoolCapacity        = 10
	DefaultMaxQueryFencePoints = 14

	// DriverName identifies engine timelines in syncfw output.
	DriverName = "gpufence"
)

type Config struct {
	// PoolCapacity bounds the number of released prims kept for reuse.
	PoolCapacity int
	// MaxQueryFencePoints is the per-fence entry bound used by MergeFences
	// and DebugFence.
	MaxQueryFencePoints int
	Logger              logger.Logger
}

func (c Config) withDefaults() Config {
	if c.PoolCapacity <= 0 {
		c.PoolCapacity = DefaultPoolCapacity
	}
	if c.MaxQueryFencePoints <= 0 {
		c.MaxQueryFencePoints = DefaultMaxQueryFencePoints
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return c
}

type Engine struct {
	cfg  Config
	svc  Services
	log  logger.Logger
	warn logger.Logger
	pool *Pool

	tlMu      sync.Mutex
	timelines []*Timeline

	// freeMu and putMu are taken from fence callbacks. Their critical
	// sections only touch the slices they guard.
	freeMu   sync.Mutex
	freeList []*kernelPair
	putMu    sync.Mutex
	putList  []*syncfw.Fence

	deferFreeWQ   *workQueue
	checkStatusWQ *workQueue

	hMu     sync.Mutex
	handles map[uuid.UUID]any

	unregisterCmd   func()
	unregisterDebug func()
	closed          atomic.Bool

	stats engineCounters
}

type engineCounters struct {
	deferredFrees     atomic.Uint64
	pairsReclaimed    atomic.Uint64
	fencePuts         atomic.Uint64
	sweeps            atomic.Uint64
	timelinesSignaled atomic.Uint64
	foreignShadows    atomic.Uint64
	overflows         atomic.Uint64
}

// New builds an engine on svc and registers its command-complete and debug
// notifiers. Close releases everything.
func New(svc Services, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger.With("component", "engine")
	e := &Engine{
		cfg:     cfg,
		svc:     svc,
		log:     log,
		warn:    logger.Throttle(log, time.Second, 5),
		pool:    newPool(svc, cfg.PoolCapacity, cfg.Logger.With("component", "pool")),
		handles: make(map[uuid.UUID]any),
	}
	e.deferFreeWQ = newWorkQueue(func() { e.runDeferFree() }, e.drainDeferFree)
	e.checkStatusWQ = newWorkQueue(svc.CheckStatus, nil)

	unregisterCmd, err := svc.RegisterCmdCompleteNotify(e.updateAllTimelines)
	if err != nil {
		e.checkStatusWQ.Destroy()
		e.deferFreeWQ.Destroy()
		return nil, fmt.Errorf("register command-complete notifier: %w", err)
	}
	unregisterDebug, err := svc.RegisterDebugNotify(e.DumpDebug)
	if err != nil {
		unregisterCmd()
		e.checkStatusWQ.Destroy()
		e.deferFreeWQ.Destroy()
		return nil, fmt.Errorf("register debug notifier: %w", err)
	}
	e.unregisterCmd = unregisterCmd
	e.unregisterDebug = unregisterDebug

	e.log.Debug("engine started", "pool_capacity", cfg.PoolCapacity, "max_query_points", cfg.MaxQueryFencePoints)
	return e, nil
}

// Close unregisters the notifiers, waits for every deferred prim to be met
// and freed, and returns the pool's parked prims to the device. It blocks
// for as long as the hardware has not finished with queued prims.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.unregisterDebug()
	e.unregisterCmd()

	e.hMu.Lock()
	open := len(e.handles)
	e.hMu.Unlock()
	if open > 0 {
		e.log.Warn("closing engine with open handles", "handles", open)
	}

	e.deferFreeWQ.Destroy()
	e.checkStatusWQ.Destroy()

	e.svc.AcquireBridgeLock()
	n := e.pool.Drain()
	e.svc.ReleaseBridgeLock()

	e.log.Debug("engine closed", "drained", n)
	return nil
}

func (e *Engine) Config() Config { return e.cfg }

// Pool exposes the prim pool for inspection.
func (e *Engine) Pool() *Pool { return e.pool }

type Stats struct {
	Pool              PoolStats `json:"pool"`
	Timelines         int       `json:"timelines"`
	Handles           int       `json:"handles"`
	PendingFrees      int       `json:"pending_frees"`
	DeferredFrees     uint64    `json:"deferred_frees"`
	PairsReclaimed    uint64    `json:"pairs_reclaimed"`
	FencePuts         uint64    `json:"fence_puts"`
	Sweeps            uint64    `json:"sweeps"`
	TimelinesSignaled uint64    `json:"timelines_signaled"`
	ForeignShadows    uint64    `json:"foreign_shadows"`
	QueryOverflows    uint64    `json:"query_overflows"`
}

func (e *Engine) Stats() Stats {
	st := Stats{
		Pool:              e.pool.Stats(),
		DeferredFrees:     e.stats.deferredFrees.Load(),
		PairsReclaimed:    e.stats.pairsReclaimed.Load(),
		FencePuts:         e.stats.fencePuts.Load(),
		Sweeps:            e.stats.sweeps.Load(),
		TimelinesSignaled: e.stats.timelinesSignaled.Load(),
		ForeignShadows:    e.stats.foreignShadows.Load(),
		QueryOverflows:    e.stats.overflows.Load(),
	}
	e.tlMu.Lock()
	st.Timelines = len(e.timelines)
	e.tlMu.Unlock()
	e.hMu.Lock()
	st.Handles = len(e.handles)
	e.hMu.Unlock()
	e.freeMu.Lock()
	st.PendingFrees = len(e.freeList)
	e.freeMu.Unlock()
	return st
}

// owns reports whether pt lives on one of this engine's timelines.
func (e *Engine) owns(pt *syncfw.Point) (*Timeline, bool) {
	t, ok := pt.Timeline().Ops().(*Timeline)
	if !ok || t.e != e {
		return nil, false
	}
	return t, true
}

func (e *Engine) acquirePrim(class string, typ PrimType) (*SyncPrim, error) {
	e.svc.AcquireBridgeLock()
	defer e.svc.ReleaseBridgeLock()
	return e.pool.Acquire(class, typ)
}

func (e *Engine) releasePrim(s *SyncPrim) {
	e.svc.AcquireBridgeLock()
	defer e.svc.ReleaseBridgeLock()
	e.pool.Release(s)
}
