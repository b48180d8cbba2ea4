// Package device is a software implementation of the GPU services layer the
// fence engine is built against: firmware-visible sync counters, the bridge
// lock, the global event object, command-complete and debug-request
// notifiers, and a small in-order firmware command queue.
package device

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/gpufence/internal/logger"
	"github.com/samcharles93/gpufence/pkg/ufo"
)

const (
	DefaultSlots        = 4096
	DefaultEventTimeout = 100 * time.Millisecond
	DefaultFirmwareBase = ufo.Addr(0x08000000)
)

// Verbosity selects how much a debug request dumps.
type Verbosity int

const (
	VerbosityLow Verbosity = iota
	VerbosityMedium
	VerbosityHigh
)

func (v Verbosity) String() string {
	switch v {
	case VerbosityLow:
		return "low"
	case VerbosityMedium:
		return "medium"
	case VerbosityHigh:
		return "high"
	default:
		return fmt.Sprintf("verbosity(%d)", int(v))
	}
}

// DebugFunc writes a debug dump at the requested verbosity.
type DebugFunc func(w io.Writer, v Verbosity)

type Config struct {
	// Slots is the number of 32-bit sync counters in the device's sync memory.
	Slots int
	// EventTimeout bounds a single event object wait.
	EventTimeout time.Duration
	// FirmwareBase is the firmware address of slot 0.
	FirmwareBase ufo.Addr
	Logger       logger.Logger
}

func (c Config) withDefaults() Config {
	if c.Slots <= 0 {
		c.Slots = DefaultSlots
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = DefaultEventTimeout
	}
	if c.FirmwareBase == 0 {
		c.FirmwareBase = DefaultFirmwareBase
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	return c
}

type Device struct {
	cfg     Config
	log     logger.Logger
	words   []uint32
	release func() error

	slotMu    sync.Mutex
	freeSlots []int
	inUse     int

	bridge sync.Mutex
	event  *EventObject

	notifyMu    sync.Mutex
	nextNotify  int
	cmdComplete map[int]func()
	debug       map[int]DebugFunc

	fwMu      sync.Mutex
	queues    map[string][]Command
	submitted uint64
	executed  uint64

	checkStatusCalls atomic.Uint64
	closed           atomic.Bool
}

// New maps the sync memory and returns a ready device.
func New(cfg Config) (*Device, error) {
	cfg = cfg.withDefaults()
	words, release, err := mapSyncMemory(cfg.Slots)
	if err != nil {
		return nil, err
	}
	d := &Device{
		cfg:         cfg,
		log:         cfg.Logger.With("component", "device"),
		words:       words,
		release:     release,
		freeSlots:   make([]int, 0, cfg.Slots),
		event:       newEventObject(cfg.EventTimeout),
		cmdComplete: make(map[int]func()),
		debug:       make(map[int]DebugFunc),
		queues:      make(map[string][]Command),
	}
	// Lowest slot is handed out first.
	for i := cfg.Slots - 1; i >= 0; i-- {
		d.freeSlots = append(d.freeSlots, i)
	}
	d.log.Debug("sync memory mapped", "slots", cfg.Slots, "base", cfg.FirmwareBase)
	return d, nil
}

// Close releases the sync memory. Prims handed out must not be touched after.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.event.close()
	return d.release()
}

// AllocSyncPrim reserves one sync counter tagged with class.
func (d *Device) AllocSyncPrim(class string) (Prim, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.slotMu.Lock()
	defer d.slotMu.Unlock()
	n := len(d.freeSlots)
	if n == 0 {
		return nil, ErrOutOfSyncMemory
	}
	idx := d.freeSlots[n-1]
	d.freeSlots = d.freeSlots[:n-1]
	d.inUse++
	return &ClientPrim{
		dev:   d,
		index: idx,
		addr:  d.cfg.FirmwareBase + ufo.Addr(idx*4),
		class: class,
	}, nil
}

// FreeSyncPrim returns a counter to the device. Double frees are ignored.
func (d *Device) FreeSyncPrim(p Prim) {
	cp, ok := p.(*ClientPrim)
	if !ok || cp.dev != d {
		d.log.Error("free of foreign sync prim", "addr", p.FirmwareAddr())
		return
	}
	if !cp.freed.CompareAndSwap(false, true) {
		d.log.Warn("double free of sync prim", "addr", cp.addr)
		return
	}
	d.slotMu.Lock()
	d.freeSlots = append(d.freeSlots, cp.index)
	d.inUse--
	d.slotMu.Unlock()
}

// AcquireBridgeLock serialises callers that operate on the prim context.
func (d *Device) AcquireBridgeLock() { d.bridge.Lock() }

func (d *Device) ReleaseBridgeLock() { d.bridge.Unlock() }

// Event returns the global event object.
func (d *Device) Event() *EventObject { return d.event }

// OpenEvent opens a listener on the global event object.
func (d *Device) OpenEvent() (Listener, error) {
	l, err := d.event.Open()
	if err != nil {
		return nil, err
	}
	return l, nil
}

// RegisterCmdCompleteNotify adds fn to the notifiers run whenever the device
// retires work. The returned func unregisters it.
func (d *Device) RegisterCmdCompleteNotify(fn func()) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("device: nil command-complete notifier")
	}
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	id := d.nextNotify
	d.nextNotify++
	d.cmdComplete[id] = fn
	return func() {
		d.notifyMu.Lock()
		delete(d.cmdComplete, id)
		d.notifyMu.Unlock()
	}, nil
}

// RegisterDebugNotify adds fn to the debug-request notifiers.
func (d *Device) RegisterDebugNotify(fn DebugFunc) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("device: nil debug notifier")
	}
	d.notifyMu.Lock()
	defer d.notifyMu.Unlock()
	id := d.nextNotify
	d.nextNotify++
	d.debug[id] = fn
	return func() {
		d.notifyMu.Lock()
		delete(d.debug, id)
		d.notifyMu.Unlock()
	}, nil
}

// NotifyCmdComplete runs every command-complete notifier and then signals the
// global event. Notifiers run on the caller's goroutine with no device lock held.
func (d *Device) NotifyCmdComplete() {
	d.notifyMu.Lock()
	fns := make([]func(), 0, len(d.cmdComplete))
	for _, fn := range d.cmdComplete {
		fns = append(fns, fn)
	}
	d.notifyMu.Unlock()

	for _, fn := range fns {
		fn()
	}
	d.event.Signal()
}

// DumpDebug runs every debug notifier against w.
func (d *Device) DumpDebug(w io.Writer, v Verbosity) {
	d.notifyMu.Lock()
	fns := make([]DebugFunc, 0, len(d.debug))
	for _, fn := range d.debug {
		fns = append(fns, fn)
	}
	d.notifyMu.Unlock()

	for _, fn := range fns {
		fn(w, v)
	}
}

// Value reads the counter at addr.
func (d *Device) Value(addr ufo.Addr) (uint32, error) {
	idx, err := d.slot(addr)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(&d.words[idx]), nil
}

// SetValue writes the counter at addr, as firmware does when it retires an update.
func (d *Device) SetValue(addr ufo.Addr, v uint32) error {
	idx, err := d.slot(addr)
	if err != nil {
		return err
	}
	atomic.StoreUint32(&d.words[idx], v)
	return nil
}

func (d *Device) slot(addr ufo.Addr) (int, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if addr < d.cfg.FirmwareBase || (addr-d.cfg.FirmwareBase)%4 != 0 {
		return 0, fmt.Errorf("%w: %s", ErrBadAddress, addr)
	}
	idx := int(addr-d.cfg.FirmwareBase) / 4
	if idx >= len(d.words) {
		return 0, fmt.Errorf("%w: %s", ErrBadAddress, addr)
	}
	return idx, nil
}

type Stats struct {
	SlotsTotal       int    `json:"slots_total"`
	SlotsInUse       int    `json:"slots_in_use"`
	Submitted        uint64 `json:"submitted"`
	Executed         uint64 `json:"executed"`
	Pending          int    `json:"pending"`
	CheckStatusCalls uint64 `json:"check_status_calls"`
}

func (d *Device) Stats() Stats {
	d.slotMu.Lock()
	st := Stats{
		SlotsTotal: len(d.words),
		SlotsInUse: d.inUse,
	}
	d.slotMu.Unlock()

	d.fwMu.Lock()
	st.Submitted = d.submitted
	st.Executed = d.executed
	for _, q := range d.queues {
		st.Pending += len(q)
	}
	d.fwMu.Unlock()
	st.CheckStatusCalls = d.checkStatusCalls.Load()
	return st
}
