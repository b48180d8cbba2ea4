package device

import (
	"sync/atomic"

	"github.com/samcharles93/gpufence/pkg/ufo"
)

// Prim is a client handle on one firmware-visible 32-bit sync counter.
type Prim interface {
	Value() uint32
	SetValue(v uint32)
	FirmwareAddr() ufo.Addr
	Class() string
}

// ClientPrim is the Prim handed out by Device.
type ClientPrim struct {
	dev   *Device
	index int
	addr  ufo.Addr
	class string
	freed atomic.Bool
}

var _ Prim = (*ClientPrim)(nil)

func (p *ClientPrim) Value() uint32 {
	return atomic.LoadUint32(&p.dev.words[p.index])
}

func (p *ClientPrim) SetValue(v uint32) {
	atomic.StoreUint32(&p.dev.words[p.index], v)
}

func (p *ClientPrim) FirmwareAddr() ufo.Addr { return p.addr }

func (p *ClientPrim) Class() string { return p.class }
