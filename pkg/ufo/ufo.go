// Package ufo holds the (firmware address, value) pairs a GPU command uses to
// wait on a sync counter or to advance one when the command completes.
package ufo

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Addr is a firmware-visible sync counter address.
type Addr uint32

func (a Addr) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// UFO is a single address/value pair.
type UFO struct {
	Addr  Addr   `json:"addr"`
	Value uint32 `json:"value"`
}

// List stores UFOs as two parallel arrays, the layout firmware commands expect.
type List struct {
	Addrs  []Addr   `json:"addrs"`
	Values []uint32 `json:"values"`
}

var ErrCorruptList = errors.New("ufo: corrupt list encoding")

// Len returns the number of pairs in the list.
func (l List) Len() int {
	return len(l.Addrs)
}

// Append adds one pair.
func (l *List) Append(addr Addr, value uint32) {
	l.Addrs = append(l.Addrs, addr)
	l.Values = append(l.Values, value)
}

// At returns the i-th pair.
func (l *List) At(i int) UFO {
	return UFO{Addr: l.Addrs[i], Value: l.Values[i]}
}

// Pairs returns the list as a slice of UFO values.
func (l *List) Pairs() []UFO {
	out := make([]UFO, l.Len())
	for i := range out {
		out[i] = l.At(i)
	}
	return out
}

// Reset truncates the list, keeping its storage.
func (l *List) Reset() {
	l.Addrs = l.Addrs[:0]
	l.Values = l.Values[:0]
}

// Merge returns a freshly allocated list holding the contents of a followed by
// the contents of b. Neither input is retained.
func Merge(a, b List) List {
	n := a.Len() + b.Len()
	out := List{
		Addrs:  make([]Addr, 0, n),
		Values: make([]uint32, 0, n),
	}
	out.Addrs = append(out.Addrs, a.Addrs...)
	out.Addrs = append(out.Addrs, b.Addrs...)
	out.Values = append(out.Values, a.Values...)
	out.Values = append(out.Values, b.Values...)
	return out
}

// MarshalBinary encodes the list as a little-endian count followed by
// interleaved address/value words.
func (l List) MarshalBinary() ([]byte, error) {
	if len(l.Addrs) != len(l.Values) {
		return nil, fmt.Errorf("%w: %d addresses, %d values", ErrCorruptList, len(l.Addrs), len(l.Values))
	}
	buf := make([]byte, 4+8*len(l.Addrs))
	binary.LittleEndian.PutUint32(buf, uint32(len(l.Addrs)))
	off := 4
	for i, addr := range l.Addrs {
		binary.LittleEndian.PutUint32(buf[off:], uint32(addr))
		binary.LittleEndian.PutUint32(buf[off+4:], l.Values[i])
		off += 8
	}
	return buf, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary.
func (l *List) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return ErrCorruptList
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) != 4+8*n {
		return fmt.Errorf("%w: %d entries need %d bytes, have %d", ErrCorruptList, n, 4+8*n, len(data))
	}
	l.Addrs = make([]Addr, n)
	l.Values = make([]uint32, n)
	off := 4
	for i := 0; i < n; i++ {
		l.Addrs[i] = Addr(binary.LittleEndian.Uint32(data[off:]))
		l.Values[i] = binary.LittleEndian.Uint32(data[off+4:])
		off += 8
	}
	return nil
}
