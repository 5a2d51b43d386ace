package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Default loader placement in target RAM. The loader binary is linked for
// exactly these addresses.
const (
	LoaderBase   uint32 = 0x20000000
	ParamsAddr0  uint32 = 0x20001bd8
	ParamsAddr1  uint32 = 0x20001bec
	BufferAddr0  uint32 = 0x20001c00
	BufferAddr1  uint32 = 0x20002c00
	BufferLength uint32 = 0x1000
)

// ErrBadLayout is returned by Layout.Validate
var ErrBadLayout = errors.New("invalid loader layout")

// Layout describes where the loader, its parameter blocks and its data
// buffers live in target RAM
type Layout struct {
	Base    uint32
	Params  [2]uint32
	Buffers [2]uint32
	// BufferLen is the capacity of each data buffer
	BufferLen uint32
	// ChunkLen is how much the host places in a buffer per command
	ChunkLen uint32
}

// DefaultLayout matches the stock CC2538 loader binary
var DefaultLayout = Layout{
	Base:      LoaderBase,
	Params:    [2]uint32{ParamsAddr0, ParamsAddr1},
	Buffers:   [2]uint32{BufferAddr0, BufferAddr1},
	BufferLen: BufferLength,
	ChunkLen:  SectorSize,
}

// WorkingSize is the number of bytes of RAM the loader needs from Base
func (l Layout) WorkingSize() uint32 {
	return l.Buffers[1] + l.ChunkLen - l.Base
}

// StatusAddr returns the address of a slot's status word
func (l Layout) StatusAddr(slot int) uint32 {
	return l.Params[slot] + StatusOffset
}

// Validate will check that the layout is internally consistent: both
// parameter blocks and both buffers must sit above Base and must not overlap
func (l Layout) Validate(codeLen int) error {
	if l.ChunkLen == 0 || l.ChunkLen > l.BufferLen {
		return errors.Wrapf(ErrBadLayout, "chunk length %d exceeds buffer length %d", l.ChunkLen, l.BufferLen)
	}
	if l.ChunkLen%ProgramUnitLen != 0 {
		return errors.Wrapf(ErrBadLayout, "chunk length %d not word aligned", l.ChunkLen)
	}

	type region struct {
		name       string
		start, end uint64
	}
	regions := []region{
		{"loader", uint64(l.Base), uint64(l.Base) + uint64(codeLen)},
		{"params0", uint64(l.Params[0]), uint64(l.Params[0]) + ParamsStride},
		{"params1", uint64(l.Params[1]), uint64(l.Params[1]) + ParamsStride},
		{"buffer0", uint64(l.Buffers[0]), uint64(l.Buffers[0]) + uint64(l.ChunkLen)},
		{"buffer1", uint64(l.Buffers[1]), uint64(l.Buffers[1]) + uint64(l.ChunkLen)},
	}
	limit := uint64(l.Base) + uint64(l.WorkingSize())
	for i, a := range regions {
		if a.start < uint64(l.Base) || a.end > limit {
			return errors.Wrap(ErrBadLayout, fmt.Sprintf("%s outside working area", a.name))
		}
		for _, b := range regions[i+1:] {
			if a.start < b.end && b.start < a.end {
				return errors.Wrap(ErrBadLayout, fmt.Sprintf("%s overlaps %s", a.name, b.name))
			}
		}
	}
	return nil
}
