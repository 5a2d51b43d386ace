// Package protocol describes the shared-memory mailbox between the host and
// the flash loader running in target RAM. Both sides must be built from the
// same definitions; the block carries no version field.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Flash geometry of the CC2538 family
const (
	FlashBase     uint32 = 0x00200000
	FlashMaxSize  uint32 = 0x00080000
	SectorSize    uint32 = 0x800
	RegDIECFG0    uint32 = 0x400D3014
	FlashSizeStep uint32 = 0x20000
	ErasedWord    uint32 = 0xffffffff
	ErasedByte    byte   = 0xff

	MaxSectors     = 256
	ProgramUnitLen = 4
)

// Buffer status sentinels. Any other status value written by the loader is an
// encoded Status.
const (
	BufferEmpty uint32 = 0x00000000
	BufferFull  uint32 = 0xffffffff
)

// Offsets inside a parameter block
const (
	AddressOffset = 0x00
	LengthOffset  = 0x04
	CommandOffset = 0x08
	StatusOffset  = 0x0c
	BufAddrOffset = 0x10

	// ParamsSize is the part of the block the host writes. The loader owns
	// the trailing buf_addr word.
	ParamsSize = 0x10
	// ParamsStride is the distance between the two blocks in target RAM.
	ParamsStride = 0x14
)

// ErrShortBlock is returned when decoding fewer than ParamsSize bytes
var ErrShortBlock = errors.New("parameter block too short")

// Command selects the operation the loader performs on a slot
type Command uint32

const (
	CmdNoAction     Command = 0
	CmdEraseAll     Command = 1
	CmdProgram      Command = 2
	CmdEraseSectors Command = 3
)

func (c Command) String() string {
	switch c {
	case CmdNoAction:
		return "none"
	case CmdEraseAll:
		return "erase-all"
	case CmdProgram:
		return "program"
	case CmdEraseSectors:
		return "erase-sectors"
	}
	return fmt.Sprintf("command(%d)", uint32(c))
}

// Params is one slot's parameter block
type Params struct {
	Address uint32
	Length  uint32
	Command Command
	Status  uint32
}

// Full reports whether the status field holds anything but the empty
// sentinel, i.e. whether the loader may consume the slot
func (p Params) Full() bool {
	return p.Status != BufferEmpty
}

// Bytes will return the ParamsSize-byte wire form of the block
func (p Params) Bytes() []byte {
	bs := make([]byte, ParamsSize)
	binary.LittleEndian.PutUint32(bs[AddressOffset:], p.Address)
	binary.LittleEndian.PutUint32(bs[LengthOffset:], p.Length)
	binary.LittleEndian.PutUint32(bs[CommandOffset:], uint32(p.Command))
	binary.LittleEndian.PutUint32(bs[StatusOffset:], p.Status)
	return bs
}

// UnmarshalBinary decodes a block from its wire layout
func (p *Params) UnmarshalBinary(bs []byte) error {
	if len(bs) < ParamsSize {
		return errors.Wrapf(ErrShortBlock, "got %d bytes", len(bs))
	}
	p.Address = binary.LittleEndian.Uint32(bs[AddressOffset:])
	p.Length = binary.LittleEndian.Uint32(bs[LengthOffset:])
	p.Command = Command(binary.LittleEndian.Uint32(bs[CommandOffset:]))
	p.Status = binary.LittleEndian.Uint32(bs[StatusOffset:])
	return nil
}

// SectorOf returns the index of the sector containing address
func SectorOf(address uint32) uint32 {
	return (address - FlashBase) / SectorSize
}

// SectorAddress returns the first address of a sector
func SectorAddress(sector uint32) uint32 {
	return FlashBase + sector*SectorSize
}
