// Package loader is the flash helper that runs out of target RAM. It owns the
// two parameter blocks, consumes commands from them and drives the boot ROM
// to erase and program flash.
package loader

import (
	"github.com/synthread/cc2538-flash/protocol"
)

// Memory is the loader's view of the target address space. Flash is memory
// mapped, so the same view is used to read back sector contents.
type Memory interface {
	ReadU32(addr uint32) uint32
	WriteU32(addr uint32, v uint32)
	Read(addr uint32, p []byte)
	Write(addr uint32, p []byte)
}

// ROM is the boot ROM flash API. Return values follow the ROM convention: zero
// on success, -1 and -2 for the documented failures, anything else unknown.
type ROM interface {
	PageErase(address, size uint32) int32
	ProgramFlash(data []byte, address, count uint32) int32
	FlashSize() uint32
}

// Loader holds all state the flash helper keeps between commands
type Loader struct {
	mem Memory
	rom ROM

	params  [2]uint32
	erased  [protocol.MaxSectors]bool
	current int

	sector [protocol.SectorSize]byte
	data   [protocol.BufferLength]byte
}

// New will create a loader using the stock parameter block addresses
func New(mem Memory, rom ROM) *Loader {
	return &Loader{
		mem:    mem,
		rom:    rom,
		params: protocol.DefaultLayout.Params,
	}
}

// Init clears both parameter blocks, points them at the data buffers and
// forgets which sectors are erased
func (l *Loader) Init(bufA, bufB uint32) protocol.Status {
	for i, buf := range []uint32{bufA, bufB} {
		l.mem.Write(l.params[i], make([]byte, protocol.ParamsStride))
		l.mem.WriteU32(l.params[i]+protocol.BufAddrOffset, buf)
	}
	l.erased = [protocol.MaxSectors]bool{}
	l.current = 0
	return protocol.StatusOK
}

// Erased reports whether the loader believes a sector is erased
func (l *Loader) Erased(sector int) bool {
	return l.erased[sector]
}

func (l *Loader) flashSize() uint32 {
	size := l.rom.FlashSize()
	if limit := uint32(protocol.MaxSectors) * protocol.SectorSize; size > limit {
		size = limit
	}
	return size
}

// inBank reports whether [address, address+count) lies inside the flash
func (l *Loader) inBank(address, count uint32) bool {
	if count == 0 || address < protocol.FlashBase {
		return false
	}
	return uint64(address)+uint64(count) <= uint64(protocol.FlashBase)+uint64(l.flashSize())
}

// blank scans a sector for the erased pattern
func (l *Loader) blank(sector uint32) bool {
	l.mem.Read(protocol.SectorAddress(sector), l.sector[:])
	for _, b := range l.sector {
		if b != protocol.ErasedByte {
			return false
		}
	}
	return true
}

// eraseSector erases one sector, skipping the ROM call when the sector is
// already blank
func (l *Loader) eraseSector(sector uint32) protocol.RomCode {
	if l.blank(sector) {
		return protocol.RomOK
	}
	return protocol.EraseRomCode(l.rom.PageErase(protocol.SectorAddress(sector), protocol.SectorSize))
}

// EraseAll erases the whole bank from the last sector down. The last sector
// holds the lock bits, so erasing it first unlocks the rest.
func (l *Loader) EraseAll() protocol.Status {
	sectors := l.flashSize() / protocol.SectorSize
	for i := int(sectors) - 1; i >= 0; i-- {
		if code := l.eraseSector(uint32(i)); code != protocol.RomOK {
			return protocol.Status{
				Outcome: protocol.OutcomeFailedEraseAll,
				Sector:  uint8(i),
				Code:    code,
			}
		}
	}

	for i := range l.erased {
		l.erased[i] = true
	}
	return protocol.StatusOK
}

// EraseSectors erases every sector touched by [address, address+count).
// Sectors marked erased are re-checked before being skipped.
func (l *Loader) EraseSectors(address, count uint32) protocol.Status {
	if !l.inBank(address, count) {
		return protocol.Status{Outcome: protocol.OutcomeFailedInvalidArguments}
	}

	first := protocol.SectorOf(address)
	last := protocol.SectorOf(address + count - 1)

	for idx := first; idx <= last; idx++ {
		if l.erased[idx] && l.blank(idx) {
			continue
		}
		if code := l.eraseSector(idx); code != protocol.RomOK {
			return protocol.Status{
				Outcome: protocol.OutcomeFailedSectorErase,
				Sector:  uint8(idx),
				Code:    code,
			}
		}
		l.erased[idx] = true
	}

	return protocol.StatusOK
}

// Program writes count bytes of src at address in a single ROM call. The
// erased cache is left alone.
func (l *Loader) Program(src []byte, address, count uint32) protocol.Status {
	if !l.inBank(address, count) || int(count) > len(src) {
		return protocol.Status{Outcome: protocol.OutcomeFailedInvalidArguments}
	}

	code := protocol.ProgramRomCode(l.rom.ProgramFlash(src[:count], address, count))
	if code != protocol.RomOK {
		return protocol.Status{Outcome: protocol.OutcomeFailedProgram, Code: code}
	}
	return protocol.StatusOK
}
