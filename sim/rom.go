package sim

import (
	"encoding/binary"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synthread/cc2538-flash/protocol"
)

// bus is the loader's side of the device memory. A loader access outside
// mapped memory would hard fault the core; here it reads zero and drops
// writes.
type bus struct {
	d *Device
}

func (b bus) ReadU32(addr uint32) uint32 {
	var bs [4]byte
	b.Read(addr, bs[:])
	return binary.LittleEndian.Uint32(bs[:])
}

func (b bus) WriteU32(addr uint32, v uint32) {
	var bs [4]byte
	binary.LittleEndian.PutUint32(bs[:], v)
	b.Write(addr, bs[:])
}

func (b bus) Read(addr uint32, p []byte) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	bs, err := b.d.region(addr, len(p))
	if err != nil {
		logrus.Errorf("sim: loader read fault: %v", err)
		return
	}
	copy(p, bs)
}

func (b bus) Write(addr uint32, p []byte) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	if addr < b.d.config.RAMBase {
		logrus.Errorf("sim: loader write to 0x%08x", addr)
		return
	}
	bs, err := b.d.region(addr, len(p))
	if err != nil {
		logrus.Errorf("sim: loader write fault: %v", err)
		return
	}
	copy(bs, p)
}

// rom implements the boot ROM flash routines
type rom struct {
	d *Device
}

func (r rom) inFlash(address, count uint32) bool {
	return address >= protocol.FlashBase &&
		uint64(address)+uint64(count) <= uint64(protocol.FlashBase)+uint64(len(r.d.flash))
}

func (r rom) PageErase(address, size uint32) int32 {
	time.Sleep(r.d.config.EraseDelay)

	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	r.d.erases = append(r.d.erases, address)
	if ret, ok := r.d.eraseFail[address]; ok {
		return ret
	}
	if (address-protocol.FlashBase)%protocol.SectorSize != 0 || size%protocol.SectorSize != 0 || !r.inFlash(address, size) {
		return -2
	}

	bs, _ := r.d.region(address, int(size))
	for i := range bs {
		bs[i] = protocol.ErasedByte
	}
	return 0
}

func (r rom) ProgramFlash(data []byte, address, count uint32) int32 {
	time.Sleep(r.d.config.ProgramDelay)

	r.d.mu.Lock()
	defer r.d.mu.Unlock()

	if r.d.programFail != 0 {
		if r.d.programOK == 0 {
			return r.d.programFail
		}
		r.d.programOK--
	}
	if address%protocol.ProgramUnitLen != 0 || count%protocol.ProgramUnitLen != 0 || int(count) > len(data) || !r.inFlash(address, count) {
		return -2
	}

	// programming can only clear bits
	bs, _ := r.d.region(address, int(count))
	for i := range bs {
		bs[i] &= data[i]
	}
	return 0
}

func (r rom) FlashSize() uint32 {
	r.d.mu.Lock()
	defer r.d.mu.Unlock()
	return uint32(len(r.d.flash))
}
