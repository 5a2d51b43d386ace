package flash

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/synthread/cc2538-flash/protocol"
)

// Sector is one row of the bank's sector table
type Sector struct {
	Offset uint32
	Size   uint32
	// IsErased is -1 when unknown, 0 when known to hold data, 1 when blank
	IsErased    int
	IsProtected bool
}

// Probe will read DIECFG0 to learn the chip id and flash size
func (b *Bank) Probe(ctx context.Context) error {
	value, err := b.tgt.ReadU32(ctx, protocol.RegDIECFG0)
	if err != nil {
		return errors.Wrap(err, "could not read DIECFG0")
	}

	b.chipID = uint16(value >> 16)

	numSectors := int(((value & 0x70) >> 4) * protocol.FlashSizeStep / b.sectorSize)
	numSectors = min(numSectors, protocol.MaxSectors)
	if numSectors == 0 {
		return errors.Errorf("DIECFG0 0x%08x reports no flash", value)
	}

	b.base = protocol.FlashBase
	b.sectors = make([]Sector, numSectors)
	for i := range b.sectors {
		b.sectors[i] = Sector{
			Offset:   uint32(i) * b.sectorSize,
			Size:     b.sectorSize,
			IsErased: -1,
		}
	}
	b.probed = true

	return nil
}

// AutoProbe will probe the bank unless that already happened
func (b *Bank) AutoProbe(ctx context.Context) error {
	if b.probed {
		return nil
	}
	return b.Probe(ctx)
}

// Info returns a human readable summary of the device
func (b *Bank) Info() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cc2538 device: chip ID 0x%04x\n", b.chipID)
	if b.probed {
		fmt.Fprintf(&sb, "flash: %d KiB at 0x%08x, %d sectors of %d bytes\n",
			b.Size()/1024, b.base, len(b.sectors), b.sectorSize)
	}
	return sb.String()
}

func (b *Bank) markErased(first, last int, state int) {
	for i := first; i <= last && i < len(b.sectors); i++ {
		b.sectors[i].IsErased = state
	}
}
