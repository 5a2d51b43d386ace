package flash

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/synthread/cc2538-flash/protocol"
)

// MassErase will erase the entire bank with the loader's erase-all command
func (b *Bank) MassErase(ctx context.Context) error {
	if err := b.checkHalted(ctx); err != nil {
		logrus.Error("cc2538: Target not halted")
		return err
	}

	if err := b.startSession(ctx); err != nil {
		return err
	}

	err := b.submit(ctx, 0, protocol.Params{
		Address: 0,
		Length:  4,
		Command: protocol.CmdEraseAll,
	})
	if err == nil {
		err = b.waitDone(ctx, "mass erase", 0)
	}

	b.endSessionLogged(ctx)

	if err == nil {
		b.markErased(0, len(b.sectors)-1, 1)
	}
	return err
}

// Erase will erase sectors first through last inclusive. A request covering
// the whole bank becomes a mass erase, which is the only way to clear the
// lock bits held in the last sector.
func (b *Bank) Erase(ctx context.Context, first, last int) error {
	if err := b.checkHalted(ctx); err != nil {
		logrus.Error("cc2538: Target not halted")
		return err
	}
	if err := b.AutoProbe(ctx); err != nil {
		return err
	}

	if first < 0 || last < first || last >= len(b.sectors) {
		return invalidArguments("erase", "sectors %d-%d outside 0-%d", first, last, len(b.sectors)-1)
	}

	if first == 0 && last == len(b.sectors)-1 {
		return b.MassErase(ctx)
	}

	address := b.base + uint32(first)*b.sectorSize
	length := uint32(last-first+1) * b.sectorSize

	if err := b.startSession(ctx); err != nil {
		return err
	}

	err := b.submit(ctx, 0, protocol.Params{
		Address: address,
		Length:  length,
		Command: protocol.CmdEraseSectors,
	})
	if err == nil {
		err = b.waitDone(ctx, "erase", 0)
	}

	b.endSessionLogged(ctx)

	if err == nil {
		b.markErased(first, last, 1)
	}
	return err
}
