package flash

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/cc2538-flash/protocol"
	"github.com/synthread/cc2538-flash/target"
)

// startSession loads the loader into its working area and starts it. On
// return without error the loader is serving slot 0 and the caller owns the
// working area until endSession.
func (b *Bank) startSession(ctx context.Context) error {
	if err := b.AutoProbe(ctx); err != nil {
		return err
	}
	if err := b.layout.Validate(len(b.config.Loader)); err != nil {
		return err
	}

	if b.area != nil {
		if err := b.tgt.FreeWorkingArea(b.area); err != nil {
			logrus.Warnf("cc2538: could not free stale working area: %v", err)
		}
		b.area = nil
	}

	area, err := b.tgt.AllocWorkingArea(b.layout.WorkingSize())
	if err != nil {
		return errors.Wrap(err, "could not allocate working area")
	}
	b.area = area

	// the loader is not relocatable
	if area.Address != b.layout.Base {
		b.freeArea()
		return errors.Wrap(target.ErrResourceNotAvailable,
			fmt.Sprintf("working area at 0x%08x, loader needs 0x%08x", area.Address, b.layout.Base))
	}

	if err := b.tgt.WriteMemory(ctx, b.layout.Base, b.config.Loader); err != nil {
		logrus.Error("cc2538: Failed to load flash helper algorithm")
		b.freeArea()
		return errors.Wrap(err, "could not load flash helper")
	}

	// clear both blocks so a leftover buffer pointer from an earlier session
	// cannot pass for a fresh loader
	for _, addr := range b.layout.Params {
		if err := b.tgt.WriteMemory(ctx, addr, make([]byte, protocol.ParamsStride)); err != nil {
			b.freeArea()
			return errors.Wrap(err, "could not clear parameter blocks")
		}
	}

	if err := b.tgt.StartAlgorithm(ctx, b.layout.Base); err != nil {
		logrus.Error("cc2538: Failed to start flash helper algorithm")
		b.freeArea()
		return errors.Wrap(err, "could not start flash helper")
	}

	if err := b.waitReady(ctx); err != nil {
		b.endSessionLogged(ctx)
		return err
	}

	logrus.Debugf("cc2538: flash helper running in %s", area)
	return nil
}

// waitReady waits for the loader to point both blocks at their buffers, which
// is the last thing it does before serving slot 0
func (b *Bank) waitReady(ctx context.Context) error {
	return b.poll(ctx, func() (bool, error) {
		for i, addr := range b.layout.Params {
			v, err := b.tgt.ReadU32(ctx, addr+protocol.BufAddrOffset)
			if err != nil {
				return false, errors.Wrap(err, "could not read loader buffer pointer")
			}
			if v != b.layout.Buffers[i] {
				return false, nil
			}
		}
		return true, nil
	})
}

// endSession halts the target whatever state the loader is in and releases
// the working area
func (b *Bank) endSession(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	if err := b.tgt.Halt(ctx); err != nil {
		logrus.Debugf("cc2538: halt request failed: %v", err)
	}

	err := b.poll(ctx, func() (bool, error) {
		return b.tgt.Halted(ctx)
	})
	if err != nil {
		err = errors.Wrap(err, "target did not halt")
	}

	if ferr := b.freeArea(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

// endSessionLogged tears the session down after an operation. Teardown
// failures are logged and never replace the operation's result.
func (b *Bank) endSessionLogged(ctx context.Context) {
	if err := b.endSession(ctx); err != nil {
		logrus.Warnf("cc2538: could not close flash helper: %v", err)
	}
}

func (b *Bank) freeArea() error {
	if b.area == nil {
		return nil
	}
	err := b.tgt.FreeWorkingArea(b.area)
	b.area = nil
	return errors.Wrap(err, "could not free working area")
}

// submit hands a filled parameter block to the loader. The status word is
// the last field of the block, so it lands after the rest of the block.
func (b *Bank) submit(ctx context.Context, slot int, p protocol.Params) error {
	p.Status = protocol.BufferFull
	logrus.Debugf("cc2538: slot %d <- %s 0x%08x+0x%x", slot, p.Command, p.Address, p.Length)
	return b.tgt.WriteMemory(ctx, b.layout.Params[slot], p.Bytes())
}

// waitDone polls a slot until the loader gives it back. An empty slot is
// success; any other value than the full sentinel is the loader's status.
func (b *Bank) waitDone(ctx context.Context, op string, slot int) error {
	addr := b.layout.StatusAddr(slot)
	status := protocol.BufferFull

	err := b.poll(ctx, func() (bool, error) {
		var err error
		status, err = b.tgt.ReadU32(ctx, addr)
		if err != nil {
			return false, errors.Wrap(err, "could not read loader status")
		}
		return status != protocol.BufferFull, nil
	})
	if err != nil {
		return err
	}

	if status != protocol.BufferEmpty {
		logrus.Errorf("cc2538: Flash operation failed (0x%08x)", status)
		return &StatusError{Op: op, Slot: slot, Status: protocol.DecodeStatus(status)}
	}
	return nil
}

// poll calls done until it reports true, the timeout passes or ctx ends
func (b *Bank) poll(ctx context.Context, done func() (bool, error)) error {
	clk := b.config.Clock
	start := clk.Now()
	lastKeepAlive := start

	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		now := clk.Now()
		if now.Sub(lastKeepAlive) > b.config.KeepAlive {
			lastKeepAlive = now
			b.keepAlive(now.Sub(start))
		}
		if elapsed := now.Sub(start); elapsed > b.config.Timeout {
			return errors.Wrapf(ErrTimeout, "after %s", elapsed)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.config.PollInterval > 0 {
			clk.Sleep(b.config.PollInterval)
		}
	}
}

func (b *Bank) keepAlive(elapsed time.Duration) {
	logrus.Debugf("cc2538: still waiting on flash helper (%v)", elapsed)
	if b.config.KeepAliveFunc != nil {
		b.config.KeepAliveFunc()
	}
}
