package loader

import (
	"context"
	"fmt"
	"runtime"

	"github.com/synthread/cc2538-flash/protocol"
)

// FaultError is returned by Run after the loader stopped on a failed command
// and was then halted by the host
type FaultError struct {
	Slot   int
	Status protocol.Status
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("loader halted on slot %d: %s", e.Slot, e.Status)
}

// Run is the loader's entry point. It serves the two slots in strict
// alternation until ctx is cancelled, which is how a debugger halt looks from
// inside the loader. A failed command parks the loader for good.
func (l *Loader) Run(ctx context.Context) error {
	l.Init(protocol.BufferAddr0, protocol.BufferAddr1)

	for {
		p, err := l.wait(ctx)
		if err != nil {
			return err
		}

		status := l.dispatch(p)
		statusAddr := l.params[l.current] + protocol.StatusOffset

		if !status.OK() {
			l.mem.WriteU32(statusAddr, status.Encode())
			<-ctx.Done()
			return &FaultError{Slot: l.current, Status: status}
		}

		// hand the slot back to the host and move to the other one
		l.mem.WriteU32(statusAddr, protocol.BufferEmpty)
		l.current ^= 1
	}
}

// wait spins on the current slot's status word until the host fills it
func (l *Loader) wait(ctx context.Context) (protocol.Params, error) {
	var p protocol.Params
	statusAddr := l.params[l.current] + protocol.StatusOffset

	for l.mem.ReadU32(statusAddr) == protocol.BufferEmpty {
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		default:
		}
		runtime.Gosched()
	}

	bs := make([]byte, protocol.ParamsSize)
	l.mem.Read(l.params[l.current], bs)
	err := p.UnmarshalBinary(bs)
	return p, err
}

func (l *Loader) dispatch(p protocol.Params) protocol.Status {
	switch p.Command {
	case protocol.CmdEraseAll:
		return l.EraseAll()
	case protocol.CmdProgram:
		if p.Length > uint32(len(l.data)) {
			return protocol.Status{Outcome: protocol.OutcomeFailedInvalidArguments}
		}
		buf := l.mem.ReadU32(l.params[l.current] + protocol.BufAddrOffset)
		l.mem.Read(buf, l.data[:p.Length])
		return l.Program(l.data[:p.Length], p.Address, p.Length)
	case protocol.CmdEraseSectors:
		return l.EraseSectors(p.Address, p.Length)
	}
	return protocol.Status{Outcome: protocol.OutcomeFailedUnknownCommand}
}
