// Package sim is an in-process CC2538: RAM, memory-mapped flash, the DIECFG0
// register and the boot ROM flash API. Starting an algorithm at the loader
// base runs the loader package against that state, so the host driver can be
// exercised end to end without hardware.
package sim

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/cc2538-flash/loader"
	"github.com/synthread/cc2538-flash/protocol"
	"github.com/synthread/cc2538-flash/target"
)

var DefaultChipID uint16 = 0xb964
var DefaultSectors = protocol.MaxSectors

// LoaderImage is a block of Thumb NOPs that stands in for the loader binary.
// The device never executes what is written to RAM.
var LoaderImage = bytes.Repeat([]byte{0x00, 0xbf}, 32)

var ErrBusFault = errors.New("bus fault")
var ErrRunning = errors.New("target running")

// Config defines the simulated part
type Config struct {
	// Sectors is the number of flash sectors, a multiple of 64
	Sectors int
	ChipID  uint16

	RAMBase uint32
	RAMSize uint32

	// EraseDelay and ProgramDelay are spent inside each ROM call
	EraseDelay   time.Duration
	ProgramDelay time.Duration
}

// Device is a simulated CC2538 behind a debug connection. It starts halted.
type Device struct {
	*target.WorkAreaPool

	config *Config

	mu     sync.Mutex
	ram    []byte
	flash  []byte
	halted bool
	stall  bool

	cancel context.CancelFunc
	done   chan error

	eraseFail   map[uint32]int32
	programFail int32
	programOK   int
	commands    []Submission
	erases      []uint32
	fault       error
}

var _ target.Target = (*Device)(nil)

// Submission is a parameter block the host handed to the loader
type Submission struct {
	Slot int
	protocol.Params
}

// New will create a simulated device with blank flash
func New(c *Config) *Device {
	if c == nil {
		c = &Config{}
	}
	if c.Sectors <= 0 {
		c.Sectors = DefaultSectors
	}
	if c.ChipID == 0 {
		c.ChipID = DefaultChipID
	}
	if c.RAMBase == 0 {
		c.RAMBase = protocol.LoaderBase
	}
	if c.RAMSize == 0 {
		c.RAMSize = 0x8000
	}

	return &Device{
		WorkAreaPool: target.NewWorkAreaPool(c.RAMBase, c.RAMSize),
		config:       c,
		ram:          make([]byte, c.RAMSize),
		flash:        bytes.Repeat([]byte{protocol.ErasedByte}, c.Sectors*int(protocol.SectorSize)),
		halted:       true,
		eraseFail:    map[uint32]int32{},
	}
}

// region returns the backing slice for [addr, addr+n). mu must be held.
func (d *Device) region(addr uint32, n int) ([]byte, error) {
	end := uint64(addr) + uint64(n)
	if addr >= d.config.RAMBase && end <= uint64(d.config.RAMBase)+uint64(len(d.ram)) {
		off := addr - d.config.RAMBase
		return d.ram[off : off+uint32(n)], nil
	}
	if addr >= protocol.FlashBase && end <= uint64(protocol.FlashBase)+uint64(len(d.flash)) {
		off := addr - protocol.FlashBase
		return d.flash[off : off+uint32(n)], nil
	}
	return nil, errors.Wrap(ErrBusFault, fmt.Sprintf("access to 0x%08x+%d", addr, n))
}

func (d *Device) diecfg0() uint32 {
	size := uint32(len(d.flash)) / protocol.FlashSizeStep
	return uint32(d.config.ChipID)<<16 | (size&0x7)<<4
}

// Halted reports whether the core is halted
func (d *Device) Halted(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halted, nil
}

// Halt stops the loader if it is running
func (d *Device) Halt(ctx context.Context) error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.halted = true
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if done != nil {
		err := <-done
		var fault *loader.FaultError
		if errors.As(err, &fault) {
			logrus.Debugf("sim: loader was parked: %v", fault)
			d.mu.Lock()
			d.fault = fault
			d.mu.Unlock()
		}
	}
	logrus.Debug("sim: halted")
	return nil
}

// StartAlgorithm resumes the core at entry. Only the loader base runs
// anything; the loader image itself is not interpreted.
func (d *Device) StartAlgorithm(ctx context.Context, entry uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.halted {
		return ErrRunning
	}
	if entry != protocol.LoaderBase {
		return errors.Errorf("no code linked at 0x%08x", entry)
	}

	d.halted = false
	d.fault = nil
	if d.stall {
		logrus.Debug("sim: loader stalled")
		return nil
	}

	lctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	d.cancel, d.done = cancel, done

	l := loader.New(bus{d}, rom{d})
	go func() {
		done <- l.Run(lctx)
	}()

	logrus.Debugf("sim: loader running at 0x%08x", entry)
	return nil
}

// ReadU32 reads a word of RAM, flash or the DIECFG0 register
func (d *Device) ReadU32(ctx context.Context, addr uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr == protocol.RegDIECFG0 {
		return d.diecfg0(), nil
	}
	bs, err := d.region(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(bs), nil
}

// ReadMemory reads a block of RAM or flash
func (d *Device) ReadMemory(ctx context.Context, addr uint32, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	bs, err := d.region(addr, len(p))
	if err != nil {
		return err
	}
	copy(p, bs)
	return nil
}

// WriteMemory writes a block of RAM. Flash is not writable over the bus.
func (d *Device) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if addr < d.config.RAMBase {
		return errors.Wrap(ErrBusFault, fmt.Sprintf("write to 0x%08x", addr))
	}
	bs, err := d.region(addr, len(data))
	if err != nil {
		return err
	}
	copy(bs, data)

	for slot, pa := range protocol.DefaultLayout.Params {
		if addr == pa && len(data) >= protocol.ParamsSize {
			var p protocol.Params
			if p.UnmarshalBinary(data) == nil && p.Full() {
				d.commands = append(d.commands, Submission{Slot: slot, Params: p})
			}
		}
	}
	return nil
}

// Stall makes the next StartAlgorithm report success without running
// anything, as if the core had locked up
func (d *Device) Stall(stall bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stall = stall
}

// FailErase makes PageErase of one sector return ret
func (d *Device) FailErase(sector int, ret int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eraseFail[protocol.SectorAddress(uint32(sector))] = ret
}

// FailProgram makes every ProgramFlash return ret; zero clears it
func (d *Device) FailProgram(ret int32) {
	d.FailProgramAfter(0, ret)
}

// FailProgramAfter lets n more ProgramFlash calls succeed, then makes the
// rest return ret
func (d *Device) FailProgramAfter(n int, ret int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.programFail = ret
	d.programOK = n
}

// Commands returns every command the host submitted
func (d *Device) Commands() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.commands...)
}

// Erases returns the sector addresses handed to PageErase, in call order
func (d *Device) Erases() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.erases...)
}

// Fault returns the loader failure seen at the last halt, if any
func (d *Device) Fault() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

// Flash returns a copy of the flash contents
func (d *Device) Flash() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.flash...)
}

// Preload fills flash at offset without going through the ROM
func (d *Device) Preload(offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.flash[offset:], data)
}
