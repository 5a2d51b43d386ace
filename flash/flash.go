// Package flash drives the CC2538 RAM loader from the host. A Bank probes the
// part over a debug connection, then runs each erase or write as a session:
// load the loader into a working area, start it, feed it commands through
// its two parameter blocks, and tear it down again.
package flash

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/synthread/cc2538-flash/protocol"
	"github.com/synthread/cc2538-flash/target"
)

var DefaultTimeout = 10 * time.Second
var DefaultKeepAlive = 500 * time.Millisecond

var ErrNoLoader = errors.New("no loader image configured")

// ProgressFunc is called with the bytes the loader has confirmed programmed,
// once per chunk after that chunk's slot comes back empty
type ProgressFunc func(done, total int)

// Config defines how the bank talks to the loader
type Config struct {
	// Loader is the loader's machine code, linked to run at Layout.Base
	Loader []byte
	// Layout places the loader, its parameter blocks and its buffers in
	// target RAM. Nil selects protocol.DefaultLayout.
	Layout *protocol.Layout

	// Timeout bounds each wait for a slot to empty
	Timeout time.Duration
	// KeepAlive is how often KeepAliveFunc runs during long waits
	KeepAlive     time.Duration
	KeepAliveFunc func()
	// PollInterval is slept between status reads; zero polls back to back
	PollInterval time.Duration

	Clock    Clock
	Progress ProgressFunc
}

// Bank is the CC2538 internal flash as seen through a debug connection
type Bank struct {
	config *Config
	layout protocol.Layout
	tgt    target.Target

	base       uint32
	sectorSize uint32
	sectors    []Sector
	chipID     uint16
	probed     bool

	area *target.WorkingArea
}

// NewBank will create a bank on tgt. The bank is not probed until first use.
func NewBank(tgt target.Target, c *Config) (*Bank, error) {
	if c == nil {
		c = &Config{}
	}
	if len(c.Loader) == 0 {
		return nil, ErrNoLoader
	}
	if c.Layout == nil {
		layout := protocol.DefaultLayout
		c.Layout = &layout
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}

	return &Bank{
		config:     c,
		layout:     *c.Layout,
		tgt:        tgt,
		base:       protocol.FlashBase,
		sectorSize: protocol.SectorSize,
	}, nil
}

// LoadLoader will read a loader image from disk
func LoadLoader(filePath string) ([]byte, error) {
	bs, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrap(err, "could not read loader image")
	}
	if len(bs) == 0 {
		return nil, ErrNoLoader
	}
	return bs, nil
}

// WriteFromFile will write the raw contents of a file at offset
func (b *Bank) WriteFromFile(ctx context.Context, filePath string, offset uint32) error {
	bs, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return b.Write(ctx, bs, offset)
}

// Base returns the bus address of the first flash byte
func (b *Bank) Base() uint32 {
	return b.base
}

// Size returns the probed flash size in bytes
func (b *Bank) Size() uint32 {
	return uint32(len(b.sectors)) * b.sectorSize
}

// SectorSize returns the erase granularity
func (b *Bank) SectorSize() uint32 {
	return b.sectorSize
}

// NumSectors returns the probed sector count
func (b *Bank) NumSectors() int {
	return len(b.sectors)
}

// Sectors returns a copy of the sector table
func (b *Bank) Sectors() []Sector {
	return append([]Sector(nil), b.sectors...)
}

// ChipID returns the chip id read by the last probe
func (b *Bank) ChipID() uint16 {
	return b.chipID
}

// Probed reports whether the geometry has been read from the device
func (b *Bank) Probed() bool {
	return b.probed
}

func (b *Bank) checkHalted(ctx context.Context) error {
	halted, err := b.tgt.Halted(ctx)
	if err != nil {
		return errors.Wrap(err, "could not read target state")
	}
	if !halted {
		return target.ErrNotHalted
	}
	return nil
}

// SetProgress replaces the write progress callback
func (b *Bank) SetProgress(fn ProgressFunc) {
	b.config.Progress = fn
}
