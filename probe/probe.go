// Package probe talks to a serial SWD bridge attached to the CC2538 debug
// port. The bridge does the SWD work; this side only frames requests for
// halting, resuming and moving memory, which is all the flash driver needs
// from a debug connection.
package probe

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"github.com/synthread/cc2538-flash/protocol"
	"github.com/synthread/cc2538-flash/target"
)

var DefaultBaud = 115200
var DefaultTTY = "/dev/ttyACM0"
var DefaultTimeout = 1 * time.Second

var DefaultWorkAreaBase = protocol.LoaderBase
var DefaultWorkAreaSize uint32 = 0x8000

// Config defines how to reach the bridge and which part of target RAM it may
// hand out as working area
type Config struct {
	TTY  string
	Baud int

	// ResetGPIO is pulsed low on open when set
	ResetGPIO int

	WorkAreaBase uint32
	WorkAreaSize uint32

	// Timeout bounds each bridge response
	Timeout time.Duration
}

// Probe is a target.Target behind a serial SWD bridge
type Probe struct {
	*target.WorkAreaPool

	config *Config

	mu      sync.Mutex
	port    io.ReadWriteCloser
	rxCh    chan byte
	done    chan struct{}
	closing chan struct{}

	pinReset gpio.Pin
	hasReset bool
}

var _ target.Target = (*Probe)(nil)

func (c *Config) setDefaults() {
	if c.TTY == "" {
		c.TTY = DefaultTTY
	}
	if c.Baud <= 0 {
		c.Baud = DefaultBaud
	}
	if c.WorkAreaBase == 0 {
		c.WorkAreaBase = DefaultWorkAreaBase
	}
	if c.WorkAreaSize == 0 {
		c.WorkAreaSize = DefaultWorkAreaSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// Open will open the bridge's serial port, reset the target if a reset line
// is configured and sync with the bridge
func Open(c *Config) (*Probe, error) {
	if c == nil {
		c = &Config{}
	}
	c.setDefaults()

	port, err := serial.Open(c.TTY, &serial.Mode{
		BaudRate: c.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not open serial")
	}
	if err := port.SetReadTimeout(time.Millisecond); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "could not set read timeout")
	}

	p := newProbe(port, c)

	if c.ResetGPIO > 0 {
		if err := p.setupPins(); err != nil {
			p.Close()
			return nil, errors.Wrap(err, "could not setup pins")
		}
		p.Reset()
	}

	if err := p.Sync(context.Background()); err != nil {
		p.Close()
		return nil, err
	}

	logrus.Debugf("probe: open on %s at %d baud", p.TTY(), p.BaudRate())
	return p, nil
}

// New will wrap an already open connection to a bridge and sync with it
func New(rw io.ReadWriteCloser, c *Config) (*Probe, error) {
	if c == nil {
		c = &Config{}
	}
	c.setDefaults()

	p := newProbe(rw, c)
	if err := p.Sync(context.Background()); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func newProbe(rw io.ReadWriteCloser, c *Config) *Probe {
	p := &Probe{
		WorkAreaPool: target.NewWorkAreaPool(c.WorkAreaBase, c.WorkAreaSize),
		config:       c,
		port:         rw,
		rxCh:         make(chan byte, 64),
		done:         make(chan struct{}),
		closing:      make(chan struct{}),
	}
	go p.rx(rw)
	return p
}

func (p *Probe) setupPins() (err error) {
	p.pinReset, err = gpio.NewOutput(uint(p.config.ResetGPIO), true)
	if err != nil {
		return
	}
	p.hasReset = true
	return
}

// Reset will pulse the target reset line. It does nothing without one.
func (p *Probe) Reset() {
	if !p.hasReset {
		return
	}
	p.pinReset.Low()
	time.Sleep(10 * time.Millisecond)
	p.pinReset.High()
	time.Sleep(10 * time.Millisecond)
}

// Close will close the connection and release the reset line
func (p *Probe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.port != nil {
		close(p.closing)
		err = p.port.Close()
		p.port = nil
	}
	if p.hasReset {
		p.pinReset.Cleanup()
		p.hasReset = false
	}

	logrus.Debug("probe: close")
	return err
}

// IsOpen reports whether the connection is still usable
func (p *Probe) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port != nil
}

// TTY will return the TTY that is used
func (p *Probe) TTY() string {
	return p.config.TTY
}

// BaudRate will return the baud rate used to connect to the TTY
func (p *Probe) BaudRate() int {
	return p.config.Baud
}
