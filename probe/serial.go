package probe

import (
	"context"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var ErrTimeout = errors.New("timed out reading from bridge")
var ErrClosed = errors.New("bridge connection is closed")

// rx is the loop that will forever read from the port and write the incoming
// bytes to the rx chan
func (p *Probe) rx(port io.Reader) {
	defer close(p.done)
	buf := make([]byte, 64)

	for {
		n, err := port.Read(buf)
		if err != nil {
			// don't write out if we're just complaining about it being closed
			var perr *serial.PortError
			if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
				return
			}
			if errors.Is(err, syscall.EBADF) || errors.Is(err, io.EOF) ||
				errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
				return
			}

			logrus.Error("probe: rx err: ", err.Error())
			return
		}

		for _, b := range buf[:n] {
			select {
			case p.rxCh <- b:
			case <-p.closing:
				return
			}
		}
		if n > 0 {
			logrus.Tracef("probe rx: %x", buf[:n])
		}
	}
}

// write will send the specified bytes to the bridge. mu must be held.
func (p *Probe) write(bs ...[]byte) error {
	if p.port == nil {
		return ErrClosed
	}

	for _, b := range bs {
		if len(b) == 0 {
			continue
		}
		if _, err := p.port.Write(b); err != nil {
			return errors.Wrap(err, "could not write to bridge")
		}
		logrus.Tracef("probe tx: %x", b)
	}
	return nil
}

// readN will read exactly n bytes from the rx chan. mu must be held.
func (p *Probe) readN(ctx context.Context, n int) ([]byte, error) {
	if p.port == nil {
		return nil, ErrClosed
	}

	bs := make([]byte, n)
	timer := time.NewTimer(p.config.Timeout)
	defer timer.Stop()

	for i := 0; i < n; i++ {
		select {
		case b := <-p.rxCh:
			bs[i] = b
		case <-timer.C:
			return nil, ErrTimeout
		case <-p.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return bs, nil
}
