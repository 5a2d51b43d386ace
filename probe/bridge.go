package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"
)

// MaxPayload is the largest READ or WRIT payload the bridge accepts
const MaxPayload = 1024

// syncWindow bounds how much stale output is drained while syncing
const syncWindow = 4096

var (
	OpcodeSync  = [4]byte{'S', 'Y', 'N', 'C'}
	OpcodeHalt  = [4]byte{'H', 'A', 'L', 'T'}
	OpcodeStat  = [4]byte{'S', 'T', 'A', 'T'}
	OpcodeGo    = [4]byte{'G', 'O', 'G', 'O'}
	OpcodeRead  = [4]byte{'R', 'E', 'A', 'D'}
	OpcodeRead4 = [4]byte{'R', 'D', '3', '2'}
	OpcodeWrite = [4]byte{'W', 'R', 'I', 'T'}

	ResponseSync = [4]byte{'P', 'I', 'C', 'O'}
	ResponseOK   = [4]byte{'O', 'K', 'O', 'K'}
	ResponseErr  = [4]byte{'E', 'R', 'R', '!'}
)

// StatHalted is the halted bit of the STAT response
const StatHalted = 1 << 0

var ErrNotSynced = errors.New("bridge did not answer sync")
var ErrRejected = errors.New("bridge rejected request")
var ErrBadResponse = errors.New("unexpected bridge response")

// Sync will drain anything pending on the line and wait for the bridge to
// answer a sync request
func (p *Probe) Sync(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.write(OpcodeSync[:]); err != nil {
		return err
	}

	var window []byte
	for len(window) < syncWindow {
		b, err := p.readN(ctx, 1)
		if err != nil {
			return errors.Wrap(ErrNotSynced, err.Error())
		}
		window = append(window, b[0])
		if bytes.HasSuffix(window, ResponseSync[:]) {
			logrus.Debug("probe: bridge synced")
			return nil
		}
	}
	return ErrNotSynced
}

// exec sends one request and reads its status and n payload bytes
func (p *Probe) exec(ctx context.Context, op [4]byte, args []uint32, data []byte, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := make([]byte, 4+4*len(args))
	copy(req, op[:])
	for i, a := range args {
		binary.LittleEndian.PutUint32(req[4+4*i:], a)
	}

	if err := p.write(req, data); err != nil {
		return nil, err
	}

	resp, err := p.readN(ctx, len(ResponseOK))
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("no response to %s", op[:]))
	}
	switch {
	case bytes.Equal(resp, ResponseErr[:]):
		return nil, errors.Wrap(ErrRejected, string(op[:]))
	case !bytes.Equal(resp, ResponseOK[:]):
		return nil, errors.Wrap(ErrBadResponse, fmt.Sprintf("%s answered %x", op[:], resp))
	}

	if n == 0 {
		return nil, nil
	}
	return p.readN(ctx, n)
}

// Halted reports whether the core is halted
func (p *Probe) Halted(ctx context.Context) (bool, error) {
	bs, err := p.exec(ctx, OpcodeStat, nil, nil, 4)
	if err != nil {
		return false, err
	}
	return binary.LittleEndian.Uint32(bs)&StatHalted != 0, nil
}

// Halt will request a debug halt of the core
func (p *Probe) Halt(ctx context.Context) error {
	_, err := p.exec(ctx, OpcodeHalt, nil, nil, 0)
	return err
}

// StartAlgorithm will resume the core at entry in thread mode
func (p *Probe) StartAlgorithm(ctx context.Context, entry uint32) error {
	_, err := p.exec(ctx, OpcodeGo, []uint32{entry}, nil, 0)
	return err
}

// ReadU32 will read one word of target memory
func (p *Probe) ReadU32(ctx context.Context, addr uint32) (uint32, error) {
	bs, err := p.exec(ctx, OpcodeRead4, []uint32{addr}, nil, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(bs), nil
}

// ReadMemory will fill buf from target memory at addr
func (p *Probe) ReadMemory(ctx context.Context, addr uint32, buf []byte) error {
	for done := 0; done < len(buf); {
		n := min(len(buf)-done, MaxPayload)
		bs, err := p.exec(ctx, OpcodeRead, []uint32{addr + uint32(done), uint32(n)}, nil, n)
		if err != nil {
			return errors.Wrapf(err, "could not read 0x%08x", addr+uint32(done))
		}
		copy(buf[done:], bs)
		done += n
	}
	return nil
}

// WriteMemory will write data to target memory at addr
func (p *Probe) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	for done := 0; done < len(data); {
		n := min(len(data)-done, MaxPayload)
		chunk := data[done : done+n]
		if _, err := p.exec(ctx, OpcodeWrite, []uint32{addr + uint32(done), uint32(n)}, chunk, 0); err != nil {
			return errors.Wrapf(err, "could not write 0x%08x", addr+uint32(done))
		}
		done += n
	}
	return nil
}

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}
