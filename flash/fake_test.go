package flash

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/synthread/cc2538-flash/protocol"
	"github.com/synthread/cc2538-flash/target"
)

// fakeClock advances a fixed step every time it is read
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newFakeClock(step time.Duration) *fakeClock {
	return &fakeClock{now: time.Unix(0, 0), step: step}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeTarget is a word-addressed memory with a scripted loader: starting it
// sets the buffer pointers, and a submitted block can be answered at once
// with reply
type fakeTarget struct {
	*target.WorkAreaPool

	mu      sync.Mutex
	words   map[uint32]uint32
	diecfg0 uint32
	halted  bool
	reply   *uint32

	startErr error
	writeErr error
	freeErr  error
	haltErr  error

	halts  int
	starts int
}

var _ target.Target = (*fakeTarget)(nil)

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		WorkAreaPool: target.NewWorkAreaPool(protocol.LoaderBase, 0x8000),
		words:        map[uint32]uint32{},
		diecfg0:      0xb9640040,
		halted:       true,
	}
}

func (f *fakeTarget) answer(v uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reply = &v
}

func (f *fakeTarget) Halted(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.halted, nil
}

func (f *fakeTarget) Halt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halts++
	if f.haltErr != nil {
		return f.haltErr
	}
	f.halted = true
	return nil
}

func (f *fakeTarget) StartAlgorithm(ctx context.Context, entry uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.halted = false
	for i, addr := range protocol.DefaultLayout.Params {
		f.words[addr+protocol.BufAddrOffset] = protocol.DefaultLayout.Buffers[i]
	}
	return nil
}

func (f *fakeTarget) ReadU32(ctx context.Context, addr uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if addr == protocol.RegDIECFG0 {
		return f.diecfg0, nil
	}
	return f.words[addr], nil
}

func (f *fakeTarget) ReadMemory(ctx context.Context, addr uint32, p []byte) error {
	for i := 0; i+4 <= len(p); i += 4 {
		v, _ := f.ReadU32(ctx, addr+uint32(i))
		binary.LittleEndian.PutUint32(p[i:], v)
	}
	return nil
}

func (f *fakeTarget) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	for i := 0; i+4 <= len(data); i += 4 {
		f.words[addr+uint32(i)] = binary.LittleEndian.Uint32(data[i:])
	}
	for _, pa := range protocol.DefaultLayout.Params {
		if addr == pa && f.reply != nil && f.words[pa+protocol.StatusOffset] == protocol.BufferFull {
			f.words[pa+protocol.StatusOffset] = *f.reply
		}
	}
	return nil
}

func (f *fakeTarget) FreeWorkingArea(wa *target.WorkingArea) error {
	err := f.WorkAreaPool.FreeWorkingArea(wa)
	if f.freeErr != nil {
		return f.freeErr
	}
	return err
}
