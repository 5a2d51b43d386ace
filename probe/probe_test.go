package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synthread/cc2538-flash/flash"
	"github.com/synthread/cc2538-flash/protocol"
	"github.com/synthread/cc2538-flash/sim"
)

// bridge serves the bridge protocol from a simulated device
type bridge struct {
	conn net.Conn
	dev  *sim.Device

	// noise is sent ahead of the first sync response
	noise []byte

	mu     sync.Mutex
	writes []int
	reject map[[4]byte]bool
}

func (b *bridge) u32() (uint32, error) {
	var bs [4]byte
	if _, err := io.ReadFull(b.conn, bs[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(bs[:]), nil
}

func (b *bridge) reply(err error, payload []byte) {
	if err != nil {
		b.conn.Write(ResponseErr[:])
		return
	}
	b.conn.Write(append(append([]byte{}, ResponseOK[:]...), payload...))
}

func (b *bridge) serve() {
	ctx := context.Background()
	for {
		var op [4]byte
		if _, err := io.ReadFull(b.conn, op[:]); err != nil {
			return
		}

		b.mu.Lock()
		rejected := b.reject[op]
		b.mu.Unlock()

		switch op {
		case OpcodeSync:
			b.conn.Write(append(b.noise, ResponseSync[:]...))
			b.noise = nil
		case OpcodeHalt:
			b.reply(b.dev.Halt(ctx), nil)
		case OpcodeStat:
			halted, err := b.dev.Halted(ctx)
			var v [4]byte
			if halted {
				v[0] = StatHalted
			}
			b.reply(err, v[:])
		case OpcodeGo:
			addr, err := b.u32()
			if err != nil {
				return
			}
			if rejected {
				b.reply(errors.New("rejected"), nil)
				continue
			}
			b.reply(b.dev.StartAlgorithm(ctx, addr), nil)
		case OpcodeRead4:
			addr, err := b.u32()
			if err != nil {
				return
			}
			v, err := b.dev.ReadU32(ctx, addr)
			var bs [4]byte
			binary.LittleEndian.PutUint32(bs[:], v)
			b.reply(err, bs[:])
		case OpcodeRead:
			addr, err := b.u32()
			if err != nil {
				return
			}
			n, err := b.u32()
			if err != nil {
				return
			}
			bs := make([]byte, n)
			b.reply(b.dev.ReadMemory(ctx, addr, bs), bs)
		case OpcodeWrite:
			addr, err := b.u32()
			if err != nil {
				return
			}
			n, err := b.u32()
			if err != nil {
				return
			}
			bs := make([]byte, n)
			if _, err := io.ReadFull(b.conn, bs); err != nil {
				return
			}
			b.mu.Lock()
			b.writes = append(b.writes, int(n))
			b.mu.Unlock()
			b.reply(b.dev.WriteMemory(ctx, addr, bs), nil)
		default:
			b.reply(errors.New("unknown opcode"), nil)
		}
	}
}

func (b *bridge) writeSizes() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.writes...)
}

func newTestProbe(t *testing.T, noise []byte) (*Probe, *bridge) {
	t.Helper()

	client, server := net.Pipe()
	br := &bridge{
		conn:   server,
		dev:    sim.New(&sim.Config{Sectors: 64}),
		noise:  noise,
		reject: map[[4]byte]bool{},
	}
	go br.serve()

	p, err := New(client, &Config{Timeout: 500 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() {
		p.Close()
		server.Close()
	})
	return p, br
}

func TestDefaults(t *testing.T) {
	c := &Config{}
	c.setDefaults()
	assert.Equal(t, DefaultTTY, c.TTY)
	assert.Equal(t, DefaultBaud, c.Baud)
	assert.Equal(t, DefaultWorkAreaBase, c.WorkAreaBase)
	assert.Equal(t, DefaultWorkAreaSize, c.WorkAreaSize)
	assert.Equal(t, DefaultTimeout, c.Timeout)
}

func TestAccessors(t *testing.T) {
	p, _ := newTestProbe(t, nil)
	assert.Equal(t, DefaultTTY, p.TTY())
	assert.Equal(t, DefaultBaud, p.BaudRate())
}

func TestCloseWithUnreadOutput(t *testing.T) {
	p, br := newTestProbe(t, nil)

	// more than the rx channel holds, with nobody reading it
	go br.conn.Write(bytes.Repeat([]byte{0x55}, 512))
	require.Eventually(t, func() bool { return len(p.rxCh) == cap(p.rxCh) }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("rx loop still running after close")
	}
}

func TestSyncDrainsNoise(t *testing.T) {
	p, _ := newTestProbe(t, []byte("garbage from an earlier run OKOK"))
	assert.True(t, p.IsOpen())
	assert.NoError(t, p.Sync(context.Background()))
}

func TestSyncTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	// swallow the request and never answer
	go io.Copy(io.Discard, server)

	_, err := New(client, &Config{Timeout: 20 * time.Millisecond})
	assert.True(t, errors.Is(err, ErrNotSynced))
}

func TestMemoryAccess(t *testing.T) {
	ctx := context.Background()
	p, br := newTestProbe(t, nil)

	v, err := p.ReadU32(ctx, protocol.RegDIECFG0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xb9640010), v)

	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, p.WriteMemory(ctx, protocol.LoaderBase, data))
	assert.Equal(t, []int{1024, 1024, 452}, br.writeSizes())

	got := make([]byte, len(data))
	require.NoError(t, p.ReadMemory(ctx, protocol.LoaderBase, got))
	assert.Equal(t, data, got)

	v, err = p.ReadU32(ctx, protocol.LoaderBase+4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x07060504), v)
}

func TestRejected(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProbe(t, nil)

	// the simulated device refuses writes outside RAM
	err := p.WriteMemory(ctx, protocol.FlashBase, []byte{0, 0, 0, 0})
	assert.True(t, errors.Is(err, ErrRejected))

	// the line is still in step afterwards
	_, err = p.ReadU32(ctx, protocol.RegDIECFG0)
	assert.NoError(t, err)
}

func TestHaltAndResume(t *testing.T) {
	ctx := context.Background()
	p, br := newTestProbe(t, nil)

	halted, err := p.Halted(ctx)
	require.NoError(t, err)
	assert.True(t, halted)

	br.dev.Stall(true)
	require.NoError(t, p.StartAlgorithm(ctx, protocol.LoaderBase))
	halted, err = p.Halted(ctx)
	require.NoError(t, err)
	assert.False(t, halted)

	require.NoError(t, p.Halt(ctx))
	halted, err = p.Halted(ctx)
	require.NoError(t, err)
	assert.True(t, halted)

	br.mu.Lock()
	br.reject[OpcodeGo] = true
	br.mu.Unlock()
	assert.True(t, errors.Is(p.StartAlgorithm(ctx, protocol.LoaderBase), ErrRejected))
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProbe(t, nil)
	require.NoError(t, p.Close())
	assert.False(t, p.IsOpen())

	_, err := p.ReadU32(ctx, protocol.RegDIECFG0)
	assert.Equal(t, ErrClosed, err)
}

func TestFlashThroughBridge(t *testing.T) {
	ctx := context.Background()
	p, br := newTestProbe(t, nil)

	bank, err := flash.NewBank(p, &flash.Config{
		Loader:  bytes.Repeat([]byte{0x00, 0xbf}, 32),
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)

	require.NoError(t, bank.Probe(ctx))
	assert.Equal(t, 64, bank.NumSectors())

	data := make([]byte, 0x1200)
	for i := range data {
		data[i] = byte(i * 3)
	}
	require.NoError(t, bank.Write(ctx, data, 0x800))

	got, err := bank.Read(ctx, 0x800, uint32(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, bank.Erase(ctx, 1, 1))
	got, err = bank.Read(ctx, 0x800, 0x800)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 0x800), got)

	assert.Equal(t, 0, p.InUse())
	assert.Len(t, br.dev.Commands(), 4)
}
