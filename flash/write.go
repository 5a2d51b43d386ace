package flash

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/cc2538-flash/protocol"
)

// Write will program data at offset from the start of the bank. The range
// must already be erased. Data is streamed through the two loader buffers in
// turn so the host fills one while the loader programs the other.
func (b *Bank) Write(ctx context.Context, data []byte, offset uint32) error {
	if err := b.checkHalted(ctx); err != nil {
		logrus.Error("cc2538: Target not halted")
		return err
	}
	if err := b.AutoProbe(ctx); err != nil {
		return err
	}

	// nothing reaches the loader unless every chunk would be accepted
	if uint64(offset)+uint64(len(data)) > uint64(b.Size()) {
		return invalidArguments("write", "0x%x bytes at offset 0x%x exceed bank size 0x%x", len(data), offset, b.Size())
	}
	if len(data) == 0 {
		return nil
	}

	address, buf := padToWords(b.base+offset, data)

	if err := b.startSession(ctx); err != nil {
		return err
	}

	var params [2]protocol.Params
	params[0].Command = protocol.CmdProgram
	params[1].Command = protocol.CmdProgram

	var err error
	index := 0
	written := 0
	for written < len(buf) {
		size := min(len(buf)-written, int(b.layout.ChunkLen))

		// slot index is empty: it was waited on in the previous round, or
		// has never been used this session
		err = b.tgt.WriteMemory(ctx, b.layout.Buffers[index], buf[written:written+size])
		if err != nil {
			logrus.Error("cc2538: Unable to write data to target memory")
			break
		}

		params[index].Address = address + uint32(written)
		params[index].Length = uint32(size)
		if err = b.submit(ctx, index, params[index]); err != nil {
			break
		}

		// while the loader works on this chunk, make sure the other slot is
		// free for the next one. That confirms every chunk before this one.
		index ^= 1
		if err = b.waitDone(ctx, "write", index); err != nil {
			break
		}
		if written > 0 {
			b.progress(written, len(buf))
		}

		written += size
	}

	if err == nil {
		index ^= 1
		if err = b.waitDone(ctx, "write", index); err == nil {
			b.progress(len(buf), len(buf))
		}
	}

	b.endSessionLogged(ctx)

	// a failed write may still have programmed some chunks
	state := 0
	if err != nil {
		state = -1
	}
	first := int((address - b.base) / b.sectorSize)
	last := int((address - b.base + uint32(len(buf)) - 1) / b.sectorSize)
	b.markErased(first, last, state)
	return err
}

func (b *Bank) progress(done, total int) {
	if b.config.Progress != nil {
		b.config.Progress(done, total)
	}
}

// Read will read length bytes at offset from the start of the bank
func (b *Bank) Read(ctx context.Context, offset, length uint32) ([]byte, error) {
	if err := b.AutoProbe(ctx); err != nil {
		return nil, err
	}
	if uint64(offset)+uint64(length) > uint64(b.Size()) {
		return nil, invalidArguments("read", "0x%x bytes at offset 0x%x exceed bank size 0x%x", length, offset, b.Size())
	}

	bs := make([]byte, length)
	if err := b.tgt.ReadMemory(ctx, b.base+offset, bs); err != nil {
		return nil, errors.Wrap(err, "could not read flash")
	}
	return bs, nil
}

// BlankCheck will read every sector and record whether it is erased
func (b *Bank) BlankCheck(ctx context.Context) error {
	if err := b.AutoProbe(ctx); err != nil {
		return err
	}

	blank := bytes.Repeat([]byte{protocol.ErasedByte}, int(b.sectorSize))
	buf := make([]byte, b.sectorSize)
	for i := range b.sectors {
		s := &b.sectors[i]
		if err := b.tgt.ReadMemory(ctx, b.base+s.Offset, buf); err != nil {
			return errors.Wrapf(err, "could not read sector %d", i)
		}
		if bytes.Equal(buf, blank) {
			s.IsErased = 1
		} else {
			s.IsErased = 0
		}
	}
	return nil
}
