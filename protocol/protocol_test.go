package protocol

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsWireLayout(t *testing.T) {
	p := Params{
		Address: 0x00200800,
		Length:  0x800,
		Command: CmdProgram,
		Status:  BufferFull,
	}

	bs := p.Bytes()
	assert.Equal(t, []byte{
		0x00, 0x08, 0x20, 0x00,
		0x00, 0x08, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0xff, 0xff, 0xff, 0xff,
	}, bs)

	var q Params
	require.NoError(t, q.UnmarshalBinary(bs))
	assert.Equal(t, p, q)
	assert.True(t, q.Full())
}

func TestParamsShortBlock(t *testing.T) {
	var p Params
	err := p.UnmarshalBinary(make([]byte, ParamsSize-1))
	assert.True(t, errors.Is(err, ErrShortBlock))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "erase-all", CmdEraseAll.String())
	assert.Equal(t, "erase-sectors", CmdEraseSectors.String())
	assert.Equal(t, "command(9)", Command(9).String())
}

func TestSectorArithmetic(t *testing.T) {
	assert.Equal(t, uint32(0), SectorOf(FlashBase))
	assert.Equal(t, uint32(0), SectorOf(FlashBase+SectorSize-1))
	assert.Equal(t, uint32(1), SectorOf(FlashBase+SectorSize))
	assert.Equal(t, FlashBase+255*SectorSize, SectorAddress(255))
}

func TestDefaultLayout(t *testing.T) {
	l := DefaultLayout
	assert.Equal(t, uint32(0x3400), l.WorkingSize())
	assert.Equal(t, uint32(0x20001be4), l.StatusAddr(0))
	assert.Equal(t, uint32(0x20001bf8), l.StatusAddr(1))
	assert.NoError(t, l.Validate(0x1000))
}

func TestLayoutValidate(t *testing.T) {
	l := DefaultLayout
	assert.True(t, errors.Is(l.Validate(0x1c00), ErrBadLayout), "code overlapping params")

	l = DefaultLayout
	l.Params[1] = l.Params[0] + 4
	assert.True(t, errors.Is(l.Validate(0x100), ErrBadLayout))

	l = DefaultLayout
	l.ChunkLen = l.BufferLen + 4
	assert.True(t, errors.Is(l.Validate(0x100), ErrBadLayout))

	l = DefaultLayout
	l.Buffers[0] = l.Base - 0x100
	assert.True(t, errors.Is(l.Validate(0x100), ErrBadLayout))
}
