package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOKIsZero(t *testing.T) {
	assert.Equal(t, uint32(0), StatusOK.Encode())
	assert.Equal(t, uint32(0), Status{Outcome: OutcomeOK, Sector: 9, Code: RomEraseFailed}.Encode())
	assert.True(t, DecodeStatus(0).OK())
	assert.Equal(t, BufferEmpty, StatusOK.Encode())
}

func TestStatusBitPositions(t *testing.T) {
	s := Status{Outcome: OutcomeFailedSectorErase, Sector: 0x2a, Code: RomEraseInvalid}
	assert.Equal(t, uint32(0x022a0102), s.Encode())

	s = Status{Outcome: OutcomeFailedProgram, Code: RomProgramOther}
	assert.Equal(t, uint32(0x06000103), s.Encode())
}

func TestStatusTagsDistinct(t *testing.T) {
	tags := []Outcome{
		OutcomeFailedEraseAll,
		OutcomeFailedSectorErase,
		OutcomeFailedProgram,
		OutcomeFailedInvalidArguments,
		OutcomeFailedUnknownCommand,
	}
	seen := map[uint32]Outcome{}
	for _, tag := range tags {
		v := Status{Outcome: tag}.Encode()
		assert.NotEqual(t, uint32(0), v)
		assert.NotEqual(t, BufferFull, v)
		_, dup := seen[v]
		assert.False(t, dup, "tag %s collides", tag)
		seen[v] = tag
	}
}

func TestStatusRoundTrip(t *testing.T) {
	erase := []int32{-1, -2, 7}
	program := []int32{-1, -2, -9}

	codes := map[RomCode]bool{}
	for _, ret := range erase {
		code := EraseRomCode(ret)
		codes[code] = true
		for _, sector := range []uint8{0, 1, 128, 255} {
			s := Status{Outcome: OutcomeFailedSectorErase, Sector: sector, Code: code}
			assert.Equal(t, s, DecodeStatus(s.Encode()))
		}
	}
	for _, ret := range program {
		code := ProgramRomCode(ret)
		codes[code] = true
		s := Status{Outcome: OutcomeFailedProgram, Code: code}
		assert.Equal(t, s, DecodeStatus(s.Encode()))
	}
	assert.Len(t, codes, 6, "every failing rom return maps to its own code")
}

func TestRomCodeMapping(t *testing.T) {
	assert.Equal(t, RomOK, EraseRomCode(0))
	assert.Equal(t, RomEraseFailed, EraseRomCode(-1))
	assert.Equal(t, RomEraseInvalid, EraseRomCode(-2))
	assert.Equal(t, RomEraseOther, EraseRomCode(3))
	assert.Equal(t, RomOK, ProgramRomCode(0))
	assert.Equal(t, RomProgramFailed, ProgramRomCode(-1))
	assert.Equal(t, RomProgramInvalid, ProgramRomCode(-2))
	assert.Equal(t, RomProgramOther, ProgramRomCode(1))
}

func TestStatusString(t *testing.T) {
	s := Status{Outcome: OutcomeFailedSectorErase, Sector: 3, Code: RomEraseFailed}
	assert.Equal(t, "sector erase failed at sector 3 (page erase error) [0x01030102]", s.String())
	assert.Equal(t, "ok", StatusOK.String())
}
