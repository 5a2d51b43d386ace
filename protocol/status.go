package protocol

import "fmt"

// Bit fields of an encoded status word
const (
	outcomeMask  uint32 = 0x0000ffff
	sectorShift  uint32 = 16
	sectorMask   uint32 = 0x00ff0000
	romCodeShift uint32 = 24
	romCodeMask  uint32 = 0xff000000
)

// Outcome is the coarse result tag in the low bits of a status word
type Outcome uint32

const (
	OutcomeOK                     Outcome = 0x000
	OutcomeFailedEraseAll         Outcome = 0x101
	OutcomeFailedSectorErase      Outcome = 0x102
	OutcomeFailedProgram          Outcome = 0x103
	OutcomeFailedInvalidArguments Outcome = 0x104
	OutcomeFailedUnknownCommand   Outcome = 0x105
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeFailedEraseAll:
		return "erase all failed"
	case OutcomeFailedSectorErase:
		return "sector erase failed"
	case OutcomeFailedProgram:
		return "program failed"
	case OutcomeFailedInvalidArguments:
		return "invalid arguments"
	case OutcomeFailedUnknownCommand:
		return "unknown command"
	}
	return fmt.Sprintf("outcome(0x%03x)", uint32(o))
}

// RomCode is the loader's translation of a boot ROM return value
type RomCode uint8

const (
	RomOK RomCode = 0x00

	// PageErase
	RomEraseFailed  RomCode = 0x01 // returned -1
	RomEraseInvalid RomCode = 0x02 // returned -2
	RomEraseOther   RomCode = 0x03

	// ProgramFlash
	RomProgramFailed  RomCode = 0x04 // returned -1
	RomProgramInvalid RomCode = 0x05 // returned -2
	RomProgramOther   RomCode = 0x06
)

// EraseRomCode maps a PageErase return value
func EraseRomCode(ret int32) RomCode {
	switch ret {
	case 0:
		return RomOK
	case -1:
		return RomEraseFailed
	case -2:
		return RomEraseInvalid
	}
	return RomEraseOther
}

// ProgramRomCode maps a ProgramFlash return value
func ProgramRomCode(ret int32) RomCode {
	switch ret {
	case 0:
		return RomOK
	case -1:
		return RomProgramFailed
	case -2:
		return RomProgramInvalid
	}
	return RomProgramOther
}

func (c RomCode) String() string {
	switch c {
	case RomOK:
		return "ok"
	case RomEraseFailed:
		return "page erase error"
	case RomEraseInvalid:
		return "page erase rejected parameters"
	case RomEraseOther:
		return "page erase unknown error"
	case RomProgramFailed:
		return "program error"
	case RomProgramInvalid:
		return "program rejected parameters"
	case RomProgramOther:
		return "program unknown error"
	}
	return fmt.Sprintf("rom(0x%02x)", uint8(c))
}

// Status is the decoded form of the word the loader leaves in a slot's status
// field when it finishes a command
type Status struct {
	Outcome Outcome
	Sector  uint8
	Code    RomCode
}

// StatusOK is the only status encoding to zero
var StatusOK = Status{}

// OK reports whether the status is a success
func (s Status) OK() bool {
	return s.Outcome == OutcomeOK
}

// Encode will pack the status into its 32-bit wire form. An OK outcome always
// encodes to zero, whatever the extended fields hold.
func (s Status) Encode() uint32 {
	if s.OK() {
		return 0
	}
	return (uint32(s.Outcome) & outcomeMask) |
		((uint32(s.Sector) << sectorShift) & sectorMask) |
		((uint32(s.Code) << romCodeShift) & romCodeMask)
}

// DecodeStatus will unpack a 32-bit status word
func DecodeStatus(v uint32) Status {
	return Status{
		Outcome: Outcome(v & outcomeMask),
		Sector:  uint8((v & sectorMask) >> sectorShift),
		Code:    RomCode((v & romCodeMask) >> romCodeShift),
	}
}

func (s Status) String() string {
	if s.OK() {
		return "ok"
	}
	str := s.Outcome.String()
	if s.Outcome == OutcomeFailedSectorErase || s.Outcome == OutcomeFailedEraseAll {
		str += fmt.Sprintf(" at sector %d", s.Sector)
	}
	if s.Code != RomOK {
		str += fmt.Sprintf(" (%s)", s.Code)
	}
	return fmt.Sprintf("%s [0x%08x]", str, s.Encode())
}
