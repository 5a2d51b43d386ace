package flash

import (
	"time"

	"golang.org/x/exp/constraints"
)

// Clock is the time source for status polling
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// align rounds val up to a multiple of to, which must be a power of two
func align(val, to uint32) uint32 {
	return (val + (to - 1)) & ^(to - 1)
}

// padToWords widens [address, address+len(data)) to whole words, filling the
// extra bytes with the erased value so programming leaves them untouched
func padToWords(address uint32, data []byte) (uint32, []byte) {
	lead := address & 3
	end := align(lead+uint32(len(data)), 4)
	if lead == 0 && end == uint32(len(data)) {
		return address, data
	}

	bs := make([]byte, end)
	for i := range bs {
		bs[i] = 0xff
	}
	copy(bs[lead:], data)
	return address - lead, bs
}
