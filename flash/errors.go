package flash

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/synthread/cc2538-flash/protocol"
)

var ErrTimeout = errors.New("timed out waiting for flash loader")

// StatusError is a failure reported through a slot's status word, or a request
// rejected before it reached the loader for the same reason the loader would
// have rejected it
type StatusError struct {
	Op     string
	Slot   int
	Status protocol.Status
	Detail string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("cc2538 %s: %s", e.Op, e.Status)
	if e.Slot >= 0 {
		msg += fmt.Sprintf(" on slot %d", e.Slot)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Outcome returns the loader outcome carried by err, and false when err did
// not come from the loader protocol
func Outcome(err error) (protocol.Outcome, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status.Outcome, true
	}
	return protocol.OutcomeOK, false
}

func invalidArguments(op, format string, args ...interface{}) error {
	return &StatusError{
		Op:     op,
		Slot:   -1,
		Status: protocol.Status{Outcome: protocol.OutcomeFailedInvalidArguments},
		Detail: fmt.Sprintf(format, args...),
	}
}
