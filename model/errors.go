package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a position or parameter set that failed validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConnection marks a console transport that is unreachable, refused or dropped.
	ErrConnection = errors.New("connection error")
	// ErrProtocol marks a connected console that did not acknowledge a command.
	ErrProtocol = errors.New("protocol error")
	// ErrParse marks a track source with a malformed or out-of-range coordinate pair.
	ErrParse = errors.New("parse error")
)

// ErrorKind returns a short label for the error class of err, suitable for
// log fields and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConnection):
		return "connection_error"
	case errors.Is(err, ErrProtocol):
		return "protocol_error"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

// StepError reports which step of a run failed. Step is 1-based; Label is
// the diagnostic label of the fix being transmitted.
type StepError struct {
	Step  int
	Label string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %s: %v", e.Step, e.Label, ErrorKind(e.Err), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
