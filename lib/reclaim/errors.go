package reclaim

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by all configuration validation errors
var ErrInvalidConfig = errors.New("invalid reclaim config")

// --------------------------------------------------------------------------
// Precondition violations
// --------------------------------------------------------------------------

// Error describes a precondition violation. Engines and containers panic with an
// *Error when they are used beyond the bounds they were sized for or when a record
// is misused. These are programming mistakes, not runtime conditions.
type Error struct {
	Code ErrCode // The violation code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ReclaimError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Panic aborts the current operation with an *Error
func Panic(code ErrCode, format string, args ...interface{}) {
	panic(NewError(code, fmt.Sprintf(format, args...)))
}

// --------------------------------------------------------------------------
// Violation Codes
// --------------------------------------------------------------------------

type ErrCode uint64

const (
	ErrCThreadLimit    ErrCode = iota + 1 // 1: more threads registered than the engine was sized for
	ErrCPinLimit                          // 2: a thread pinned more records than PinMax
	ErrCIterLimit                         // 3: a thread opened more iterators than IterMax
	ErrCDoubleRetire                      // 4: a record was retired twice
	ErrCNotPinned                         // 5: a record was unpinned or retired without a pin
	ErrCArenaExhausted                    // 6: the arena index space is exhausted
	ErrCRetireOverflow                    // 7: the retire list exceeded its capacity
	ErrCPinsHeld                          // 8: a thread was unregistered while holding pins
	ErrCInvalidThread                     // 9: a thread that does not belong to the engine was used
	ErrCRefUnderflow                      // 10: a reference count dropped below zero
)

func (c ErrCode) String() string {
	switch c {
	case ErrCThreadLimit:
		return "ThreadLimit"
	case ErrCPinLimit:
		return "PinLimit"
	case ErrCIterLimit:
		return "IterLimit"
	case ErrCDoubleRetire:
		return "DoubleRetire"
	case ErrCNotPinned:
		return "NotPinned"
	case ErrCArenaExhausted:
		return "ArenaExhausted"
	case ErrCRetireOverflow:
		return "RetireOverflow"
	case ErrCPinsHeld:
		return "PinsHeld"
	case ErrCInvalidThread:
		return "InvalidThread"
	case ErrCRefUnderflow:
		return "RefUnderflow"
	default:
		return "Unknown"
	}
}
