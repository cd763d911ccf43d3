// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dandelion

import (
	"fmt"
)

// ErrorCode identifies a kind of relay error.
type ErrorCode int

const (
	// ErrInvalidTransition indicates an attempt to move a relay record
	// from the fluff phase back to the stem phase.  Fluff is absorbing,
	// so this is always a logic error in the caller.
	ErrInvalidTransition ErrorCode = iota

	// ErrUnknownTransaction indicates the requested transaction is not
	// available to the requesting peer.  A transaction that is being
	// withheld during its stem phase produces the same error as one the
	// node has never seen.
	ErrUnknownTransaction
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrInvalidTransition:  "ErrInvalidTransition",
	ErrUnknownTransaction: "ErrUnknownTransaction",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// RelayError identifies a relay rule violation.  It is used to indicate that
// processing of a transaction or relay record failed due to one of the relay
// rules.  The caller can use type assertions to access the ErrorCode field
// to ascertain the specific reason for the failure.
type RelayError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RelayError) Error() string {
	return e.Description
}

// relayError creates a RelayError given a set of arguments.
func relayError(c ErrorCode, desc string) RelayError {
	return RelayError{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether err is a RelayError with the given ErrorCode.
func IsErrorCode(err error, c ErrorCode) bool {
	re, ok := err.(RelayError)
	return ok && re.ErrorCode == c
}
