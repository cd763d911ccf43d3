// Copyright (c) 2024-2026 The stemd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

// ErrorCode identifies a kind of mempool rule violation.
type ErrorCode int

const (
	// ErrDuplicate indicates a transaction already exists in the pool.
	ErrDuplicate ErrorCode = iota
)

// RuleError identifies a rule violation.  It is used to indicate that
// processing of a transaction failed due to one of the pool's acceptance
// rules.
type RuleError struct {
	ErrorCode   ErrorCode
	Description string
}

// Error satisfies the error interface and prints human-readable errors.
func (e RuleError) Error() string {
	return e.Description
}

// ruleError creates a RuleError given a set of arguments.
func ruleError(c ErrorCode, desc string) RuleError {
	return RuleError{ErrorCode: c, Description: desc}
}

// IsErrorCode returns whether err is a RuleError with the given ErrorCode.
func IsErrorCode(err error, c ErrorCode) bool {
	re, ok := err.(RuleError)
	return ok && re.ErrorCode == c
}
