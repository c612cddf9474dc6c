package models

import (
	"strings"
)

// Operation names the sensitive action being protected (login, password_reset, ...).
type Operation string

// OperationAny matches every operation in rule applicability.
const OperationAny Operation = "*"

// MaxOperationLength bounds operation names.
const MaxOperationLength = 64

// Validate checks that the operation is a usable name.
func (o Operation) Validate() bool {
	return o != "" && len(o) <= MaxOperationLength && !strings.ContainsAny(string(o), " \t\n|")
}

// CounterKey addresses the rolling failure log of one identifier for one operation.
// Windows are applied at read time, so one log serves both captcha and block windows.
type CounterKey struct {
	Identifier Identifier
	Operation  Operation
}

// NewCounterKey builds the key for an identifier/operation pair.
func NewCounterKey(id Identifier, op Operation) CounterKey {
	return CounterKey{Identifier: id, Operation: op}
}

// String returns the formatted key for storage lookup.
func (k CounterKey) String() string {
	return k.Identifier.Key() + "|" + sanitizeKeySegment(string(k.Operation))
}

// LockoutKey returns the storage key for the lockout record of an identifier/operation pair.
func LockoutKey(id Identifier, op Operation) string {
	return "lockout|" + NewCounterKey(id, op).String()
}

// sanitizeKeySegment escapes delimiter characters in key segments so that
// user-controlled values containing ':' or '|' cannot address another key.
//
// Escape rules (order matters):
//  1. Escape '_' to '__' (escape the escape character first)
//  2. Escape ':' to '_c'
//  3. Escape '|' to '_p'
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	s = strings.ReplaceAll(s, ":", "_c")
	s = strings.ReplaceAll(s, "|", "_p")
	return s
}
