package validation

import (
	"fmt"

	dErrors "warden/pkg/domain-errors"
)

// HTTP body limits
const (
	// MaxBodySize is the maximum allowed request body size (64 KB).
	MaxBodySize = 64 * 1024
)

// Element count limits
const (
	// MaxIdentifiers is the maximum number of identifiers in one check, outcome, or event.
	MaxIdentifiers = 16

	// MaxAttributes is the maximum number of caller-supplied event attributes.
	MaxAttributes = 64

	// MaxContextEntries is the maximum number of outcome context entries.
	MaxContextEntries = 16
)

// String length limits
const (
	// MaxEventIDLength is the maximum length of a caller-supplied event id.
	MaxEventIDLength = 128

	// MaxAttributeNameLength is the maximum length of an attribute name.
	MaxAttributeNameLength = 64

	// MaxUserAgentLength is the maximum length of a user agent string.
	MaxUserAgentLength = 1024
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckEachStringLength validates that each string in a slice does not exceed the maximum length.
func CheckEachStringLength(fieldName string, values []string, max int) error {
	for _, v := range values {
		if len(v) > max {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
		}
	}
	return nil
}
