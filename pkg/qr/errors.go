package qr

import (
	"fmt"
	"strings"
)

// ParseError reports a scanned string that is not well-formed JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("qr payload is not valid JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StructureError reports a payload whose shape is wrong: required fields
// missing, or fields of the wrong type or value range.
type StructureError struct {
	Missing []string
	Reason  string
	Err     error
}

func (e *StructureError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("invalid qr code structure: missing %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("invalid qr code structure: %s", e.Reason)
}

func (e *StructureError) Unwrap() error { return e.Err }

// NetworkMismatchError reports a payload minted for another network.
type NetworkMismatchError struct {
	Got string
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf("qr code is not from %s network (network %q)", strings.ToUpper(Network), e.Got)
}
