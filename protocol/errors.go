package protocol

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a read when the key holds no value yet.
var ErrNotFound = errors.New("key has no value")

// ProtocolError reports a reply that does not match the server contract. It is
// a defect signal, not ordinary load behavior.
type ProtocolError struct {
	Op     string // "read" or "write"
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: protocol violation: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: protocol violation: %s", e.Op, e.Reason)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// StatusError is a non-2xx reply other than the not-found case.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status code: %d", e.Op, e.Status)
}
