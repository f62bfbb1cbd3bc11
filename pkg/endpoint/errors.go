package endpoint

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// ProtocolError is a fatal protocol violation (§7): the caller must log it
// with cycle/node context and terminate the simulation, never recover from
// it in place.
type ProtocolError struct {
	cause error
}

func (e *ProtocolError) Error() string { return e.cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.cause }

func protocolErrorf(format string, args ...interface{}) error {
	return &ProtocolError{cause: pkgerrors.Errorf(format, args...)}
}

// IsProtocolError reports whether err is a fatal protocol error that should
// end the simulation (§7).
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
