package protocol

import (
	"errors"
	"fmt"
)

// ErrProtocol is the root of every client protocol violation.
var ErrProtocol = errors.New("protocol error")

var (
	ErrMalformedFrame = fmt.Errorf("%w: malformed frame", ErrProtocol)
	ErrUnknownFrame   = fmt.Errorf("%w: unknown frame type", ErrProtocol)
)

// Violation wraps err so that errors.Is(err, ErrProtocol) holds.
func Violation(err error) error {
	if err == nil || errors.Is(err, ErrProtocol) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}
