// Package rdterr defines the sentinel error kinds shared by every
// protocol package in this module (spec.md §7).
package rdterr

import "github.com/pkg/errors"

// Sentinel error kinds. Callers compare with errors.Is; call sites that
// want a stack trace attached wrap one of these with errors.Wrap.
var (
	// ErrCorruption is returned by the codec when a decoded frame's
	// checksum does not match, or the frame is otherwise malformed.
	ErrCorruption = errors.New("rdt: corrupted packet")

	// ErrTimeout is returned by a blocking API call that exceeded its
	// deadline without corrupting protocol state.
	ErrTimeout = errors.New("rdt: operation timed out")

	// ErrConnectionClosed is returned to a pending application call
	// after a local Close.
	ErrConnectionClosed = errors.New("rdt: connection closed")

	// ErrConnectionReset is returned after a remote abort or after the
	// retransmission count cap is exceeded.
	ErrConnectionReset = errors.New("rdt: connection reset")

	// ErrProtocol marks a packet that is impossible given the current
	// FSM state (e.g. an ACK while CLOSED). The offending packet is
	// dropped; this error never corrupts state.
	ErrProtocol = errors.New("rdt: protocol error")

	// ErrWindowFull is surfaced only to a non-blocking Send when the
	// sender's window has no free slot.
	ErrWindowFull = errors.New("rdt: send window full")
)

// Wrap attaches msg and a stack trace to a sentinel error kind while
// keeping it comparable via errors.Is(wrapped, kind).
func Wrap(kind error, msg string) error {
	return errors.WithMessage(errors.WithStack(kind), msg)
}

// Wrapf is Wrap with fmt-style formatting.
func Wrapf(kind error, format string, args ...interface{}) error {
	return errors.WithMessage(errors.WithStack(kind), errors.Errorf(format, args...).Error())
}
