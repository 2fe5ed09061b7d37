// Package gbn implements Go-Back-N: a pipelined sender with a window
// and a single retransmission timer, and an in-order receiver that
// discards out-of-order packets and re-emits its last cumulative ACK
// (spec.md §4.6). Unlike pkg/rdt's stop-and-wait family, both sender
// and receiver run a persistent background event-loop goroutine
// (spec.md §5): application requests, channel arrivals, and timer
// expiries are all funneled through one select loop per endpoint so no
// locking is needed around FSM state.
package gbn

import (
	"strconv"
	"time"

	"github.com/rdtlab/rdt-go/pkg/seqnum"
)

// Config configures a GBN sender or receiver. Both ends of a
// conversation must agree on WindowSize and SeqBits.
type Config struct {
	// SeqBits is k: sequence numbers range over [0, 2^k).
	SeqBits uint
	// WindowSize is W. Must satisfy W <= 2^k - 1 (spec.md §3); violating
	// configurations are rejected at construction.
	WindowSize uint32
	// RTO is the sender's single retransmission timeout.
	RTO time.Duration
}

func (c Config) space() seqnum.Space {
	return seqnum.Space{Bits: c.SeqBits}
}

func (c Config) modulus() uint32 {
	return uint32(uint64(1) << c.SeqBits)
}

// validate checks spec.md §3's GBN sequence-discipline invariant:
// W <= 2^k - 1.
func (c Config) validate() error {
	if c.WindowSize == 0 {
		return errInvalidWindow("window size must be positive")
	}
	if uint64(c.WindowSize) > uint64(c.modulus())-1 {
		return errInvalidWindow("window size exceeds 2^k - 1 for GBN")
	}
	if c.RTO <= 0 {
		return errInvalidWindow("RTO must be positive")
	}
	return nil
}

type errInvalidWindow string

func (e errInvalidWindow) Error() string { return "gbn: " + string(e) }

// seqnumName renders a base sequence number for events.Event.From/To.
func seqnumName(base uint32) string { return "base=" + strconv.FormatUint(uint64(base), 10) }
