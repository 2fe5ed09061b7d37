// Package sr implements Selective Repeat (spec.md §4.7): a pipelined
// sender with a per-slot retransmission timer, and a receiver that
// buffers out-of-order packets within its window and delivers
// contiguous runs as they become available. Both ends run a
// background event-loop goroutine (spec.md §5), matching pkg/gbn's
// architecture but replacing the single window timer with one timer
// per outstanding slot and replacing cumulative ACKs with per-packet
// ACKs.
package sr

import (
	"strconv"
	"time"

	"github.com/rdtlab/rdt-go/pkg/seqnum"
)

// Config configures an SR sender or receiver. Both ends must agree on
// WindowSize and SeqBits.
type Config struct {
	// SeqBits is k: sequence numbers range over [0, 2^k).
	SeqBits uint
	// WindowSize is W. SR requires W <= 2^(k-1) (spec.md §3) so the
	// sender and receiver windows never overlap ambiguously after
	// wrap-around.
	WindowSize uint32
	// RTO is the per-slot retransmission timeout.
	RTO time.Duration
}

func (c Config) space() seqnum.Space {
	return seqnum.Space{Bits: c.SeqBits}
}

func (c Config) modulus() uint32 {
	return uint32(uint64(1) << c.SeqBits)
}

func (c Config) validate() error {
	if c.WindowSize == 0 {
		return errInvalidWindow("window size must be positive")
	}
	if uint64(c.WindowSize) > uint64(c.modulus())/2 {
		return errInvalidWindow("window size exceeds 2^(k-1) for selective repeat")
	}
	if c.RTO <= 0 {
		return errInvalidWindow("RTO must be positive")
	}
	return nil
}

type errInvalidWindow string

func (e errInvalidWindow) Error() string { return "sr: " + string(e) }

// pollInterval bounds how long a background receive poller blocks
// between checks of its close signal; it is not a protocol timeout.
const pollInterval = 50 * time.Millisecond

// seqnumName renders a base sequence number for events.Event.From/To.
func seqnumName(base uint32) string { return "base=" + strconv.FormatUint(uint64(base), 10) }
