// Package tcp implements a simplified TCP-over-UDP transport
// (spec.md §4.8): a three-way handshake, a byte-sequenced sliding
// window with cumulative ACKs, RTO estimation via Karn's rule with
// exponential backoff, fast retransmit on three duplicate ACKs, and a
// four-way teardown with a TIME_WAIT hold. It is grounded on
// fess932-tcpconn's tcpv2.Conn (SRTT/RTTVAR/RTO fields, sendQueue,
// per-segment sent-time tracking) but restructured, like pkg/gbn and
// pkg/sr, around a single background event-loop goroutine per
// connection (spec.md §5) instead of a mutex-and-condvar monitor.
package tcp

import (
	"time"

	"github.com/rdtlab/rdt-go/pkg/seqnum"
)

// State is a simplified-TCP connection state (spec.md §4.8).
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateCloseWait
	StateLastAck
	StateClosing
	StateTimeWait
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateSynReceived:
		return "SYN_RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN_WAIT_1"
	case StateFinWait2:
		return "FIN_WAIT_2"
	case StateCloseWait:
		return "CLOSE_WAIT"
	case StateLastAck:
		return "LAST_ACK"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME_WAIT"
	default:
		return "UNKNOWN"
	}
}

// Config configures a simplified TCP connection. Both ends of a
// conversation must agree on WindowSize.
type Config struct {
	// WindowSize is the sender's max outstanding bytes, analogous to
	// the receiver-advertised window in real TCP; this implementation
	// treats it as fixed rather than peer-advertised (spec.md §4.8
	// Non-goals: no flow control / congestion control).
	WindowSize uint32

	InitialRTO time.Duration
	MinRTO     time.Duration
	MaxRTO     time.Duration
	// MaxRetries bounds retransmission attempts for any single segment
	// before the connection is aborted with ConnectionReset.
	MaxRetries int
	// MSL is the assumed maximum segment lifetime; TIME_WAIT holds for
	// 2*MSL (SPEC_FULL.md §9 Open Question (b): defaults to 30s).
	MSL time.Duration

	// DupAckThreshold is the number of duplicate ACKs that triggers a
	// fast retransmit (spec.md §4.8: 3).
	DupAckThreshold int
}

func defaultConfig(cfg Config) Config {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = 4096
	}
	if cfg.InitialRTO <= 0 {
		cfg.InitialRTO = time.Second
	}
	if cfg.MinRTO <= 0 {
		cfg.MinRTO = 200 * time.Millisecond
	}
	if cfg.MaxRTO <= 0 {
		cfg.MaxRTO = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 12
	}
	if cfg.MSL <= 0 {
		cfg.MSL = 30 * time.Second
	}
	if cfg.DupAckThreshold <= 0 {
		cfg.DupAckThreshold = 3
	}
	return cfg
}

var space = seqnum.Space32

// pollInterval bounds how long the background receive poller blocks
// between checks of the close signal; it is not a protocol timeout.
const pollInterval = 50 * time.Millisecond

const (
	rtoTimerKey      = "rto"
	timeWaitTimerKey = "time-wait"
)
