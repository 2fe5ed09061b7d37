// Package rdt implements the stop-and-wait reliable data transfer
// family: rdt2.0, rdt2.1, and rdt3.0 (spec.md §4.3–§4.5). Each variant
// is a window-of-one protocol, so a single application Send/Recv call
// fully drives that call's slice of the FSM — there is exactly one
// outstanding exchange at a time, so the "event loop" spec.md §5
// describes for pipelined protocols collapses to the calling
// goroutine itself for this family; pkg/gbn, pkg/sr, and pkg/tcp use an
// explicit background event-loop goroutine because they pipeline.
package rdt

import (
	"time"

	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/seqnum"
	"github.com/rs/zerolog"
)

// zeroLogger is a local alias so variant files don't each need to
// import zerolog directly.
type zeroLogger = zerolog.Logger

// Config configures a stop-and-wait sender or receiver.
type Config struct {
	// RTO is the rdt3.0 sender's retransmission timeout (NewSender20 and
	// NewSender21 take no Config). A zero or negative RTO is not
	// rejected: it makes Sender30 wait for each reply indefinitely, so it
	// never retransmits on timeout.
	RTO time.Duration
}

func defaultConfig(cfg Config) Config {
	if cfg.RTO <= 0 {
		cfg.RTO = -1 // block indefinitely
	}
	return cfg
}

// closeSignal records that Close was called; Send/Recv return
// ErrConnectionClosed once they observe it.
type closeSignal struct {
	closed bool
}

func recvOrClosed(ch channel.Channel, timeout time.Duration, closed *closeSignal) ([]byte, channel.Endpoint, error) {
	if closed.closed {
		return nil, nil, rdterr.ErrConnectionClosed
	}
	frame, from, err := ch.RecvTimeout(timeout)
	if closed.closed {
		return nil, nil, rdterr.ErrConnectionClosed
	}
	return frame, from, err
}

// encodeData builds a DATA frame carrying seq and payload.
func encodeData(seq uint32, payload []byte) []byte {
	return packet.Encode(packet.Packet{Kind: packet.KindData, Seq: seq, Payload: payload})
}

func encodeAck(ack uint32) []byte {
	return packet.Encode(packet.Packet{Kind: packet.KindACK, Ack: ack})
}

func encodeNak() []byte {
	return packet.Encode(packet.Packet{Kind: packet.KindNAK})
}

var bitSpace = seqnum.Space{Bits: 1}

// stateName names the sender state spec.md §4.4 associates with a
// given sequence bit (WaitACK0/WaitACK1), for events.Event.From/To.
func stateName(seq uint8) string {
	if seq == 0 {
		return "WaitACK0"
	}
	return "WaitACK1"
}
