package rdt

import (
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
)

// Sender20 implements the rdt2.0 sender FSM (spec.md §4.3): no
// sequence number, no timer. Documented as fatally flawed: a corrupted
// ACK is indistinguishable from a NAK, so the sender retransmits and
// the receiver — having no sequence number either — redelivers the
// message. This package keeps that flaw faithfully (Open Question (a)
// in SPEC_FULL.md is resolved as "rdt2.0 delivers duplicates").
type Sender20 struct {
	ch     channel.Channel
	dest   channel.Endpoint
	log    zeroLogger
	closed closeSignal
}

// NewSender20 creates an rdt2.0 sender bound to ch, sending to dest.
func NewSender20(ch channel.Channel, dest channel.Endpoint) *Sender20 {
	return &Sender20{ch: ch, dest: dest, log: rdtlog.New("rdt2.0.sender")}
}

// Send transmits payload and blocks until an uncorrupted ACK arrives,
// retransmitting on every corrupted reply (including one that was
// really a corrupted ACK, per the documented flaw).
func (s *Sender20) Send(payload []byte) error {
	frame := encodeData(0, payload)

	for {
		if s.closed.closed {
			return rdterr.ErrConnectionClosed
		}
		if err := s.ch.Send(frame, s.dest); err != nil {
			return err
		}

		resp, _, err := recvOrClosed(s.ch, -1, &s.closed)
		if err != nil {
			if err == rdterr.ErrConnectionClosed {
				return err
			}
			continue
		}

		reply, err := packet.Decode(resp)
		if err != nil {
			s.log.Debug().Msg("corrupted reply, retransmitting (ambiguous NAK/ACK)")
			continue
		}
		if reply.Kind == packet.KindNAK {
			continue
		}
		if reply.Kind == packet.KindACK {
			return nil
		}
	}
}

// Close marks the sender closed; any in-flight Send returns
// ConnectionClosed once it next observes the channel.
func (s *Sender20) Close() error {
	s.closed.closed = true
	return s.ch.Close()
}

// Receiver20 implements the rdt2.0 receiver FSM: on corrupted DATA,
// send NAK; on uncorrupted DATA, deliver it and send ACK. With no
// sequence number, a retransmitted DATA (caused by a corrupted ACK) is
// delivered again.
type Receiver20 struct {
	ch     channel.Channel
	log    zeroLogger
	closed closeSignal
}

// NewReceiver20 creates an rdt2.0 receiver bound to ch.
func NewReceiver20(ch channel.Channel) *Receiver20 {
	return &Receiver20{ch: ch, log: rdtlog.New("rdt2.0.receiver")}
}

// Recv blocks until the next message is delivered.
func (r *Receiver20) Recv() ([]byte, error) {
	for {
		frame, from, err := recvOrClosed(r.ch, -1, &r.closed)
		if err != nil {
			return nil, err
		}

		pkt, err := packet.Decode(frame)
		if err != nil {
			r.log.Debug().Msg("corrupted DATA, sending NAK")
			_ = r.ch.Send(encodeNak(), from)
			continue
		}

		_ = r.ch.Send(encodeAck(pkt.Seq), from)
		return pkt.Payload, nil
	}
}

// Close marks the receiver closed.
func (r *Receiver20) Close() error {
	r.closed.closed = true
	return r.ch.Close()
}
