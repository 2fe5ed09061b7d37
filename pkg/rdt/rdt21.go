package rdt

import (
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
)

// Sender21 implements the rdt2.1 sender FSM (spec.md §4.4): adds the
// alternating sequence bit and eliminates ambiguity around corrupted
// ACKs by requiring the ACK to carry the expected seq.
type Sender21 struct {
	ch     channel.Channel
	dest   channel.Endpoint
	seq    uint8
	log    zeroLogger
	closed closeSignal
}

// NewSender21 creates an rdt2.1 sender bound to ch, sending to dest.
func NewSender21(ch channel.Channel, dest channel.Endpoint) *Sender21 {
	return &Sender21{ch: ch, dest: dest, log: rdtlog.New("rdt2.1.sender")}
}

// Send transmits payload under the current sequence bit, retransmitting
// on any corrupted or wrong-seq reply, and flips the bit once the
// matching ACK arrives.
func (s *Sender21) Send(payload []byte) error {
	frame := encodeData(uint32(s.seq), payload)

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
			s.log.Debug().Msg("corrupted ACK, retransmitting")
			continue
		}
		if reply.Kind != packet.KindACK || uint8(reply.Ack) != s.seq {
			s.log.Debug().Uint32("ack", reply.Ack).Msg("wrong-seq ACK, retransmitting")
			continue
		}

		s.seq = flipBit(s.seq)
		return nil
	}
}

// Close marks the sender closed.
func (s *Sender21) Close() error {
	s.closed.closed = true
	return s.ch.Close()
}

// Receiver21 implements the rdt2.1 receiver FSM: delivers DATA matching
// the expected seq and ACKs it; re-ACKs the previously delivered seq on
// corruption or on a duplicate (wrong-seq) DATA, never redelivering it.
type Receiver21 struct {
	ch       channel.Channel
	expected uint8
	log      zeroLogger
	closed   closeSignal
}

// NewReceiver21 creates an rdt2.1 receiver bound to ch.
func NewReceiver21(ch channel.Channel) *Receiver21 {
	return &Receiver21{ch: ch, log: rdtlog.New("rdt2.1.receiver")}
}

// Recv blocks until the next new, in-order message is delivered.
func (r *Receiver21) Recv() ([]byte, error) {
	for {
		frame, from, err := recvOrClosed(r.ch, -1, &r.closed)
		if err != nil {
			return nil, err
		}

		pkt, err := packet.Decode(frame)
		if err != nil {
			r.log.Debug().Msg("corrupted DATA, re-ACKing previous seq")
			_ = r.ch.Send(encodeAck(uint32(flipBit(r.expected))), from)
			continue
		}

		if uint8(pkt.Seq) != r.expected {
			r.log.Debug().Msg("duplicate DATA, re-ACKing previous seq")
			_ = r.ch.Send(encodeAck(uint32(flipBit(r.expected))), from)
			continue
		}

		_ = r.ch.Send(encodeAck(uint32(r.expected)), from)
		r.expected = flipBit(r.expected)
		return pkt.Payload, nil
	}
}

// Close marks the receiver closed.
func (r *Receiver21) Close() error {
	r.closed.closed = true
	return r.ch.Close()
}

func flipBit(b uint8) uint8 {
	return 1 - b
}
