package rdt

import (
	"time"

	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
)

// Sender30 implements the rdt3.0 sender FSM (spec.md §4.5): rdt2.1 plus
// a retransmission timer. The timer is modeled by bounding the reply
// wait with Config.RTO and treating the resulting Timeout exactly like
// a lost ACK — retransmit and restart the wait, matching spec.md's
// "expiry is treated identically to a lost ACK". Because this protocol
// is window-of-one, a bounded RecvTimeout call is equivalent to an
// explicit pkg/timer-driven background loop and is simpler to reason
// about; pkg/gbn/pkg/sr/pkg/tcp need pkg/timer because they pipeline
// multiple outstanding sends behind one call.
type Sender30 struct {
	ch     channel.Channel
	dest   channel.Endpoint
	seq    uint8
	cfg    Config
	log    zeroLogger
	closed closeSignal

	// Events fires on retransmission timeouts and sequence-bit flips.
	// Subscribe before the first Send; the zero value is a silent no-op.
	Events events.Bus
}

// NewSender30 creates an rdt3.0 sender bound to ch, sending to dest.
func NewSender30(ch channel.Channel, dest channel.Endpoint, cfg Config) *Sender30 {
	return &Sender30{ch: ch, dest: dest, cfg: defaultConfig(cfg), log: rdtlog.New("rdt3.0.sender")}
}

// Send transmits payload, retransmitting on RTO expiry, corruption, or
// wrong-seq ACK, and flips the sequence bit once the matching ACK
// arrives within the timeout.
func (s *Sender30) Send(payload []byte) error {
	frame := encodeData(uint32(s.seq), payload)

	for {
		if s.closed.closed {
			return rdterr.ErrConnectionClosed
		}
		if err := s.ch.Send(frame, s.dest); err != nil {
			return err
		}

		resp, _, err := recvOrClosed(s.ch, s.cfg.RTO, &s.closed)
		if err != nil {
			if err == rdterr.ErrConnectionClosed {
				return err
			}
			s.log.Debug().Msg("RTO expired, retransmitting")
			s.Events.Emit(events.Event{Protocol: "rdt3.0", Role: "sender", Kind: events.TimerFired, Seq: uint32(s.seq), Reason: "rto-expired", Time: time.Now()})
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

		s.Events.Emit(events.Event{Protocol: "rdt3.0", Role: "sender", Kind: events.StateChanged, From: stateName(s.seq), To: stateName(flipBit(s.seq)), Time: time.Now()})
		s.seq = flipBit(s.seq)
		return nil
	}
}

// Close marks the sender closed.
func (s *Sender30) Close() error {
	s.closed.closed = true
	return s.ch.Close()
}

// Receiver30 is identical to Receiver21 (spec.md §4.5: "Receiver is
// identical to rdt2.1"). It is a distinct type so callers importing
// pkg/rdt get a symmetric NewSenderNN/NewReceiverNN API per protocol
// version rather than having to know 2.1 and 3.0 share a receiver.
type Receiver30 struct {
	inner *Receiver21
}

// NewReceiver30 creates an rdt3.0 receiver bound to ch.
func NewReceiver30(ch channel.Channel) *Receiver30 {
	return &Receiver30{inner: NewReceiver21(ch)}
}

// Recv blocks until the next new, in-order message is delivered.
func (r *Receiver30) Recv() ([]byte, error) {
	return r.inner.Recv()
}

// Close marks the receiver closed.
func (r *Receiver30) Close() error {
	return r.inner.Close()
}
