package gbn

import (
	"time"

	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
	"github.com/rs/zerolog"
)

// Receiver is the Go-Back-N in-order receiver (spec.md §4.6): it
// delivers DATA matching its expected seq and advances; any other seq
// (out-of-order or a retransmitted duplicate) is discarded and the
// last successfully received seq is re-ACKed, never buffered.
type Receiver struct {
	ch  channel.Channel
	cfg Config
	log zerolog.Logger

	deliveries chan delivery
	closeCh    chan struct{}
	closed     chan struct{}

	// Events fires when a frame is discarded as corrupt or out-of-order.
	// Subscribe before the first Recv; the zero value is a silent no-op.
	Events events.Bus
}

type delivery struct {
	payload []byte
	err     error
}

// NewReceiver creates a GBN receiver bound to ch and starts its
// background receive loop.
func NewReceiver(ch channel.Channel, cfg Config) (*Receiver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Receiver{
		ch:         ch,
		cfg:        cfg,
		log:        rdtlog.New("gbn.receiver"),
		deliveries: make(chan delivery),
		closeCh:    make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Recv blocks until the next new, in-order message is delivered.
func (r *Receiver) Recv() ([]byte, error) {
	select {
	case d := <-r.deliveries:
		return d.payload, d.err
	case <-r.closed:
		return nil, rdterr.ErrConnectionClosed
	}
}

// Close stops the receive loop and releases the underlying channel.
func (r *Receiver) Close() error {
	select {
	case <-r.closed:
		return nil
	default:
		close(r.closeCh)
		<-r.closed
	}
	return r.ch.Close()
}

func (r *Receiver) loop() {
	defer close(r.closed)

	sp := r.cfg.space()
	expected := uint32(0)
	lastAcked := sp.Sub(expected, 1) // -1 mod 2^k: "nothing received yet"

	for {
		select {
		case <-r.closeCh:
			return
		default:
		}

		frame, from, err := r.ch.RecvTimeout(pollInterval)
		if err != nil {
			continue
		}

		pkt, err := packet.Decode(frame)
		if err != nil {
			r.log.Debug().Msg("corrupted DATA, re-ACKing last in-order seq")
			r.Events.Emit(events.Event{Protocol: "gbn", Role: "receiver", Kind: events.PacketDropped, Reason: "corrupt", Time: time.Now()})
			_ = r.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindACK, Ack: lastAcked}), from)
			continue
		}
		if pkt.Kind != packet.KindData {
			continue
		}

		if pkt.Seq != expected {
			r.log.Debug().Uint32("seq", pkt.Seq).Uint32("expected", expected).Msg("out-of-order DATA, discarding")
			r.Events.Emit(events.Event{Protocol: "gbn", Role: "receiver", Kind: events.PacketDropped, Seq: pkt.Seq, Reason: "out-of-order", Time: time.Now()})
			_ = r.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindACK, Ack: lastAcked}), from)
			continue
		}

		_ = r.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindACK, Ack: expected}), from)
		lastAcked = expected
		expected = sp.Add(expected, 1)

		select {
		case r.deliveries <- delivery{payload: pkt.Payload}:
		case <-r.closeCh:
			return
		}
	}
}
