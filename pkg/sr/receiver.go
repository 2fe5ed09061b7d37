package sr

import (
	"time"

	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
	"github.com/rs/zerolog"
)

type delivery struct {
	payload []byte
	err     error
}

// Receiver is the Selective Repeat receiver: it buffers any packet
// whose sequence number falls within [rcv_base, rcv_base+W), ACKs it
// individually regardless of order, and delivers the contiguous run
// starting at rcv_base as soon as it is complete.
type Receiver struct {
	ch  channel.Channel
	cfg Config
	log zerolog.Logger

	deliveries chan delivery
	closeCh    chan struct{}
	closed     chan struct{}

	// Events fires when a frame is dropped as corrupt. Subscribe before
	// the first Recv; the zero value is a silent no-op.
	Events events.Bus
}

// NewReceiver creates an SR receiver bound to ch and starts its
// background receive loop.
func NewReceiver(ch channel.Channel, cfg Config) (*Receiver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	r := &Receiver{
		ch:         ch,
		cfg:        cfg,
		log:        rdtlog.New("sr.receiver"),
		deliveries: make(chan delivery),
		closeCh:    make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go r.loop()
	return r, nil
}

// Recv blocks until the next message in sequence order is delivered.
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

func (r *Receiver) deliver(payload []byte) bool {
	select {
	case r.deliveries <- delivery{payload: payload}:
		return true
	case <-r.closeCh:
		return false
	}
}

func (r *Receiver) loop() {
	defer close(r.closed)

	sp := r.cfg.space()
	base := uint32(0)
	buffer := make(map[uint32][]byte)

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
			r.log.Debug().Msg("corrupted DATA, dropping silently")
			r.Events.Emit(events.Event{Protocol: "sr", Role: "receiver", Kind: events.PacketDropped, Reason: "corrupt", Time: time.Now()})
			continue
		}
		if pkt.Kind != packet.KindData {
			continue
		}

		if !sp.InWindow(pkt.Seq, base, r.cfg.WindowSize) {
			// Either a re-delivery of something already acked and slid
			// past, or a protocol violation; ACK it so a lagging sender
			// retirement still completes, but never buffer or deliver.
			if sp.Lt(pkt.Seq, base) {
				_ = r.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindACK, Ack: pkt.Seq}), from)
			}
			continue
		}

		_ = r.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindACK, Ack: pkt.Seq}), from)

		if pkt.Seq == base {
			if !r.deliver(pkt.Payload) {
				return
			}
			base = sp.Add(base, 1)
			for {
				payload, ok := buffer[base]
				if !ok {
					break
				}
				delete(buffer, base)
				if !r.deliver(payload) {
					return
				}
				base = sp.Add(base, 1)
			}
			continue
		}

		if _, exists := buffer[pkt.Seq]; !exists {
			buffer[pkt.Seq] = pkt.Payload
		}
	}
}
