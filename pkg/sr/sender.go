package sr

import (
	"time"

	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
	"github.com/rdtlab/rdt-go/pkg/timer"
	"github.com/rs/zerolog"
)

type sendRequest struct {
	payload []byte
	done    chan error
}

// Sender is a Selective Repeat pipelined sender. Each in-flight slot
// carries its own retransmission timer, keyed by its sequence number,
// so only the packets that are actually overdue are resent.
type Sender struct {
	ch   channel.Channel
	dest channel.Endpoint
	cfg  Config
	log  zerolog.Logger

	requests chan sendRequest
	closeCh  chan struct{}
	closed   chan struct{}

	// Events fires on per-slot timer expiry and base advancement.
	// Subscribe before the first Send; the zero value is a silent no-op.
	Events events.Bus
}

// NewSender creates an SR sender bound to ch, sending to dest, and
// starts its event loop.
func NewSender(ch channel.Channel, dest channel.Endpoint, cfg Config) (*Sender, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Sender{
		ch:       ch,
		dest:     dest,
		cfg:      cfg,
		log:      rdtlog.New("sr.sender"),
		requests: make(chan sendRequest),
		closeCh:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Send blocks until payload has been accepted into the send window.
func (s *Sender) Send(payload []byte) error {
	req := sendRequest{payload: payload, done: make(chan error, 1)}
	select {
	case s.requests <- req:
	case <-s.closed:
		return rdterr.ErrConnectionClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-s.closed:
		return rdterr.ErrConnectionClosed
	}
}

// Close stops the event loop and releases the underlying channel.
func (s *Sender) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
		close(s.closeCh)
		<-s.closed
	}
	return s.ch.Close()
}

func (s *Sender) loop() {
	defer close(s.closed)

	sp := s.cfg.space()
	timers := timer.New()

	base := uint32(0)
	next := uint32(0)
	payloads := make(map[uint32][]byte)
	acked := make(map[uint32]bool)
	var pending []sendRequest

	frames := make(chan []byte)
	go func() {
		for {
			frame, _, err := s.ch.RecvTimeout(pollInterval)
			select {
			case <-s.closeCh:
				return
			default:
			}
			if err != nil {
				continue
			}
			select {
			case frames <- frame:
			case <-s.closeCh:
				return
			}
		}
	}()

	outstanding := func() uint32 { return sp.Sub(next, base) }
	inWindow := func() bool { return outstanding() < s.cfg.WindowSize }

	sendSlot := func(seq uint32) {
		_ = s.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindData, Seq: seq, Payload: payloads[seq]}), s.dest)
		timers.Start(seq, s.cfg.RTO)
	}

	admit := func(req sendRequest) {
		seq := next
		payloads[seq] = req.payload
		if err := s.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindData, Seq: seq, Payload: req.payload}), s.dest); err != nil {
			req.done <- err
			return
		}
		timers.Start(seq, s.cfg.RTO)
		next = sp.Add(next, 1)
		req.done <- nil
	}

	admitPending := func() {
		for len(pending) > 0 && inWindow() {
			req := pending[0]
			pending = pending[1:]
			admit(req)
		}
	}

	slideBase := func() {
		start := base
		for base != next && acked[base] {
			delete(acked, base)
			delete(payloads, base)
			base = sp.Add(base, 1)
		}
		if base != start {
			s.Events.Emit(events.Event{Protocol: "sr", Role: "sender", Kind: events.StateChanged, From: seqnumName(start), To: seqnumName(base), Time: time.Now()})
		}
	}

	for {
		var fire <-chan time.Time
		if deadline, ok := timers.NextDeadline(); ok {
			d := time.Until(deadline)
			if d < 0 {
				d = 0
			}
			fire = time.After(d)
		}

		select {
		case <-s.closeCh:
			for _, req := range pending {
				req.done <- rdterr.ErrConnectionClosed
			}
			return

		case req := <-s.requests:
			if inWindow() {
				admit(req)
			} else {
				pending = append(pending, req)
			}

		case frame := <-frames:
			pkt, err := packet.Decode(frame)
			if err != nil || pkt.Kind != packet.KindACK {
				continue
			}
			seq := pkt.Ack
			if !sp.InWindow(seq, base, outstanding()) {
				continue // outside the outstanding range: stale or bogus
			}
			if acked[seq] {
				continue
			}
			acked[seq] = true
			timers.Cancel(seq)
			slideBase()
			admitPending()

		case now := <-fire:
			for _, key := range timers.Expired(now) {
				seq, ok := key.(uint32)
				if !ok {
					continue
				}
				if acked[seq] {
					continue
				}
				s.log.Debug().Uint32("seq", seq).Msg("slot timer expired, retransmitting")
				s.Events.Emit(events.Event{Protocol: "sr", Role: "sender", Kind: events.TimerFired, Seq: seq, Reason: "slot-timer-expired", Time: time.Now()})
				sendSlot(seq)
			}
		}
	}
}
