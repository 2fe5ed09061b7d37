package gbn

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

const timerKey = "gbn-send-window"

type sendRequest struct {
	payload []byte
	done    chan error
}

// Sender is a Go-Back-N pipelined sender (spec.md §4.6). It runs a
// background event loop that multiplexes application Send calls,
// inbound ACKs, and the single window-covering retransmission timer
// (spec.md §5), so outstanding frames never need a lock.
type Sender struct {
	ch   channel.Channel
	dest channel.Endpoint
	cfg  Config
	log  zerolog.Logger

	requests chan sendRequest
	closeCh  chan struct{}
	closed   chan struct{}

	// Events fires on window-timer expiry and base advancement.
	// Subscribe before the first Send; the zero value is a silent no-op.
	Events events.Bus
}

// NewSender creates a GBN sender bound to ch, sending to dest, and
// starts its event loop. cfg is validated against spec.md §3's window
// discipline (W <= 2^k - 1).
func NewSender(ch channel.Channel, dest channel.Endpoint, cfg Config) (*Sender, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Sender{
		ch:       ch,
		dest:     dest,
		cfg:      cfg,
		log:      rdtlog.New("gbn.sender"),
		requests: make(chan sendRequest),
		closeCh:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Send blocks until payload has been accepted into the send window
// (not until it is acknowledged); it returns WindowFull-adjacent
// blocking behavior implicitly by waiting for space rather than
// failing fast, matching a blocking socket API.
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

// pollInterval bounds how long the background receive poller blocks
// between checks of closeCh; it is not a protocol timeout.
const pollInterval = 50 * time.Millisecond

func (s *Sender) loop() {
	defer close(s.closed)

	sp := s.cfg.space()
	timers := timer.New()

	base := uint32(0)
	next := uint32(0)
	buffered := make(map[uint32][]byte)
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

	admit := func(req sendRequest) {
		seq := next
		buffered[seq] = req.payload
		if err := s.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindData, Seq: seq, Payload: req.payload}), s.dest); err != nil {
			req.done <- err
			return
		}
		if base == next {
			timers.Start(timerKey, s.cfg.RTO)
		}
		next = sp.Add(next, 1)
		req.done <- nil
	}

	retransmitWindow := func() {
		for seq := base; seq != next; seq = sp.Add(seq, 1) {
			_ = s.ch.Send(packet.Encode(packet.Packet{Kind: packet.KindData, Seq: seq, Payload: buffered[seq]}), s.dest)
		}
		if base != next {
			timers.Start(timerKey, s.cfg.RTO)
		}
	}

	admitPending := func() {
		for len(pending) > 0 && inWindow() {
			req := pending[0]
			pending = pending[1:]
			admit(req)
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
			newBase := sp.Add(pkt.Ack, 1)
			advance := sp.Sub(newBase, base)
			if advance == 0 || advance > outstanding() {
				continue // stale or bogus ACK
			}
			for seq := base; seq != newBase; seq = sp.Add(seq, 1) {
				delete(buffered, seq)
			}
			s.Events.Emit(events.Event{Protocol: "gbn", Role: "sender", Kind: events.StateChanged, From: seqnumName(base), To: seqnumName(newBase), Time: time.Now()})
			base = newBase
			if base == next {
				timers.Cancel(timerKey)
			} else {
				timers.Start(timerKey, s.cfg.RTO)
			}
			admitPending()

		case now := <-fire:
			for _, key := range timers.Expired(now) {
				if key == timerKey {
					s.log.Debug().Msg("window timer expired, retransmitting")
					s.Events.Emit(events.Event{Protocol: "gbn", Role: "sender", Kind: events.TimerFired, Seq: base, Reason: "window-timer-expired", Time: time.Now()})
					retransmitWindow()
				}
			}
		}
	}
}
