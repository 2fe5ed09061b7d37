package tcp

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/timer"
)

const handshakeTimerKey = "handshake"

// loop is the single event-loop goroutine driving this connection's
// entire lifecycle: handshake, data transfer, and teardown. initial is
// the starting state (StateClosed for an active opener, StateListen
// for a passive one); active distinguishes Dial from Accept.
func (c *Conn) loop(initial State, active bool) {
	defer close(c.closed)

	state := initial
	sndUna, sndNxt := uint32(0), uint32(0)
	rcvNxt := uint32(0)

	// sendQueue is the retransmission queue: segments sent and not yet
	// acked, ordered by sequence (spec.md §3, §9's "doubly-linked list
	// or deque keyed by sequence" note). A deque gives O(1) push at the
	// back (new sends) and pop at the front (oldest-first cumulative
	// ACK retirement) without the slice-shift a plain []*outSegment
	// needs on every ack.
	var sendQueue deque.Deque[*outSegment]
	frontSegment := func() *outSegment { return sendQueue.Front() }
	recvBuffer := make(map[uint32][]byte)
	rto := newRTOEstimator(c.cfg)
	timers := timer.New()
	var pending []writeRequest

	dupAckCount := 0
	haveLastAck := false
	var lastAckSeen uint32
	retryCount := 0

	haveSentFin := false
	var ourFinSeq uint32
	haveFin := false

	// stopPoller is independent of c.closeCh (which only fires when the
	// application calls Close): the loop can also end on its own, e.g.
	// when the handshake times out or the retransmission cap resets the
	// connection, and the poller must stop in that case too.
	stopPoller := make(chan struct{})
	defer close(stopPoller)
	frames := make(chan inboundSegment)
	c.startPoller(frames, stopPoller)

	handshakeDone := false
	finishHandshake := func(err error) {
		if !handshakeDone {
			handshakeDone = true
			c.ready <- err
		}
	}

	setState := func(to State) {
		if to == state {
			return
		}
		c.Events.Emit(events.Event{Protocol: "tcp", Role: c.role, Kind: events.StateChanged, From: state.String(), To: to.String(), Time: time.Now()})
		state = to
	}

	outstanding := func() uint32 { return space.Sub(sndNxt, sndUna) }
	windowHasRoom := func(n uint32) bool { return outstanding()+n <= c.cfg.WindowSize }

	enqueueData := func(payload []byte) {
		seg := &outSegment{seq: sndNxt, payload: payload, sentAt: time.Now()}
		sendQueue.PushBack(seg)
		_ = c.send(packet.KindData, seg.seq, rcvNxt, payload)
		sndNxt = space.Add(sndNxt, uint32(len(payload)))
		if sendQueue.Len() == 1 {
			timers.Start(rtoTimerKey, rto.rto)
		}
	}

	admitPending := func() {
		for len(pending) > 0 && windowHasRoom(uint32(len(pending[0].payload))) {
			req := pending[0]
			pending = pending[1:]
			enqueueData(req.payload)
			req.done <- nil
		}
	}

	abortAllPending := func(err error) {
		for _, req := range pending {
			req.done <- err
		}
		pending = nil
	}

	retransmitOldest := func() bool {
		if sendQueue.Len() == 0 {
			return true
		}
		seg := frontSegment()
		seg.retries++
		seg.resent = true
		if seg.retries > c.cfg.MaxRetries {
			return false
		}
		kind := packet.KindData
		if seg.syn {
			kind = packet.KindSYN
		} else if seg.fin {
			kind = packet.KindFIN
		}
		_ = c.send(kind, seg.seq, rcvNxt, seg.payload)
		seg.sentAt = time.Now()
		rto.backoff()
		timers.Start(rtoTimerKey, rto.rto)
		return true
	}

	// ackSegments retires every fully-covered outstanding segment given
	// a cumulative ack value (the next byte the peer expects).
	ackSegments := func(ack uint32) {
		advanced := false
		for sendQueue.Len() > 0 && space.Le(frontSegment().end(), ack) {
			seg := frontSegment()
			if !seg.resent {
				rto.sample(time.Since(seg.sentAt))
			}
			sendQueue.PopFront()
			sndUna = seg.end()
			advanced = true
		}
		if advanced {
			retryCount = 0
			if sendQueue.Len() == 0 {
				timers.Cancel(rtoTimerKey)
			} else {
				timers.Start(rtoTimerKey, rto.rto)
			}
			admitPending()
		}
	}

	handleAck := func(ack uint32) {
		if haveLastAck && ack == lastAckSeen {
			dupAckCount++
			if dupAckCount == c.cfg.DupAckThreshold {
				c.Events.Emit(events.Event{Protocol: "tcp", Role: c.role, Kind: events.TimerFired, Seq: ack, Reason: "fast-retransmit", Time: time.Now()})
				retransmitOldest()
				dupAckCount = 0
			}
		} else {
			dupAckCount = 0
		}
		lastAckSeen = ack
		haveLastAck = true
		ackSegments(ack)
	}

	deliverContiguous := func(seq uint32, payload []byte) {
		if seq == rcvNxt {
			if len(payload) > 0 {
				select {
				case c.reads <- readResult{payload: payload}:
				case <-c.closeCh:
				}
			}
			rcvNxt = space.Add(rcvNxt, uint32(len(payload)))
			for {
				buf, ok := recvBuffer[rcvNxt]
				if !ok {
					break
				}
				delete(recvBuffer, rcvNxt)
				select {
				case c.reads <- readResult{payload: buf}:
				case <-c.closeCh:
					return
				}
				rcvNxt = space.Add(rcvNxt, uint32(len(buf)))
			}
		} else if space.Lt(rcvNxt, seq) {
			recvBuffer[seq] = payload
		}
	}

	sendOwnFin := func() {
		seg := &outSegment{seq: sndNxt, fin: true, sentAt: time.Now()}
		sendQueue.PushBack(seg)
		ourFinSeq = seg.seq
		haveSentFin = true
		sndNxt = space.Add(sndNxt, 1)
		timers.Start(rtoTimerKey, rto.rto)
	}

	if active {
		seg := &outSegment{seq: sndNxt, syn: true, sentAt: time.Now()}
		sendQueue.PushBack(seg)
		_ = c.send(packet.KindSYN, seg.seq, 0, nil)
		sndNxt = space.Add(sndNxt, 1)
		setState(StateSynSent)
		timers.Start(handshakeTimerKey, rto.rto)
	}

	closeSignal := c.closeCh

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
		case <-closeSignal:
			closeSignal = nil // already requested; stop re-selecting a closed channel
			switch state {
			case StateEstablished:
				_ = c.send(packet.KindFIN, sndNxt, rcvNxt, nil)
				sendOwnFin()
				setState(StateFinWait1)
				abortAllPending(rdterr.ErrConnectionClosed)
			case StateCloseWait:
				_ = c.send(packet.KindFIN, sndNxt, rcvNxt, nil)
				sendOwnFin()
				setState(StateLastAck)
				abortAllPending(rdterr.ErrConnectionClosed)
			default:
				abortAllPending(rdterr.ErrConnectionClosed)
				return
			}

		case req := <-c.requests:
			if state != StateEstablished && state != StateCloseWait {
				req.done <- rdterr.ErrConnectionClosed
				continue
			}
			if windowHasRoom(uint32(len(req.payload))) {
				enqueueData(req.payload)
				req.done <- nil
			} else {
				pending = append(pending, req)
			}

		case in := <-frames:
			pkt, err := packet.Decode(in.frame)
			if err != nil {
				c.log.Debug().Msg("corrupted segment, discarding")
				c.Events.Emit(events.Event{Protocol: "tcp", Role: c.role, Kind: events.PacketDropped, Reason: "corrupt", Time: time.Now()})
				continue
			}

			switch state {
			case StateSynSent:
				if pkt.Kind == packet.KindSYNACK {
					sendQueue.Clear()
					rcvNxt = space.Add(pkt.Seq, 1)
					sndUna = sndNxt
					timers.Cancel(handshakeTimerKey)
					_ = c.send(packet.KindACK, sndNxt, rcvNxt, nil)
					setState(StateEstablished)
					retryCount = 0
					finishHandshake(nil)
				}

			case StateListen:
				if pkt.Kind == packet.KindSYN {
					c.remote = in.from
					rcvNxt = space.Add(pkt.Seq, 1)
					seg := &outSegment{seq: sndNxt, syn: true, sentAt: time.Now()}
					sendQueue.PushBack(seg)
					_ = c.send(packet.KindSYNACK, sndNxt, rcvNxt, nil)
					sndNxt = space.Add(sndNxt, 1)
					setState(StateSynReceived)
					timers.Start(handshakeTimerKey, rto.rto)
				}

			case StateSynReceived:
				if pkt.Kind == packet.KindACK && pkt.Ack == sndNxt {
					sendQueue.Clear()
					sndUna = sndNxt
					timers.Cancel(handshakeTimerKey)
					setState(StateEstablished)
					retryCount = 0
					finishHandshake(nil)
				}

			case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
				switch pkt.Kind {
				case packet.KindACK, packet.KindData, packet.KindFIN, packet.KindFINACK:
					handleAck(pkt.Ack)
				}
				if state == StateFinWait1 && haveSentFin && space.Le(space.Add(ourFinSeq, 1), sndUna) {
					setState(StateFinWait2)
				}
				if pkt.Kind == packet.KindData {
					deliverContiguous(pkt.Seq, pkt.Payload)
					_ = c.send(packet.KindACK, sndNxt, rcvNxt, nil)
				}
				if pkt.Kind == packet.KindFIN || pkt.Kind == packet.KindFINACK {
					if !haveFin {
						haveFin = true
						rcvNxt = space.Add(pkt.Seq, 1)
						switch state {
						case StateEstablished:
							// spec.md §4.8 passive close: ACK the peer's FIN
							// and enter CLOSE_WAIT without sending our own
							// FIN yet — that only happens once the local
							// application actually calls Close.
							_ = c.send(packet.KindACK, sndNxt, rcvNxt, nil)
							setState(StateCloseWait)
						case StateFinWait1, StateFinWait2:
							_ = c.send(packet.KindACK, sndNxt, rcvNxt, nil)
							setState(StateTimeWait)
							timers.Cancel(rtoTimerKey)
							timers.Start(timeWaitTimerKey, 2*c.cfg.MSL)
						}
					} else if state == StateCloseWait {
						// peer retransmitted FIN because our ACK was lost.
						_ = c.send(packet.KindACK, sndNxt, rcvNxt, nil)
					}
				}

			case StateLastAck:
				if pkt.Kind == packet.KindACK && haveSentFin && pkt.Ack == space.Add(ourFinSeq, 1) {
					return
				}
			}

		case now := <-fire:
			for _, key := range timers.Expired(now) {
				switch key {
				case handshakeTimerKey:
					retryCount++
					if retryCount > c.cfg.MaxRetries {
						finishHandshake(rdterr.ErrTimeout)
						return
					}
					rto.backoff()
					switch state {
					case StateSynSent:
						_ = c.send(packet.KindSYN, frontSegment().seq, 0, nil)
						timers.Start(handshakeTimerKey, rto.rto)
					case StateSynReceived:
						_ = c.send(packet.KindSYNACK, frontSegment().seq, rcvNxt, nil)
						timers.Start(handshakeTimerKey, rto.rto)
					}
				case rtoTimerKey:
					retryCount++
					if retryCount > c.cfg.MaxRetries || !retransmitOldest() {
						finishHandshake(rdterr.ErrConnectionReset)
						abortAllPending(rdterr.ErrConnectionReset)
						return
					}
				case timeWaitTimerKey:
					return
				}
			}
		}
	}
}
