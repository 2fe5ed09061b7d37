package tcp

import "time"

// outSegment is one outstanding (unacknowledged) outgoing segment.
// seq is the first sequence number it covers; for SYN/FIN it covers
// exactly one sequence number with a nil payload.
type outSegment struct {
	seq      uint32
	payload  []byte
	syn      bool
	fin      bool
	sentAt   time.Time
	retries  int
	resent   bool // true once retransmitted at least once; Karn's rule excludes its RTT sample
}

// end returns the sequence number one past the last byte this segment
// covers (its FIN/SYN each consume one sequence number, like real TCP).
func (s *outSegment) end() uint32 {
	n := uint32(len(s.payload))
	if s.syn || s.fin {
		n++
	}
	return space.Add(s.seq, n)
}
