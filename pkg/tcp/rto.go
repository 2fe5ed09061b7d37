package tcp

import "time"

// rtoEstimator implements Karn's rule on top of the classic SRTT/RTTVAR
// smoothing (alpha=1/8, beta=1/4), grounded on fess932-tcpconn's
// updateRTO: a retransmitted segment's RTT sample is never used to
// update the estimate, since it is ambiguous which transmission the
// ACK actually corresponds to.
type rtoEstimator struct {
	srtt   time.Duration
	rttvar time.Duration
	rto    time.Duration
	cfg    Config
}

func newRTOEstimator(cfg Config) *rtoEstimator {
	return &rtoEstimator{rto: cfg.InitialRTO, cfg: cfg}
}

// sample feeds a new RTT measurement into the estimator. Callers must
// not call this for a segment that was ever retransmitted (Karn's
// rule); see outSegment.resent.
func (e *rtoEstimator) sample(rtt time.Duration) {
	const alpha = 0.125
	const beta = 0.25

	if e.srtt == 0 {
		e.srtt = rtt
		e.rttvar = rtt / 2
	} else {
		diff := e.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = time.Duration(float64(e.rttvar)*(1-beta) + float64(diff)*beta)
		e.srtt = time.Duration(float64(e.srtt)*(1-alpha) + float64(rtt)*alpha)
	}

	e.rto = e.srtt + 4*e.rttvar
	e.clamp()
}

// backoff doubles the current RTO after a retransmission timeout,
// per RFC 6298 §5.5's exponential backoff.
func (e *rtoEstimator) backoff() {
	e.rto *= 2
	e.clamp()
}

func (e *rtoEstimator) clamp() {
	if e.rto < e.cfg.MinRTO {
		e.rto = e.cfg.MinRTO
	}
	if e.rto > e.cfg.MaxRTO {
		e.rto = e.cfg.MaxRTO
	}
}
