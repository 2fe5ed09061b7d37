package channel

import (
	"sync"
	"time"

	"github.com/rdtlab/rdt-go/internal/rdterr"
)

// memEndpoint is an Endpoint for in-memory channels, identified by name.
type memEndpoint string

func (e memEndpoint) Network() string { return "mem" }
func (e memEndpoint) String() string  { return string(e) }

type datagram struct {
	payload []byte
	from    Endpoint
}

// MemChannel is an in-process Channel backed by a buffered queue,
// useful for driving protocol FSMs without a real socket — the
// simulator (pkg/simulator) wraps exactly this kind of Channel in unit
// tests and in cmd/rdtdemo.
type MemChannel struct {
	self   memEndpoint
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []datagram
	closed bool
	peer   func(payload []byte, from Endpoint) error
}

// NewMemPipe creates two MemChannels wired to deliver to each other.
func NewMemPipe(aName, bName string) (*MemChannel, *MemChannel) {
	a := &MemChannel{self: memEndpoint(aName)}
	b := &MemChannel{self: memEndpoint(bName)}
	a.cond = sync.NewCond(&a.mu)
	b.cond = sync.NewCond(&b.mu)
	a.peer = b.deliver
	b.peer = a.deliver
	return a, b
}

func (c *MemChannel) deliver(payload []byte, from Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return rdterr.ErrConnectionClosed
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.queue = append(c.queue, datagram{payload: cp, from: from})
	c.cond.Signal()
	return nil
}

// Send delivers payload to the peer channel. The `to` endpoint is
// ignored (a MemChannel pair has exactly one peer) but accepted to
// satisfy the Channel interface.
func (c *MemChannel) Send(payload []byte, _ Endpoint) error {
	return c.peer(payload, c.self)
}

// RecvTimeout blocks up to timeout for a datagram. timeout < 0 blocks
// indefinitely; timeout == 0 polls without blocking.
func (c *MemChannel) RecvTimeout(timeout time.Duration) ([]byte, Endpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for len(c.queue) == 0 && !c.closed {
		if timeout == 0 {
			return nil, nil, rdterr.ErrTimeout
		}
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil, rdterr.ErrTimeout
			}
			timer := time.AfterFunc(remaining, c.cond.Broadcast)
			c.cond.Wait()
			timer.Stop()
			continue
		}
		c.cond.Wait()
	}
	if c.closed && len(c.queue) == 0 {
		return nil, nil, rdterr.ErrConnectionClosed
	}
	if len(c.queue) == 0 {
		return nil, nil, rdterr.ErrTimeout
	}

	d := c.queue[0]
	c.queue = c.queue[1:]
	return d.payload, d.from, nil
}

// LocalEndpoint returns this channel's identifying endpoint.
func (c *MemChannel) LocalEndpoint() Endpoint {
	return c.self
}

// Close marks the channel closed and wakes any blocked receiver.
func (c *MemChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return nil
}
