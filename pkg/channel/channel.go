// Package channel defines the unreliable datagram port abstraction that
// protocol code sends and receives through (spec.md §4.2). The raw UDP
// I/O underneath is out of scope as an external collaborator; this
// package is a thin, concrete adapter over net.PacketConn so the rest
// of the module has something to construct and the simulator
// (pkg/simulator) has something to wrap.
package channel

import (
	"net"
	"time"

	"github.com/rdtlab/rdt-go/internal/rdterr"
)

// Endpoint is any network address a Channel can send to / receive from.
type Endpoint = net.Addr

// Channel is an unreliable datagram port: Send, RecvTimeout, Close.
// RecvTimeout blocks up to timeout; a negative timeout blocks
// indefinitely, zero polls once without blocking.
type Channel interface {
	Send(payload []byte, to Endpoint) error
	RecvTimeout(timeout time.Duration) (payload []byte, from Endpoint, err error)
	LocalEndpoint() Endpoint
	Close() error
}

// UDPChannel implements Channel over a bound *net.UDPConn.
type UDPChannel struct {
	conn   *net.UDPConn
	maxLen int
}

// NewUDPChannel binds a UDP socket at local (host:port, or ":0" for an
// ephemeral port) and returns a Channel over it.
func NewUDPChannel(local string) (*UDPChannel, error) {
	addr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, rdterr.Wrapf(rdterr.ErrProtocol, "resolve local endpoint %q: %v", local, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, rdterr.Wrapf(rdterr.ErrProtocol, "bind udp socket: %v", err)
	}
	return &UDPChannel{conn: conn, maxLen: 65535}, nil
}

// Send writes payload to the given endpoint.
func (c *UDPChannel) Send(payload []byte, to Endpoint) error {
	udpAddr, ok := to.(*net.UDPAddr)
	if !ok {
		return rdterr.Wrap(rdterr.ErrProtocol, "endpoint is not a *net.UDPAddr")
	}
	_, err := c.conn.WriteToUDP(payload, udpAddr)
	return err
}

// RecvTimeout blocks for at most timeout waiting for a datagram.
// timeout < 0 blocks indefinitely; timeout == 0 polls without blocking.
func (c *UDPChannel) RecvTimeout(timeout time.Duration) ([]byte, Endpoint, error) {
	if timeout < 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	buf := make([]byte, c.maxLen)
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, nil, rdterr.ErrTimeout
		}
		return nil, nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, addr, nil
}

// LocalEndpoint returns the bound local address.
func (c *UDPChannel) LocalEndpoint() Endpoint {
	return c.conn.LocalAddr()
}

// Close releases the underlying socket.
func (c *UDPChannel) Close() error {
	return c.conn.Close()
}
