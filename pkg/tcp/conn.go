package tcp

import (
	"github.com/google/uuid"
	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/packet"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
	"github.com/rs/zerolog"
)

type writeRequest struct {
	payload []byte
	done    chan error
}

type readResult struct {
	payload []byte
	err     error
}

// Conn is one simplified-TCP connection (spec.md §4.8): full-duplex,
// driven by a single background event loop per spec.md §5 so the
// handshake, data transfer, and teardown states never need a lock.
// Passive close supports half-close: observing the peer's FIN moves
// the connection to CLOSE_WAIT, where the local application may still
// Write; only a subsequent local Close sends the local FIN and moves
// on to LAST_ACK.
type Conn struct {
	ch     channel.Channel
	remote channel.Endpoint
	cfg    Config
	log    zerolog.Logger
	id     uuid.UUID
	role   string

	// Events fires on every connection-state transition. Subscribe
	// immediately after Dial/Accept returns; the zero value is a
	// silent no-op.
	Events events.Bus

	requests chan writeRequest
	reads    chan readResult
	closeCh  chan struct{}
	closed   chan struct{}

	ready chan error // signals handshake completion to Dial/Accept
}

func newConn(ch channel.Channel, remote channel.Endpoint, cfg Config, role string) *Conn {
	return &Conn{
		ch:       ch,
		remote:   remote,
		cfg:      defaultConfig(cfg),
		log:      rdtlog.New("tcp." + role),
		id:       uuid.New(),
		role:     role,
		requests: make(chan writeRequest),
		reads:    make(chan readResult),
		closeCh:  make(chan struct{}),
		closed:   make(chan struct{}),
		ready:    make(chan error, 1),
	}
}

// Dial performs the active open: send SYN, wait for SYN+ACK, send ACK.
// It blocks until the connection is ESTABLISHED or the handshake
// definitively fails.
func Dial(ch channel.Channel, remote channel.Endpoint, cfg Config) (*Conn, error) {
	c := newConn(ch, remote, cfg, "client")
	go c.loop(StateClosed, true)
	if err := <-c.ready; err != nil {
		return nil, err
	}
	return c, nil
}

// Accept performs the passive open: wait for a SYN on ch, reply with
// SYN+ACK, wait for the final ACK. The caller is responsible for
// demultiplexing datagrams from distinct remotes onto distinct
// channels (e.g. one ch per client); that demultiplexing is outside
// this package's scope (spec.md §4.8 Non-goals: no listening socket).
func Accept(ch channel.Channel, cfg Config) (*Conn, error) {
	c := newConn(ch, nil, cfg, "server")
	go c.loop(StateListen, false)
	if err := <-c.ready; err != nil {
		return nil, err
	}
	return c, nil
}

// Write blocks until payload is accepted into the send window.
func (c *Conn) Write(payload []byte) error {
	req := writeRequest{payload: payload, done: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.closed:
		return rdterr.ErrConnectionClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-c.closed:
		return rdterr.ErrConnectionClosed
	}
}

// Read blocks until the next in-order chunk of application data is
// available.
func (c *Conn) Read() ([]byte, error) {
	select {
	case r := <-c.reads:
		return r.payload, r.err
	case <-c.closed:
		return nil, rdterr.ErrConnectionClosed
	}
}

// Close initiates the graceful teardown sequence and blocks until the
// connection reaches CLOSED (i.e. until TIME_WAIT, if entered, elapses
// for the active closer).
func (c *Conn) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	close(c.closeCh)
	<-c.closed
	return c.ch.Close()
}

type inboundSegment struct {
	frame []byte
	from  channel.Endpoint
}

func (c *Conn) startPoller(frames chan<- inboundSegment, stop <-chan struct{}) {
	go func() {
		for {
			frame, from, err := c.ch.RecvTimeout(pollInterval)
			select {
			case <-stop:
				return
			default:
			}
			if err != nil {
				continue
			}
			select {
			case frames <- inboundSegment{frame: frame, from: from}:
			case <-stop:
				return
			}
		}
	}()
}

func (c *Conn) send(kind packet.Kind, seq, ack uint32, payload []byte) error {
	return c.ch.Send(packet.Encode(packet.Packet{Kind: kind, Seq: seq, Ack: ack, Payload: payload}), c.remote)
}
