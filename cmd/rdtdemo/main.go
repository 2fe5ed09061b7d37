// Command rdtdemo is a minimal CLI front end over the protocol core
// (spec.md §6: the CLI surface is an external collaborator, delegated
// and kept intentionally thin). It wires one protocol family from
// pkg/rdt, pkg/gbn, pkg/sr, or pkg/tcp over an in-memory channel pair
// wrapped in pkg/simulator, sends a run of numbered messages end to
// end, and reports how many were delivered and in what order.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/gbn"
	"github.com/rdtlab/rdt-go/pkg/rdt"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
	"github.com/rdtlab/rdt-go/pkg/simulator"
	"github.com/rdtlab/rdt-go/pkg/sr"
	"github.com/rdtlab/rdt-go/pkg/tcp"
	"github.com/rs/zerolog"
)

// logTransition is a core/events.Handler that echoes every FSM
// transition event through rdtlog at debug level, letting -verbose
// show transitions independently of each protocol's own log calls.
func logTransition(e events.Event) {
	rdtlog.New("events").Debug().
		Str("protocol", e.Protocol).Str("role", e.Role).
		Str("from", e.From).Str("to", e.To).Str("reason", e.Reason).
		Uint32("seq", e.Seq).Msg("transition")
}

const version = "0.1.0"

func main() {
	var (
		protocol   = flag.String("protocol", "rdt3.0", "rdt2.0 | rdt2.1 | rdt3.0 | gbn | sr | tcp")
		n          = flag.Int("n", 20, "number of messages to transfer")
		window     = flag.Uint("window", 4, "sender window size (gbn/sr/tcp)")
		seqBits    = flag.Uint("seqbits", 4, "sequence number bits (gbn/sr)")
		rto        = flag.Duration("rto", 50*time.Millisecond, "retransmission timeout")
		pLoss      = flag.Float64("ploss", 0.1, "probability a frame is dropped")
		pCorrupt   = flag.Float64("pcorrupt", 0.0, "probability a frame is corrupted")
		pDuplicate = flag.Float64("pduplicate", 0.0, "probability a frame is duplicated")
		pReorder   = flag.Float64("preorder", 0.0, "probability a frame is reordered")
		seed       = flag.Int64("seed", 1, "simulator RNG seed")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		rdtlog.SetLevel(zerolog.DebugLevel)
	} else {
		rdtlog.SetLevel(zerolog.InfoLevel)
	}

	rdtlog.Banner("rdt-go demo", version)
	rdtlog.Section(fmt.Sprintf("protocol=%s n=%d window=%d", *protocol, *n, *window))

	simCfg := simulator.Config{
		PLoss:      *pLoss,
		PCorrupt:   *pCorrupt,
		PDuplicate: *pDuplicate,
		PReorder:   *pReorder,
		Seed:       *seed,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "interrupted, aborting run")
			os.Exit(130)
		case <-done:
		}
	}()
	defer close(done)

	delivered, err := run(*protocol, *n, uint32(*window), *seqBits, *rto, simCfg, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}

	rdtlog.Section(fmt.Sprintf("delivered %d/%d messages in order", delivered, *n))
}

// run wires the requested protocol family over a simulated in-memory
// channel pair, sends n numbered messages from the "sender" side, and
// returns how many of them the "receiver" side got, in order.
func run(protocol string, n int, window uint32, seqBits uint, rto time.Duration, simCfg simulator.Config, verbose bool) (int, error) {
	memA, memB := channel.NewMemPipe("sender", "receiver")
	defer memA.Close()
	defer memB.Close()

	simA := simulator.New(memA, simCfg)
	simCfgB := simCfg
	simCfgB.Seed = simCfg.Seed + 1
	simB := simulator.New(memB, simCfgB)

	switch protocol {
	case "rdt2.0":
		return runRDT(rdt.NewSender20(simA, memB.LocalEndpoint()), rdt.NewReceiver20(simB), n)
	case "rdt2.1":
		return runRDT(rdt.NewSender21(simA, memB.LocalEndpoint()), rdt.NewReceiver21(simB), n)
	case "rdt3.0":
		sender := rdt.NewSender30(simA, memB.LocalEndpoint(), rdt.Config{RTO: rto})
		if verbose {
			sender.Events.Subscribe(logTransition)
		}
		return runRDT(sender, rdt.NewReceiver30(simB), n)
	case "gbn":
		return runGBN(simA, memB, simB, gbn.Config{SeqBits: seqBits, WindowSize: window, RTO: rto}, n, verbose)
	case "sr":
		return runSR(simA, memB, simB, sr.Config{SeqBits: seqBits, WindowSize: window, RTO: rto}, n, verbose)
	case "tcp":
		return runTCP(simA, simB, tcp.Config{WindowSize: window * 1024, InitialRTO: rto}, n, verbose)
	default:
		return 0, fmt.Errorf("unknown protocol %q", protocol)
	}
}

type rdtSender interface {
	Send(payload []byte) error
	Close() error
}

type rdtReceiver interface {
	Recv() ([]byte, error)
	Close() error
}

func runRDT(sender rdtSender, receiver rdtReceiver, n int) (int, error) {
	defer sender.Close()
	defer receiver.Close()
	return pump(n,
		func(i int) error { return sender.Send([]byte(fmt.Sprintf("m%d", i))) },
		receiver.Recv,
	)
}

func runGBN(simA channel.Channel, memB *channel.MemChannel, simB channel.Channel, cfg gbn.Config, n int, verbose bool) (int, error) {
	sender, err := gbn.NewSender(simA, memB.LocalEndpoint(), cfg)
	if err != nil {
		return 0, err
	}
	receiver, err := gbn.NewReceiver(simB, cfg)
	if err != nil {
		return 0, err
	}
	if verbose {
		sender.Events.Subscribe(logTransition)
		receiver.Events.Subscribe(logTransition)
	}
	defer sender.Close()
	defer receiver.Close()
	return pump(n,
		func(i int) error { return sender.Send([]byte(fmt.Sprintf("m%d", i))) },
		receiver.Recv,
	)
}

func runSR(simA channel.Channel, memB *channel.MemChannel, simB channel.Channel, cfg sr.Config, n int, verbose bool) (int, error) {
	sender, err := sr.NewSender(simA, memB.LocalEndpoint(), cfg)
	if err != nil {
		return 0, err
	}
	receiver, err := sr.NewReceiver(simB, cfg)
	if err != nil {
		return 0, err
	}
	if verbose {
		sender.Events.Subscribe(logTransition)
		receiver.Events.Subscribe(logTransition)
	}
	defer sender.Close()
	defer receiver.Close()
	return pump(n,
		func(i int) error { return sender.Send([]byte(fmt.Sprintf("m%d", i))) },
		receiver.Recv,
	)
}

func runTCP(simA, simB channel.Channel, cfg tcp.Config, n int, verbose bool) (int, error) {
	accepted := make(chan *tcp.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		server, err := tcp.Accept(simB, cfg)
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- server
	}()

	client, err := tcp.Dial(simA, simB.LocalEndpoint(), cfg)
	if err != nil {
		return 0, err
	}
	defer client.Close()
	if verbose {
		client.Events.Subscribe(logTransition)
	}

	var server *tcp.Conn
	select {
	case server = <-accepted:
	case err := <-acceptErr:
		return 0, err
	}
	// The passive closer stays in CLOSE_WAIT until its own Close, so the
	// server is closed concurrently with the client's deferred Close.
	defer func() { go server.Close() }()
	if verbose {
		server.Events.Subscribe(logTransition)
	}

	delivered := 0
	for i := 0; i < n; i++ {
		msg := []byte(fmt.Sprintf("m%d", i))
		if err := client.Write(msg); err != nil {
			return delivered, err
		}
		got, err := server.Read()
		if err != nil {
			return delivered, nil
		}
		if string(got) != string(msg) {
			return delivered, fmt.Errorf("out-of-order delivery: want %q got %q", msg, got)
		}
		delivered++
	}
	return delivered, nil
}

// pump feeds n numbered sends through send and reads them back through
// recv, stopping at the first error from either side. It returns how
// many messages were confirmed delivered, in order.
func pump(n int, send func(int) error, recv func() ([]byte, error)) (int, error) {
	type result struct {
		i   int
		err error
	}
	sendErrs := make(chan result, 1)
	go func() {
		for i := 0; i < n; i++ {
			if err := send(i); err != nil {
				sendErrs <- result{i, err}
				return
			}
		}
	}()

	type received struct {
		payload []byte
		err     error
	}
	recvs := make(chan received, n)
	go func() {
		for i := 0; i < n; i++ {
			got, err := recv()
			recvs <- received{got, err}
			if err != nil {
				return
			}
		}
	}()

	delivered := 0
	for i := 0; i < n; i++ {
		var r received
		select {
		case s := <-sendErrs:
			return delivered, fmt.Errorf("send m%d: %w", s.i, s.err)
		case r = <-recvs:
		}
		if r.err != nil {
			return delivered, nil
		}
		want := fmt.Sprintf("m%d", i)
		if string(r.payload) != want {
			return delivered, fmt.Errorf("out-of-order delivery: want %q got %q", want, r.payload)
		}
		delivered++
	}
	return delivered, nil
}
