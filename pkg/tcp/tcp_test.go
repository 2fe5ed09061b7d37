package tcp

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rdtlab/rdt-go/core/events"
	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		WindowSize:      4096,
		InitialRTO:      30 * time.Millisecond,
		MinRTO:          10 * time.Millisecond,
		MaxRTO:          200 * time.Millisecond,
		MaxRetries:      20,
		MSL:             50 * time.Millisecond,
		DupAckThreshold: 3,
	}
}

func dialAndAccept(t *testing.T, clientCh, serverCh channel.Channel, cfg Config) (*Conn, *Conn) {
	t.Helper()
	type result struct {
		conn *Conn
		err  error
	}
	clientRes := make(chan result, 1)
	serverRes := make(chan result, 1)

	go func() {
		srv, err := Accept(serverCh, cfg)
		serverRes <- result{srv, err}
	}()
	go func() {
		cli, err := Dial(clientCh, serverCh.LocalEndpoint(), cfg)
		clientRes <- result{cli, err}
	}()

	var client, server *Conn
	for i := 0; i < 2; i++ {
		select {
		case r := <-clientRes:
			require.NoError(t, r.err)
			client = r.conn
		case r := <-serverRes:
			require.NoError(t, r.err)
			server = r.conn
		case <-time.After(2 * time.Second):
			t.Fatal("handshake did not complete")
		}
	}
	return client, server
}

// closeBoth closes both ends at once. The passive closer stays in
// CLOSE_WAIT until its own Close, so closing one end and waiting for it
// before closing the other never finishes.
func closeBoth(client, server *Conn) {
	done := make(chan struct{})
	go func() {
		_ = client.Close()
		close(done)
	}()
	_ = server.Close()
	<-done
}

func TestHandshakeEstablishesConnection(t *testing.T) {
	memA, memB := channel.NewMemPipe("client", "server")
	defer memA.Close()
	defer memB.Close()

	client, server := dialAndAccept(t, memA, memB, testConfig())
	defer closeBoth(client, server)
}

func TestWriteReadDeliversInOrder(t *testing.T) {
	memA, memB := channel.NewMemPipe("client", "server")
	defer memA.Close()
	defer memB.Close()

	client, server := dialAndAccept(t, memA, memB, testConfig())
	defer closeBoth(client, server)

	const n = 20
	received := make(chan []byte, n)
	go func() {
		for i := 0; i < n; i++ {
			msg, err := server.Read()
			if err != nil {
				return
			}
			received <- msg
		}
	}()

	for i := 0; i < n; i++ {
		require.NoError(t, client.Write([]byte(fmt.Sprintf("m%d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-received:
			assert.Equal(t, []byte(fmt.Sprintf("m%d", i)), msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never delivered", i)
		}
	}
}

func TestReliableUnderLoss(t *testing.T) {
	memA, memB := channel.NewMemPipe("client", "server")
	defer memA.Close()
	defer memB.Close()

	simA := simulator.New(memA, simulator.Config{PLoss: 0.1, Seed: 31})
	simB := simulator.New(memB, simulator.Config{PLoss: 0.1, Seed: 32})

	client, server := dialAndAccept(t, simA, simB, testConfig())
	defer closeBoth(client, server)

	const n = 40
	received := make(chan []byte, n)
	go func() {
		for i := 0; i < n; i++ {
			msg, err := server.Read()
			if err != nil {
				return
			}
			received <- msg
		}
	}()

	for i := 0; i < n; i++ {
		require.NoError(t, client.Write([]byte(fmt.Sprintf("m%d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-received:
			assert.Equal(t, []byte(fmt.Sprintf("m%d", i)), msg, "data must survive loss and arrive in order")
		case <-time.After(10 * time.Second):
			t.Fatalf("message %d never delivered", i)
		}
	}
}

func TestGracefulTeardown(t *testing.T) {
	memA, memB := channel.NewMemPipe("client", "server")
	defer memA.Close()
	defer memB.Close()

	client, server := dialAndAccept(t, memA, memB, testConfig())

	go func() {
		_, _ = server.Read()
	}()

	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close() }()
	// The server is the passive side: it leaves CLOSE_WAIT only when its
	// own Close sends its FIN, and only then can the client finish.
	go func() { _ = server.Close() }()

	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client close did not complete")
	}

	_, err := server.Read()
	assert.ErrorIs(t, err, rdterr.ErrConnectionClosed)
	_ = server.Close()
}

// TestPassiveCloseEntersCloseWait exercises spec.md §4.8's passive-close
// path and §8 scenario 6: the passive side (server) must pass through
// CLOSE_WAIT before LAST_ACK, and must not send its own FIN until the
// application explicitly calls Close. Between observing the peer's FIN
// and calling Close, the server is still allowed to Write (half-close).
func TestPassiveCloseEntersCloseWait(t *testing.T) {
	memA, memB := channel.NewMemPipe("client", "server")
	defer memA.Close()
	defer memB.Close()

	client, server := dialAndAccept(t, memA, memB, testConfig())

	var mu sync.Mutex
	var serverStates []string
	server.Events.Subscribe(func(e events.Event) {
		if e.Kind != events.StateChanged {
			return
		}
		mu.Lock()
		serverStates = append(serverStates, e.To)
		mu.Unlock()
	})

	clientCloseDone := make(chan error, 1)
	go func() { clientCloseDone <- client.Close() }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(serverStates) > 0 && serverStates[len(serverStates)-1] == "CLOSE_WAIT"
	}, 2*time.Second, 10*time.Millisecond, "server must enter CLOSE_WAIT on the peer's FIN")

	// Half-close: the server application can still write after seeing
	// the peer's FIN and before it has called Close itself.
	require.NoError(t, server.Write([]byte("still here")))
	msg, err := client.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), msg)

	require.NoError(t, server.Close())

	mu.Lock()
	states := append([]string(nil), serverStates...)
	mu.Unlock()

	closeWaitIdx, lastAckIdx := -1, -1
	for i, s := range states {
		if s == "CLOSE_WAIT" && closeWaitIdx == -1 {
			closeWaitIdx = i
		}
		if s == "LAST_ACK" {
			lastAckIdx = i
		}
	}
	require.NotEqual(t, -1, closeWaitIdx, "server never entered CLOSE_WAIT")
	require.NotEqual(t, -1, lastAckIdx, "server never entered LAST_ACK")
	assert.Less(t, closeWaitIdx, lastAckIdx, "CLOSE_WAIT must precede LAST_ACK")

	select {
	case err := <-clientCloseDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client close did not complete")
	}
}
