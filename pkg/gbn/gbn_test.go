package gbn

import (
	"fmt"
	"testing"
	"time"

	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{SeqBits: 3, WindowSize: 4, RTO: 20 * time.Millisecond}
}

func TestInvalidWindowRejected(t *testing.T) {
	_, err := NewSender(nil, nil, Config{SeqBits: 3, WindowSize: 8, RTO: time.Millisecond})
	assert.Error(t, err, "window size must satisfy W <= 2^k - 1")
}

func TestGBNReliableDeliveryInOrder(t *testing.T) {
	memA, memB := channel.NewMemPipe("sender", "receiver")
	defer memA.Close()
	defer memB.Close()

	cfg := testConfig()
	sender, err := NewSender(memA, memB.LocalEndpoint(), cfg)
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := NewReceiver(memB, cfg)
	require.NoError(t, err)
	defer receiver.Close()

	const n = 20
	received := make(chan []byte, n)
	go func() {
		for i := 0; i < n; i++ {
			msg, err := receiver.Recv()
			if err != nil {
				return
			}
			received <- msg
		}
	}()

	for i := 0; i < n; i++ {
		require.NoError(t, sender.Send([]byte(fmt.Sprintf("m%d", i))))
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

func TestGBNReliableUnderLossAndReorder(t *testing.T) {
	memA, memB := channel.NewMemPipe("sender", "receiver")
	defer memA.Close()
	defer memB.Close()

	simA := simulator.New(memA, simulator.Config{PLoss: 0.1, PReorder: 0.1, Seed: 11})
	simB := simulator.New(memB, simulator.Config{PLoss: 0.1, Seed: 12})

	cfg := Config{SeqBits: 4, WindowSize: 8, RTO: 30 * time.Millisecond}
	sender, err := NewSender(simA, memB.LocalEndpoint(), cfg)
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := NewReceiver(simB, cfg)
	require.NoError(t, err)
	defer receiver.Close()

	const n = 50
	received := make(chan []byte, n)
	go func() {
		for i := 0; i < n; i++ {
			msg, err := receiver.Recv()
			if err != nil {
				return
			}
			received <- msg
		}
	}()

	for i := 0; i < n; i++ {
		require.NoError(t, sender.Send([]byte(fmt.Sprintf("m%d", i))))
	}

	for i := 0; i < n; i++ {
		select {
		case msg := <-received:
			assert.Equal(t, []byte(fmt.Sprintf("m%d", i)), msg, "GBN must still deliver exactly in order under loss/reorder")
		case <-time.After(10 * time.Second):
			t.Fatalf("message %d never delivered", i)
		}
	}
}
