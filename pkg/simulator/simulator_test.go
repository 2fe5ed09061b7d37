package simulator

import (
	"testing"
	"time"

	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoFaultsDeliversUnmodified(t *testing.T) {
	a, b := channel.NewMemPipe("a", "b")
	defer a.Close()
	defer b.Close()

	sim := New(a, Config{Seed: 1})
	require.NoError(t, sim.Send([]byte("hello"), nil))

	payload, _, err := b.RecvTimeout(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
}

func TestAlwaysLossDropsEverything(t *testing.T) {
	a, b := channel.NewMemPipe("a", "b")
	defer a.Close()
	defer b.Close()

	sim := New(a, Config{PLoss: 1.0, Seed: 2})
	require.NoError(t, sim.Send([]byte("x"), nil))

	_, _, err := b.RecvTimeout(30 * time.Millisecond)
	assert.Error(t, err, "frame should have been dropped")
}

func TestAlwaysDuplicateDeliversTwice(t *testing.T) {
	a, b := channel.NewMemPipe("a", "b")
	defer a.Close()
	defer b.Close()

	sim := New(a, Config{PDuplicate: 1.0, Seed: 3})
	require.NoError(t, sim.Send([]byte("x"), nil))

	_, _, err := b.RecvTimeout(time.Second)
	require.NoError(t, err)
	_, _, err = b.RecvTimeout(time.Second)
	require.NoError(t, err, "duplicate frame should also arrive")
}

func TestAlwaysCorruptFlipsABit(t *testing.T) {
	a, b := channel.NewMemPipe("a", "b")
	defer a.Close()
	defer b.Close()

	sim := New(a, Config{PCorrupt: 1.0, Seed: 4})
	original := []byte{0x00, 0x00, 0x00, 0x00}
	require.NoError(t, sim.Send(original, nil))

	payload, _, err := b.RecvTimeout(time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, original, payload)
}

func TestReproducibleWithSameSeed(t *testing.T) {
	run := func(seed int64) []bool {
		a, b := channel.NewMemPipe("a", "b")
		defer a.Close()
		defer b.Close()
		sim := New(a, Config{PLoss: 0.5, Seed: seed})

		var delivered []bool
		for i := 0; i < 20; i++ {
			require.NoError(t, sim.Send([]byte{byte(i)}, nil))
			_, _, err := b.RecvTimeout(10 * time.Millisecond)
			delivered = append(delivered, err == nil)
		}
		return delivered
	}

	assert.Equal(t, run(42), run(42))
}
