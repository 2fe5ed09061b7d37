package channel

import (
	"testing"
	"time"

	"github.com/rdtlab/rdt-go/internal/rdterr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemPipeSendRecv(t *testing.T) {
	a, b := NewMemPipe("a", "b")
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Send([]byte("hello"), nil))

	payload, from, err := b.RecvTimeout(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
	assert.Equal(t, "a", from.String())
}

func TestMemPipeRecvTimeoutWhenEmpty(t *testing.T) {
	a, b := NewMemPipe("a", "b")
	defer a.Close()
	defer b.Close()

	_, _, err := b.RecvTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, rdterr.ErrTimeout)
}

func TestMemPipePollReturnsImmediately(t *testing.T) {
	a, b := NewMemPipe("a", "b")
	defer a.Close()
	defer b.Close()

	start := time.Now()
	_, _, err := b.RecvTimeout(0)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Error(t, err)
}

func TestMemPipeCloseWakesReceiver(t *testing.T) {
	a, b := NewMemPipe("a", "b")
	defer a.Close()

	done := make(chan error, 1)
	go func() {
		_, _, err := b.RecvTimeout(-1)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, b.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked RecvTimeout")
	}
}
