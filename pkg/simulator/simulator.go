// Package simulator wraps a channel.Channel and injects loss,
// corruption, duplication, reordering, and delay with a seeded RNG
// (spec.md §4.2). It preserves the Channel interface so protocol code
// under test is unaware it is talking to a simulated link rather than a
// real one.
package simulator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rdtlab/rdt-go/pkg/channel"
	"github.com/rdtlab/rdt-go/pkg/rdtlog"
)

// Config holds the simulator's per-direction fault probabilities and
// delay bounds, matching spec.md §6's simulator configuration surface.
type Config struct {
	PLoss      float64       // probability a sent frame is dropped
	PCorrupt   float64       // probability a sent frame has a bit flipped
	PDuplicate float64       // probability a sent frame is delivered twice
	PReorder   float64       // probability a sent frame is held back one slot
	DelayMin   time.Duration // additional delay applied to every frame, lower bound
	DelayMax   time.Duration // additional delay applied to every frame, upper bound
	Seed       int64
}

type heldFrame struct {
	payload []byte
	to      channel.Endpoint
}

// Channel wraps an underlying channel.Channel, randomly perturbing
// frames passed through Send. RecvTimeout/Close/LocalEndpoint pass
// straight through: faults are injected on the sending side, which is
// sufficient to exercise every receiver-side edge case spec.md
// describes (the corruption/loss/duplication/reorder a receiver sees
// is whatever the sender's simulator let through).
type Channel struct {
	under channel.Channel
	cfg   Config
	runID uuid.UUID

	mu   sync.Mutex
	rng  *rand.Rand
	held *heldFrame // at most one reordered frame in flight
}

// New wraps under with the given fault configuration. Seed makes every
// run reproducible: identical Config.Seed plus identical call sequence
// yields identical fault decisions.
func New(under channel.Channel, cfg Config) *Channel {
	return &Channel{
		under: under,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		runID: uuid.New(),
	}
}

// Send perturbs payload per the configured fault probabilities before
// (maybe) forwarding it to the underlying channel.
func (c *Channel) Send(payload []byte, to channel.Endpoint) error {
	logger := rdtlog.New("simulator").With().Str("run", c.runID.String()).Logger()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rng.Float64() < c.cfg.PLoss {
		logger.Debug().Msg("dropping frame")
		return nil
	}

	frame := payload
	if c.rng.Float64() < c.cfg.PCorrupt {
		frame = corruptOneBit(frame, c.rng)
		logger.Debug().Msg("corrupting frame")
	}

	toSend := [][]byte{frame}
	if c.rng.Float64() < c.cfg.PDuplicate {
		logger.Debug().Msg("duplicating frame")
		toSend = append(toSend, frame)
	}

	var released *heldFrame
	if c.rng.Float64() < c.cfg.PReorder && c.held == nil {
		logger.Debug().Msg("reordering: holding frame")
		c.held = &heldFrame{payload: frame, to: to}
	} else {
		released = c.held
		c.held = nil
		for _, f := range toSend {
			c.dispatch(f, to)
		}
	}
	if released != nil {
		logger.Debug().Msg("reordering: releasing held frame")
		c.dispatch(released.payload, released.to)
	}
	return nil
}

// dispatch delivers payload to the underlying channel after the
// configured extra delay, asynchronously so Send itself never blocks
// the caller's event loop on injected latency.
func (c *Channel) dispatch(payload []byte, to channel.Endpoint) {
	extra := c.extraDelay()
	if extra <= 0 {
		_ = c.under.Send(payload, to)
		return
	}
	go func() {
		time.Sleep(extra)
		_ = c.under.Send(payload, to)
	}()
}

func (c *Channel) extraDelay() time.Duration {
	if c.cfg.DelayMax <= c.cfg.DelayMin {
		return c.cfg.DelayMin
	}
	span := c.cfg.DelayMax - c.cfg.DelayMin
	return c.cfg.DelayMin + time.Duration(c.rng.Int63n(int64(span)))
}

// corruptOneBit flips a single random bit in a copy of frame.
func corruptOneBit(frame []byte, rng *rand.Rand) []byte {
	if len(frame) == 0 {
		return frame
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	byteIdx := rng.Intn(len(cp))
	bit := rng.Intn(8)
	cp[byteIdx] ^= 1 << uint(bit)
	return cp
}

// RecvTimeout passes through to the underlying channel unmodified.
func (c *Channel) RecvTimeout(timeout time.Duration) ([]byte, channel.Endpoint, error) {
	return c.under.RecvTimeout(timeout)
}

// LocalEndpoint passes through to the underlying channel.
func (c *Channel) LocalEndpoint() channel.Endpoint {
	return c.under.LocalEndpoint()
}

// Close passes through to the underlying channel.
func (c *Channel) Close() error {
	return c.under.Close()
}

var _ channel.Channel = (*Channel)(nil)
