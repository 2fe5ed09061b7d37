package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartAndExpire(t *testing.T) {
	svc := New()
	svc.Start("only", 10*time.Millisecond)

	deadline, ok := svc.NextDeadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Millisecond), deadline, 5*time.Millisecond)

	fired := svc.Expired(time.Now().Add(20 * time.Millisecond))
	assert.Equal(t, []Key{"only"}, fired)

	_, ok = svc.NextDeadline()
	assert.False(t, ok, "no timer should remain armed")
}

func TestCancelSuppressesStaleExpiration(t *testing.T) {
	svc := New()
	svc.Start("k", 1*time.Millisecond)
	svc.Cancel("k")

	fired := svc.Expired(time.Now().Add(10 * time.Millisecond))
	assert.Empty(t, fired, "cancelled timer must not fire")
}

func TestRestartSupersedesPriorFiring(t *testing.T) {
	svc := New()
	svc.Start("k", 1*time.Millisecond)
	svc.Restart("k", 100*time.Millisecond)

	// The original near-term firing must be discarded as stale; only
	// the restarted, later deadline should be live.
	fired := svc.Expired(time.Now().Add(5 * time.Millisecond))
	assert.Empty(t, fired)

	fired = svc.Expired(time.Now().Add(200 * time.Millisecond))
	assert.Equal(t, []Key{"k"}, fired)
}

func TestMultipleKeysOrderedByDeadline(t *testing.T) {
	svc := New()
	svc.Start("late", 50*time.Millisecond)
	svc.Start("early", 5*time.Millisecond)

	fired := svc.Expired(time.Now().Add(10 * time.Millisecond))
	assert.Equal(t, []Key{"early"}, fired)

	fired = svc.Expired(time.Now().Add(100 * time.Millisecond))
	assert.Equal(t, []Key{"late"}, fired)
}
