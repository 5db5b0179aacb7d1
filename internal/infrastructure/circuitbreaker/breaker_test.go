package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clk *fakeClock) *Breaker {
	return NewBreaker(5, 5*time.Minute, nil, WithClock(clk.Now))
}

func TestBreaker_AllowsUnknownService(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	assert.True(t, b.Allow("orders"))

	snapshot := b.Snapshot("orders")
	assert.Equal(t, gateway.BreakerClosed, snapshot.State)
	assert.Zero(t, snapshot.ConsecutiveFailures)
}

func TestBreaker_OpensOnThresholdFailures(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	// Four failures keep the circuit closed
	for i := 0; i < 4; i++ {
		b.RecordFailure("orders")
		assert.True(t, b.Allow("orders"), "failure %d should not open the circuit", i+1)
	}

	// Fifth consecutive failure opens it
	b.RecordFailure("orders")
	assert.False(t, b.Allow("orders"))

	snapshot := b.Snapshot("orders")
	assert.Equal(t, gateway.BreakerOpen, snapshot.State)
	assert.Equal(t, 5, snapshot.ConsecutiveFailures)
	assert.Equal(t, clk.Now(), snapshot.OpenedAt)
	assert.Equal(t, clk.Now().Add(5*time.Minute), snapshot.RetryAt)
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		b.RecordFailure("orders")
	}
	b.RecordSuccess("orders")

	// Four more failures do not open because the streak restarted
	for i := 0; i < 4; i++ {
		b.RecordFailure("orders")
	}
	assert.True(t, b.Allow("orders"))

	// The fifth completes a new streak
	b.RecordFailure("orders")
	assert.False(t, b.Allow("orders"))
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure("orders")
	}
	require.False(t, b.Allow("orders"))

	// Just before cooldown expires the circuit stays open
	clk.Advance(5*time.Minute - time.Second)
	assert.False(t, b.Allow("orders"))

	// After cooldown a single trial request is admitted
	clk.Advance(time.Second)
	assert.True(t, b.Allow("orders"))
	assert.Equal(t, gateway.BreakerHalfOpen, b.Snapshot("orders").State)

	// Concurrent requests are rejected while the trial is in flight
	assert.False(t, b.Allow("orders"))
}

func TestBreaker_TrialSuccessClosesCircuit(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure("orders")
	}
	clk.Advance(5 * time.Minute)
	require.True(t, b.Allow("orders"))

	b.RecordSuccess("orders")

	snapshot := b.Snapshot("orders")
	assert.Equal(t, gateway.BreakerClosed, snapshot.State)
	assert.Zero(t, snapshot.ConsecutiveFailures)
	assert.True(t, snapshot.OpenedAt.IsZero())
	assert.True(t, b.Allow("orders"))
}

func TestBreaker_TrialFailureReopensCircuit(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure("orders")
	}
	clk.Advance(5 * time.Minute)
	require.True(t, b.Allow("orders"))

	b.RecordFailure("orders")

	assert.Equal(t, gateway.BreakerOpen, b.Snapshot("orders").State)
	assert.False(t, b.Allow("orders"))

	// The cooldown restarts from the failed trial
	clk.Advance(5*time.Minute - time.Second)
	assert.False(t, b.Allow("orders"))
	clk.Advance(time.Second)
	assert.True(t, b.Allow("orders"))
}

func TestBreaker_AbandonedTrialExpires(t *testing.T) {
	clk := newFakeClock()
	b := newTestBreaker(clk)

	for i := 0; i < 5; i++ {
		b.RecordFailure("orders")
	}
	clk.Advance(5 * time.Minute)
	require.True(t, b.Allow("orders"))

	// The trial's outcome is never reported (caller disconnected
	// mid-flight). The circuit keeps rejecting while the trial could
	// still resolve, but must not wedge forever.
	clk.Advance(5*time.Minute - time.Second)
	assert.False(t, b.Allow("orders"))

	clk.Advance(time.Second)
	assert.True(t, b.Allow("orders"), "a new trial goes out once the old one is considered abandoned")
	assert.Equal(t, gateway.BreakerHalfOpen, b.Snapshot("orders").State)

	// The replacement trial behaves like any other: its success closes
	// the circuit
	b.RecordSuccess("orders")
	assert.Equal(t, gateway.BreakerClosed, b.Snapshot("orders").State)
	assert.True(t, b.Allow("orders"))
}

func TestBreaker_ServicesAreIndependent(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	for i := 0; i < 5; i++ {
		b.RecordFailure("orders")
	}

	assert.False(t, b.Allow("orders"))
	assert.True(t, b.Allow("inventory"))
	assert.Equal(t, gateway.BreakerClosed, b.Snapshot("inventory").State)
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b := NewBreaker(0, 0, nil)

	assert.Equal(t, DefaultThreshold, b.threshold)
	assert.Equal(t, DefaultCooldown, b.cooldown)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b := newTestBreaker(newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Allow("orders")
				if n%2 == 0 {
					b.RecordSuccess("orders")
				} else {
					b.RecordFailure("orders")
				}
				b.Snapshot("orders")
			}
		}(i)
	}
	wg.Wait()
}
