// Package circuitbreaker tracks per-service failure state and gates
// admission to downstream services. State is process-local: each gateway
// instance opens and closes its own circuits.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"go.uber.org/zap"
)

const (
	// DefaultThreshold is the number of consecutive failures that opens a circuit
	DefaultThreshold = 5
	// DefaultCooldown is how long an open circuit waits before a trial request
	DefaultCooldown = 5 * time.Minute
)

type entry struct {
	state               gateway.BreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
	trialStartedAt      time.Time
}

// Breaker implements gateway.CircuitBreaker with one FSM per service name.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	nowFunc   func() time.Time
	logger    *zap.Logger

	mu     sync.Mutex
	states map[string]*entry
}

// Option configures a Breaker
type Option func(*Breaker)

// WithClock overrides the time source, used in tests
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.nowFunc = now
	}
}

// NewBreaker creates a circuit breaker. Zero threshold or cooldown fall
// back to the defaults.
func NewBreaker(threshold int, cooldown time.Duration, logger *zap.Logger, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		nowFunc:   time.Now,
		logger:    logger,
		states:    make(map[string]*entry),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Allow reports whether a request to the service may proceed. An open
// circuit past its cooldown moves to half-open and admits a single trial.
func (b *Breaker) Allow(service string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.states[service]
	if !ok {
		return true
	}

	now := b.nowFunc()

	switch e.state {
	case gateway.BreakerOpen:
		if now.Sub(e.openedAt) < b.cooldown {
			return false
		}
		e.state = gateway.BreakerHalfOpen
		e.trialInFlight = true
		e.trialStartedAt = now
		b.logger.Info("Circuit breaker half-open, admitting trial request",
			zap.String("service", service),
		)
		return true

	case gateway.BreakerHalfOpen:
		// Only one trial at a time. A trial whose outcome was never
		// reported (the caller vanished mid-flight) cannot hold the
		// circuit forever: after another cooldown it is considered
		// abandoned and a fresh trial goes out.
		if e.trialInFlight && now.Sub(e.trialStartedAt) < b.cooldown {
			return false
		}
		if e.trialInFlight {
			b.logger.Warn("Circuit breaker trial abandoned, admitting a new trial",
				zap.String("service", service),
			)
		}
		e.trialInFlight = true
		e.trialStartedAt = now
		return true

	default:
		return true
	}
}

// RecordSuccess resets the failure count. A successful half-open trial
// closes the circuit.
func (b *Breaker) RecordSuccess(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.states[service]
	if !ok {
		return
	}

	e.consecutiveFailures = 0
	if e.state == gateway.BreakerHalfOpen {
		e.state = gateway.BreakerClosed
		e.trialInFlight = false
		e.openedAt = time.Time{}
		b.logger.Info("Circuit breaker closed",
			zap.String("service", service),
		)
	}
}

// RecordFailure counts a failure. Reaching the threshold while closed
// opens the circuit; a failed half-open trial reopens it and restarts
// the cooldown.
func (b *Breaker) RecordFailure(service string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.states[service]
	if !ok {
		e = &entry{state: gateway.BreakerClosed}
		b.states[service] = e
	}

	e.consecutiveFailures++

	switch e.state {
	case gateway.BreakerHalfOpen:
		e.state = gateway.BreakerOpen
		e.openedAt = b.nowFunc()
		e.trialInFlight = false
		b.logger.Warn("Circuit breaker reopened after failed trial",
			zap.String("service", service),
		)

	case gateway.BreakerClosed:
		if e.consecutiveFailures >= b.threshold {
			e.state = gateway.BreakerOpen
			e.openedAt = b.nowFunc()
			b.logger.Warn("Circuit breaker opened",
				zap.String("service", service),
				zap.Int("consecutive_failures", e.consecutiveFailures),
			)
		}
	}
}

// Snapshot returns the current state for one service. Unknown services
// report a closed circuit.
func (b *Breaker) Snapshot(service string) gateway.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := gateway.BreakerSnapshot{
		Service: service,
		State:   gateway.BreakerClosed,
	}

	e, ok := b.states[service]
	if !ok {
		return snapshot
	}

	snapshot.State = e.state
	snapshot.ConsecutiveFailures = e.consecutiveFailures
	if e.state == gateway.BreakerOpen {
		snapshot.OpenedAt = e.openedAt
		snapshot.RetryAt = e.openedAt.Add(b.cooldown)
	}

	return snapshot
}

// Ensure Breaker implements gateway.CircuitBreaker
var _ gateway.CircuitBreaker = (*Breaker)(nil)
