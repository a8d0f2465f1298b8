package provider

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

const (
	failureThreshold = 3
	defaultCooldown  = 30 * time.Second
)

// ErrCircuitOpen is returned by Breaker.Allow when the breaker is open
// and cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker open")

// QuotaStatus summarizes a provider's current capacity, derived from
// its circuit breaker and (where the back-end exposes one) a
// remaining-request count.
type QuotaStatus struct {
	IsExhausted      bool
	RemainingRequests int
	CooldownUntil    time.Time
	HealthScore      float64
}

// Breaker is a per-provider circuit breaker: closed -> open after
// failureThreshold consecutive failures; open -> half-open once
// cooldown elapses; half-open resolves to closed or open based on a
// single trial request's outcome.
type Breaker struct {
	cooldown time.Duration

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
}

// NewBreaker returns a closed Breaker. cooldown <= 0 uses the default.
func NewBreaker(cooldown time.Duration) *Breaker {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Breaker{cooldown: cooldown, state: StateClosed}
}

// Allow reports whether a call may proceed. An open breaker whose
// cooldown has elapsed transitions to half-open and allows exactly
// one trial call through; further calls are refused until that trial
// resolves via RecordSuccess/RecordFailure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		return ErrCircuitOpen // trial already in flight
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			return nil
		}
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
}

// RecordFailure counts a failure. From closed, failureThreshold
// consecutive failures open the breaker. From half-open, the failed
// trial immediately reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.openedAt = time.Now()
		b.consecutiveFailures = failureThreshold
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= failureThreshold {
			b.state = StateOpen
			b.openedAt = time.Now()
		}
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// QuotaStatus derives a QuotaStatus purely from breaker state. The
// RemainingRequests field is left at zero here; a provider with an
// SDK-reported quota should overwrite it after calling this.
func (b *Breaker) QuotaStatus() QuotaStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := QuotaStatus{}
	switch b.state {
	case StateClosed:
		status.HealthScore = 1.0
	case StateHalfOpen:
		status.HealthScore = 0.5
	case StateOpen:
		status.HealthScore = 0.0
		status.IsExhausted = true
		status.CooldownUntil = b.openedAt.Add(b.cooldown)
	}
	return status
}

// IsQuotaError reports whether err (optionally alongside an HTTP
// status code, 0 if unknown) represents a rate-limit/quota
// exhaustion failure: HTTP 429, or a back-end RESOURCE_EXHAUSTED code
// surfaced in the error message.
func IsQuotaError(statusCode int, err error) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "rate limit")
}
