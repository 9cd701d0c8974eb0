// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package pipelineerr

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rapidaai/mediacore/pkg/metrics"
)

// RetryPolicy implements §7's default retry schedule: exponential backoff
// starting at 100ms, doubling, up to 3 attempts, only for Transient and
// Timeout errors.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxAttempts     int
}

// DefaultRetryPolicy returns the spec's default: 100ms, x2, 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialInterval: 100 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}
}

func (p RetryPolicy) backoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.MaxElapsedTime = 0 // bounded by MaxAttempts via backoff.WithMaxRetries instead
	return backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
}

// Do runs fn, retrying per policy only when fn returns a retryable *Error.
// ctx cancellation (session deadline) aborts the retry loop immediately.
// Each retried attempt increments mediacore_node_retries_total for nodeID,
// labeled with the failing error's Kind, via backoff.RetryNotify's hook —
// notify only fires for attempts the library actually retries, so this
// counts real retries rather than every call including the first.
func (p RetryPolicy) Do(ctx context.Context, nodeID string, fn func() error) error {
	var lastErr error
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		metrics.RecordNodeRetry(nodeID, string(KindOf(err)))
	}
	err := backoff.RetryNotify(op, backoff.WithContext(p.backoff(), ctx), notify)
	if err != nil {
		return lastErr
	}
	return nil
}

// CircuitBreaker trips after 5 consecutive failures on the same node within
// a session (§7). Once tripped the node is marked failed; the caller
// decides whether the session can proceed in degraded mode or must fail.
type CircuitBreaker struct {
	threshold int

	mu       sync.Mutex
	failures map[string]int
	tripped  map[string]bool
}

// NewCircuitBreaker builds a breaker with the spec default threshold of 5.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{threshold: 5, failures: map[string]int{}, tripped: map[string]bool{}}
}

// RecordFailure increments nodeID's consecutive-failure count and reports
// whether the breaker just tripped as a result. A trip also increments
// mediacore_circuit_breaker_trips_total so the event is observable without
// every caller remembering to report it separately.
func (c *CircuitBreaker) RecordFailure(nodeID string) (justTripped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[nodeID]++
	if c.failures[nodeID] >= c.threshold && !c.tripped[nodeID] {
		c.tripped[nodeID] = true
		metrics.RecordCircuitBreakerTrip(nodeID)
		return true
	}
	return false
}

// RecordSuccess resets nodeID's consecutive-failure count.
func (c *CircuitBreaker) RecordSuccess(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[nodeID] = 0
}

// Tripped reports whether nodeID's breaker has tripped.
func (c *CircuitBreaker) Tripped(nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped[nodeID]
}
